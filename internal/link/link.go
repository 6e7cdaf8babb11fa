// Package link supervises the serial connection to the board: device
// selection, open, the single read loop, teardown, and bounded reconnects.
//
// Every connection attempt carries an epoch. Anything scheduled for an older
// epoch (a reconnect timer, an open that raced a disconnect, a line read just
// before teardown) is discarded instead of resurrecting a superseded link.
package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/outpost-link/internal/frame"
	"github.com/DoyleJ11/outpost-link/internal/metrics"
	"github.com/DoyleJ11/outpost-link/internal/protocol"
)

// Transport is an open byte stream to the board. Close must be idempotent.
type Transport interface {
	io.ReadWriteCloser
}

// ReadCanceler is implemented by transports that can abort a pending Read
// before Close.
type ReadCanceler interface {
	CancelRead() error
}

type Selector interface {
	Select(ctx context.Context) (Device, error)
}

type Opener interface {
	Open(ctx context.Context, dev Device) (Transport, error)
}

type PortLister interface {
	Ports() ([]Device, error)
}

// DeviceMemory persists the last device that opened successfully.
type DeviceMemory interface {
	RememberDevice(ctx context.Context, dev Device) error
	LastDevice(ctx context.Context) (Device, bool, error)
}

// Sink receives decoded messages and status transitions, in order, from a
// single goroutine.
type Sink interface {
	HandleMessage(epoch uint64, msg protocol.Message)
	HandleStatus(st Status)
}

type Config struct {
	Terminator           frame.Terminator
	SelectTimeout        time.Duration
	OpenTimeout          time.Duration
	WriteTimeout         time.Duration
	AutoReconnect        bool
	MaxReconnectAttempts int
	Backoff              BackoffConfig
	WatchInterval        time.Duration
	ReadBuffer           int
	Greeting             []protocol.Command
}

func DefaultConfig() Config {
	return Config{
		Terminator:           frame.TerminatorCRLF,
		SelectTimeout:        10 * time.Second,
		OpenTimeout:          5 * time.Second,
		AutoReconnect:        true,
		MaxReconnectAttempts: 3,
		Backoff:              BackoffConfig{InitialDelay: 2 * time.Second, Multiplier: 1},
		WatchInterval:        2 * time.Second,
		ReadBuffer:           256,
		Greeting:             []protocol.Command{protocol.Hello, protocol.StatusRequest},
	}
}

type Options struct {
	Config   Config
	Logger   *zap.Logger
	Selector Selector
	Opener   Opener
	Lister   PortLister
	Memory   DeviceMemory
}

type stopper interface {
	Stop() bool
}

var afterFunc = func(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

type notice struct {
	status *Status
	epoch  uint64
	msg    protocol.Message
}

type conn struct {
	epoch  uint64
	dev    Device
	t      Transport
	dec    *frame.Decoder
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	wmu    sync.Mutex
}

type Link struct {
	cfg      Config
	log      *zap.Logger
	sink     Sink
	selector Selector
	opener   Opener
	lister   PortLister
	memory   DeviceMemory

	mu         sync.Mutex
	status     Status
	epoch      uint64
	attempts   int
	conn       *conn
	cancelSel  context.CancelFunc
	pending    stopper
	device     Device
	hasDevice  bool
	userClosed bool
	rng        *rand.Rand

	lastActivity atomic.Int64

	qmu   sync.Mutex
	queue []notice
	wake  chan struct{}
}

func New(sink Sink, opts Options) *Link {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cfg := opts.Config
	if cfg.ReadBuffer <= 0 {
		cfg.ReadBuffer = 256
	}
	l := &Link{
		cfg:      cfg,
		log:      log.Named("link"),
		sink:     sink,
		selector: opts.Selector,
		opener:   opts.Opener,
		lister:   opts.Lister,
		memory:   opts.Memory,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		wake:     make(chan struct{}, 1),
	}
	l.status = Status{State: StateIdle, Since: time.Now()}
	return l
}

// Run delivers notices to the sink and polls for hot-plug events until ctx
// is done, then disconnects.
func (l *Link) Run(ctx context.Context) error {
	l.restoreDevice(ctx)

	var poll <-chan time.Time
	var present map[string]Device
	if l.lister != nil && l.cfg.WatchInterval > 0 {
		ticker := time.NewTicker(l.cfg.WatchInterval)
		defer ticker.Stop()
		poll = ticker.C
		present = l.pollPorts(nil)
	}

	for {
		select {
		case <-ctx.Done():
			_ = l.Disconnect()
			l.deliver()
			return nil
		case <-l.wake:
			l.deliver()
		case <-poll:
			present = l.pollPorts(present)
		}
	}
}

func (l *Link) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// LastActivity is the time of the last successful read, zero if none.
func (l *Link) LastActivity() time.Time {
	ns := l.lastActivity.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Connect runs the explicit operator path: select a device, open it, start
// reading. It returns once the link is reading or the attempt failed. A call
// made while another attempt is selecting or opening returns
// ErrConnectInProgress; the outcome of that attempt arrives as a status.
func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	switch l.status.State {
	case StateOpen, StateReading:
		l.mu.Unlock()
		return nil
	case StateRequesting, StateOpening:
		l.mu.Unlock()
		return ErrConnectInProgress
	}
	l.stopPendingLocked()
	l.userClosed = false
	l.attempts = 0
	l.epoch++
	epoch := l.epoch

	var selCtx context.Context
	var cancel context.CancelFunc
	if l.cfg.SelectTimeout > 0 {
		selCtx, cancel = context.WithTimeout(ctx, l.cfg.SelectTimeout)
	} else {
		selCtx, cancel = context.WithCancel(ctx)
	}
	l.cancelSel = cancel
	l.setStateLocked(StateRequesting, Device{}, nil)
	l.mu.Unlock()

	dev, err := l.selector.Select(selCtx)
	timedOut := errors.Is(selCtx.Err(), context.DeadlineExceeded)
	cancel()

	l.mu.Lock()
	if epoch != l.epoch {
		l.mu.Unlock()
		return ErrSelectionCancelled
	}
	l.cancelSel = nil
	if err != nil {
		switch {
		case timedOut || errors.Is(err, context.DeadlineExceeded):
			err = fmt.Errorf("%w after %s", ErrSelectionTimeout, l.cfg.SelectTimeout)
		case errors.Is(err, context.Canceled):
			err = fmt.Errorf("%w: %w", ErrSelectionCancelled, err)
		}
		l.setStateLocked(StateError, Device{}, err)
		l.mu.Unlock()
		l.log.Warn("device selection failed", zap.Uint64("epoch", epoch), zap.Error(err))
		return err
	}
	l.mu.Unlock()

	return l.open(ctx, epoch, dev, false)
}

// Disconnect tears the link down from any state. Calling it again is a no-op.
func (l *Link) Disconnect() error {
	l.mu.Lock()
	l.userClosed = true
	l.stopPendingLocked()
	if l.cancelSel != nil {
		l.cancelSel()
		l.cancelSel = nil
	}
	c := l.conn
	l.conn = nil
	if c == nil && (l.status.State == StateIdle || l.status.State == StateClosed) {
		l.mu.Unlock()
		return nil
	}
	l.epoch++
	dev := l.status.Device
	l.setStateLocked(StateClosing, dev, nil)
	l.mu.Unlock()

	if c != nil {
		l.teardown(c, false)
	}

	l.mu.Lock()
	l.attempts = 0
	l.setStateLocked(StateClosed, dev, nil)
	l.mu.Unlock()

	l.log.Info("link closed", zap.String("port", dev.Port))
	return nil
}

// Send encodes cmd and writes it once. Commands are never retried here.
func (l *Link) Send(cmd protocol.Command) error {
	b, err := protocol.Encode(cmd)
	if err != nil {
		return err
	}

	l.mu.Lock()
	c := l.conn
	l.mu.Unlock()
	if c == nil {
		metrics.RecordCommand(string(cmd.Kind()), ErrNotOpen)
		return ErrNotOpen
	}

	err = c.write(b, l.cfg.WriteTimeout)
	metrics.RecordCommand(string(cmd.Kind()), err)
	if errors.Is(err, ErrNotOpen) {
		return err
	}
	if err == nil {
		l.log.Debug("command sent", zap.String("command", cmd.String()))
		return nil
	}

	werr := fmt.Errorf("%w: %s: %w", ErrWriteFailed, cmd, err)
	l.log.Warn("command write failed", zap.String("command", cmd.String()), zap.Error(err))
	if unusable(err) {
		l.connLost(c, werr, false)
	}
	return werr
}

// HandleDeviceRemoved is the hot-unplug path. It behaves like a read failure
// when port is the one currently open.
func (l *Link) HandleDeviceRemoved(port string) {
	l.mu.Lock()
	c := l.conn
	l.mu.Unlock()
	if c == nil || c.dev.Port != port {
		return
	}
	l.log.Warn("device removed", zap.String("port", port))
	l.connLost(c, fmt.Errorf("%w: %s", ErrDeviceRemoved, port), false)
}

// HandleDeviceAttached reconnects silently to the remembered device without
// going through selection. It does nothing after an explicit disconnect.
func (l *Link) HandleDeviceAttached(dev Device) {
	l.mu.Lock()
	if l.conn != nil || l.userClosed || !l.hasDevice || !l.device.Same(dev) {
		l.mu.Unlock()
		return
	}
	switch l.status.State {
	case StateRequesting, StateOpening, StateOpen, StateReading, StateClosing:
		l.mu.Unlock()
		return
	}
	l.stopPendingLocked()
	l.epoch++
	l.attempts = 0
	epoch := l.epoch
	l.mu.Unlock()

	l.log.Info("remembered device attached", zap.String("port", dev.Port))
	ctx, cancel := context.WithTimeout(context.Background(), l.openTimeout())
	defer cancel()
	_ = l.open(ctx, epoch, dev, true)
}

func (l *Link) open(ctx context.Context, epoch uint64, dev Device, reconnecting bool) error {
	l.mu.Lock()
	if epoch != l.epoch {
		l.mu.Unlock()
		return ErrSuperseded
	}
	l.setStateLocked(StateOpening, dev, nil)
	l.mu.Unlock()

	t, err := l.opener.Open(ctx, dev)

	l.mu.Lock()
	if epoch != l.epoch {
		l.mu.Unlock()
		if t != nil {
			_ = t.Close()
		}
		l.log.Debug("open superseded", zap.Uint64("epoch", epoch))
		return ErrSuperseded
	}
	if err != nil {
		if !isOpenError(err) {
			err = fmt.Errorf("%w: %w", ErrOpenFailed, err)
		}
		l.setStateLocked(StateError, dev, err)
		if reconnecting {
			l.scheduleReconnectLocked(dev, err)
		}
		l.mu.Unlock()
		l.log.Warn("open failed", zap.String("port", dev.Port), zap.Uint64("epoch", epoch), zap.Error(err))
		return err
	}

	ctxConn, cancel := context.WithCancel(context.Background())
	c := &conn{
		epoch:  epoch,
		dev:    dev,
		t:      t,
		dec:    frame.NewDecoder(l.cfg.Terminator),
		ctx:    ctxConn,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	l.conn = c
	l.device, l.hasDevice = dev, true
	l.attempts = 0
	l.setStateLocked(StateOpen, dev, nil)
	l.setStateLocked(StateReading, dev, nil)
	go l.readLoop(c)
	l.mu.Unlock()

	if reconnecting {
		metrics.RecordReconnect("ok")
	}
	l.log.Info("link open", zap.String("port", dev.Port), zap.Uint64("epoch", epoch))

	if l.memory != nil {
		if err := l.memory.RememberDevice(ctx, dev); err != nil {
			l.log.Warn("remember device", zap.Error(err))
		}
	}
	for _, cmd := range l.cfg.Greeting {
		if err := l.Send(cmd); err != nil {
			break
		}
	}
	return nil
}

// readLoop is the only reader of c.t and the only user of c.dec while the
// connection is live.
func (l *Link) readLoop(c *conn) {
	defer close(c.done)

	buf := make([]byte, l.cfg.ReadBuffer)
	for {
		n, err := c.t.Read(buf)
		if n > 0 {
			l.lastActivity.Store(time.Now().UnixNano())
			frames := c.dec.Feed(buf[:n])
			metrics.RecordFrames(len(frames))
			for _, line := range frames {
				if c.ctx.Err() != nil {
					return
				}
				msg := protocol.Parse(line)
				metrics.RecordMessage(string(msg.Kind()))
				l.enqueue(notice{epoch: c.epoch, msg: msg})
			}
		}
		if c.ctx.Err() != nil {
			return
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			l.log.Info("board closed the stream", zap.String("port", c.dev.Port))
			l.connLost(c, nil, true)
		} else {
			l.connLost(c, fmt.Errorf("%w: %w", ErrReadFailed, err), true)
		}
		return
	}
}

// connLost handles an unexpected end of c. A nil cause is a graceful close.
func (l *Link) connLost(c *conn, cause error, fromLoop bool) {
	l.mu.Lock()
	if l.conn != c {
		l.mu.Unlock()
		return
	}
	l.conn = nil
	l.mu.Unlock()

	l.teardown(c, fromLoop)

	l.mu.Lock()
	defer l.mu.Unlock()
	if c.epoch != l.epoch {
		return
	}
	if cause == nil {
		l.setStateLocked(StateClosed, c.dev, nil)
		return
	}
	l.log.Warn("link failed", zap.String("port", c.dev.Port), zap.Uint64("epoch", c.epoch), zap.Error(cause))
	l.setStateLocked(StateError, c.dev, cause)
	l.scheduleReconnectLocked(c.dev, cause)
}

// teardown cancels the read, closes the transport and clears the decoder.
// Secondary errors are logged and swallowed. Only the first call releases
// anything.
func (l *Link) teardown(c *conn, fromLoop bool) {
	c.once.Do(func() {
		c.cancel()
		if rc, ok := c.t.(ReadCanceler); ok {
			if err := rc.CancelRead(); err != nil {
				l.log.Debug("cancel read", zap.Error(err))
			}
		}
		if err := c.t.Close(); err != nil {
			l.log.Debug("close transport", zap.Error(err))
		}
		metrics.RecordTeardown()
	})
	if !fromLoop {
		<-c.done
	}
	c.dec.Reset()
}

func (l *Link) scheduleReconnectLocked(dev Device, cause error) {
	if !l.cfg.AutoReconnect || l.userClosed {
		return
	}
	if l.attempts >= l.cfg.MaxReconnectAttempts {
		l.log.Warn("reconnect attempts exhausted", zap.Int("attempts", l.attempts))
		metrics.RecordReconnect("exhausted")
		return
	}
	l.attempts++
	delay := NextBackoffDelay(l.cfg.Backoff, l.attempts, l.rng)
	epoch := l.epoch
	l.pending = afterFunc(delay, func() { l.reconnect(epoch, dev) })
	l.setStateLocked(StateReconnecting, dev, cause)
	l.log.Info("reconnect scheduled",
		zap.Int("attempt", l.attempts),
		zap.Duration("delay", delay),
		zap.Uint64("epoch", epoch),
	)
	metrics.RecordReconnect("scheduled")
}

func (l *Link) reconnect(epoch uint64, dev Device) {
	l.mu.Lock()
	if epoch != l.epoch || l.conn != nil || l.status.State != StateReconnecting {
		l.mu.Unlock()
		l.log.Debug("stale reconnect dropped", zap.Uint64("epoch", epoch))
		metrics.RecordReconnect("stale")
		return
	}
	l.pending = nil
	l.epoch++
	next := l.epoch
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), l.openTimeout())
	defer cancel()
	_ = l.open(ctx, next, dev, true)
}

func (l *Link) stopPendingLocked() {
	if l.pending != nil {
		l.pending.Stop()
		l.pending = nil
	}
}

func (l *Link) setStateLocked(state State, dev Device, err error) {
	st := Status{
		State:    state,
		Device:   dev,
		Epoch:    l.epoch,
		Attempts: l.attempts,
		Err:      err,
		Since:    time.Now(),
	}
	l.status = st
	metrics.SetLinkState(state.String(), stateNames())
	l.enqueue(notice{status: &st})
}

func (l *Link) enqueue(n notice) {
	l.qmu.Lock()
	l.queue = append(l.queue, n)
	l.qmu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Link) deliver() {
	for {
		l.qmu.Lock()
		batch := l.queue
		l.queue = nil
		l.qmu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, n := range batch {
			if n.status != nil {
				l.sink.HandleStatus(*n.status)
			} else {
				l.sink.HandleMessage(n.epoch, n.msg)
			}
		}
	}
}

func (l *Link) restoreDevice(ctx context.Context) {
	if l.memory == nil {
		return
	}
	dev, ok, err := l.memory.LastDevice(ctx)
	if err != nil {
		l.log.Warn("load last device", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	l.mu.Lock()
	if !l.hasDevice {
		l.device, l.hasDevice = dev, true
	}
	l.mu.Unlock()
}

func (l *Link) openTimeout() time.Duration {
	if l.cfg.OpenTimeout > 0 {
		return l.cfg.OpenTimeout
	}
	return 5 * time.Second
}

// write performs one write at a time on c. After a timeout the write lock
// stays held until the blocked Write returns, which teardown forces by
// closing the transport.
func (c *conn) write(b []byte, timeout time.Duration) error {
	c.wmu.Lock()
	if c.ctx.Err() != nil {
		c.wmu.Unlock()
		return ErrNotOpen
	}

	if timeout <= 0 {
		defer c.wmu.Unlock()
		_, err := c.t.Write(b)
		return err
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.t.Write(b)
		done <- err
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		c.wmu.Unlock()
		return err
	case <-timer.C:
		go func() {
			<-done
			c.wmu.Unlock()
		}()
		return fmt.Errorf("%w after %s", ErrWriteTimeout, timeout)
	}
}

func isOpenError(err error) bool {
	return errors.Is(err, ErrPortBusy) ||
		errors.Is(err, ErrPortNotFound) ||
		errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrOpenFailed)
}
