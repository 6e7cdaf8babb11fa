package link

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/outpost-link/internal/protocol"
)

type fakeTransport struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	mu       sync.Mutex
	written  bytes.Buffer
	writeErr error
	stall    bool
	ops      []string
	closes   atomic.Int32

	closed    chan struct{}
	closeOnce sync.Once
	inWrite   atomic.Int32
	maxWrites atomic.Int32
}

func newFakeTransport() *fakeTransport {
	pr, pw := io.Pipe()
	return &fakeTransport{pr: pr, pw: pw, closed: make(chan struct{})}
}

func (f *fakeTransport) Read(p []byte) (int, error) { return f.pr.Read(p) }

func (f *fakeTransport) Write(p []byte) (int, error) {
	n := f.inWrite.Add(1)
	defer f.inWrite.Add(-1)
	for {
		m := f.maxWrites.Load()
		if n <= m || f.maxWrites.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	stall := f.stall
	f.mu.Unlock()
	if stall {
		// A stalled port only returns once it is closed.
		<-f.closed
		return 0, io.ErrClosedPipe
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	return f.written.Write(p)
}

func (f *fakeTransport) stallWrites() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stall = true
}

func (f *fakeTransport) CancelRead() error {
	f.record("cancel-read")
	return nil
}

func (f *fakeTransport) Close() error {
	f.record("close")
	f.closes.Add(1)
	f.closeOnce.Do(func() { close(f.closed) })
	return f.pr.Close()
}

func (f *fakeTransport) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
}

func (f *fakeTransport) setWriteErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

func (f *fakeTransport) Written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.String()
}

func (f *fakeTransport) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

// feed blocks until the read loop has consumed s.
func (f *fakeTransport) feed(t *testing.T, s string) {
	t.Helper()
	_, err := f.pw.Write([]byte(s))
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
}

type fakeOpener struct {
	mu     sync.Mutex
	calls  int
	fail   func(call int) error
	opened []*fakeTransport
}

func (o *fakeOpener) Open(ctx context.Context, dev Device) (Transport, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.fail != nil {
		if err := o.fail(o.calls); err != nil {
			return nil, err
		}
	}
	ft := newFakeTransport()
	o.opened = append(o.opened, ft)
	return ft, nil
}

func (o *fakeOpener) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

func (o *fakeOpener) Last() *fakeTransport {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened[len(o.opened)-1]
}

type selectorFunc func(ctx context.Context) (Device, error)

func (f selectorFunc) Select(ctx context.Context) (Device, error) { return f(ctx) }

var testDevice = Device{Port: "/dev/ttyACM0", USB: true, VID: VendorArduino, PID: 0x0043, SerialNumber: "A1"}

func fixedSelector(dev Device) Selector {
	return selectorFunc(func(context.Context) (Device, error) { return dev, nil })
}

type fakeSink struct {
	statuses chan Status
	msgs     chan protocol.Message
	epochs   chan uint64
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		statuses: make(chan Status, 256),
		msgs:     make(chan protocol.Message, 256),
		epochs:   make(chan uint64, 256),
	}
}

func (s *fakeSink) HandleMessage(epoch uint64, msg protocol.Message) {
	s.epochs <- epoch
	s.msgs <- msg
}

func (s *fakeSink) HandleStatus(st Status) { s.statuses <- st }

func waitState(t *testing.T, s *fakeSink, want State) Status {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case st := <-s.statuses:
			if st.State == want {
				return st
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
			return Status{}
		}
	}
}

// collectStates gathers statuses until none arrives for quiet.
func collectStates(s *fakeSink, quiet time.Duration) []State {
	var out []State
	for {
		select {
		case st := <-s.statuses:
			out = append(out, st.State)
		case <-time.After(quiet):
			return out
		}
	}
}

func recvMsg(t *testing.T, s *fakeSink) protocol.Message {
	t.Helper()
	select {
	case m := <-s.msgs:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped atomic.Bool
}

func (ft *fakeTimer) Stop() bool { return !ft.stopped.Swap(true) }

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

// installClock replaces afterFunc so reconnects fire only when the test says.
func installClock(t *testing.T) *fakeClock {
	t.Helper()
	c := &fakeClock{}
	prev := afterFunc
	afterFunc = func(d time.Duration, f func()) stopper {
		c.mu.Lock()
		defer c.mu.Unlock()
		ft := &fakeTimer{d: d, f: f}
		c.timers = append(c.timers, ft)
		return ft
	}
	t.Cleanup(func() { afterFunc = prev })
	return c
}

func (c *fakeClock) Timers() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*fakeTimer(nil), c.timers...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SelectTimeout = time.Second
	return cfg
}

func newTestLink(t *testing.T, cfg Config, sel Selector, op Opener) (*Link, *fakeSink) {
	t.Helper()
	sink := newFakeSink()
	l := New(sink, Options{Config: cfg, Logger: zap.NewNop(), Selector: sel, Opener: op})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = l.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l, sink
}
