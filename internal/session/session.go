// Package session owns one GameState. All mutations go through a single
// goroutine: board messages, link status changes, player actions and timer
// ticks are funnelled into one inbox and applied in arrival order.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/outpost-link/internal/engine"
	"github.com/DoyleJ11/outpost-link/internal/link"
	"github.com/DoyleJ11/outpost-link/internal/protocol"
	"github.com/DoyleJ11/outpost-link/internal/scheduler"
	"github.com/DoyleJ11/outpost-link/internal/store"
)

var (
	ErrNoLink        = errors.New("session: no board attached")
	ErrLinkDown      = errors.New("session: board not connected")
	ErrUnknownAction = errors.New("session: unknown action")
)

// Linker is the part of link.Link a session drives.
type Linker interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Send(cmd protocol.Command) error
	Status() link.Status
}

type RoundRecorder interface {
	RecordRound(ctx context.Context, r store.Round) error
}

type Msg interface{ isSessionMsg() }

type Join struct {
	ClientID string
	Outbox   chan Update
}

func (Join) isSessionMsg() {}

type Leave struct{ ClientID string }

func (Leave) isSessionMsg() {}

// FromClient is a player action from a renderer. Mode is only read by
// ActionMode.
type FromClient struct {
	ClientID string
	Action   Action
	Mode     engine.Mode
}

func (FromClient) isSessionMsg() {}

type FromBoard struct {
	Epoch uint64
	Msg   protocol.Message
}

func (FromBoard) isSessionMsg() {}

type LinkChanged struct {
	Status link.Status
}

func (LinkChanged) isSessionMsg() {}

type Tick struct {
	scheduler.Tick
}

func (Tick) isSessionMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isSessionMsg() {}

type Shutdown struct{}

func (Shutdown) isSessionMsg() {}

type UpdateKind string

const (
	UpdateSnapshot UpdateKind = "snapshot"
	UpdateLog      UpdateKind = "log"
	UpdateError    UpdateKind = "error"
)

// Update is pushed to every joined renderer. Errors go only to the client
// whose action was rejected.
type Update struct {
	Kind    UpdateKind
	Version int
	State   engine.State
	Link    link.Status
	Entry   LogEntry
	Error   string
}

type View struct {
	Code       string
	Version    int
	NumClients int
	State      engine.State
	Link       link.Status
	Log        []LogEntry
}

// Timers are the periods of the self-timed round, the keyboard spawner and
// the crosshair motion.
type Timers struct {
	Round     time.Duration
	Spawn     time.Duration
	Crosshair time.Duration
}

func DefaultTimers() Timers {
	return Timers{
		Round:     time.Second,
		Spawn:     1500 * time.Millisecond,
		Crosshair: 16 * time.Millisecond,
	}
}

type Options struct {
	Code     string
	Rules    engine.Rules
	Timers   Timers
	Recorder RoundRecorder
	Logger   *zap.Logger
	LogSize  int
}

type Session struct {
	code     string
	inbox    chan Msg
	state    engine.State
	version  int
	dirty    bool
	clients  map[string]chan Update
	status   link.Status
	timers   Timers
	sched    *scheduler.Scheduler
	recorder RoundRecorder
	log      *zap.Logger
	entries  *ring
	started  time.Time

	lmu    sync.RWMutex
	linker Linker

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(parent context.Context, opts Options) *Session {
	ctx, cancel := context.WithCancel(parent)

	rules := opts.Rules
	if rules == (engine.Rules{}) {
		rules = engine.DefaultRules()
	}
	timers := opts.Timers
	if timers == (Timers{}) {
		timers = DefaultTimers()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	s := &Session{
		code:     opts.Code,
		inbox:    make(chan Msg, 64),
		state:    engine.NewState(rules),
		clients:  make(map[string]chan Update),
		status:   link.Status{State: link.StateIdle},
		timers:   timers,
		recorder: opts.Recorder,
		log:      log.Named("session").With(zap.String("code", opts.Code)),
		entries:  newRing(opts.LogSize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.sched = scheduler.New(ctx, func(t scheduler.Tick) { s.post(Tick{t}) })

	go s.loop()
	return s
}

func (s *Session) Code() string { return s.code }

// Inbox exposes the inbox so the transport layer can send messages.
func (s *Session) Inbox() chan<- Msg { return s.inbox }

func (s *Session) Done() <-chan struct{} { return s.done }

// Bind attaches the board link. Call it before the link starts delivering.
func (s *Session) Bind(l Linker) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.linker = l
}

func (s *Session) link() Linker {
	s.lmu.RLock()
	defer s.lmu.RUnlock()
	return s.linker
}

// ConnectLink runs device selection and open outside the actor; the result
// arrives as LinkChanged.
func (s *Session) ConnectLink(ctx context.Context) error {
	l := s.link()
	if l == nil {
		return ErrNoLink
	}
	return l.Connect(ctx)
}

func (s *Session) DisconnectLink() error {
	l := s.link()
	if l == nil {
		return ErrNoLink
	}
	return l.Disconnect()
}

// HandleMessage implements link.Sink.
func (s *Session) HandleMessage(epoch uint64, msg protocol.Message) {
	s.post(FromBoard{Epoch: epoch, Msg: msg})
}

// HandleStatus implements link.Sink.
func (s *Session) HandleStatus(st link.Status) {
	s.post(LinkChanged{Status: st})
}

func (s *Session) post(m Msg) {
	select {
	case s.inbox <- m:
	case <-s.ctx.Done():
	}
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Join:
				s.clients[msg.ClientID] = msg.Outbox
				msg.Outbox <- s.snapshot()

			case Leave:
				delete(s.clients, msg.ClientID)

			case FromClient:
				if err := s.handleAction(msg); err != nil {
					s.reject(msg.ClientID, err)
				}

			case FromBoard:
				s.handleBoard(msg)

			case LinkChanged:
				s.handleLink(msg.Status)

			case Tick:
				s.handleTick(msg.Tick)

			case GetState:
				msg.Reply <- View{
					Code:       s.code,
					Version:    s.version,
					NumClients: len(s.clients),
					State:      s.state.Clone(),
					Link:       s.status,
					Log:        s.entries.list(),
				}

			case Shutdown:
				s.shutdown()
				return
			}

			s.reconcileTimers()
			if s.dirty {
				s.dirty = false
				s.version++
				s.broadcast(s.snapshot())
			}
		}
	}
}

func (s *Session) shutdown() {
	s.sched.StopAll()
	for id, ch := range s.clients {
		close(ch)
		delete(s.clients, id)
	}
	s.cancel()
}

func (s *Session) snapshot() Update {
	return Update{Kind: UpdateSnapshot, Version: s.version, State: s.state.Clone(), Link: s.status}
}

func (s *Session) broadcast(u Update) {
	for id, ch := range s.clients {
		select {
		case ch <- u:
		default:
			// Slow renderer, drop it.
			close(ch)
			delete(s.clients, id)
		}
	}
}

func (s *Session) reject(clientID string, err error) {
	ch, ok := s.clients[clientID]
	if !ok {
		return
	}
	select {
	case ch <- Update{Kind: UpdateError, Version: s.version, Error: err.Error()}:
	default:
	}
}
