package hub

import (
	"context"
	"sort"

	"github.com/DoyleJ11/outpost-link/internal/session"
)

type HubMsg interface{ isHubMsg() }

type CreateSession struct {
	Code  string
	Reply chan *session.Session
}

type GetSession struct {
	Code  string
	Reply chan *session.Session
}

type EnsureSession struct {
	Code  string
	Reply chan *session.Session
}

type RemoveSession struct {
	Code string
}

type ListSessions struct {
	Reply chan []string
}

type ShutdownHub struct{}

func (CreateSession) isHubMsg() {}
func (GetSession) isHubMsg()    {}
func (EnsureSession) isHubMsg() {}
func (RemoveSession) isHubMsg() {}
func (ListSessions) isHubMsg()  {}
func (ShutdownHub) isHubMsg()   {}

// Hub owns every session by code. New sessions share the hub's defaults.
type Hub struct {
	inbox    chan HubMsg
	sessions map[string]*session.Session
	defaults session.Options
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewHub(parent context.Context, defaults session.Options) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		sessions: make(map[string]*session.Session),
		defaults: defaults,
		ctx:      ctx,
		cancel:   cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Get is a convenience wrapper around GetSession. It returns nil when the
// code is unknown or the hub has stopped.
func (h *Hub) Get(code string) *session.Session {
	reply := make(chan *session.Session, 1)
	select {
	case h.inbox <- GetSession{Code: code, Reply: reply}:
	case <-h.ctx.Done():
		return nil
	}
	select {
	case s := <-reply:
		return s
	case <-h.ctx.Done():
		return nil
	}
}

// Ensure returns the session for code, creating it if needed.
func (h *Hub) Ensure(code string) *session.Session {
	reply := make(chan *session.Session, 1)
	select {
	case h.inbox <- EnsureSession{Code: code, Reply: reply}:
	case <-h.ctx.Done():
		return nil
	}
	select {
	case s := <-reply:
		return s
	case <-h.ctx.Done():
		return nil
	}
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateSession, EnsureSession:
				code, reply := sessionRequest(msg)
				if s := h.sessions[code]; s != nil {
					reply <- s
					break
				}
				opts := h.defaults
				opts.Code = code
				s := session.New(h.ctx, opts)
				h.sessions[code] = s
				reply <- s

			case GetSession:
				msg.Reply <- h.sessions[msg.Code] // may be nil

			case RemoveSession:
				if s := h.sessions[msg.Code]; s != nil {
					s.Inbox() <- session.Shutdown{}
					delete(h.sessions, msg.Code)
				}

			case ListSessions:
				codes := make([]string, 0, len(h.sessions))
				for code := range h.sessions {
					codes = append(codes, code)
				}
				sort.Strings(codes)
				msg.Reply <- codes

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func sessionRequest(m HubMsg) (string, chan *session.Session) {
	switch msg := m.(type) {
	case CreateSession:
		return msg.Code, msg.Reply
	case EnsureSession:
		return msg.Code, msg.Reply
	}
	return "", nil
}

func (h *Hub) shutdown() {
	for code, s := range h.sessions {
		select {
		case s.Inbox() <- session.Shutdown{}:
		default:
		}
		delete(h.sessions, code)
	}
	h.cancel()
}
