package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/DoyleJ11/outpost-link/internal/engine"
	"github.com/DoyleJ11/outpost-link/internal/hub"
	"github.com/DoyleJ11/outpost-link/internal/metrics"
	"github.com/DoyleJ11/outpost-link/internal/session"
	"github.com/DoyleJ11/outpost-link/internal/types"
)

func Handler(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	log = log.Named("ws")
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}

		sess := h.Get(code)
		if sess == nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
		})
		if err != nil {
			log.Debug("accept", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan session.Update, 32)
		clientID := uuid.NewString()

		sess.Inbox() <- session.Join{ClientID: clientID, Outbox: out}
		metrics.RendererJoined()
		defer func() {
			metrics.RendererLeft()
			select {
			case sess.Inbox() <- session.Leave{ClientID: clientID}:
			case <-sess.Done():
			}
		}()

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for u := range out {
				payload, err := json.Marshal(types.FromUpdate(u))
				if err != nil {
					log.Warn("marshal update", zap.Error(err))
					continue
				}
				ctx, cancel := context.WithTimeout(writeCtx, 3*time.Second)
				err = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
				if err != nil {
					return
				}
			}
			// Outbox closed: session gone or we were too slow.
			conn.Close(websocket.StatusGoingAway, "session closed")
		}()

		// Reader loop. Renderers send input only when the player acts, so the
		// read has no deadline beyond the request context.
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("read", zap.String("client", clientID), zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				writeError(r.Context(), conn, "bad json")
				continue
			}

			msg, ok := toSessionMsg(clientID, cm)
			if !ok {
				writeError(r.Context(), conn, "unknown type")
				continue
			}

			select {
			case sess.Inbox() <- msg:
			case <-sess.Done():
				return
			}
		}
	}
}

func writeError(ctx context.Context, conn *websocket.Conn, text string) {
	payload, _ := json.Marshal(types.ServerMessage{Type: "Error", Error: text})
	_ = conn.Write(ctx, websocket.MessageText, payload)
}

func toSessionMsg(clientID string, m types.ClientMessage) (session.FromClient, bool) {
	switch m.Type {
	case "Action":
		a, ok := ParseAction(m.Action)
		if !ok {
			return session.FromClient{}, false
		}
		return session.FromClient{ClientID: clientID, Action: a, Mode: engine.Mode(m.Mode)}, true
	case "Key":
		a, ok := KeyAction(m.Key)
		if !ok {
			return session.FromClient{}, false
		}
		return session.FromClient{ClientID: clientID, Action: a}, true
	case "SetMode":
		return session.FromClient{ClientID: clientID, Action: session.ActionMode, Mode: engine.Mode(m.Mode)}, true
	default:
		return session.FromClient{}, false
	}
}

func ParseAction(s string) (session.Action, bool) {
	switch a := session.Action(s); a {
	case session.ActionStart, session.ActionPause, session.ActionReset, session.ActionFire,
		session.ActionLock, session.ActionMoveLeft, session.ActionMoveRight,
		session.ActionTrigger, session.ActionMode:
		return a, true
	}
	return "", false
}

// KeyAction maps the keyboard layout: A/D move, Space locks or fires,
// Escape pauses.
func KeyAction(key string) (session.Action, bool) {
	switch strings.ToLower(key) {
	case "a", "arrowleft":
		return session.ActionMoveLeft, true
	case "d", "arrowright":
		return session.ActionMoveRight, true
	case " ", "space":
		return session.ActionTrigger, true
	case "escape":
		return session.ActionPause, true
	}
	return "", false
}
