package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/outpost-link/internal/engine"
	"github.com/DoyleJ11/outpost-link/internal/hub"
	"github.com/DoyleJ11/outpost-link/internal/link"
	"github.com/DoyleJ11/outpost-link/internal/session"
	"github.com/DoyleJ11/outpost-link/internal/store"
	"github.com/DoyleJ11/outpost-link/internal/types"
	"github.com/DoyleJ11/outpost-link/internal/ws"
)

// Deps are the collaborators the routes need. Lister and Rounds may be nil.
type Deps struct {
	Hub    *hub.Hub
	Lister link.PortLister
	Rounds interface {
		RecentRounds(ctx context.Context, limit int) ([]store.Round, error)
	}
	Logger *zap.Logger
}

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := 0; i < 6; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: msg})
}

func CreateSession(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var code string
		for {
			c, err := GenerateCode()
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to generate code")
				return
			}
			if d.Hub.Get(c) == nil {
				code = c
				break
			}
			d.Logger.Debug("collision on code, regenerating", zap.String("code", c))
		}

		if d.Hub.Ensure(code) == nil {
			writeError(w, http.StatusInternalServerError, "failed to create session")
			return
		}

		writeJSON(w, http.StatusCreated, struct {
			Code string `json:"code"`
		}{Code: code})
	}
}

// sessionFor resolves {code} or writes a 404.
func sessionFor(d Deps, w http.ResponseWriter, r *http.Request) *session.Session {
	sess := d.Hub.Get(chi.URLParam(r, "code"))
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
	}
	return sess
}

func GetSession(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFor(d, w, r)
		if sess == nil {
			return
		}
		reply := make(chan session.View, 1)
		select {
		case sess.Inbox() <- session.GetState{Reply: reply}:
		case <-sess.Done():
			writeError(w, http.StatusGone, "session closed")
			return
		}
		select {
		case v := <-reply:
			writeJSON(w, http.StatusOK, types.NewSessionView(v))
		case <-r.Context().Done():
		}
	}
}

// PostAction queues a player action. The outcome arrives on the websocket.
func PostAction(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFor(d, w, r)
		if sess == nil {
			return
		}
		var req types.ActionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad json")
			return
		}
		action, ok := ws.ParseAction(req.Action)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown action")
			return
		}
		select {
		case sess.Inbox() <- session.FromClient{Action: action, Mode: engine.Mode(req.Mode)}:
			w.WriteHeader(http.StatusAccepted)
		case <-sess.Done():
			writeError(w, http.StatusGone, "session closed")
		}
	}
}

func ConnectLink(d Deps, selectTimeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFor(d, w, r)
		if sess == nil {
			return
		}
		// Selection may outlive the request; the link enforces its own timeout.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), selectTimeout+5*time.Second)
		defer cancel()

		err := sess.ConnectLink(ctx)
		switch {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, session.ErrNoLink):
			writeError(w, http.StatusConflict, "no board is attached to this session")
		case errors.Is(err, link.ErrConnectInProgress):
			writeError(w, http.StatusConflict, link.Describe(err))
		case errors.Is(err, link.ErrSelectionCancelled), errors.Is(err, link.ErrSelectionTimeout),
			errors.Is(err, link.ErrNoDevice):
			writeError(w, http.StatusRequestTimeout, link.Describe(err))
		default:
			writeError(w, http.StatusBadGateway, link.Describe(err))
		}
	}
}

func DisconnectLink(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFor(d, w, r)
		if sess == nil {
			return
		}
		if err := sess.DisconnectLink(); err != nil {
			if errors.Is(err, session.ErrNoLink) {
				writeError(w, http.StatusConflict, "no board is attached to this session")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func ListPorts(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Lister == nil {
			writeJSON(w, http.StatusOK, []link.Device{})
			return
		}
		ports, err := d.Lister.Ports()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if ports == nil {
			ports = []link.Device{}
		}
		writeJSON(w, http.StatusOK, ports)
	}
}

func ListRounds(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "bad limit")
				return
			}
			limit = n
		}
		if d.Rounds == nil {
			writeJSON(w, http.StatusOK, []store.Round{})
			return
		}
		rounds, err := d.Rounds.RecentRounds(r.Context(), limit)
		if err != nil {
			d.Logger.Warn("recent rounds", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not load rounds")
			return
		}
		if rounds == nil {
			rounds = []store.Round{}
		}
		writeJSON(w, http.StatusOK, rounds)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
