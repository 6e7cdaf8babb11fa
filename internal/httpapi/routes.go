package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/outpost-link/internal/metrics"
	"github.com/DoyleJ11/outpost-link/internal/ws"
)

func SetupRoutes(d Deps, selectTimeout time.Duration) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Post("/sessions", CreateSession(d))
	r.Route("/sessions/{code}", func(r chi.Router) {
		r.Get("/", GetSession(d))
		r.Post("/actions", PostAction(d))
		r.Post("/link/connect", ConnectLink(d, selectTimeout))
		r.Post("/link/disconnect", DisconnectLink(d))
	})

	r.Get("/api/ports", ListPorts(d))
	r.Get("/api/rounds", ListRounds(d))

	r.Get("/healthz", Healthz)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/ws", ws.Handler(d.Hub, d.Logger))
	return r
}
