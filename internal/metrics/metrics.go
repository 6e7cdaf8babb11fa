package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	linkState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "outpost",
			Subsystem: "link",
			Name:      "state",
			Help:      "1 for the current link state, 0 otherwise.",
		},
		[]string{"state"},
	)
	linkTeardowns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "outpost",
			Subsystem: "link",
			Name:      "teardowns_total",
			Help:      "Connection teardowns performed.",
		},
	)
	linkReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outpost",
			Subsystem: "link",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts by outcome.",
		},
		[]string{"outcome"},
	)
	framesDecoded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "outpost",
			Subsystem: "link",
			Name:      "frames_total",
			Help:      "Complete lines produced by the frame decoder.",
		},
	)
	messagesParsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outpost",
			Subsystem: "protocol",
			Name:      "messages_total",
			Help:      "Parsed inbound messages by kind.",
		},
		[]string{"kind"},
	)
	commandsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outpost",
			Subsystem: "protocol",
			Name:      "commands_total",
			Help:      "Outbound commands by command and result.",
		},
		[]string{"command", "result"},
	)
	rejectedInputs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outpost",
			Subsystem: "game",
			Name:      "rejected_total",
			Help:      "Inputs rejected by the game state reducer.",
		},
		[]string{"command", "reason"},
	)
	roundsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outpost",
			Subsystem: "game",
			Name:      "rounds_total",
			Help:      "Finished rounds by control mode.",
		},
		[]string{"mode"},
	)
	renderers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "outpost",
			Subsystem: "ws",
			Name:      "clients",
			Help:      "Connected renderer clients.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outpost",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "outpost",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			linkState, linkTeardowns, linkReconnects, framesDecoded,
			messagesParsed, commandsSent, rejectedInputs, roundsCompleted,
			renderers, httpRequests, httpDuration,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

// SetLinkState marks state as current among all known states.
func SetLinkState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		linkState.WithLabelValues(s).Set(v)
	}
}

func RecordTeardown() { linkTeardowns.Inc() }

func RecordReconnect(outcome string) { linkReconnects.WithLabelValues(outcome).Inc() }

func RecordFrames(n int) { framesDecoded.Add(float64(n)) }

func RecordMessage(kind string) { messagesParsed.WithLabelValues(kind).Inc() }

func RecordCommand(command string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	commandsSent.WithLabelValues(command, result).Inc()
}

func RecordRejected(command string, reason error) {
	rejectedInputs.WithLabelValues(command, reason.Error()).Inc()
}

func RecordRound(mode string) { roundsCompleted.WithLabelValues(mode).Inc() }

func RendererJoined() { renderers.Inc() }

func RendererLeft() { renderers.Dec() }

// Middleware records request counts and latency by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := strconv.Itoa(ww.Status())
		httpRequests.WithLabelValues(r.Method, route, status).Inc()
		httpDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}
