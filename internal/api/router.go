package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/notifyhub/push-worker/internal/api/handler"
	apimw "github.com/notifyhub/push-worker/internal/api/middleware"
)

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Drainer    handler.ShardDrainer
	Stats      handler.QueueStatser
	Verifier   apimw.TokenVerifier
	DB         handler.Pinger
	Gatherer   prometheus.Gatherer
	ShardCount int
	KickBudget time.Duration
}

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(d Deps, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)           // recover panics, return 500
	r.Use(chimw.RealIP)              // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(64<<10)) // kick bodies are tiny
	r.Use(apimw.RequestID)
	r.Use(apimw.RequestLogger(logger))

	// --- handler instances ---
	kh := handler.NewKickHandler(d.Drainer, d.ShardCount, d.KickBudget, logger)
	sh := handler.NewStatsHandler(d.Stats, logger)
	hh := handler.NewHealthHandler(d.DB)

	// --- routes ---
	r.Get("/health", hh.Health)

	// Raw Prometheus scrape endpoint
	r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/push", func(r chi.Router) {
		r.Use(apimw.BearerAuth(d.Verifier, logger))
		r.Post("/kick", kh.Kick)
		r.Get("/stats", sh.Stats)
	})

	return r
}
