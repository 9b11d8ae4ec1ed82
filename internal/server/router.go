package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"OracleVault/internal/observability"
	"OracleVault/internal/vault"
)

// Config wires the HTTP router.
type Config struct {
	Vault       *vault.Vault
	Health      *observability.HealthChecker
	Metrics     *observability.Metrics
	FeedFactory FeedFactory
	Logger      zerolog.Logger
}

// NewRouter builds the chi router for the vault API.
func NewRouter(cfg Config) http.Handler {
	h := NewHandler(cfg.Vault, cfg.FeedFactory, cfg.Logger)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(metricsMiddleware(cfg.Metrics))
	}

	if cfg.Health != nil {
		r.Get("/healthz", cfg.Health.LivenessHandler)
		r.Get("/readyz", cfg.Health.ReadinessHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/deposits", h.Deposit)
		r.Post("/withdrawals", h.Withdraw)
		r.Get("/balances/{owner}/{asset}", h.Balance)
		r.Get("/vault", h.VaultStats)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/oracle", h.SetOracle)
			r.Post("/pause", h.Pause)
			r.Post("/unpause", h.Unpause)
			r.Post("/emergency-withdrawals", h.EmergencyWithdraw)
		})
	})

	return r
}

func metricsMiddleware(m *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			m.HTTPRequests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
			m.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		})
	}
}
