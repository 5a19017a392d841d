package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/prophit/market-tracker/internal/metrics"
)

// RouterConfig holds HTTP layer settings.
type RouterConfig struct {
	CORSOrigins        []string
	RateLimitPerMinute int
}

// NewRouter mounts the read API, the WebSocket feed, health and metrics.
// hub may be nil.
func NewRouter(svc *Service, hub *WSHub, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/health", svc.Health)
	r.Handle("/metrics", metrics.Handler())

	limiter := NewIPRateLimiter(cfg.RateLimitPerMinute)
	r.Route("/api/markets", func(r chi.Router) {
		r.Use(limiter.Middleware)

		if hub != nil {
			// Long-lived; kept out of the request timeout.
			r.Get("/ws", hub.HandleWS)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Get("/", svc.ListMarkets)
			r.Get("/movements", svc.Movements)
			r.Get("/categories", svc.Categories)
			r.Get("/stats", svc.Stats)
			r.Get("/{id}", svc.GetMarket)
			r.Get("/{id}/history", svc.MarketHistory)
		})
	})

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         3600,
	})
	return c.Handler(r)
}
