package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"storefront-guard/internal/riskmeta"
	"storefront-guard/internal/util"
)

// RouterConfig wires the handlers and cross-cutting options into the router.
type RouterConfig struct {
	OTP        *OTPHandler
	Simulation *SimulationHandler
	Refund     *RefundHandler
	Events     *EventsHandler

	AllowedOrigins []string
	RequireHTTPS   bool
	// OTPLimiter throttles the OTP endpoints per client address. Nil
	// disables throttling.
	OTPLimiter *IPRateLimiter
	// Health reports dependency health; nil means always healthy.
	Health func(ctx context.Context) error
}

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(cfg RouterConfig, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	if cfg.RequireHTTPS {
		router.Use(requireHTTPS)
	}

	// Middleware stack
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type",
			riskmeta.HeaderSessionID, riskmeta.HeaderFingerprint, riskmeta.HeaderTimezone,
			riskmeta.HeaderScreenResolution, riskmeta.HeaderGeoLat, riskmeta.HeaderGeoLon,
			riskmeta.HeaderGeoAccuracy,
		},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if cfg.Health != nil {
			if err := cfg.Health(r.Context()); err != nil {
				logger.Warn("Health check failed", util.ErrorField(err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unhealthy","service":"storefront-guard"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy","service":"storefront-guard"}`))
	})
	router.Handle("/metrics", promhttp.Handler())

	if cfg.OTP != nil {
		router.Group(func(r chi.Router) {
			if cfg.OTPLimiter != nil {
				r.Use(cfg.OTPLimiter.Middleware)
			}
			cfg.OTP.RegisterRoutes(r)
		})
	}

	// API routes
	router.Route("/api/v1", func(r chi.Router) {
		if cfg.Simulation != nil {
			cfg.Simulation.RegisterRoutes(r)
		}
		if cfg.Refund != nil {
			cfg.Refund.RegisterRoutes(r)
		}
		if cfg.Events != nil {
			cfg.Events.RegisterRoutes(r)
		}
	})

	// 404 handler
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	// Method not allowed handler
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		_, _ = w.Write([]byte(`{"error":"method not allowed"}`))
	})

	return router
}
