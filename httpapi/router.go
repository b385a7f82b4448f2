// Package httpapi serves the hostauth Engine as a JSON API on a chi router.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/MrEthical07/hostauth"
	"github.com/MrEthical07/hostauth/metrics/export/prometheus"
	"github.com/MrEthical07/hostauth/middleware"
)

// Options configures the router.
type Options struct {
	Logger *zap.Logger
	// CORSAllowedOrigins enables CORS for the listed origins when non-empty.
	CORSAllowedOrigins []string
	// TrustProxy applies X-Forwarded-For / X-Real-IP to the client address.
	TrustProxy bool
	// MaxBodyBytes caps JSON request bodies. Zero means 64 KiB.
	MaxBodyBytes int64
	// HealthTimeout bounds the /healthz dependency checks.
	HealthTimeout time.Duration
}

type Handlers struct {
	engine  *hostauth.Engine
	logger  *zap.Logger
	maxBody int64
	health  time.Duration
}

func NewRouter(engine *hostauth.Engine, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handlers{
		engine:  engine,
		logger:  logger.Named("http"),
		maxBody: opts.MaxBodyBytes,
		health:  opts.HealthTimeout,
	}
	if h.maxBody <= 0 {
		h.maxBody = 64 << 10
	}
	if h.health <= 0 {
		h.health = 2 * time.Second
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	if opts.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.ClientInfo)
	r.Use(requestLogger(h.logger.Sugar()))
	r.Use(securityHeaders)
	if len(opts.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSAllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", prometheus.New(engine).Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.With(middleware.RequireToken(engine)).Post("/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireActive(engine))
			r.Get("/me", h.Me)
			r.Get("/me/events", h.Events)
			r.Get("/me/sessions", h.Sessions)
			r.Post("/password", h.ChangePassword)

			r.Route("/2fa", func(r chi.Router) {
				r.Get("/status", h.SecondFactorStatus)
				r.Post("/setup", h.SetupSecondFactor)
				r.Post("/enable", h.EnableSecondFactor)
				r.Post("/disable", h.DisableSecondFactor)
				r.Post("/recovery-codes", h.RegenerateRecoveryCodes)
			})
		})
	})

	return r
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.health)
	defer cancel()
	if err := h.engine.Health(ctx); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
