package http

import (
	"context"
	"net/http"

	"github.com/smsinbox/site-api/internal/auth"
	"github.com/smsinbox/site-api/internal/config"
	"github.com/smsinbox/site-api/internal/httputil"
	"github.com/smsinbox/site-api/internal/logging"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps bundles what the router mounts.
type Deps struct {
	AuthHandler    *auth.Handler
	AuthMiddleware *auth.Middleware
	Metrics        http.Handler
	DB             Pinger
	Logger         *logging.Logger
}

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, deps Deps) *chi.Mux {
	r := chi.NewRouter()

	// CORS - must be first
	if len(cfg.Server.TrustedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.Server.TrustedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			ExposedHeaders:   []string{"Content-Length", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           300, // 5 minutes
		}))
	}

	r.Use(SecurityHeaders(!cfg.Server.IsDevelopment()))
	r.Use(middleware.RequestID)
	// Forwarded headers are client-controlled unless a proxy rewrites them
	if cfg.Server.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(logging.RequestLogger(deps.Logger))
	r.Use(middleware.Recoverer) // logs panics through the request logger
	r.Use(middleware.Compress(5))
	r.Use(NoStore)

	r.Get("/health", handleHealth(deps.DB))

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	// Swagger UI is not routed at all outside development
	if cfg.Server.IsDevelopment() {
		deps.Logger.Info("swagger UI enabled", "path", "/swagger/*")
		r.Get("/swagger/*", httpSwagger.WrapHandler)
	}

	h := deps.AuthHandler
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/signup", h.Signup)
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
		r.Get("/me", h.Me)
		r.Post("/forgot-password", h.ForgotPassword)
		r.Post("/reset-password", h.ResetPassword)
		r.Post("/verify-email", h.VerifyEmail)

		r.Group(func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireSession)
			r.Post("/resend-verification", h.ResendVerification)
		})
	})

	return r
}

// handleHealth reports liveness and database reachability
// @Summary      Health check
// @Description  Check if the API and its database are reachable
// @Tags         health
// @Produce      json
// @Success      200 {object} map[string]string
// @Failure      503 {object} map[string]string
// @Router       /health [get]
func handleHealth(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				logging.GetLoggerFromContext(r.Context()).LogError("health check: database unreachable", err)
				httputil.RespondJSON(w, map[string]string{"status": "database unavailable"}, http.StatusServiceUnavailable)
				return
			}
		}
		httputil.RespondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
	}
}
