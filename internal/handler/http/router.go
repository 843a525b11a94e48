package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alittlebroken/recipefinder-auth/pkg/health"
	"github.com/alittlebroken/recipefinder-auth/pkg/middleware"

	"github.com/alittlebroken/recipefinder-auth/internal/service"
)

// RouterConfig carries router-level settings that do not belong to any single
// handler.
type RouterConfig struct {
	CORS         CORSConfig
	CookieSecure bool
	RefreshTTL   time.Duration
	TracingOn    bool
}

// NewRouter creates a chi router with all auth service routes registered.
func NewRouter(
	authService *service.AuthService,
	healthHandler *health.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(CORS(cfg.CORS))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.RequestLogger(logger))
	if cfg.TracingOn {
		r.Use(middleware.Tracing("auth"))
	}
	r.Use(middleware.PrometheusMetrics("auth"))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	authHandler := NewAuthHandler(authService, logger, cfg.CookieSecure, cfg.RefreshTTL)

	// Auth endpoints (public). Refresh and logout authenticate via the jwt
	// cookie rather than a bearer token.
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/refresh-token", authHandler.RefreshToken)
		r.Delete("/refresh-token", authHandler.Logout)
		r.Post("/logout", authHandler.Logout)
	})

	// Token validator that bridges to the token manager.
	tokenValidator := func(token string) (*middleware.Claims, error) {
		claims, err := authService.VerifyAccess(token)
		if err != nil {
			return nil, err
		}
		return &middleware.Claims{
			UserID:   claims.UserID,
			Username: claims.Username,
			Role:     claims.Role,
		}, nil
	}

	// Profile endpoints (access token required)
	userHandler := NewUserHandler(authService, logger)
	r.Route("/api/v1/users", func(r chi.Router) {
		r.Use(middleware.Auth(tokenValidator))

		r.Get("/me", userHandler.GetProfile)
	})

	return r
}
