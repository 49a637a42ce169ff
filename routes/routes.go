package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/authgate/app"
	"github.com/upb/authgate/handlers"
	"github.com/upb/authgate/middleware"
	"github.com/upb/authgate/utils"
)

// SetupRoutes configures all application routes and middleware. The request
// gate runs on every request before routing, so the provider's /auth routes
// are served from inside the gate and never reach the router.
func SetupRoutes(deps *app.Dependencies) http.Handler {
	cfg := deps.Config
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	if cfg.Server.RequestTimeout > 0 {
		r.Use(chimw.Timeout(cfg.Server.RequestTimeout))
	}
	r.Use(deps.Gate.Middleware)

	pages := handlers.NewPageHandler(cfg.Gate.AuthPrefix, deps.Logger)
	r.Get("/", pages.HandleHome)
	r.Get("/dashboard", pages.HandleDashboard)

	health := handlers.NewHealthHandler(map[string]handlers.Pinger{
		"session_store": deps.Sessions,
	}, deps.Logger)

	// API routes are excluded from the gate and authenticate on their own
	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.Server.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           300,
		}))

		r.Get("/health", health.HandleHealth)
		r.Get("/ready", health.HandleReadiness)

		r.Route("/v1", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Get("/me", handlers.HandleCurrentUser)
			r.With(deps.AuthMiddleware.RequireRole("admin")).
				Get("/admin/gate", handlers.NewGateHandler(deps.Gate).HandleGateSettings)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}
