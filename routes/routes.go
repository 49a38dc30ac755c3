package routes

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/hive/app"
	"github.com/upb/hive/handlers"
	"github.com/upb/hive/middleware"
	"github.com/upb/hive/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.PropagateRequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(deps.Config.Hive.RequestTimeout))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.Config.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	var db *sql.DB
	if deps.DB != nil {
		db = deps.DB.DB
	}

	health := handlers.NewHealthHandler(db, deps.Hive, deps.Logger)
	generate := handlers.NewGenerateHandler(deps.Hive, deps.Logger)
	status := handlers.NewProviderHandler(deps.Hive, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	if h := deps.MetricsHandler(); h != nil {
		r.Handle("/metrics", h)
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/generate", generate.HandleGenerate)

		r.Route("/providers", func(r chi.Router) {
			r.Get("/status", status.HandleListStatus)
			r.Get("/{id}", status.HandleGetStatus)
		})

		r.Get("/cache/stats", status.HandleCacheStats)

		// Dispatch ledger, present only with a database
		if deps.Dispatches != nil {
			dispatches := handlers.NewDispatchHandler(deps.Dispatches, deps.Logger)
			r.Route("/dispatches", func(r chi.Router) {
				r.Get("/", dispatches.HandleList)
				r.Get("/summary", dispatches.HandleSummary)
				r.Get("/{id}", dispatches.HandleGet)
			})
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	return r
}
