package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/alishams21/lineagentic-kg/infrastructure/di"
	"github.com/alishams21/lineagentic-kg/interfaces/http/rest/handlers"
	"github.com/alishams21/lineagentic-kg/interfaces/http/rest/middleware"
)

// Router creates and configures the HTTP router
type Router struct {
	container *di.Container
	logger    *zap.Logger
}

// NewRouter creates a new router instance
func NewRouter(container *di.Container, logger *zap.Logger) *Router {
	return &Router{
		container: container,
		logger:    logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Global middleware
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Logger(rt.logger))

	if rt.container.Config.EnableCORS {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "Idempotency-Key"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	// Health check
	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)

	if rt.container.Config.EnableMetrics {
		router.Handle("/metrics", rt.container.Metrics.Handler())
	}

	// API v1 routes
	router.Route("/api/v1", func(r chi.Router) {
		operationHandler := handlers.NewOperationHandler(rt.container, rt.logger)
		r.Route("/operations", func(r chi.Router) {
			r.Get("/", operationHandler.ListOperations)
			r.Get("/{operationName}", operationHandler.GetOperation)
			r.Post("/{operationName}", operationHandler.Execute)
		})
		r.Route("/entities/{entityType}", func(r chi.Router) {
			r.Post("/", operationHandler.UpsertEntity)
			r.Get("/", operationHandler.GetEntity)
			r.Delete("/", operationHandler.DeleteEntity)
		})
		r.Route("/aspects/{aspectName}", func(r chi.Router) {
			r.Post("/", operationHandler.UpsertAspect)
			r.Get("/", operationHandler.GetAspect)
			r.Delete("/", operationHandler.DeleteAspect)
		})
		r.Get("/registry", operationHandler.DescribeRegistry)
	})

	return router
}

// healthCheck handles health check requests
func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

// readinessCheck handles readiness check requests. The process only binds
// the listener after the registry loaded and the catalog was synthesized,
// so an empty catalog means the write path is not serviceable.
func (rt *Router) readinessCheck(w http.ResponseWriter, req *http.Request) {
	if len(rt.container.Operations().Names()) == 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"no operations loaded"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}
