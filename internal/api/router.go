package api

import (
	"encoding/json"
	"net/http"

	"github.com/mediaforge/mediaforge/sales-engine/internal/api/handlers"
	"github.com/mediaforge/mediaforge/sales-engine/internal/api/middleware"
	"github.com/mediaforge/mediaforge/sales-engine/internal/config"
	"github.com/mediaforge/mediaforge/sales-engine/internal/store"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, s store.Store, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()
	auth := middleware.NewAuth(s)

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.TenantExtractor)
	r.Use(auth.Handler)
	// The logger sits inside the identity resolvers so its lines carry
	// tenant and principal fields.
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant-Id", "X-Access-Token", "X-Admin-Token", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler(s))
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Media buy operations
		r.Post("/create-media-buy", h.CreateMediaBuy)
		r.Post("/update-media-buy", h.UpdateMediaBuy)
		r.Post("/update-package", h.UpdatePackage)
		r.Post("/check-media-buy-status", h.CheckMediaBuyStatus)
		r.Post("/get-media-buy-delivery", h.GetMediaBuyDelivery)
		r.Post("/add-creative-assets", h.AddCreativeAssets)
		r.Post("/check-creative-status", h.CheckCreativeStatus)
		r.Post("/update-performance-index", h.UpdatePerformanceIndex)

		// Catalog
		r.Get("/products", h.ListProducts)
		r.Get("/adapters", h.ListAdapters)

		// Task queue
		r.Post("/create-workflow-step", h.CreateWorkflowStepForTask)
		r.Post("/get-pending-workflows", h.GetPendingWorkflows)
		r.Post("/assign-task", h.AssignTask)
		r.Post("/complete-task", h.CompleteTask)
		r.Post("/verify-task", h.VerifyTask)
		r.Post("/mark-task-complete", h.MarkTaskComplete)

		// Admin
		r.Route("/admin", func(r chi.Router) {
			r.Route("/tenants", func(r chi.Router) {
				r.Get("/", h.ListTenants)
				r.Post("/", h.CreateTenant)
				r.Route("/{tenantID}", func(r chi.Router) {
					r.Get("/", h.GetTenant)
					r.Put("/", h.UpdateTenant)
					r.Delete("/", h.DeleteTenant)
				})
			})

			r.Route("/principals", func(r chi.Router) {
				r.Get("/", h.ListPrincipals)
				r.Post("/", h.CreatePrincipal)
				r.Delete("/{principalID}", h.DeletePrincipal)
			})

			r.Route("/products", func(r chi.Router) {
				r.Get("/", h.AdminListProducts)
				r.Post("/", h.CreateProduct)
				r.Route("/{productID}", func(r chi.Router) {
					r.Put("/", h.UpdateProduct)
					r.Delete("/", h.DeleteProduct)
				})
			})

			r.Post("/sync-inventory", h.SyncInventory)
		})
	})

	return r
}

func healthHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		code := http.StatusOK
		if err := s.Ping(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{
			"status":  status,
			"service": "sales-engine",
		})
	}
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "sales-engine",
		})
	}
}
