/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/students/*       Student management + history
  /api/products/*       Product management + provider integration
  /api/sales-events/*   Sales event management
  /api/sales/*          Sale reads and lifecycle actions
  /api/webhooks/sale    Payment platform intake
  /api/jobs/drain       Immediate queue drain (admin)

SECURITY NOTE:
  No authentication middleware currently. The webhook endpoint should sit
  behind a shared-secret check before any public deployment.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Student routes
		r.Route("/students", func(r chi.Router) {
			r.Post("/", h.CreateStudent)
			r.Get("/{number}", h.GetStudent)
			r.Put("/{number}", h.UpdateStudent)
			r.Delete("/{number}", h.DeleteStudent)
			r.Post("/{number}/restore", h.RestoreStudent)
			r.Get("/{number}/history", h.StudentHistory)
			r.Get("/at/{historyID}", h.StudentAtVersion)
		})

		// Product routes
		r.Route("/products", func(r chi.Router) {
			r.Post("/", h.CreateProduct)
			r.Get("/{number}", h.GetProduct)
			r.Put("/{number}", h.UpdateProduct)
			r.Put("/{number}/integration", h.UpdateProductIntegration)
			r.Delete("/{number}", h.DeleteProduct)
			r.Post("/{number}/restore", h.RestoreProduct)
			r.Get("/{number}/history", h.ProductHistory)
			r.Get("/at/{historyID}", h.ProductAtVersion)
		})

		// Sales event routes
		r.Route("/sales-events", func(r chi.Router) {
			r.Post("/", h.CreateSalesEvent)
			r.Get("/{number}", h.GetSalesEvent)
			r.Put("/{number}", h.UpdateSalesEvent)
			r.Delete("/{number}", h.DeleteSalesEvent)
			r.Post("/{number}/restore", h.RestoreSalesEvent)
			r.Get("/{number}/history", h.SalesEventHistory)
			r.Get("/at/{historyID}", h.SalesEventAtVersion)
		})

		// Sale routes
		r.Route("/sales", func(r chi.Router) {
			r.Get("/{number}", h.GetSale)
			r.Put("/{number}/items", h.UpdateSaleItems)
			r.Put("/{number}/delivery", h.UpdateSaleDelivery)
			r.Delete("/{number}", h.DeleteSale)
			r.Post("/{number}/restore", h.RestoreSale)
			r.Get("/{number}/history", h.SaleHistory)
			r.Get("/at/{historyID}", h.SaleAtVersion)
			r.Post("/{number}/connect", h.ConnectSale)
			r.Post("/{number}/disconnect", h.DisconnectSale)
			r.Post("/{number}/refund", h.RefundSale)
			r.Post("/{number}/cancel-subscription", h.CancelSubscription)
		})

		// Webhook intake
		r.Post("/webhooks/sale", h.SaleWebhook)

		// Admin
		r.Post("/jobs/drain", h.DrainJobs)
	})

	return r
}
