package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/sportshop-system/internal/middleware"
	"github.com/mmeshcher/sportshop-system/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware магазина.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	limiter := custommiddleware.NewRateLimiter(100, time.Minute)

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(limiter.Middleware)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", h.Register)
		r.Post("/auth/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Route("/users", func(r chi.Router) {
				r.Use(custommiddleware.RequireRole(model.RoleAdmin))

				r.Get("/", h.ListUsers)
				r.Post("/", h.CreateUser)
			})

			r.Route("/products", func(r chi.Router) {
				r.Get("/", h.ListProducts)
				r.Get("/{id}", h.GetProduct)

				r.Group(func(r chi.Router) {
					r.Use(custommiddleware.RequireRole(model.RoleAdmin))

					r.Post("/", h.CreateProduct)
					r.Put("/{id}", h.UpdateProduct)
					r.Delete("/{id}", h.DeleteProduct)
					r.Post("/{id}/stock", h.AdjustStock)
				})
			})

			r.Route("/customers", func(r chi.Router) {
				r.Get("/", h.ListCustomers)
				r.Get("/{id}", h.GetCustomer)

				r.Group(func(r chi.Router) {
					r.Use(custommiddleware.RequireRole(model.RoleAdmin))

					r.Post("/", h.CreateCustomer)
					r.Patch("/{id}/active", h.SetCustomerActive)
				})
			})

			r.Route("/orders", func(r chi.Router) {
				r.Use(custommiddleware.RequireRole(model.RoleAdmin, model.RoleVendedor))

				r.Post("/", h.CreateOrder)
				r.Get("/", h.ListOrders)
				r.Get("/stats", h.GetOrderStats)
				r.Post("/stats/encrypted", h.EncryptStats)
				r.Get("/{id}", h.GetOrder)
				r.Patch("/{id}/status", h.UpdateOrderStatus)
				r.Post("/{id}/cancel", h.CancelOrder)
				r.Post("/{id}/encrypted", h.EncryptOrder)
			})

			r.Route("/crypto", func(r chi.Router) {
				r.Post("/keys", h.GenerateKeys)
				r.Post("/decrypt", h.Decrypt)
				r.Post("/verify", h.Verify)
				r.Post("/hash", h.Hash)
				r.Post("/random", h.Random)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
