// auth/internal/transport/http/routes.go
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/davidshare/ObservaShop/internal/policy"
)

func Routes(h *Handler, mw *Middleware) http.Handler {
	r := chi.NewRouter()

	r.Post("/auth/login", h.Login)
	r.Post("/auth/register", h.Register)
	r.Post("/auth/refresh", h.Refresh)
	r.Post("/auth/logout", h.Logout)

	// Внутренний read-side; закрывается на уровне сети, не токеном.
	r.Get("/internal/users/{userID}/permissions", h.Permissions)

	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate)
		r.Use(mw.RequirePermission(policy.PermUserAdmin))

		r.Post("/admin/users/{userID}/roles", h.GrantRole)
		r.Delete("/admin/users/{userID}/roles/{role}", h.RevokeRole)
	})

	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate)
		r.Use(mw.RequirePermission(policy.PermRoleAdmin))

		r.Put("/admin/roles/{role}/permissions", h.SetRolePermissions)
	})

	return r
}
