package users

import (
	"github.com/labstack/echo/v4"

	"github.com/qubefyn/inkwell/internal/plugins/auth"
)

// RegisterRoutes sets up the account administration routes. They share
// the /api/users prefix with the auth plugin, so middleware is attached
// per route rather than through a group.
func RegisterRoutes(e *echo.Echo, h *Handler, authSvc auth.AuthService) {
	requireAuth := auth.RequireAuth(authSvc)
	requireAdmin := auth.RequireSiteAdmin()

	// Admin only.
	e.GET("/api/users", h.List, requireAuth, requireAdmin)
	e.POST("/api/users", h.Create, requireAuth, requireAdmin)
	e.PUT("/api/users/profile/:username", h.UpdateProfile, requireAuth, requireAdmin)

	// Self or admin; the service checks which.
	e.GET("/api/users/profile/:username", h.Profile, requireAuth)
	e.DELETE("/api/users/profile/:username", h.Delete, requireAuth)
}
