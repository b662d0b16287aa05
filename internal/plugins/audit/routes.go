package audit

import (
	"github.com/labstack/echo/v4"

	"github.com/qubefyn/inkwell/internal/plugins/auth"
)

// RegisterRoutes sets up the audit routes. The admin listing requires a
// site admin; the personal feed only a session.
func RegisterRoutes(e *echo.Echo, h *Handler, authSvc auth.AuthService) {
	requireAuth := auth.RequireAuth(authSvc)

	e.GET("/api/admin/audit", h.List, requireAuth, auth.RequireSiteAdmin())
	e.GET("/api/users/me/activity", h.MyActivity, requireAuth)
}
