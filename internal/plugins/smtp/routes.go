package smtp

import "github.com/labstack/echo/v4"

// RegisterRoutes sets up the SMTP admin routes. adminOnly is the auth plus
// site-admin middleware chain, applied per route.
func RegisterRoutes(e *echo.Echo, h *Handler, adminOnly ...echo.MiddlewareFunc) {
	e.GET("/api/admin/smtp", h.Status, adminOnly...)
	e.POST("/api/admin/smtp/test", h.TestConnection, adminOnly...)
}
