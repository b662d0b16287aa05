package auth

import (
	"github.com/labstack/echo/v4"
)

// RouteLimits holds the per-IP middleware applied to the public POST
// endpoints. A nil entry means no limit.
type RouteLimits struct {
	Register echo.MiddlewareFunc
	Login    echo.MiddlewareFunc
	Verify   echo.MiddlewareFunc
}

// RegisterRoutes mounts the auth endpoints under /api/users. Middleware is
// attached per route because other plugins share the /api/users prefix.
func RegisterRoutes(e *echo.Echo, h *Handler, service AuthService, limits RouteLimits) {
	requireAuth := RequireAuth(service)

	// Public routes -- rate limited where a password or code is checked.
	e.POST("/api/users/register", h.Register, optional(limits.Register)...)
	e.POST("/api/users/login", h.Login, optional(limits.Login)...)
	e.POST("/api/users/otpCheckout", h.VerifyOTP, optional(limits.Verify)...)
	e.POST("/api/users/logout", h.Logout)

	// Session required.
	e.GET("/api/users/me", h.Me, requireAuth)
	e.GET("/api/users/me/orderOtp", h.RequestOTP, requireAuth)
	e.PUT("/api/users/email", h.ChangeEmail, requireAuth)
	e.PUT("/api/users/password", h.ChangePassword, requireAuth)
}

func optional(m echo.MiddlewareFunc) []echo.MiddlewareFunc {
	if m == nil {
		return nil
	}
	return []echo.MiddlewareFunc{m}
}
