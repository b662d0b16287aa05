package auth

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/qubefyn/inkwell/internal/apperror"
)

// Context keys for storing auth data in Echo context. Other plugins
// use the exported getters below instead of reading these directly.
const (
	contextKeyUser   = "auth_user"
	contextKeyClaims = "auth_claims"
)

// RequireAuth returns middleware that reads the session token from the
// jwtToken cookie (or an Authorization: Bearer header), verifies it and
// resolves the live account. Failures are returned as apperrors so the
// central error handler renders them.
func RequireAuth(service AuthService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, claims, err := service.Authenticate(c.Request().Context(), tokenFromRequest(c))
			if err != nil {
				if apperror.Is(err, apperror.TypeUnauthorized) {
					clearSessionCookie(c)
				}
				return err
			}

			c.Set(contextKeyUser, user)
			c.Set(contextKeyClaims, claims)
			return next(c)
		}
	}
}

// RequireSiteAdmin returns middleware that only lets site admins through.
// Must run after RequireAuth. The flag comes from the store, not the
// token, so a revoked admin loses access immediately.
func RequireSiteAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := GetUser(c)
			if user == nil {
				return apperror.NewUnauthorized("authentication required")
			}
			if !user.IsAdmin {
				return apperror.NewForbidden("admin access required")
			}
			return next(c)
		}
	}
}

// --- Exported getters for other plugins ---

// GetUser returns the authenticated account, or nil if RequireAuth
// didn't run.
func GetUser(c echo.Context) *User {
	user, ok := c.Get(contextKeyUser).(*User)
	if !ok {
		return nil
	}
	return user
}

// GetClaims returns the verified token claims, or nil.
func GetClaims(c echo.Context) *Claims {
	claims, ok := c.Get(contextKeyClaims).(*Claims)
	if !ok {
		return nil
	}
	return claims
}

// tokenFromRequest prefers the cookie and falls back to a bearer header.
func tokenFromRequest(c echo.Context) string {
	if cookie, err := c.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
