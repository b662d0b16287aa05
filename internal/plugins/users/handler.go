package users

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/qubefyn/inkwell/internal/apperror"
	"github.com/qubefyn/inkwell/internal/plugins/auth"
)

// Handler handles account administration requests. Depends on the auth
// plugin only through its exported getters and interfaces.
type Handler struct {
	service  UserService
	security auth.SecurityLogger
}

// NewHandler creates a new users handler. security may be nil.
func NewHandler(service UserService, security auth.SecurityLogger) *Handler {
	return &Handler{service: service, security: security}
}

// List returns all accounts (GET /api/users).
func (h *Handler) List(c echo.Context) error {
	users, err := h.service.List(c.Request().Context(), auth.GetUser(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, users)
}

// Create opens an account on behalf of someone (POST /api/users).
func (h *Handler) Create(c echo.Context) error {
	var req CreateUserRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewValidation("invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	actor := auth.GetUser(c)
	user, err := h.service.Create(c.Request().Context(), actor, req)
	if err != nil {
		return err
	}

	h.logEvent(c, auth.EventUserCreated, user.ID, map[string]any{
		"by":      actor.ID,
		"isAdmin": user.IsAdmin,
	})
	return c.JSON(http.StatusCreated, user)
}

// Profile returns one account (GET /api/users/profile/:username).
func (h *Handler) Profile(c echo.Context) error {
	user, err := h.service.Profile(c.Request().Context(), auth.GetUser(c), c.Param("username"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, user)
}

// UpdateProfile sets the admin flag (PUT /api/users/profile/:username).
func (h *Handler) UpdateProfile(c echo.Context) error {
	var req UpdateProfileRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewValidation("invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	actor := auth.GetUser(c)
	user, err := h.service.SetAdmin(c.Request().Context(), actor, c.Param("username"), *req.IsAdmin)
	if err != nil {
		return err
	}

	action := auth.EventAdminRevoked
	if user.IsAdmin {
		action = auth.EventAdminGranted
	}
	h.logEvent(c, action, user.ID, map[string]any{"by": actor.ID})

	return c.JSON(http.StatusOK, user)
}

// Delete removes an account (DELETE /api/users/profile/:username). Deleting
// your own account also ends the browser session.
func (h *Handler) Delete(c echo.Context) error {
	actor := auth.GetUser(c)
	user, err := h.service.Delete(c.Request().Context(), actor, c.Param("username"))
	if err != nil {
		return err
	}

	h.logEvent(c, auth.EventUserDeleted, user.ID, map[string]any{
		"by":       actor.ID,
		"username": user.Username,
	})

	if user.ID == actor.ID {
		c.SetCookie(&http.Cookie{
			Name:     auth.SessionCookieName,
			Value:    "",
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
			MaxAge:   -1,
		})
	}

	return c.JSON(http.StatusOK, auth.MessageResponse{Message: "account deleted"})
}

func (h *Handler) logEvent(c echo.Context, action string, userID int64, details map[string]any) {
	if h.security == nil {
		return
	}
	_ = h.security.LogEvent(context.WithoutCancel(c.Request().Context()), action, userID, c.RealIP(), details)
}
