package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/qubefyn/inkwell/internal/apperror"
)

// SessionCookieName is the cookie that carries the session token.
const SessionCookieName = "jwtToken"

// CookieConfig controls the session cookie attributes.
type CookieConfig struct {
	// Secure marks the cookie HTTPS-only. Set in production.
	Secure bool

	// MaxAge is the cookie lifetime.
	MaxAge time.Duration
}

// Handler handles HTTP requests for the auth flows. Handlers are thin:
// they bind and validate the request, call the service, and write JSON.
type Handler struct {
	service  AuthService
	security SecurityLogger
	cookie   CookieConfig
}

// NewHandler creates a new auth handler. security may be nil.
func NewHandler(service AuthService, security SecurityLogger, cookie CookieConfig) *Handler {
	return &Handler{service: service, security: security, cookie: cookie}
}

// Register creates an account and mails the first code (POST /api/users/register).
func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	user, err := h.service.Register(c.Request().Context(), RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return err
	}

	h.logEvent(c, EventRegistered, user.ID, nil)

	return c.JSON(http.StatusCreated, map[string]any{
		"message": "account created, a verification code has been sent to your email",
		"user":    user,
	})
}

// Login checks the password and mails a code (POST /api/users/login).
func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	user, err := h.service.RequestLogin(c.Request().Context(), LoginInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		if apperror.Is(err, apperror.TypeInvalidCredentials) {
			h.logEvent(c, EventLoginFailed, 0, failedLoginDetails(req))
		}
		return err
	}

	h.logEvent(c, EventLoginCodeIssued, user.ID, nil)

	return c.JSON(http.StatusOK, MessageResponse{
		Message: "a verification code has been sent to your email",
	})
}

// VerifyOTP redeems a code and sets the session cookie (POST /api/users/otpCheckout).
func (h *Handler) VerifyOTP(c echo.Context) error {
	var req VerifyOTPRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	result, err := h.service.VerifyOTP(c.Request().Context(), req.Email, req.OTPCode)
	if err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) && appErr.Code == http.StatusUnauthorized {
			h.logEvent(c, EventOTPFailed, 0, map[string]any{"email": req.Email, "reason": appErr.Type})
		}
		return err
	}

	h.setSessionCookie(c, result.Token)
	h.logEvent(c, EventLoginSuccess, result.User.ID, nil)

	return c.JSON(http.StatusCreated, result)
}

// Logout clears the session cookie (POST /api/users/logout). Tokens are
// stateless, so a copied token stays valid until it expires.
func (h *Handler) Logout(c echo.Context) error {
	if _, err := c.Cookie(SessionCookieName); err == nil {
		h.logEvent(c, EventLogout, 0, nil)
	}
	clearSessionCookie(c)
	return c.JSON(http.StatusOK, MessageResponse{Message: "logged out"})
}

// Me returns the authenticated account (GET /api/users/me).
func (h *Handler) Me(c echo.Context) error {
	user := GetUser(c)
	if user == nil {
		return apperror.NewMissingContext()
	}
	return c.JSON(http.StatusOK, user)
}

// RequestOTP mails a fresh code to the signed-in account
// (GET /api/users/me/orderOtp).
func (h *Handler) RequestOTP(c echo.Context) error {
	claims := GetClaims(c)
	if claims == nil {
		return apperror.NewMissingContext()
	}

	if err := h.service.RequestOTP(c.Request().Context(), *claims); err != nil {
		return err
	}

	h.logEvent(c, EventOTPRequested, claims.UserID, nil)

	return c.JSON(http.StatusOK, MessageResponse{
		Message: "a verification code has been sent to your email",
	})
}

// ChangeEmail updates the account email (PUT /api/users/email).
func (h *Handler) ChangeEmail(c echo.Context) error {
	claims := GetClaims(c)
	if claims == nil {
		return apperror.NewMissingContext()
	}

	var req ChangeEmailRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	user, err := h.service.ChangeEmail(c.Request().Context(), *claims, req.Email, req.OTPCode)
	if err != nil {
		return err
	}

	h.logEvent(c, EventEmailChanged, user.ID, map[string]any{"email": user.Email})

	return c.JSON(http.StatusOK, user)
}

// ChangePassword updates the account password (PUT /api/users/password).
func (h *Handler) ChangePassword(c echo.Context) error {
	claims := GetClaims(c)
	if claims == nil {
		return apperror.NewMissingContext()
	}

	var req ChangePasswordRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	err := h.service.ChangePassword(c.Request().Context(), *claims, req.CurrentPassword, req.NewPassword)
	if err != nil {
		if apperror.Is(err, apperror.TypeInvalidCredentials) {
			h.logEvent(c, EventPasswordFailed, claims.UserID, nil)
		}
		return err
	}

	h.logEvent(c, EventPasswordChanged, claims.UserID, nil)

	return c.JSON(http.StatusOK, MessageResponse{Message: "password updated"})
}

// --- Helpers ---

// bindAndValidate decodes the JSON body into req and runs the registered
// Echo validator over it.
func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return apperror.NewValidation("invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return err
	}
	return nil
}

// failedLoginDetails describes a rejected login for the audit trail. The
// email has already passed format validation and is kept. A username is
// not: the field accepts any short string, including a password typed into
// the wrong box.
func failedLoginDetails(req LoginRequest) map[string]any {
	if email := strings.TrimSpace(req.Email); email != "" {
		return map[string]any{"method": "email", "email": normalizeEmail(email)}
	}
	return map[string]any{"method": "username"}
}

// logEvent records a security event synchronously on the request path. A
// failed write is ignored so auditing never changes the response. The
// write runs on a context detached from the request's cancellation.
func (h *Handler) logEvent(c echo.Context, action string, userID int64, details map[string]any) {
	if h.security == nil {
		return
	}
	ctx := context.WithoutCancel(c.Request().Context())
	_ = h.security.LogEvent(ctx, action, userID, c.RealIP(), details)
}

// setSessionCookie writes the token cookie. HttpOnly and SameSite=Strict
// always; Secure per environment.
func (h *Handler) setSessionCookie(c echo.Context, token string) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(h.cookie.MaxAge / time.Second),
	})
}

// clearSessionCookie removes the session cookie by setting MaxAge to -1.
func clearSessionCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}
