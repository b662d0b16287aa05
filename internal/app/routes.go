package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/qubefyn/inkwell/internal/middleware"
	"github.com/qubefyn/inkwell/internal/plugins/audit"
	"github.com/qubefyn/inkwell/internal/plugins/auth"
	"github.com/qubefyn/inkwell/internal/plugins/smtp"
	"github.com/qubefyn/inkwell/internal/plugins/users"
)

// healthTimeout bounds each dependency ping in /healthz.
const healthTimeout = 2 * time.Second

// RegisterRoutes builds every plugin and mounts its routes. This is the
// single place where plugins are wired together; when a new plugin is
// added, its routes are registered here.
func (a *App) RegisterRoutes() error {
	e := a.Echo
	cfg := a.Config

	e.GET("/healthz", a.health)

	// --- Audit ---
	auditService := audit.NewAuditService(audit.NewEventRepository(a.DB))

	// --- Auth ---
	issuer, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("creating token issuer: %w", err)
	}
	userRepo := auth.NewUserRepository(a.DB)
	authService := auth.NewAuthService(
		userRepo,
		auth.NewHasher(cfg.Auth.BcryptCost),
		auth.RandomCodes{},
		issuer,
		a.Mail,
		auth.ServiceConfig{OTPLength: cfg.Auth.OTPLength, OTPTTL: cfg.Auth.OTPTTL},
	)
	authHandler := auth.NewHandler(authService, auditService, auth.CookieConfig{
		Secure: cfg.IsProduction(),
		MaxAge: cfg.Auth.CookieMaxAge,
	})
	auth.RegisterRoutes(e, authHandler, authService, auth.RouteLimits{
		Register: a.limit("register", cfg.RateLimit.RegisterPerMinute),
		Login:    a.limit("login", cfg.RateLimit.LoginPerMinute),
		Verify:   a.limit("verify", cfg.RateLimit.VerifyPerMinute),
	})

	// --- Users ---
	userService := users.NewUserService(userRepo, authService, a.Mail, cfg.BaseURL)
	users.RegisterRoutes(e, users.NewHandler(userService, auditService), authService)

	// --- Audit routes ---
	audit.RegisterRoutes(e, audit.NewHandler(auditService), authService)

	// --- SMTP admin ---
	smtp.RegisterRoutes(e, smtp.NewHandler(a.mailer, a.Mail),
		auth.RequireAuth(authService), auth.RequireSiteAdmin())

	return nil
}

// limit returns a per-IP limiter middleware allowing perMinute requests.
// Zero or negative disables the limit.
func (a *App) limit(name string, perMinute int) echo.MiddlewareFunc {
	if perMinute <= 0 || a.Redis == nil {
		return nil
	}
	return middleware.RateLimit(middleware.NewLimiter(a.Redis, name, perMinute, time.Minute))
}

// health reports whether MariaDB and Redis answer a ping
// (GET /healthz). Used by container health checks.
func (a *App) health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()

	status := map[string]string{"status": "ok", "database": "ok", "redis": "ok"}
	code := http.StatusOK

	if err := a.DB.PingContext(ctx); err != nil {
		status["database"] = "unavailable"
		status["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		status["redis"] = "unavailable"
		status["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}

	return c.JSON(code, status)
}
