// Package app is the application bootstrap and dependency injection root.
// It holds the shared infrastructure (DB pool, Redis client, mail queue,
// Echo instance) and wires the plugins together.
package app

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/qubefyn/inkwell/internal/apperror"
	"github.com/qubefyn/inkwell/internal/config"
	"github.com/qubefyn/inkwell/internal/middleware"
	"github.com/qubefyn/inkwell/internal/plugins/smtp"
	"github.com/qubefyn/inkwell/internal/validation"
)

// App holds all shared dependencies and the Echo HTTP server instance.
// Created once at startup in main.go and used to register all routes.
type App struct {
	// Config holds the loaded application configuration.
	Config *config.Config

	// DB is the MariaDB connection pool shared by all plugins.
	DB *sql.DB

	// Redis backs the per-IP rate limiters.
	Redis *redis.Client

	// Echo is the HTTP server instance.
	Echo *echo.Echo

	// Mail is the outbound mail queue. Closed by Close.
	Mail *smtp.Dispatcher

	mailer *smtp.Mailer
}

// New creates a new App and configures the Echo server with global
// middleware, validation and error handling. It fails on a malformed
// trusted proxy range or CORS origin.
func New(cfg *config.Config, db *sql.DB, rdb *redis.Client) (*App, error) {
	e := echo.New()

	// We log our own startup line.
	e.HideBanner = true
	e.HidePort = true

	e.Validator = validation.New()

	if err := middleware.TrustedProxies(e, cfg.TrustedProxies); err != nil {
		return nil, err
	}
	cors, err := middleware.CORS(cfg.CORSOrigins)
	if err != nil {
		return nil, err
	}

	mailer := smtp.NewMailer(cfg.SMTP)

	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
		Echo:   e,
		Mail: smtp.NewDispatcher(mailSender(cfg, mailer), smtp.DispatcherConfig{
			QueueSize:     cfg.SMTP.QueueSize,
			Workers:       cfg.SMTP.Workers,
			RatePerSecond: cfg.SMTP.RatePerSecond,
		}),
		mailer: mailer,
	}

	app.setupMiddleware(cors)
	e.HTTPErrorHandler = errorHandler

	return app, nil
}

// mailSender picks the delivery backend. Without a mail host, development
// logs messages and other environments drop them.
func mailSender(cfg *config.Config, mailer *smtp.Mailer) smtp.Sender {
	switch {
	case cfg.SMTP.Enabled():
		return mailer
	case cfg.IsDevelopment():
		slog.Warn("SMTP_HOST not set, mail will be logged instead of sent")
		return smtp.LogSender{}
	default:
		slog.Warn("SMTP_HOST not set, mail delivery disabled")
		return nil
	}
}

// setupMiddleware registers global middleware on the Echo instance.
// Order matters: the request ID must exist before anything logs.
func (a *App) setupMiddleware(cors echo.MiddlewareFunc) {
	a.Echo.Use(middleware.RequestID())

	a.Echo.Use(middleware.RequestLogger())

	// Recovery sits inside the logger so a recovered panic is logged as a 500.
	a.Echo.Use(middleware.Recovery())

	a.Echo.Use(middleware.SecurityHeaders())

	a.Echo.Use(cors)
}

// errorResponse is the JSON body of every error.
type errorResponse struct {
	Error   string `json:"error"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
}

// errorHandler maps domain errors (AppError) and Echo's own errors to JSON
// responses. Anything else is logged and reported as a generic 500 so
// internals never reach the client.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := apperror.SafeCode(err)
	resp := errorResponse{Type: apperror.TypeInternal, Message: apperror.SafeMessage(err)}

	var appErr *apperror.AppError
	var echoErr *echo.HTTPError
	switch {
	case errors.As(err, &appErr):
		resp.Type = appErr.Type

		if appErr.Internal != nil {
			slog.Error("internal error",
				slog.String("type", appErr.Type),
				slog.Any("internal", appErr.Internal),
				slog.String("path", c.Request().URL.Path),
				slog.String("request_id", middleware.GetRequestID(c)),
			)
		}

	case errors.As(err, &echoErr):
		code = echoErr.Code
		resp.Type = ""
		if msg, ok := echoErr.Message.(string); ok {
			resp.Message = msg
		} else {
			resp.Message = http.StatusText(code)
		}

	default:
		slog.Error("unhandled error",
			slog.Any("error", err),
			slog.String("path", c.Request().URL.Path),
			slog.String("request_id", middleware.GetRequestID(c)),
		)
	}
	resp.Error = http.StatusText(code)

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, resp)
	}
	if err != nil {
		slog.Warn("writing error response failed", slog.Any("error", err))
	}
}

// Start begins listening for HTTP requests on the configured port.
func (a *App) Start() error {
	addr := fmt.Sprintf(":%d", a.Config.Port)
	slog.Info("starting Inkwell server",
		slog.String("addr", addr),
		slog.String("env", a.Config.Env),
	)
	return a.Echo.Start(addr)
}

// Close drains the mail queue. Call after the HTTP server has shut down.
func (a *App) Close() {
	a.Mail.Close()
}
