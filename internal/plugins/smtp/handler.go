package smtp

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler serves the mail status endpoints. Admin-only; the caller
// applies the auth and admin middleware.
type Handler struct {
	mailer     *Mailer
	dispatcher *Dispatcher
}

// NewHandler creates a new SMTP handler.
func NewHandler(mailer *Mailer, dispatcher *Dispatcher) *Handler {
	return &Handler{mailer: mailer, dispatcher: dispatcher}
}

// Status returns the redacted settings and queue counters (GET /api/admin/smtp).
func (h *Handler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Settings: h.mailer.Settings(),
		Queue:    h.dispatcher.Stats(),
	})
}

// TestConnection checks connectivity to the mail server (POST /api/admin/smtp/test).
func (h *Handler) TestConnection(c echo.Context) error {
	if err := h.mailer.TestConnection(c.Request().Context()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "connection successful"})
}
