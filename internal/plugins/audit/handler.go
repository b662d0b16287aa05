package audit

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/qubefyn/inkwell/internal/apperror"
	"github.com/qubefyn/inkwell/internal/plugins/auth"
)

// Handler handles HTTP requests for the audit trail. Handlers are thin:
// bind request, call service, render response.
type Handler struct {
	service AuditService
}

// NewHandler creates a new audit handler.
func NewHandler(service AuditService) *Handler {
	return &Handler{service: service}
}

// List returns the full event trail for admins (GET /api/admin/audit).
// Optional query params: page, userId, action.
func (h *Handler) List(c echo.Context) error {
	filter := ListFilter{Action: c.QueryParam("action")}
	if raw := c.QueryParam("userId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return apperror.NewValidation("userId must be a positive integer")
		}
		filter.UserID = id
	}

	page, err := h.service.List(c.Request().Context(), filter, pageParam(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

// MyActivity returns the signed-in user's own events (GET /api/users/me/activity).
func (h *Handler) MyActivity(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.NewMissingContext()
	}

	page, err := h.service.ListForUser(c.Request().Context(), user.ID, pageParam(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

func pageParam(c echo.Context) int {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	return page
}
