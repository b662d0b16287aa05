package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/qubefyn/inkwell/internal/apperror"
)

// perPage is the number of events returned per page.
const perPage = 50

// sensitiveKeys are detail keys dropped before storage. Matching is by
// substring on the lowercased key.
var sensitiveKeys = []string{"password", "otp", "code", "token", "secret", "hash"}

// AuditService handles business logic for the security audit trail.
type AuditService interface {
	// LogEvent records one auth transition. userID 0 means no account.
	// Satisfies the auth plugin's SecurityLogger.
	LogEvent(ctx context.Context, action string, userID int64, ip string, details map[string]any) error

	// List returns a page of events for admins, optionally filtered.
	List(ctx context.Context, filter ListFilter, page int) (*Page, error)

	// ListForUser returns a page of one user's own events.
	ListForUser(ctx context.Context, userID int64, page int) (*Page, error)
}

// auditService implements AuditService.
type auditService struct {
	repo EventRepository
}

// NewAuditService creates a new audit service with the given repository.
func NewAuditService(repo EventRepository) AuditService {
	return &auditService{repo: repo}
}

// LogEvent validates and persists an event. Failures are logged via slog
// so callers can treat this as fire-and-forget.
func (s *auditService) LogEvent(ctx context.Context, action string, userID int64, ip string, details map[string]any) error {
	if action == "" {
		return apperror.NewBadRequest("action is required for audit event")
	}

	event := &Event{
		Action:    action,
		IPAddress: ip,
		Details:   scrub(details),
	}
	if userID > 0 {
		event.UserID = &userID
	}

	if err := s.repo.Log(ctx, event); err != nil {
		slog.Error("failed to write auth event",
			slog.String("action", action),
			slog.Int64("user_id", userID),
			slog.Any("error", err),
		)
		return apperror.NewInternal(fmt.Errorf("writing auth event: %w", err))
	}
	return nil
}

// List returns one page of events. Pages are 1-indexed; invalid page
// numbers are clamped to 1.
func (s *auditService) List(ctx context.Context, filter ListFilter, page int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	filter.Limit = perPage
	filter.Offset = (page - 1) * perPage

	events, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("listing auth events: %w", err))
	}

	return &Page{Events: events, Total: total, Page: page, PerPage: perPage}, nil
}

// ListForUser is List scoped to a single account.
func (s *auditService) ListForUser(ctx context.Context, userID int64, page int) (*Page, error) {
	if userID <= 0 {
		return nil, apperror.NewBadRequest("user ID is required")
	}
	return s.List(ctx, ListFilter{UserID: userID}, page)
}

// scrub returns a copy of details without sensitive keys, or nil if
// nothing is left.
func scrub(details map[string]any) map[string]any {
	if len(details) == 0 {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		if isSensitive(k) {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func isSensitive(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
