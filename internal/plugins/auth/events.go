package auth

import "context"

// Security event actions follow the "resource.verb" pattern.
const (
	EventRegistered      = "user.registered"
	EventLoginCodeIssued = "login.code_issued"
	EventLoginFailed     = "login.failed"
	EventLoginSuccess    = "login.success"
	EventOTPFailed       = "otp.failed"
	EventOTPRequested    = "otp.requested"
	EventEmailChanged    = "email.changed"
	EventPasswordChanged = "password.changed"
	EventPasswordFailed  = "password.failed"
	EventLogout          = "logout"

	// Account administration.
	EventUserCreated  = "user.created"
	EventUserDeleted  = "user.deleted"
	EventAdminGranted = "admin.granted"
	EventAdminRevoked = "admin.revoked"
)

// SecurityLogger records auth events. Handlers call it fire-and-forget.
type SecurityLogger interface {
	LogEvent(ctx context.Context, action string, userID int64, ip string, details map[string]any) error
}
