// Package audit records security events from the auth flows: registrations,
// code issues, login successes and failures, email and password changes.
// Every event is persisted to auth_events. Site admins read the full trail;
// each user can read their own.
//
// Event details never contain secrets. Keys that look like passwords, codes
// or tokens are stripped before storage.
package audit

import "time"

// Event is one recorded auth transition. UserID is nil for events with no
// resolved account, e.g. a login attempt for an unknown username.
type Event struct {
	ID        int64          `json:"id"`
	UserID    *int64         `json:"userId,omitempty"`
	Action    string         `json:"action"`
	IPAddress string         `json:"ipAddress,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`

	// Username is joined from the users table at query time. Empty when the
	// account is gone or the event had none.
	Username string `json:"username,omitempty"`
}

// ListFilter narrows an event listing. Zero values mean "any".
type ListFilter struct {
	UserID int64
	Action string
	Limit  int
	Offset int
}

// Page is a paginated slice of events.
type Page struct {
	Events  []Event `json:"events"`
	Total   int     `json:"total"`
	Page    int     `json:"page"`
	PerPage int     `json:"perPage"`
}
