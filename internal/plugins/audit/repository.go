package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventRepository defines the data access contract for auth events.
// All SQL lives in the concrete implementation -- no SQL leaks out.
type EventRepository interface {
	// Log inserts a new event and sets its ID.
	Log(ctx context.Context, event *Event) error

	// List returns events matching filter, most recent first, plus the
	// total number of matches for pagination.
	List(ctx context.Context, filter ListFilter) ([]Event, int, error)
}

// eventRepository implements EventRepository with MariaDB queries.
type eventRepository struct {
	db *sql.DB
}

// NewEventRepository creates a new repository backed by the given DB pool.
func NewEventRepository(db *sql.DB) EventRepository {
	return &eventRepository{db: db}
}

// Log inserts a new event. The details map is serialized to JSON before
// storage. Nil details and a nil user are stored as SQL NULL.
func (r *eventRepository) Log(ctx context.Context, event *Event) error {
	query := `INSERT INTO auth_events (user_id, action, ip_address, details, created_at)
	          VALUES (?, ?, ?, ?, ?)`

	var detailsJSON []byte
	if len(event.Details) > 0 {
		var err error
		detailsJSON, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marshaling event details: %w", err)
		}
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var userID sql.NullInt64
	if event.UserID != nil {
		userID = sql.NullInt64{Int64: *event.UserID, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		userID, event.Action, event.IPAddress, detailsJSON, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting auth event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting auth event id: %w", err)
	}
	event.ID = id

	return nil
}

// List returns events ordered newest first. Joins users for the username.
func (r *eventRepository) List(ctx context.Context, filter ListFilter) ([]Event, int, error) {
	var (
		conds []string
		args  []any
	)
	if filter.UserID > 0 {
		conds = append(conds, "a.user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Action != "" {
		conds = append(conds, "a.action = ?")
		args = append(args, filter.Action)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM auth_events a`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting auth events: %w", err)
	}

	query := `SELECT a.id, a.user_id, a.action, a.ip_address, a.details, a.created_at,
	                 COALESCE(u.username, '') AS username
	          FROM auth_events a
	          LEFT JOIN users u ON u.id = a.user_id` + where + `
	          ORDER BY a.created_at DESC, a.id DESC
	          LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing auth events: %w", err)
	}
	defer rows.Close()

	events, err := scanEventRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// scanEventRows scans rows from an auth_events query. Expects columns:
// id, user_id, action, ip_address, details, created_at, username.
func scanEventRows(rows *sql.Rows) ([]Event, error) {
	events := []Event{}
	for rows.Next() {
		var (
			e           Event
			userID      sql.NullInt64
			detailsJSON sql.NullString
		)
		if err := rows.Scan(
			&e.ID, &userID, &e.Action, &e.IPAddress, &detailsJSON, &e.CreatedAt, &e.Username,
		); err != nil {
			return nil, fmt.Errorf("scanning auth event: %w", err)
		}

		if userID.Valid {
			id := userID.Int64
			e.UserID = &id
		}

		if detailsJSON.Valid && detailsJSON.String != "" {
			if err := json.Unmarshal([]byte(detailsJSON.String), &e.Details); err != nil {
				// Don't break the listing over one bad row.
				e.Details = map[string]any{"_parse_error": "invalid JSON"}
			}
		}

		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating auth event rows: %w", err)
	}

	return events, nil
}
