// ABOUTME: Auth event persistence for the audit trail
// ABOUTME: Records named authentication outcomes with a free-form detail map

package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// SaveAuthEvent appends an event to the auth trail. ID and CreatedAt are
// generated when unset.
func (s *SQLiteStore) SaveAuthEvent(ctx context.Context, event *AuthEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now().UTC()
	}

	var detailJSON *string
	if event.Detail != nil {
		data, err := json.Marshal(event.Detail)
		if err != nil {
			return fmt.Errorf("marshaling event detail: %w", err)
		}
		str := string(data)
		detailJSON = &str
	}

	query := `
		INSERT INTO auth_events (id, name, account_id, detail_json, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.Name,
		event.AccountID,
		detailJSON,
		formatTime(event.CreatedAt),
	); err != nil {
		return fmt.Errorf("inserting auth event: %w", err)
	}

	s.logger.Debug("saved auth event", "id", event.ID, "name", event.Name)
	return nil
}

// ListAuthEvents returns up to limit events, newest first.
func (s *SQLiteStore) ListAuthEvents(ctx context.Context, limit int) ([]*AuthEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, account_id, detail_json, created_at
		FROM auth_events
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying auth events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*AuthEvent
	for rows.Next() {
		var e AuthEvent
		var detailJSON *string
		var createdAt string

		if err := rows.Scan(&e.ID, &e.Name, &e.AccountID, &detailJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning auth event: %w", err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if detailJSON != nil {
			if err := json.Unmarshal([]byte(*detailJSON), &e.Detail); err != nil {
				return nil, fmt.Errorf("unmarshaling event detail: %w", err)
			}
		}
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating auth events: %w", err)
	}
	return events, nil
}
