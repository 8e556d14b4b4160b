// ABOUTME: Session persistence: creation, lookup, revocation and activity
// ABOUTME: Expiry is fixed at creation; revocation is an idempotent no-op

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateSession creates a session for the account with a fixed expiry of
// now + ttl. The expiry is never extended afterwards.
func (s *SQLiteStore) CreateSession(ctx context.Context, accountID string, ttl time.Duration, isDemo bool) (*Session, error) {
	now := s.now().UTC()
	session := &Session{
		ID:             uuid.New().String(),
		AccountID:      accountID,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(ttl),
		IsDemo:         isDemo,
	}

	query := `
		INSERT INTO sessions (id, account_id, created_at, last_activity_at, expires_at, revoked_at, is_demo)
		VALUES (?, ?, ?, ?, ?, NULL, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.AccountID,
		formatTime(session.CreatedAt),
		formatTime(session.LastActivityAt),
		formatTime(session.ExpiresAt),
		session.IsDemo,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Debug("created session",
		"id", session.ID,
		"account_id", accountID,
		"expires_at", formatTime(session.ExpiresAt),
		"demo", isDemo,
	)
	return session, nil
}

// GetSession returns the session with the given ID. Revoked and expired
// sessions are still returned; validity is the caller's judgment.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, created_at, last_activity_at, expires_at, revoked_at, is_demo
		FROM sessions WHERE id = ?
	`, id)

	var sess Session
	var createdAt, lastActivityAt, expiresAt string
	var revokedAt *string

	err := row.Scan(
		&sess.ID,
		&sess.AccountID,
		&createdAt,
		&lastActivityAt,
		&expiresAt,
		&revokedAt,
		&sess.IsDemo,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if sess.LastActivityAt, err = parseTime(lastActivityAt); err != nil {
		return nil, err
	}
	if sess.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if sess.RevokedAt, err = parseNullableTime(revokedAt); err != nil {
		return nil, err
	}
	return &sess, nil
}

// RevokeSession marks the session revoked. Revoking an already-revoked
// session is a no-op, never an error.
func (s *SQLiteStore) RevokeSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		formatTime(s.now().UTC()), id)
	if err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking revocation: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// Nothing updated: either already revoked (no-op) or missing.
	var exists int
	err = s.db.QueryRowContext(ctx,
		`SELECT 1 FROM sessions WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("checking session existence: %w", err)
	}
	return nil
}

// TouchSession updates last_activity_at. The expiry is deliberately left
// alone.
func (s *SQLiteStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity_at = ? WHERE id = ?`,
		formatTime(at), id)
	if err != nil {
		return fmt.Errorf("updating session activity: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking session activity update: %w", err)
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}
