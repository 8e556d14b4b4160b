// ABOUTME: Account persistence: creation, lookup and lockout state updates
// ABOUTME: The failure increment runs in one transaction to survive races

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/carelog/carelog-gateway/internal/lockout"
)

// CreateAccount inserts a new account. The email is normalized before
// storage; a normalized duplicate returns ErrEmailTaken.
func (s *SQLiteStore) CreateAccount(ctx context.Context, account *Account) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	now := s.now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = account.CreatedAt
	account.Email = NormalizeEmail(account.Email)

	query := `
		INSERT INTO accounts (id, email, password_hash, display_name, failed_attempts, lock_until, is_active, is_verified, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		account.ID,
		account.Email,
		account.PasswordHash,
		account.DisplayName,
		account.FailedAttempts,
		formatNullableTime(account.LockUntil),
		account.IsActive,
		account.IsVerified,
		formatTime(account.CreatedAt),
		formatTime(account.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrEmailTaken
		}
		return fmt.Errorf("inserting account: %w", err)
	}

	s.logger.Debug("created account", "id", account.ID, "email", account.Email)
	return nil
}

const accountColumns = `id, email, password_hash, display_name, failed_attempts, lock_until, is_active, is_verified, created_at, updated_at`

// GetAccount returns the account with the given ID.
func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

// GetAccountByEmail returns the account registered under the normalized
// form of email.
func (s *SQLiteStore) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = ?`, NormalizeEmail(email))
	return scanAccount(row)
}

// RecordLoginFailure increments the failed-attempt counter and engages
// the lock window when the policy threshold is reached. The
// read-modify-write runs inside one transaction so two concurrent
// failures cannot both observe a below-threshold count and skip the
// lock. Returns the account as it stands after the update.
func (s *SQLiteStore) RecordLoginFailure(ctx context.Context, accountID string, policy lockout.Policy) (*Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var attempts int
	err = tx.QueryRowContext(ctx,
		`SELECT failed_attempts FROM accounts WHERE id = ?`, accountID).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading failed attempts: %w", err)
	}

	now := s.now().UTC()
	attempts, lockUntil := policy.AfterFailure(attempts, now)

	if _, err := tx.ExecContext(ctx,
		`UPDATE accounts SET failed_attempts = ?, lock_until = ?, updated_at = ? WHERE id = ?`,
		attempts, formatNullableTime(lockUntil), formatTime(now), accountID); err != nil {
		return nil, fmt.Errorf("updating lockout state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing lockout update: %w", err)
	}

	if lockUntil != nil {
		s.logger.Info("account locked",
			"account_id", accountID,
			"failed_attempts", attempts,
			"lock_until", formatTime(*lockUntil),
		)
	}

	return s.GetAccount(ctx, accountID)
}

// RecordLoginSuccess resets the lockout state after a successful
// authentication, regardless of the prior state.
func (s *SQLiteStore) RecordLoginSuccess(ctx context.Context, accountID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET failed_attempts = 0, lock_until = NULL, updated_at = ? WHERE id = ?`,
		formatTime(s.now().UTC()), accountID)
	if err != nil {
		return fmt.Errorf("resetting lockout state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking lockout reset: %w", err)
	}
	if affected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// scanAccount scans a row into an Account.
func scanAccount(scanner interface{ Scan(dest ...any) error }) (*Account, error) {
	var a Account
	var lockUntil *string
	var createdAt, updatedAt string

	err := scanner.Scan(
		&a.ID,
		&a.Email,
		&a.PasswordHash,
		&a.DisplayName,
		&a.FailedAttempts,
		&lockUntil,
		&a.IsActive,
		&a.IsVerified,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning account: %w", err)
	}

	if a.LockUntil, err = parseNullableTime(lockUntil); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}
