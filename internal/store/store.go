// ABOUTME: Store interface and data types for carelog-gateway persistence
// ABOUTME: Defines Account, Session, AuthEvent and the Store interface

package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/carelog/carelog-gateway/internal/lockout"
)

// ErrAccountNotFound is returned when a requested account does not exist.
var ErrAccountNotFound = errors.New("account not found")

// ErrEmailTaken is returned when creating an account whose normalized
// email is already registered.
var ErrEmailTaken = errors.New("email already registered")

// ErrSessionNotFound is returned when a requested session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// Account is a registered identity holding credentials and lockout state.
// Accounts are created at registration and mutated only by login
// outcomes; they are never deleted here.
type Account struct {
	ID             string
	Email          string // normalized: lower-case, trimmed
	PasswordHash   string
	DisplayName    string
	FailedAttempts int
	LockUntil      *time.Time
	IsActive       bool
	IsVerified     bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Session is a server-tracked record of a successful login. Sessions are
// terminated by explicit revocation or passive expiry, never deleted.
type Session struct {
	ID             string
	AccountID      string
	CreatedAt      time.Time
	LastActivityAt time.Time
	ExpiresAt      time.Time // fixed at creation, never extended
	RevokedAt      *time.Time
	IsDemo         bool
}

// Valid reports whether the session is live at the given instant. Any
// other combination is "not authenticated", never an error.
func (s *Session) Valid(now time.Time) bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(now)
}

// Expired reports whether the session's fixed expiry has elapsed.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// AuthEvent is a persisted audit record of an authentication outcome.
type AuthEvent struct {
	ID        string
	Name      string
	AccountID *string
	Detail    map[string]any
	CreatedAt time.Time
}

// NormalizeEmail lowercases and trims an email for storage and lookup.
// Email uniqueness is case-insensitive and enforced at this layer.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Store defines the interface for account and session persistence.
type Store interface {
	// Accounts
	CreateAccount(ctx context.Context, account *Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	RecordLoginFailure(ctx context.Context, accountID string, policy lockout.Policy) (*Account, error)
	RecordLoginSuccess(ctx context.Context, accountID string) error

	// Sessions
	CreateSession(ctx context.Context, accountID string, ttl time.Duration, isDemo bool) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	RevokeSession(ctx context.Context, id string) error
	TouchSession(ctx context.Context, id string, at time.Time) error

	// Auth events
	SaveAuthEvent(ctx context.Context, event *AuthEvent) error
	ListAuthEvents(ctx context.Context, limit int) ([]*AuthEvent, error)

	Close() error
}
