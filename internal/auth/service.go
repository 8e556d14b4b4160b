// ABOUTME: Authentication orchestrator composing hasher, limiter, guard,
// ABOUTME: lockout policy and session store into the five auth flows

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carelog/carelog-gateway/internal/audit"
	"github.com/carelog/carelog-gateway/internal/inflight"
	"github.com/carelog/carelog-gateway/internal/lockout"
	"github.com/carelog/carelog-gateway/internal/password"
	"github.com/carelog/carelog-gateway/internal/ratelimit"
	"github.com/carelog/carelog-gateway/internal/store"
	"github.com/carelog/carelog-gateway/internal/token"
)

// Store is the persistence surface the orchestrator needs.
type Store interface {
	CreateAccount(ctx context.Context, account *store.Account) error
	GetAccount(ctx context.Context, id string) (*store.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*store.Account, error)
	RecordLoginFailure(ctx context.Context, accountID string, policy lockout.Policy) (*store.Account, error)
	RecordLoginSuccess(ctx context.Context, accountID string) error

	CreateSession(ctx context.Context, accountID string, ttl time.Duration, isDemo bool) (*store.Session, error)
	GetSession(ctx context.Context, id string) (*store.Session, error)
	RevokeSession(ctx context.Context, id string) error
	TouchSession(ctx context.Context, id string, at time.Time) error
}

// Config holds the orchestrator's flow parameters.
type Config struct {
	SessionTTL      time.Duration
	DemoSessionTTL  time.Duration
	TokenTTL        time.Duration
	DemoEmail       string
	DemoDisplayName string
}

// Service orchestrates the authentication flows. All shared mutable
// state (limiter counters, guard flags) is injected at construction so
// tests can reset it deterministically.
type Service struct {
	store   Store
	hasher  password.Hasher
	tokens  *token.Codec
	limiter *ratelimit.Limiter
	guard   *inflight.Guard
	policy  lockout.Policy
	audit   *audit.Recorder
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates the orchestrator.
func NewService(st Store, hasher password.Hasher, tokens *token.Codec, limiter *ratelimit.Limiter, guard *inflight.Guard, policy lockout.Policy, recorder *audit.Recorder, cfg Config) *Service {
	return &Service{
		store:   st,
		hasher:  hasher,
		tokens:  tokens,
		limiter: limiter,
		guard:   guard,
		policy:  policy,
		audit:   recorder,
		cfg:     cfg,
		logger:  slog.Default().With("component", "auth"),
		now:     time.Now,
	}
}

// Identity is the account/session summary returned by successful flows.
type Identity struct {
	AccountID        string
	Email            string
	DisplayName      string
	SessionID        string
	SessionExpiresAt time.Time
	Token            string // legacy bearer surface
	IsDemo           bool
}

// Login authenticates an email/password pair and opens a session.
func (s *Service) Login(ctx context.Context, email, pass string) (*Identity, error) {
	normalized := store.NormalizeEmail(email)

	// The limiter sees every attempt, including ones against accounts
	// that don't exist, so probing is throttled uniformly.
	if !s.limiter.Allow("login:" + normalized) {
		return nil, ErrRateLimited
	}

	if !plausibleEmail(normalized) {
		// A malformed identity must be indistinguishable from a wrong
		// password, including in response latency.
		s.hasher.DummyVerify(pass)
		return nil, ErrInvalidCredentials
	}

	lease, err := s.guard.Acquire("login:" + normalized)
	if err != nil {
		return nil, ErrDuplicateSubmission
	}
	defer lease.Release()

	account, err := s.store.GetAccountByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			s.hasher.DummyVerify(pass)
			s.audit.Emit(audit.EventLoginFailure, "", map[string]any{"email": normalized, "reason": "unknown_account"})
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("looking up account: %w", err)
	}

	// Lock state is derived before the hash runs: a locked account never
	// spends a bcrypt cycle and cannot be told apart by latency.
	now := s.now()
	if s.policy.Locked(account.LockUntil, now) {
		s.audit.Emit(audit.EventLoginFailure, account.ID, map[string]any{"reason": "locked"})
		return nil, &LockedError{
			Until:     *account.LockUntil,
			Remaining: s.policy.Remaining(account.LockUntil, now),
		}
	}

	if !account.IsActive {
		s.hasher.DummyVerify(pass)
		s.audit.Emit(audit.EventLoginFailure, account.ID, map[string]any{"reason": "inactive"})
		return nil, ErrInvalidCredentials
	}

	if !s.hasher.Verify(pass, account.PasswordHash) {
		updated, ferr := s.store.RecordLoginFailure(ctx, account.ID, s.policy)
		if ferr != nil {
			s.logger.Error("recording login failure", "account_id", account.ID, "error", ferr)
		} else if s.policy.Locked(updated.LockUntil, s.now()) {
			s.audit.Emit(audit.EventAccountLocked, account.ID, map[string]any{
				"failed_attempts": updated.FailedAttempts,
				"lock_until":      updated.LockUntil.UTC().Format(time.RFC3339),
			})
		}
		s.audit.Emit(audit.EventLoginFailure, account.ID, map[string]any{"reason": "bad_password"})
		return nil, ErrInvalidCredentials
	}

	if err := s.store.RecordLoginSuccess(ctx, account.ID); err != nil {
		return nil, fmt.Errorf("resetting lockout state: %w", err)
	}

	identity, err := s.openSession(ctx, account, s.cfg.SessionTTL, false)
	if err != nil {
		return nil, err
	}
	s.audit.Emit(audit.EventLoginSuccess, account.ID, map[string]any{"session_id": identity.SessionID})
	return identity, nil
}

// Register creates a new account and logs it in.
func (s *Service) Register(ctx context.Context, email, pass, displayName string) (*Identity, error) {
	normalized := store.NormalizeEmail(email)
	if !plausibleEmail(normalized) {
		return nil, &ValidationError{Reason: "invalid email address"}
	}
	if err := password.Validate(pass); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}

	lease, err := s.guard.Acquire("register:" + normalized)
	if err != nil {
		return nil, ErrDuplicateSubmission
	}
	defer lease.Release()

	hash, err := s.hasher.Hash(pass)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	account := &store.Account{
		Email:        normalized,
		PasswordHash: hash,
		DisplayName:  strings.TrimSpace(displayName),
		IsActive:     true,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("creating account: %w", err)
	}

	identity, err := s.openSession(ctx, account, s.cfg.SessionTTL, false)
	if err != nil {
		return nil, err
	}
	s.audit.Emit(audit.EventRegistration, account.ID, map[string]any{"email": normalized})
	return identity, nil
}

// Logout revokes the referenced session when it resolves. It never fails
// visibly: the caller's goal — no longer being authenticated — is
// achieved by clearing the cookie even when the store write fails.
func (s *Service) Logout(ctx context.Context, sessionID string) {
	if sessionID == "" {
		s.audit.Emit(audit.EventLogout, "", nil)
		return
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, store.ErrSessionNotFound) {
			s.logger.Warn("looking up session during logout", "error", err)
		}
		s.audit.Emit(audit.EventLogout, "", nil)
		return
	}

	if err := s.store.RevokeSession(ctx, sess.ID); err != nil {
		s.logger.Warn("revoking session during logout", "session_id", sess.ID, "error", err)
	}
	s.audit.Emit(audit.EventLogout, sess.AccountID, map[string]any{"session_id": sess.ID})
}

// Status describes the caller's authentication state.
type Status struct {
	Authenticated bool
	ClearCookie   bool // the client-held reference is stale and must go
	Identity      *Identity
}

// SessionStatus resolves a session reference. Absent, revoked, expired
// and orphaned sessions are all "not authenticated", never an error.
func (s *Service) SessionStatus(ctx context.Context, sessionID string) (*Status, error) {
	if sessionID == "" {
		return &Status{}, nil
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return &Status{ClearCookie: true}, nil
		}
		return nil, fmt.Errorf("looking up session: %w", err)
	}

	now := s.now()
	if sess.RevokedAt != nil {
		return &Status{ClearCookie: true}, nil
	}
	if sess.Expired(now) {
		// Passive expiry: the observer revokes, so a differently-timed
		// caller can never judge this session valid again.
		if rerr := s.store.RevokeSession(ctx, sess.ID); rerr != nil {
			s.logger.Warn("revoking expired session", "session_id", sess.ID, "error", rerr)
		}
		return &Status{ClearCookie: true}, nil
	}

	account, err := s.store.GetAccount(ctx, sess.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return &Status{ClearCookie: true}, nil
		}
		return nil, fmt.Errorf("resolving session account: %w", err)
	}

	if terr := s.store.TouchSession(ctx, sess.ID, now); terr != nil {
		s.logger.Warn("updating session activity", "session_id", sess.ID, "error", terr)
	}

	return &Status{
		Authenticated: true,
		Identity: &Identity{
			AccountID:        account.ID,
			Email:            account.Email,
			DisplayName:      account.DisplayName,
			SessionID:        sess.ID,
			SessionExpiresAt: sess.ExpiresAt,
			IsDemo:           sess.IsDemo,
		},
	}, nil
}

// demoRateKey throttles demo starts globally, not per caller.
const demoRateKey = "demo:start"

// StartDemo opens a session on the well-known demo account, creating the
// account on first use.
func (s *Service) StartDemo(ctx context.Context) (*Identity, error) {
	if !s.limiter.Allow(demoRateKey) {
		return nil, ErrRateLimited
	}

	account, err := s.ensureDemoAccount(ctx)
	if err != nil {
		return nil, err
	}

	identity, err := s.openSession(ctx, account, s.cfg.DemoSessionTTL, true)
	if err != nil {
		return nil, err
	}
	s.audit.Emit(audit.EventDemoStart, account.ID, map[string]any{"session_id": identity.SessionID})
	return identity, nil
}

// ensureDemoAccount creates the demo account if absent. Losing the
// unique-email race to a concurrent creator falls back to the winner's
// row, keeping the operation idempotent.
func (s *Service) ensureDemoAccount(ctx context.Context) (*store.Account, error) {
	account, err := s.store.GetAccountByEmail(ctx, s.cfg.DemoEmail)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, store.ErrAccountNotFound) {
		return nil, fmt.Errorf("looking up demo account: %w", err)
	}

	// The demo account is never logged into directly; a random credential
	// keeps the password path closed.
	hash, err := s.hasher.Hash(uuid.New().String())
	if err != nil {
		return nil, fmt.Errorf("hashing demo credential: %w", err)
	}

	account = &store.Account{
		Email:        s.cfg.DemoEmail,
		PasswordHash: hash,
		DisplayName:  s.cfg.DemoDisplayName,
		IsActive:     true,
		IsVerified:   true,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			return s.store.GetAccountByEmail(ctx, s.cfg.DemoEmail)
		}
		return nil, fmt.Errorf("creating demo account: %w", err)
	}
	return account, nil
}

// openSession creates a session plus a legacy bearer token and packages
// the identity summary.
func (s *Service) openSession(ctx context.Context, account *store.Account, ttl time.Duration, isDemo bool) (*Identity, error) {
	sess, err := s.store.CreateSession(ctx, account.ID, ttl, isDemo)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	bearer, err := s.tokens.Issue(account.ID, account.Email, s.cfg.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("issuing token: %w", err)
	}

	return &Identity{
		AccountID:        account.ID,
		Email:            account.Email,
		DisplayName:      account.DisplayName,
		SessionID:        sess.ID,
		SessionExpiresAt: sess.ExpiresAt,
		Token:            bearer,
		IsDemo:           isDemo,
	}, nil
}

// plausibleEmail is the orchestrator's own cheap shape check. The HTTP
// layer runs a stricter validator; this one exists so direct callers get
// the same enumeration-resistant handling.
func plausibleEmail(email string) bool {
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1 && !strings.Contains(email, " ")
}
