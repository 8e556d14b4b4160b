// ABOUTME: Tests for account persistence and lockout state transitions
// ABOUTME: Uses a real SQLite store in a temp directory, no mocking

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelog/carelog-gateway/internal/lockout"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// createTestAccount inserts an account and returns it.
func createTestAccount(t *testing.T, s *SQLiteStore, email string) *Account {
	t.Helper()
	account := &Account{
		Email:        email,
		PasswordHash: "$2a$10$fakefakefakefakefakefakefakefakefakefakefakefakefakef",
		DisplayName:  "Test User",
		IsActive:     true,
	}
	require.NoError(t, s.CreateAccount(context.Background(), account))
	return account
}

func TestStore_CreateAccount(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	account := createTestAccount(t, s, "a@x.com")
	assert.NotEmpty(t, account.ID)
	assert.False(t, account.CreatedAt.IsZero())

	retrieved, err := s.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", retrieved.Email)
	assert.Equal(t, 0, retrieved.FailedAttempts)
	assert.Nil(t, retrieved.LockUntil)
	assert.True(t, retrieved.IsActive)
	assert.False(t, retrieved.IsVerified)
}

func TestStore_EmailNormalization(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	account := createTestAccount(t, s, "  MixedCase@X.COM ")
	assert.Equal(t, "mixedcase@x.com", account.Email)

	// Lookup is case-insensitive.
	retrieved, err := s.GetAccountByEmail(ctx, "MIXEDCASE@x.com")
	require.NoError(t, err)
	assert.Equal(t, account.ID, retrieved.ID)

	// Uniqueness is case-insensitive too.
	err = s.CreateAccount(ctx, &Account{
		Email:        "mixedCASE@x.com",
		PasswordHash: "hash",
		IsActive:     true,
	})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestStore_GetAccount_NotFound(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.GetAccount(ctx, "missing")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = s.GetAccountByEmail(ctx, "nobody@x.com")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestStore_RecordLoginFailure_BelowThreshold(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	policy := lockout.Policy{Threshold: 5, LockFor: 15 * time.Minute}

	account := createTestAccount(t, s, "a@x.com")

	for i := 1; i <= 4; i++ {
		updated, err := s.RecordLoginFailure(ctx, account.ID, policy)
		require.NoError(t, err)
		assert.Equal(t, i, updated.FailedAttempts)
		assert.Nil(t, updated.LockUntil, "attempt %d must not lock", i)
	}
}

func TestStore_RecordLoginFailure_ReachesThreshold(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	policy := lockout.Policy{Threshold: 5, LockFor: 15 * time.Minute}

	account := createTestAccount(t, s, "a@x.com")

	for i := 0; i < 4; i++ {
		_, err := s.RecordLoginFailure(ctx, account.ID, policy)
		require.NoError(t, err)
	}

	updated, err := s.RecordLoginFailure(ctx, account.ID, policy)
	require.NoError(t, err)
	assert.Equal(t, 5, updated.FailedAttempts)
	require.NotNil(t, updated.LockUntil)
	assert.True(t, updated.LockUntil.After(time.Now()))
}

func TestStore_RecordLoginFailure_MissingAccount(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.RecordLoginFailure(context.Background(), "missing", lockout.DefaultPolicy())
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestStore_RecordLoginSuccess_ResetsState(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	policy := lockout.Policy{Threshold: 2, LockFor: 15 * time.Minute}

	account := createTestAccount(t, s, "a@x.com")

	_, err := s.RecordLoginFailure(ctx, account.ID, policy)
	require.NoError(t, err)
	locked, err := s.RecordLoginFailure(ctx, account.ID, policy)
	require.NoError(t, err)
	require.NotNil(t, locked.LockUntil)

	require.NoError(t, s.RecordLoginSuccess(ctx, account.ID))

	reset, err := s.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, reset.FailedAttempts)
	assert.Nil(t, reset.LockUntil)
}

func TestStore_RecordLoginSuccess_MissingAccount(t *testing.T) {
	s := setupTestStore(t)

	err := s.RecordLoginSuccess(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestStore_RecordLoginFailure_ConcurrentAtThreshold(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	policy := lockout.Policy{Threshold: 5, LockFor: 15 * time.Minute}

	account := createTestAccount(t, s, "a@x.com")

	for i := 0; i < 3; i++ {
		_, err := s.RecordLoginFailure(ctx, account.ID, policy)
		require.NoError(t, err)
	}

	// Two concurrent failures around the threshold: both increments must
	// land (no lost update) and the lock must engage.
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.RecordLoginFailure(ctx, account.ID, policy)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	final, err := s.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, final.FailedAttempts)
	require.NotNil(t, final.LockUntil)
}

func TestStore_UniqueEmailsAcrossManyAccounts(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		createTestAccount(t, s, fmt.Sprintf("user%d@x.com", i))
	}

	retrieved, err := s.GetAccountByEmail(ctx, "user7@x.com")
	require.NoError(t, err)
	assert.Equal(t, "user7@x.com", retrieved.Email)
}
