// ABOUTME: Error taxonomy for the authentication flows
// ABOUTME: Every collaborator failure is mapped to exactly one of these kinds

package auth

import (
	"errors"
	"fmt"
	"time"
)

// Flow errors. Wrong password and nonexistent account both surface as
// ErrInvalidCredentials; the two cases are deliberately indistinguishable.
var (
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrRateLimited         = errors.New("too many requests")
	ErrDuplicateSubmission = errors.New("request already in flight")
	ErrEmailTaken          = errors.New("email already registered")
	ErrNotAuthenticated    = errors.New("not authenticated")
)

// ValidationError is a user-correctable request problem. The reason is
// safe to return to the caller.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// LockedError reports a locked account and how long the lock holds.
type LockedError struct {
	Until     time.Time
	Remaining time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked for another %s", e.Remaining.Round(time.Second))
}
