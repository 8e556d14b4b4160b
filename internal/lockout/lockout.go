// ABOUTME: Account lockout policy: failed-attempt counting and lock windows
// ABOUTME: Lock state is derived from lock_until on every check, never stored

package lockout

import "time"

// Policy holds the lockout thresholds. The zero value is not usable;
// construct with explicit values or DefaultPolicy.
type Policy struct {
	Threshold int           // failed attempts before the lock engages
	LockFor   time.Duration // lock window once the threshold is reached
}

// DefaultPolicy matches the product default of five attempts / 15 minutes.
func DefaultPolicy() Policy {
	return Policy{Threshold: 5, LockFor: 15 * time.Minute}
}

// Locked reports whether the lock window is still in force. There is no
// stored boolean to go stale; this derivation is the lock state.
func (p Policy) Locked(lockUntil *time.Time, now time.Time) bool {
	return lockUntil != nil && lockUntil.After(now)
}

// Remaining returns how much of the lock window is left, zero when the
// account is not locked.
func (p Policy) Remaining(lockUntil *time.Time, now time.Time) time.Duration {
	if !p.Locked(lockUntil, now) {
		return 0
	}
	return lockUntil.Sub(now)
}

// AfterFailure computes the attempt counter and lock window that follow
// one more failed authentication. A lock expiring on its own never
// resets the counter, so an attempt after expiry re-locks immediately;
// only a successful login resets it.
func (p Policy) AfterFailure(attempts int, now time.Time) (int, *time.Time) {
	attempts++
	if attempts >= p.Threshold {
		until := now.Add(p.LockFor)
		return attempts, &until
	}
	return attempts, nil
}
