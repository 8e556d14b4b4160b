// ABOUTME: Bcrypt password hashing and verification for account credentials
// ABOUTME: Over-length passwords are rejected outright, never truncated

package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes is bcrypt's input ceiling. Passwords beyond it are
// rejected: hashing a truncated prefix would make two different long
// passwords collide.
const MaxPasswordBytes = 72

// ErrPasswordTooLong is returned when a password exceeds MaxPasswordBytes.
var ErrPasswordTooLong = errors.New("password exceeds maximum length")

// dummyHash is a bcrypt hash of an unused filler value. Comparing against
// it keeps login latency identical whether or not the account exists, so
// response timing cannot be used to enumerate registered emails.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Hasher defines the credential hashing interface used by the auth service.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
	DummyVerify(password string)
}

// BcryptHasher implements Hasher using bcrypt at the default cost.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a hasher at bcrypt's default cost.
func NewBcryptHasher() *BcryptHasher {
	return &BcryptHasher{cost: bcrypt.DefaultCost}
}

// Hash returns a salted bcrypt hash of password. Two calls with the same
// password yield different hashes; both verify the original.
func (h *BcryptHasher) Hash(password string) (string, error) {
	if len(password) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether password matches hash. Any internal bcrypt
// failure (malformed hash, algorithm mismatch) counts as a mismatch.
func (h *BcryptHasher) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// DummyVerify burns one bcrypt comparison against a fixed hash. Callers
// use it on the no-such-account path to keep timing constant.
func (h *BcryptHasher) DummyVerify(password string) {
	_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
}
