// ABOUTME: Test helpers for minting tokens outside the codec's own path

package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// newForeignToken signs an HS256 token with the given secret but a
// different issuer/audience identity.
func newForeignToken(t *testing.T, secret []byte, identity string) string {
	t.Helper()

	now := time.Now().Unix()
	claims := jwt.MapClaims{
		"sub":   "account-123",
		"email": "a@x.com",
		"iss":   identity,
		"aud":   identity,
		"iat":   now,
		"exp":   now + 900,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return signed
}
