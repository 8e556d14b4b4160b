// ABOUTME: Tests for bcrypt hashing, fail-closed verification and policy
// ABOUTME: Covers salting, over-length rejection and malformed-hash handling

package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash_RoundTrip(t *testing.T) {
	h := NewBcryptHasher()

	hash, err := h.Hash("Passw0rd!")
	require.NoError(t, err)

	assert.True(t, h.Verify("Passw0rd!", hash))
	assert.False(t, h.Verify("passw0rd!", hash))
}

func TestHash_SaltedHashesDiffer(t *testing.T) {
	h := NewBcryptHasher()

	first, err := h.Hash("Passw0rd!")
	require.NoError(t, err)
	second, err := h.Hash("Passw0rd!")
	require.NoError(t, err)

	// Salting must produce distinct hashes that both still verify.
	assert.NotEqual(t, first, second)
	assert.True(t, h.Verify("Passw0rd!", first))
	assert.True(t, h.Verify("Passw0rd!", second))
}

func TestHash_TooLong(t *testing.T) {
	h := NewBcryptHasher()

	_, err := h.Hash(strings.Repeat("a", MaxPasswordBytes+1))
	assert.ErrorIs(t, err, ErrPasswordTooLong)

	// Exactly at the ceiling is still accepted.
	_, err = h.Hash(strings.Repeat("a", MaxPasswordBytes))
	assert.NoError(t, err)
}

func TestVerify_FailClosed(t *testing.T) {
	h := NewBcryptHasher()

	// Malformed hashes never error, they just fail verification.
	assert.False(t, h.Verify("Passw0rd!", ""))
	assert.False(t, h.Verify("Passw0rd!", "not-a-bcrypt-hash"))
	assert.False(t, h.Verify("Passw0rd!", "$argon2id$v=19$m=65536$abc$def"))
}

func TestDummyVerify_DoesNotPanic(t *testing.T) {
	h := NewBcryptHasher()
	h.DummyVerify("anything at all")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid", "Passw0rd!", false},
		{"too short", "Pw0rd", true},
		{"no upper", "passw0rd!", true},
		{"no lower", "PASSW0RD!", true},
		{"no digit", "Password!", true},
		{"over-length", strings.Repeat("Aa1", 30), true},
		{"minimum viable", "Abcdefg1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.password)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
