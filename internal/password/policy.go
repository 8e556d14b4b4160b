// ABOUTME: Registration password policy: minimum length plus mixed classes
// ABOUTME: Returns user-correctable reasons suitable for validation responses

package password

import (
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"
)

// MinPasswordLength is the minimum number of characters for a new password.
const MinPasswordLength = 8

// Validate checks a candidate password against the registration policy.
// The returned error text is safe to show to the user.
func Validate(password string) error {
	if len(password) > MaxPasswordBytes {
		return ErrPasswordTooLong
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}

	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit {
		return errors.New("password must contain upper-case, lower-case and digit characters")
	}
	return nil
}
