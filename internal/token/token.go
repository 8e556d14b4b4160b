// ABOUTME: Stateless signed-token issuance and decoding using HS256 JWTs
// ABOUTME: Expiry is compared manually so skew tolerance stays bounded

package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenInvalid   = errors.New("token invalid")
	ErrTokenExpired   = errors.New("token expired")
)

// ServiceIdentity is embedded as both issuer and audience of every token.
const ServiceIdentity = "carelog-gateway"

// Skew is the clock tolerance applied to expiry checks. It extends the
// accepted lifetime slightly; signature verification is unaffected.
const Skew = 30 * time.Second

// Claims is the decoded payload of a gateway token.
type Claims struct {
	Subject   string // account ID
	Email     string
	IssuedAt  int64 // epoch seconds
	ExpiresAt int64 // epoch seconds
}

// Codec issues and decodes HS256-signed tokens.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// NewCodec creates a codec signing with the given secret.
func NewCodec(secret []byte) *Codec {
	return &Codec{secret: secret, now: time.Now}
}

type issueOptions struct {
	allowExpired bool
}

// IssueOption adjusts token issuance.
type IssueOption func(*issueOptions)

// AllowExpired disables the expiry clamp so a caller can mint an
// already-expired token for negative testing.
func AllowExpired() IssueOption {
	return func(o *issueOptions) { o.allowExpired = true }
}

// Issue creates a signed token for the given subject. Timestamps are
// embedded as integer epoch seconds; exp is clamped to iat+1 when a
// non-positive ttl would otherwise produce exp <= iat.
func (c *Codec) Issue(subject, email string, ttl time.Duration, opts ...IssueOption) (string, error) {
	var o issueOptions
	for _, opt := range opts {
		opt(&o)
	}

	iat := c.now().Unix()
	exp := iat + int64(ttl/time.Second)
	if exp <= iat && !o.allowExpired {
		exp = iat + 1
	}

	claims := jwt.MapClaims{
		"sub":   subject,
		"email": email,
		"iss":   ServiceIdentity,
		"aud":   ServiceIdentity,
		"iat":   iat,
		"exp":   exp,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Decode verifies and unpacks a token. It fails with ErrTokenMalformed
// when the string is not three dot-delimited segments, ErrTokenInvalid on
// signature/issuer/audience mismatch, and ErrTokenExpired when exp is in
// the past beyond the skew tolerance. Claim auto-validation is disabled
// so the expiry comparison here is the only one that applies.
func (c *Codec) Decode(tokenString string) (*Claims, error) {
	if strings.Count(tokenString, ".") != 2 {
		return nil, ErrTokenMalformed
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithoutClaimsValidation(),
	)
	tok, err := parser.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !tok.Valid {
		return nil, ErrTokenInvalid
	}

	mc, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrTokenInvalid
	}

	if iss, _ := mc["iss"].(string); iss != ServiceIdentity {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrTokenInvalid)
	}
	if aud, _ := mc["aud"].(string); aud != ServiceIdentity {
		return nil, fmt.Errorf("%w: audience mismatch", ErrTokenInvalid)
	}

	sub, _ := mc["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	iat, ok := claimInt64(mc, "iat")
	if !ok {
		return nil, fmt.Errorf("%w: missing iat", ErrTokenInvalid)
	}
	exp, ok := claimInt64(mc, "exp")
	if !ok {
		return nil, fmt.Errorf("%w: missing exp", ErrTokenInvalid)
	}

	if c.now().Unix() > exp+int64(Skew.Seconds()) {
		return nil, ErrTokenExpired
	}

	email, _ := mc["email"].(string)
	return &Claims{
		Subject:   sub,
		Email:     email,
		IssuedAt:  iat,
		ExpiresAt: exp,
	}, nil
}

// claimInt64 reads a numeric claim. JSON numbers decode as float64, but
// the values we issue are whole seconds so the conversion is lossless.
func claimInt64(claims jwt.MapClaims, name string) (int64, bool) {
	switch v := claims[name].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}
