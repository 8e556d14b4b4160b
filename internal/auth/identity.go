// ABOUTME: Caller identity resolution with two interchangeable surfaces
// ABOUTME: Session cookie is the primary path, bearer token the legacy one

package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/carelog/carelog-gateway/internal/store"
	"github.com/carelog/carelog-gateway/internal/token"
)

// Resolver resolves the caller's identity from an HTTP request.
// Returning ErrNotAuthenticated means "no identity here", never a fault.
type Resolver interface {
	Resolve(r *http.Request) (*Identity, error)
}

// SessionResolver resolves identity from the session cookie.
type SessionResolver struct {
	service *Service
}

// NewSessionResolver creates the cookie-backed resolver.
func NewSessionResolver(service *Service) *SessionResolver {
	return &SessionResolver{service: service}
}

// Resolve looks up the session referenced by the cookie.
func (sr *SessionResolver) Resolve(r *http.Request) (*Identity, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, ErrNotAuthenticated
	}

	status, err := sr.service.SessionStatus(r.Context(), cookie.Value)
	if err != nil {
		return nil, err
	}
	if !status.Authenticated {
		return nil, ErrNotAuthenticated
	}
	return status.Identity, nil
}

// AccountLookup looks up accounts by ID.
type AccountLookup interface {
	GetAccount(ctx context.Context, id string) (*store.Account, error)
}

// TokenResolver resolves identity from a bearer token. It shares the
// account lookup with the session path instead of duplicating it.
type TokenResolver struct {
	codec    *token.Codec
	accounts AccountLookup
}

// NewTokenResolver creates the bearer-token resolver.
func NewTokenResolver(codec *token.Codec, accounts AccountLookup) *TokenResolver {
	return &TokenResolver{codec: codec, accounts: accounts}
}

// Resolve decodes the Authorization header and loads the subject account.
// Malformed, invalid and expired tokens all read as "not authenticated".
func (tr *TokenResolver) Resolve(r *http.Request) (*Identity, error) {
	raw := bearerToken(r.Header.Get("Authorization"))
	if raw == "" {
		return nil, ErrNotAuthenticated
	}

	claims, err := tr.codec.Decode(raw)
	if err != nil {
		return nil, ErrNotAuthenticated
	}

	account, err := tr.accounts.GetAccount(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, ErrNotAuthenticated
		}
		return nil, err
	}
	if !account.IsActive {
		return nil, ErrNotAuthenticated
	}

	return &Identity{
		AccountID:   account.ID,
		Email:       account.Email,
		DisplayName: account.DisplayName,
	}, nil
}

// bearerToken extracts the token from an Authorization header value.
func bearerToken(header string) string {
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}
