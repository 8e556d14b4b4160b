// ABOUTME: End-to-end tests for the HTTP auth surface
// ABOUTME: Exercises envelopes, status codes and cookie behavior via httptest

package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelog/carelog-gateway/internal/ratelimit"
)

func setupTestHandler(t *testing.T) (*testEnv, http.Handler) {
	t.Helper()

	env := setupTestService(t)
	handler := NewHandler(env.service, NewTokenResolver(env.service.tokens, env.store), false)

	mux := http.NewServeMux()
	handler.Routes(mux)
	return env, mux
}

// doJSON posts body to path and decodes the envelope.
func doJSON(t *testing.T, h http.Handler, method, path string, body any, cookies ...*http.Cookie) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

// sessionCookie pulls the session cookie out of a response.
func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", SessionCookieName)
	return nil
}

func TestHTTPRegister(t *testing.T) {
	_, h := setupTestHandler(t)

	rec, env := doJSON(t, h, http.MethodPost, "/api/auth/register", map[string]string{
		"email":        "pat@example.com",
		"password":     "Sunrise99",
		"display_name": "Pat",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "null", string(env["error"]))

	var data struct {
		AccountID   string `json:"account_id"`
		Email       string `json:"email"`
		DisplayName string `json:"display_name"`
		Token       string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env["data"], &data))
	assert.NotEmpty(t, data.AccountID)
	assert.Equal(t, "pat@example.com", data.Email)
	assert.Equal(t, "Pat", data.DisplayName)
	assert.NotEmpty(t, data.Token)

	cookie := sessionCookie(t, rec)
	assert.NotEmpty(t, cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.Equal(t, "/", cookie.Path)
}

func TestHTTPRegisterValidation(t *testing.T) {
	_, h := setupTestHandler(t)

	rec, env := doJSON(t, h, http.MethodPost, "/api/auth/register", map[string]string{
		"email":    "not-an-email",
		"password": "Sunrise99",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, string(env["error"]), "validation_failed")

	rec, env = doJSON(t, h, http.MethodPost, "/api/auth/register", map[string]string{
		"email":    "pat@example.com",
		"password": "weak",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, string(env["error"]), "validation_failed")
}

func TestHTTPRegisterConflict(t *testing.T) {
	_, h := setupTestHandler(t)

	body := map[string]string{"email": "pat@example.com", "password": "Sunrise99"}
	rec, _ := doJSON(t, h, http.MethodPost, "/api/auth/register", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, env := doJSON(t, h, http.MethodPost, "/api/auth/register", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, string(env["error"]), "email_taken")
}

func TestHTTPLoginFlow(t *testing.T) {
	_, h := setupTestHandler(t)

	rec, _ := doJSON(t, h, http.MethodPost, "/api/auth/register", map[string]string{
		"email": "pat@example.com", "password": "Sunrise99",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, env := doJSON(t, h, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "pat@example.com", "password": "Sunrise99",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", string(env["error"]))
	cookie := sessionCookie(t, rec)

	// The fresh cookie authenticates session status.
	rec, env = doJSON(t, h, http.MethodGet, "/api/auth/session", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env["data"]), `"authenticated":true`)
}

func TestHTTPLoginBadCredentials(t *testing.T) {
	_, h := setupTestHandler(t)

	rec, _ := doJSON(t, h, http.MethodPost, "/api/auth/register", map[string]string{
		"email": "pat@example.com", "password": "Sunrise99",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Wrong password, unknown account and malformed email all read the same.
	for _, body := range []map[string]string{
		{"email": "pat@example.com", "password": "WrongPass1"},
		{"email": "ghost@example.com", "password": "Sunrise99"},
		{"email": "not-an-email", "password": "Sunrise99"},
	} {
		rec, env := doJSON(t, h, http.MethodPost, "/api/auth/login", body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, string(env["error"]), "invalid_credentials")
	}
}

func TestHTTPLoginMalformedBody(t *testing.T) {
	_, h := setupTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPLockout(t *testing.T) {
	env, h := setupTestHandler(t)

	rec, _ := doJSON(t, h, http.MethodPost, "/api/auth/register", map[string]string{
		"email": "pat@example.com", "password": "Sunrise99",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	for i := 0; i < env.service.policy.Threshold; i++ {
		rec, _ := doJSON(t, h, http.MethodPost, "/api/auth/login", map[string]string{
			"email": "pat@example.com", "password": "WrongPass1",
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i+1)
	}

	rec, envlp := doJSON(t, h, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "pat@example.com", "password": "Sunrise99",
	})
	require.Equal(t, http.StatusLocked, rec.Code)

	var body struct {
		Code              string `json:"code"`
		RetryAfterSeconds int64  `json:"retry_after_seconds"`
		LockExpiresAt     string `json:"lock_expires_at"`
	}
	require.NoError(t, json.Unmarshal(envlp["error"], &body))
	assert.Equal(t, "account_locked", body.Code)
	assert.Greater(t, body.RetryAfterSeconds, int64(0))

	expires, err := time.Parse(time.RFC3339, body.LockExpiresAt)
	require.NoError(t, err)
	assert.True(t, expires.After(time.Now()))
}

func TestHTTPDuplicateSubmission(t *testing.T) {
	env, h := setupTestHandler(t)

	rec, _ := doJSON(t, h, http.MethodPost, "/api/auth/register", map[string]string{
		"email": "pat@example.com", "password": "Sunrise99",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Hold the in-flight slot so the request collides deterministically.
	lease, err := env.guard.Acquire("login:pat@example.com")
	require.NoError(t, err)
	defer lease.Release()

	rec, envlp := doJSON(t, h, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "pat@example.com", "password": "Sunrise99",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, string(envlp["error"]), "duplicate_submission")
}

func TestHTTPLogout(t *testing.T) {
	_, h := setupTestHandler(t)

	rec, _ := doJSON(t, h, http.MethodPost, "/api/auth/register", map[string]string{
		"email": "pat@example.com", "password": "Sunrise99",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	cookie := sessionCookie(t, rec)

	rec, env := doJSON(t, h, http.MethodPost, "/api/auth/logout", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, string(env["data"]))

	cleared := sessionCookie(t, rec)
	assert.Empty(t, cleared.Value)
	assert.Less(t, cleared.MaxAge, 0)

	// The revoked session no longer authenticates.
	rec, _ = doJSON(t, h, http.MethodGet, "/api/auth/session", nil, cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHTTPLogoutWithoutSession(t *testing.T) {
	_, h := setupTestHandler(t)

	rec, env := doJSON(t, h, http.MethodPost, "/api/auth/logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, string(env["data"]))
}

func TestHTTPSessionStatusUnauthenticated(t *testing.T) {
	_, h := setupTestHandler(t)

	rec, env := doJSON(t, h, http.MethodGet, "/api/auth/session", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, string(env["error"]), "not_authenticated")

	// A stale cookie gets cleared along with the 401.
	rec, _ = doJSON(t, h, http.MethodGet, "/api/auth/session", nil, &http.Cookie{
		Name: SessionCookieName, Value: "no-such-session",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	cleared := sessionCookie(t, rec)
	assert.Less(t, cleared.MaxAge, 0)
}

func TestHTTPSessionStatusBearerToken(t *testing.T) {
	_, h := setupTestHandler(t)

	rec, env := doJSON(t, h, http.MethodPost, "/api/auth/register", map[string]string{
		"email": "pat@example.com", "password": "Sunrise99",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var data struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env["data"], &data))

	// No cookie, just the legacy bearer token.
	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.Header.Set("Authorization", "Bearer "+data.Token)
	out := httptest.NewRecorder()
	h.ServeHTTP(out, req)

	require.Equal(t, http.StatusOK, out.Code)
	assert.Contains(t, out.Body.String(), `"authenticated":true`)
}

func TestHTTPDemoFlow(t *testing.T) {
	_, h := setupTestHandler(t)

	rec, env := doJSON(t, h, http.MethodPost, "/api/auth/demo", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env["data"]), `"demo":true`)

	cookie := sessionCookie(t, rec)
	rec, env = doJSON(t, h, http.MethodGet, "/api/auth/session", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env["data"]), `"demo":true`)
}

func TestHTTPDemoRateLimited(t *testing.T) {
	env, h := setupTestHandler(t)
	env.service.limiter = ratelimit.New(1, time.Minute)

	rec, _ := doJSON(t, h, http.MethodPost, "/api/auth/demo", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, envlp := doJSON(t, h, http.MethodPost, "/api/auth/demo", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, string(envlp["error"]), "rate_limited")
}

func TestHTTPHealth(t *testing.T) {
	_, h := setupTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
