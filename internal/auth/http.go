// ABOUTME: HTTP handlers for the authentication endpoints
// ABOUTME: Emits the {data, error} envelope and manages the session cookie

package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
)

// SessionCookieName is the one cookie shared by every flow (login,
// register, demo, logout, session-status). Renaming it breaks
// cross-endpoint session recognition.
const SessionCookieName = "carelog_session"

// Handler exposes the auth service over HTTP.
type Handler struct {
	service       *Service
	tokens        *TokenResolver
	validate      *validator.Validate
	logger        *slog.Logger
	secureCookies bool
}

// NewHandler creates the HTTP handler. tokens may be nil when the legacy
// bearer surface is disabled.
func NewHandler(service *Service, tokens *TokenResolver, secureCookies bool) *Handler {
	return &Handler{
		service:       service,
		tokens:        tokens,
		validate:      validator.New(),
		logger:        slog.Default().With("component", "auth_http"),
		secureCookies: secureCookies,
	}
}

// Routes registers the auth endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/login", h.handleLogin)
	mux.HandleFunc("POST /api/auth/register", h.handleRegister)
	mux.HandleFunc("POST /api/auth/logout", h.handleLogout)
	mux.HandleFunc("GET /api/auth/session", h.handleSessionStatus)
	mux.HandleFunc("POST /api/auth/demo", h.handleDemoStart)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

// envelope is the response contract: success is {"data":..., "error":null},
// failure is {"data":null, "error":...}.
type envelope struct {
	Data  any `json:"data"`
	Error any `json:"error"`
}

// errorBody is the structured error payload inside the envelope.
type errorBody struct {
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

// lockedBody carries the remaining lock window alongside the code.
type lockedBody struct {
	Code              string `json:"code"`
	RetryAfterSeconds int64  `json:"retry_after_seconds"`
	LockExpiresAt     string `json:"lock_expires_at"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type registerRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required"`
	DisplayName string `json:"display_name" validate:"omitempty,max=64"`
}

type identityResponse struct {
	AccountID        string `json:"account_id"`
	Email            string `json:"email"`
	DisplayName      string `json:"display_name,omitempty"`
	SessionExpiresAt string `json:"session_expires_at,omitempty"`
	Token            string `json:"token,omitempty"` // legacy bearer surface
	Demo             bool   `json:"demo,omitempty"`
}

func identityPayload(id *Identity) identityResponse {
	resp := identityResponse{
		AccountID:   id.AccountID,
		Email:       id.Email,
		DisplayName: id.DisplayName,
		Token:       id.Token,
		Demo:        id.IsDemo,
	}
	if !id.SessionExpiresAt.IsZero() {
		resp.SessionExpiresAt = id.SessionExpiresAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON")
		return
	}

	// A malformed email here gets the same generic response as a wrong
	// password, so the validator verdict maps to 401, not 400.
	if err := h.validate.Struct(req); err != nil {
		h.respondError(w, http.StatusUnauthorized, "invalid_credentials", "")
		return
	}

	identity, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.setSessionCookie(w, identity.SessionID, identity.SessionExpiresAt)
	h.respondData(w, http.StatusOK, identityPayload(identity))
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.respondError(w, http.StatusBadRequest, "validation_failed", registerValidationDetail(err))
		return
	}

	identity, err := h.service.Register(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.setSessionCookie(w, identity.SessionID, identity.SessionExpiresAt)
	h.respondData(w, http.StatusCreated, identityPayload(identity))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var sessionID string
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		sessionID = cookie.Value
	}

	// Best effort. The cookie is cleared and success returned no matter
	// what happened inside.
	h.service.Logout(r.Context(), sessionID)
	h.clearSessionCookie(w)
	h.respondData(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	var sessionID string
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		sessionID = cookie.Value
	}

	status, err := h.service.SessionStatus(r.Context(), sessionID)
	if err != nil {
		h.respondInternal(w, err)
		return
	}

	if status.ClearCookie {
		h.clearSessionCookie(w)
	}
	if status.Authenticated {
		h.respondData(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"account":       identityPayload(status.Identity),
		})
		return
	}

	// Legacy surface: a bearer token can still establish identity.
	if h.tokens != nil {
		if identity, terr := h.tokens.Resolve(r); terr == nil {
			h.respondData(w, http.StatusOK, map[string]any{
				"authenticated": true,
				"account":       identityPayload(identity),
			})
			return
		} else if !errors.Is(terr, ErrNotAuthenticated) {
			h.respondInternal(w, terr)
			return
		}
	}

	h.respondError(w, http.StatusUnauthorized, "not_authenticated", "")
}

func (h *Handler) handleDemoStart(w http.ResponseWriter, r *http.Request) {
	identity, err := h.service.StartDemo(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.setSessionCookie(w, identity.SessionID, identity.SessionExpiresAt)
	h.respondData(w, http.StatusOK, identityPayload(identity))
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// respondServiceError maps a service error onto the taxonomy. Anything
// unrecognized is an internal failure: logged in full, returned generic.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	var validation *ValidationError
	var locked *LockedError

	switch {
	case errors.As(err, &validation):
		h.respondError(w, http.StatusBadRequest, "validation_failed", validation.Reason)
	case errors.As(err, &locked):
		h.writeEnvelope(w, http.StatusLocked, envelope{Error: lockedBody{
			Code:              "account_locked",
			RetryAfterSeconds: int64(locked.Remaining.Seconds()),
			LockExpiresAt:     locked.Until.UTC().Format(time.RFC3339),
		}})
	case errors.Is(err, ErrInvalidCredentials):
		h.respondError(w, http.StatusUnauthorized, "invalid_credentials", "")
	case errors.Is(err, ErrRateLimited):
		h.respondError(w, http.StatusTooManyRequests, "rate_limited", "")
	case errors.Is(err, ErrDuplicateSubmission):
		h.respondError(w, http.StatusConflict, "duplicate_submission", "")
	case errors.Is(err, ErrEmailTaken):
		h.respondError(w, http.StatusConflict, "email_taken", "")
	default:
		h.respondInternal(w, err)
	}
}

func (h *Handler) respondInternal(w http.ResponseWriter, err error) {
	h.logger.Error("internal failure", "error", err)
	h.respondError(w, http.StatusInternalServerError, "internal_error", "")
}

func (h *Handler) respondData(w http.ResponseWriter, status int, data any) {
	h.writeEnvelope(w, status, envelope{Data: data})
}

func (h *Handler) respondError(w http.ResponseWriter, status int, code, detail string) {
	h.writeEnvelope(w, status, envelope{Error: errorBody{Code: code, Detail: detail}})
}

func (h *Handler) writeEnvelope(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		h.logger.Error("writing response", "error", err)
	}
}

// setSessionCookie emits the hardened session cookie.
func (h *Handler) setSessionCookie(w http.ResponseWriter, sessionID string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie drops the client-held session reference.
func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// registerValidationDetail turns the first validator error into a
// user-readable reason.
func registerValidationDetail(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	switch verrs[0].Field() {
	case "Email":
		return "invalid email address"
	case "Password":
		return "password is required"
	case "DisplayName":
		return "display name is too long"
	default:
		return "invalid request"
	}
}
