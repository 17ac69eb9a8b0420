// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridianhq/meridian/internal/auth/keys"
	"github.com/meridianhq/meridian/internal/auth/session"
	"github.com/meridianhq/meridian/internal/platform/apperr"
	"github.com/meridianhq/meridian/internal/platform/ctxutil"
	"github.com/meridianhq/meridian/internal/platform/middleware"
	"github.com/meridianhq/meridian/internal/platform/respond"
	"github.com/meridianhq/meridian/internal/platform/validate"
)

// Handler implements the authentication HTTP endpoints.
//
// # Scope
//
// Everything under /api/v1/auth: credential login, refresh rotation,
// logout, password change, and session management. Handlers parse and
// validate payloads, call the service, and map domain errors onto the
// uniform wire responses. They contain NO business logic.
type Handler struct {
	authService *Service

	// credentialGuard is the tighter per-IP rate limit applied to the
	// endpoints that accept credentials or refresh tokens.
	credentialGuard func(http.Handler) http.Handler

	// sessionGuard requires an authenticated principal whose server-side
	// session is still alive.
	sessionGuard func(http.Handler) http.Handler
}

// NewHandler constructs a new [Handler] with its service dependency and the
// middleware guards the router mounts per group.
func NewHandler(service *Service, credentialGuard, sessionGuard func(http.Handler) http.Handler) *Handler {
	return &Handler{
		authService:     service,
		credentialGuard: credentialGuard,
		sessionGuard:    sessionGuard,
	}
}

// Routes returns a [chi.Router] configured with the authentication routes.
//
// # Endpoints
//   - POST /login     : Authenticates and returns a token pair.
//   - POST /refresh   : Rotates a refresh token.
//   - POST /logout    : Revokes the current (or all) sessions.
//   - POST /password  : Changes the caller's password.
//   - POST /step-up   : Re-verifies the password, mints a privileged token.
//   - GET  /sessions  : Lists the caller's active sessions.
//   - DELETE /sessions/{sessionID} : Revokes one of the caller's sessions.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	router.Group(func(public chi.Router) {
		public.Use(handler.credentialGuard)
		public.Post("/login", handler.login)
		public.Post("/refresh", handler.refresh)
	})

	router.Group(func(protected chi.Router) {
		protected.Use(handler.sessionGuard)
		protected.Post("/logout", handler.logout)
		protected.Post("/password", handler.changePassword)
		protected.Post("/step-up", handler.stepUp)
		protected.Get("/sessions", handler.listSessions)
		protected.Delete("/sessions/{sessionID}", handler.revokeSession)
	})

	return router
}

// # Login

// loginRequest represents the JSON payload expected for authentication.
// The optional client fields let native apps report a richer context than
// the transport headers carry.
type loginRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	RememberMe        bool   `json:"rememberMe"`
	DeviceFingerprint string `json:"deviceFingerprint"`
	Geolocation       string `json:"geolocation"`
	Country           string `json:"country"`
}

// tokenPairView is the wire shape of an issued token pair.
type tokenPairView struct {
	AccessToken           string    `json:"accessToken"`
	RefreshToken          string    `json:"refreshToken"`
	AccessTokenExpiresAt  time.Time `json:"accessTokenExpiresAt"`
	RefreshTokenExpiresAt time.Time `json:"refreshTokenExpiresAt"`
}

// userView is the client-safe projection of a portal account.
type userView struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Name        string     `json:"name"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

func viewOf(user *User) userView {
	return userView{
		ID:          user.ID,
		Email:       user.Email,
		Name:        user.Name,
		LastLoginAt: user.LastLoginAt,
		CreatedAt:   user.CreatedAt,
	}
}

func pairView(tokens TokenPair) tokenPairView {
	return tokenPairView{
		AccessToken:           tokens.AccessToken,
		RefreshToken:          tokens.RefreshToken,
		AccessTokenExpiresAt:  tokens.AccessExpiresAt,
		RefreshTokenExpiresAt: tokens.RefreshExpiresAt,
	}
}

// login handles POST /api/v1/auth/login requests.
//
// # Returns
//   - Writes HTTP 200 OK with the user, session ID, and token pair.
//   - Writes HTTP 400 Bad Request if validation rules fail.
//   - Writes HTTP 401 Unauthorized for any credential failure (uniform).
//   - Writes HTTP 403 Forbidden for deactivated accounts.
func (handler *Handler) login(writer http.ResponseWriter, request *http.Request) {
	// ── 1. Payload Extraction ─────────────────────────────────────────────

	var input loginRequest
	if err := json.NewDecoder(request.Body).Decode(&input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	// ── 2. Boundary Validation ────────────────────────────────────────────

	validator := &validate.Validator{}
	validator.Required("email", input.Email).Email("email", input.Email)
	validator.Required("password", input.Password)
	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	// ── 3. Application Execution ──────────────────────────────────────────

	result, err := handler.authService.Login(request.Context(), LoginParams{
		Email:      input.Email,
		Password:   input.Password,
		RememberMe: input.RememberMe,
		Client:     handler.clientContext(request, input.DeviceFingerprint, input.Geolocation, input.Country),
	})
	if err != nil {
		respond.Error(writer, request, toAppError(err))
		return
	}

	// ── 4. Presentation Output ────────────────────────────────────────────

	respond.OK(writer, map[string]any{
		"user":      viewOf(result.User),
		"sessionId": result.Session.ID,
		"tokens":    pairView(result.Tokens),
	})
}

// # Refresh

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// refresh handles POST /api/v1/auth/refresh requests.
//
// # Returns
//   - Writes HTTP 200 OK with the successor token pair.
//   - Writes HTTP 401 Unauthorized for every rejection. Reuse detection and
//     a plainly invalid token are indistinguishable on the wire.
func (handler *Handler) refresh(writer http.ResponseWriter, request *http.Request) {
	var input refreshRequest
	if err := json.NewDecoder(request.Body).Decode(&input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	if input.RefreshToken == "" {
		respond.Error(writer, request, validate.RequiredError("refreshToken", "is required"))
		return
	}

	result, err := handler.authService.Refresh(request.Context(), RefreshParams{
		RefreshToken: input.RefreshToken,
		Client:       handler.clientContext(request, "", "", ""),
	})
	if err != nil {
		respond.Error(writer, request, toAppError(err))
		return
	}

	respond.OK(writer, map[string]any{
		"sessionId": result.Session.ID,
		"tokens":    pairView(result.Tokens),
	})
}

// # Logout

type logoutRequest struct {
	SessionID         string `json:"sessionId"`
	RevokeAllSessions bool   `json:"revokeAllSessions"`
}

// logout handles POST /api/v1/auth/logout requests.
//
// An empty body logs out the current session. A session ID targets one of
// the caller's other devices; revokeAllSessions kills everything at once.
func (handler *Handler) logout(writer http.ResponseWriter, request *http.Request) {
	principal := ctxutil.GetPrincipal(request.Context())

	var input logoutRequest
	if request.Body != nil {
		// The body is optional; decoding failures on an empty body are fine.
		_ = json.NewDecoder(request.Body).Decode(&input)
	}

	if input.RevokeAllSessions {
		revoked, err := handler.authService.LogoutAll(request.Context(), *principal)
		if err != nil {
			respond.Error(writer, request, toAppError(err))
			return
		}
		respond.OK(writer, map[string]any{
			"success":         true,
			"sessionsRevoked": revoked,
			"message":         "All sessions revoked",
		})
		return
	}

	targetID := input.SessionID
	if targetID == "" {
		targetID = principal.SessionID
	}

	if err := handler.authService.Logout(request.Context(), *principal, targetID); err != nil {
		respond.Error(writer, request, toAppError(err))
		return
	}

	respond.OK(writer, map[string]any{
		"success":         true,
		"sessionsRevoked": 1,
		"message":         "Session revoked",
	})
}

// # Password Change

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// changePassword handles POST /api/v1/auth/password requests.
//
// On success every other session of the account is revoked; the calling
// session stays alive so the client is not logged out mid-flow.
func (handler *Handler) changePassword(writer http.ResponseWriter, request *http.Request) {
	principal := ctxutil.GetPrincipal(request.Context())

	var input changePasswordRequest
	if err := json.NewDecoder(request.Body).Decode(&input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	validator := &validate.Validator{}
	validator.Required("currentPassword", input.CurrentPassword)
	validator.Required("newPassword", input.NewPassword).MinLen("newPassword", input.NewPassword, 8)
	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	err := handler.authService.ChangePassword(request.Context(), *principal, input.CurrentPassword, input.NewPassword)
	if err != nil {
		respond.Error(writer, request, toAppError(err))
		return
	}

	respond.OK(writer, map[string]any{
		"success": true,
		"message": "Password changed; other sessions revoked",
	})
}

// # Step-Up

type stepUpRequest struct {
	Password string   `json:"password"`
	Scopes   []string `json:"scopes"`
}

// stepUp handles POST /api/v1/auth/step-up requests.
//
// The privileged token it returns is what the authorization endpoint
// accepts in X-Privileged-Token to satisfy a step_up_authentication
// obligation. It is strictly bound to the presenting client and expires
// within minutes.
func (handler *Handler) stepUp(writer http.ResponseWriter, request *http.Request) {
	principal := ctxutil.GetPrincipal(request.Context())

	var input stepUpRequest
	if err := json.NewDecoder(request.Body).Decode(&input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	if input.Password == "" {
		respond.Error(writer, request, validate.RequiredError("password", "is required"))
		return
	}

	result, err := handler.authService.StepUp(
		request.Context(), *principal, input.Password, input.Scopes,
		handler.clientContext(request, "", "", ""),
	)
	if err != nil {
		respond.Error(writer, request, toAppError(err))
		return
	}

	respond.OK(writer, map[string]any{
		"privilegedToken": result.Token,
		"expiresAt":       result.ExpiresAt,
		"scopes":          result.Scopes,
	})
}

// # Session Management

// listSessions handles GET /api/v1/auth/sessions requests.
func (handler *Handler) listSessions(writer http.ResponseWriter, request *http.Request) {
	principal := ctxutil.GetPrincipal(request.Context())

	summaries, err := handler.authService.ListSessions(request.Context(), *principal)
	if err != nil {
		respond.Error(writer, request, toAppError(err))
		return
	}

	respond.OK(writer, summaries)
}

// revokeSession handles DELETE /api/v1/auth/sessions/{sessionID} requests.
//
// A session that exists but belongs to someone else returns the same 404 as
// a session that does not exist at all.
func (handler *Handler) revokeSession(writer http.ResponseWriter, request *http.Request) {
	principal := ctxutil.GetPrincipal(request.Context())
	sessionID := chi.URLParam(request, "sessionID")

	validator := &validate.Validator{}
	validator.Required("sessionId", sessionID).UUID("sessionId", sessionID)
	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.authService.Logout(request.Context(), *principal, sessionID); err != nil {
		respond.Error(writer, request, toAppError(err))
		return
	}

	respond.OK(writer, map[string]any{"success": true})
}

// # Helpers

// clientContext assembles the client fingerprint the risk engine sees.
// Transport-derived values win over client-reported ones only where the
// client cannot plausibly know better (IP, user agent).
func (handler *Handler) clientContext(request *http.Request, fingerprint, geolocation, country string) ClientContext {
	return ClientContext{
		IPAddress:         middleware.RealIP(request),
		UserAgent:         request.UserAgent(),
		DeviceFingerprint: fingerprint,
		Geolocation:       geolocation,
		Country:           country,
	}
}

// toAppError collapses domain sentinels onto the uniform wire errors.
//
// # Security
//
// InvalidRefresh and TokenReuse intentionally map to the same response; an
// attacker probing with stolen tokens learns nothing about which defense
// tripped. The audit log carries the distinction.
func toAppError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return apperr.InvalidCredentials(err)
	case errors.Is(err, ErrAccountDeactivated):
		return apperr.AccountDeactivated()
	case errors.Is(err, keys.ErrUnknownKey):
		return apperr.RequiresReauth(err)
	case errors.Is(err, ErrTokenReuse), errors.Is(err, ErrInvalidRefresh):
		return apperr.InvalidRefresh(err)
	case errors.Is(err, session.ErrSessionExpired), errors.Is(err, session.ErrSessionRevoked):
		return apperr.InvalidRefresh(err)
	case errors.Is(err, ErrSessionNotOwned), errors.Is(err, session.ErrNotFound):
		return apperr.NotFound("Session")
	case apperr.IsAppError(err):
		return err
	default:
		return apperr.Internal(err)
	}
}
