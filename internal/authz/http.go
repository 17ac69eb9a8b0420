// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package authz

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridianhq/meridian/internal/auth"
	"github.com/meridianhq/meridian/internal/auth/session"
	"github.com/meridianhq/meridian/internal/auth/token"
	"github.com/meridianhq/meridian/internal/authz/risk"
	"github.com/meridianhq/meridian/internal/platform/ctxutil"
	"github.com/meridianhq/meridian/internal/platform/middleware"
	"github.com/meridianhq/meridian/internal/platform/respond"
	"github.com/meridianhq/meridian/internal/platform/validate"
)

// # Dependencies

// userSource resolves the account attributes the risk factors need.
type userSource interface {
	FindByID(ctx context.Context, id string) (*auth.User, error)
}

// sessionSource resolves the caller's session for the anomaly factor.
type sessionSource interface {
	FindByID(ctx context.Context, id string) (*session.Session, error)
}

// deviceChecker answers whether a fingerprint has been seen for a user.
type deviceChecker interface {
	Check(ctx context.Context, userID, fingerprint string) (known bool, any bool, err error)
}

// privilegedVerifier verifies step-up tokens presented alongside a request.
type privilegedVerifier interface {
	Verify(tokenString string, expected token.Type, binding *token.BindingContext) (*token.Verified, error)
}

// # Handler

// Handler exposes the policy decision point over HTTP.
//
// The endpoint is a decision API: it always answers 200 with an explicit
// allow or deny payload. Transport-level errors are reserved for malformed
// requests and missing authentication.
type Handler struct {
	pdp       *PDP
	users     userSource
	sessions  sessionSource
	devices   deviceChecker
	privToken privilegedVerifier

	// sessionGuard requires an authenticated principal with a live session.
	sessionGuard func(http.Handler) http.Handler
}

// NewHandler constructs the authorization handler.
func NewHandler(pdp *PDP, users userSource, sessions sessionSource, devices deviceChecker, privToken privilegedVerifier, sessionGuard func(http.Handler) http.Handler) *Handler {
	return &Handler{
		pdp:          pdp,
		users:        users,
		sessions:     sessions,
		devices:      devices,
		privToken:    privToken,
		sessionGuard: sessionGuard,
	}
}

// Routes returns a [chi.Router] with the authorization endpoints.
//
// # Endpoints
//   - POST /evaluate : Full policy decision for one resource/action.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	router.Group(func(protected chi.Router) {
		protected.Use(handler.sessionGuard)
		protected.Post("/evaluate", handler.evaluate)
	})

	return router
}

// HeaderPrivilegedToken carries an optional step-up token that elevates the
// caller's security level for this single decision.
const HeaderPrivilegedToken = "X-Privileged-Token"

// evaluateRequest is the JSON payload for one authorization question.
type evaluateRequest struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`

	DeviceFingerprint string            `json:"deviceFingerprint"`
	Geolocation       string            `json:"geolocation"`
	Country           string            `json:"country"`
	Attributes        map[string]string `json:"attributes"`
}

// evaluate handles POST /api/v1/authz/evaluate requests.
//
// # Returns
//   - Writes HTTP 200 OK with the [Decision] for well-formed requests,
//     whether allowed or denied.
//   - Writes HTTP 400 Bad Request if resource or action is missing.
func (handler *Handler) evaluate(writer http.ResponseWriter, request *http.Request) {
	principal := ctxutil.GetPrincipal(request.Context())

	// ── 1. Payload Extraction ─────────────────────────────────────────────

	var input evaluateRequest
	if err := json.NewDecoder(request.Body).Decode(&input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	// ── 2. Boundary Validation ────────────────────────────────────────────

	validator := &validate.Validator{}
	validator.Required("resource", input.Resource).MaxLen("resource", input.Resource, 255)
	validator.Required("action", input.Action).MaxLen("action", input.Action, 64)
	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	// ── 3. Context Assembly ───────────────────────────────────────────────

	ctx := request.Context()
	ipAddress := middleware.RealIP(request)
	userAgent := request.UserAgent()

	decisionRequest := DecisionRequest{
		Permission: Request{
			UserID:        principal.UserID,
			Resource:      input.Resource,
			Action:        input.Action,
			IPAddress:     ipAddress,
			Country:       input.Country,
			SecurityLevel: handler.securityLevel(request),
			Attributes:    input.Attributes,
		},
		Risk: risk.Input{
			UserID:            principal.UserID,
			Email:             principal.Email,
			SessionID:         principal.SessionID,
			IPAddress:         ipAddress,
			UserAgent:         userAgent,
			DeviceFingerprint: input.DeviceFingerprint,
			Country:           input.Country,
		},
	}

	// Device trust feeds the ABAC device_fingerprint condition. A failed
	// lookup counts as unknown.
	if input.DeviceFingerprint != "" {
		known, _, err := handler.devices.Check(ctx, principal.UserID, input.DeviceFingerprint)
		decisionRequest.Permission.DeviceKnown = err == nil && known
	}

	// Account and session attributes feed the age and anomaly risk factors.
	// Lookups are best effort: the risk engine scores missing context
	// conservatively rather than the handler failing the request.
	if user, err := handler.users.FindByID(ctx, principal.UserID); err == nil {
		decisionRequest.Risk.AccountCreatedAt = user.CreatedAt
		decisionRequest.Risk.PasswordChangedAt = user.PasswordChangedAt
	}
	if current, err := handler.sessions.FindByID(ctx, principal.SessionID); err == nil {
		decisionRequest.Risk.Session = risk.SessionContext{
			IPHash:    current.IPHash,
			UAHash:    current.UserAgentHash,
			CreatedAt: current.CreatedAt,
		}
	}

	// ── 4. Decision ───────────────────────────────────────────────────────

	decision := handler.pdp.Evaluate(ctx, decisionRequest)

	respond.OK(writer, decision)
}

// securityLevel derives the caller's clearance for this decision.
//
// A standard authenticated session is level 1. Presenting a valid privileged
// step-up token, strictly bound to this client, elevates to level 3 for the
// duration of the request. Levels are never client-asserted.
func (handler *Handler) securityLevel(request *http.Request) int {
	stepUp := request.Header.Get(HeaderPrivilegedToken)
	if stepUp == "" {
		return 1
	}

	binding := &token.BindingContext{
		IP:        middleware.RealIP(request),
		UserAgent: request.UserAgent(),
	}
	if _, err := handler.privToken.Verify(stepUp, token.TypePrivileged, binding); err != nil {
		return 1
	}

	return 3
}
