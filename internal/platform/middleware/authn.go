// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/meridianhq/meridian/internal/auth/keys"
	"github.com/meridianhq/meridian/internal/auth/session"
	"github.com/meridianhq/meridian/internal/auth/token"
	"github.com/meridianhq/meridian/internal/platform/apperr"
	"github.com/meridianhq/meridian/internal/platform/ctxutil"
	"github.com/meridianhq/meridian/internal/platform/respond"
	"github.com/meridianhq/meridian/internal/platform/sec"
)

// TokenVerifier defines the interface needed to verify access tokens in
// middleware.
//
// # Why an interface?
//
// Defining TokenVerifier here decouples the middleware from the token
// service implementation, allowing us to easily inject mocks during unit
// testing.
type TokenVerifier interface {
	Verify(tokenString string, expected token.Type, binding *token.BindingContext) (*token.Verified, error)
}

// SessionChecker is the slice of the session store the liveness middleware
// needs.
type SessionChecker interface {
	FindByAccessTokenJTI(ctx context.Context, jti string) (*session.Session, error)
	UpdateLastActivity(ctx context.Context, sessionID string) error
}

// Authenticate extracts and verifies the JWT from the Authorization header.
//
// # Flow
//  1. Check for 'Authorization: Bearer <token>' header.
//  2. If absent, the request proceeds as anonymous.
//  3. If present, verify the access token against the presenting client's
//     context (soft binding mismatches pass; strict ones do not).
//  4. Reduce the claims to a [*sec.Principal] and inject it into the context.
//
// A token signed by a key the manager no longer knows yields the
// reauthenticate flag so well-behaved clients discard their tokens instead
// of retrying.
func Authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			authHeader := request.Header.Get("Authorization")

			// ── 1. Anonymous Access ───────────────────────────────────────────
			if authHeader == "" {
				next.ServeHTTP(writer, request)
				return
			}

			// ── 2. Format Validation ──────────────────────────────────────────
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				respond.Error(writer, request, apperr.Unauthorized("Invalid authorization format"))
				return
			}

			// ── 3. Token Verification ─────────────────────────────────────────
			binding := &token.BindingContext{
				IP:        RealIP(request),
				UserAgent: request.UserAgent(),
			}

			verified, err := verifier.Verify(parts[1], token.TypeAccess, binding)
			if err != nil {
				if errors.Is(err, keys.ErrUnknownKey) {
					respond.Error(writer, request, apperr.RequiresReauth(err))
					return
				}
				respond.Error(writer, request, apperr.Unauthorized("Invalid or expired token"))
				return
			}

			if verified.SoftMismatch {
				ctxutil.GetLogger(request.Context()).WarnContext(request.Context(),
					"access_token_context_drift",
					slog.String("session_id", verified.Claims.SessionID),
				)
			}

			// ── 4. Context Injection ──────────────────────────────────────────
			principal := &sec.Principal{
				UserID:    verified.Claims.Subject,
				Email:     verified.Claims.Email,
				Name:      verified.Claims.Name,
				SessionID: verified.Claims.SessionID,
				TokenJTI:  verified.Claims.ID,
			}
			ctx := ctxutil.WithPrincipal(request.Context(), principal)

			next.ServeHTTP(writer, request.WithContext(ctx))
		})
	}
}

// RequireAuth blocks requests that are not authenticated.
//
// # Usage
//
// Must be registered in the router AFTER [Authenticate].
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if ctxutil.GetPrincipal(request.Context()) == nil {
			respond.Error(writer, request, apperr.Unauthorized("Authentication required"))
			return
		}
		next.ServeHTTP(writer, request)
	})
}

// RequireSession additionally checks that the server-side session behind the
// access token is still alive, and touches its activity timestamp.
//
// # Why a second check?
//
// A signed access token stays cryptographically valid until it expires, but
// logout and admin revocation kill the session immediately. Endpoints that
// must observe revocation without waiting out the token TTL mount this
// middleware after [Authenticate].
func RequireSession(sessions SessionChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			principal := ctxutil.GetPrincipal(request.Context())
			if principal == nil {
				respond.Error(writer, request, apperr.Unauthorized("Authentication required"))
				return
			}

			current, err := sessions.FindByAccessTokenJTI(request.Context(), principal.TokenJTI)
			if err != nil {
				respond.Error(writer, request, apperr.Unauthorized("Session no longer active"))
				return
			}

			if err := current.Usable(time.Now()); err != nil {
				respond.Error(writer, request, apperr.Unauthorized("Session no longer active"))
				return
			}

			// Activity tracking is best effort; a failed touch must not block
			// the request.
			if err := sessions.UpdateLastActivity(request.Context(), current.ID); err != nil {
				ctxutil.GetLogger(request.Context()).WarnContext(request.Context(),
					"session_activity_touch_failed",
					slog.String("session_id", current.ID),
					slog.Any("error", err),
				)
			}

			next.ServeHTTP(writer, request)
		})
	}
}
