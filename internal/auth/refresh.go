// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridianhq/meridian/internal/auth/audit"
	"github.com/meridianhq/meridian/internal/auth/keys"
	"github.com/meridianhq/meridian/internal/auth/session"
	"github.com/meridianhq/meridian/internal/auth/token"
)

// # Refresh Rotation
//
// A refresh token is single-use. A successful rotation revokes the old
// session, creates a new one, and issues a new token pair carrying the same
// token family. Presenting an already-rotated token is treated as theft and
// burns the whole family.

// RefreshParams carries one rotation attempt.
type RefreshParams struct {
	RefreshToken string
	Client       ClientContext
}

/*
Refresh rotates a refresh token into a new session and token pair.

Description: The conditional revocation of the old session is the
serialization point: of two concurrent rotations of the same token, exactly
one flips the row and proceeds; the other is treated as reuse. An observer
who sees the new session therefore always sees the old one revoked. Reuse
detection works across crashes because the new refresh token is unusable
until its session row exists, while the old session is already inactive.

Parameters:
  - ctx: context.Context
  - params: RefreshParams

Returns:
  - *LoginResult: New session and token pair
  - error: ErrInvalidRefresh, ErrTokenReuse, session.ErrSessionExpired,
    session.ErrSessionRevoked, ErrAccountDeactivated, or internal errors
*/
func (service *Service) Refresh(ctx context.Context, params RefreshParams) (*LoginResult, error) {
	// 1. Cryptographic verification; type must be refresh.
	verified, err := service.tokens.Verify(params.RefreshToken, token.TypeRefresh, nil)
	if err != nil {
		service.refreshRejected(ctx, "", "", params.Client, "token_invalid")
		// A token signed by a key the manager no longer holds is the one
		// rejection that must be distinguishable to the transport layer, so
		// clients can discard their tokens instead of retrying.
		if errors.Is(err, keys.ErrUnknownKey) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRefresh, err)
		}
		return nil, ErrInvalidRefresh
	}
	claims := verified.Claims

	// 2. Resolve the session by refresh JTI, in any state.
	current, err := service.sessions.FindByRefreshTokenJTI(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			service.refreshRejected(ctx, claims.Subject, "", params.Client, "session_unknown")
			return nil, ErrInvalidRefresh
		}
		return nil, err
	}

	// An inactive session holding this JTI means the token was already
	// rotated: this presentation is reuse.
	if !current.IsActive {
		return nil, service.handleReuse(ctx, current, claims, params.Client, "rotated_token_presented")
	}

	// 3-4. Lifecycle checks on the live session.
	if err := current.Usable(time.Now()); err != nil {
		service.refreshRejected(ctx, current.UserID, current.ID, params.Client, "session_unusable")
		return nil, err
	}

	// 5. The account must still exist and be active.
	user, err := service.users.FindByID(ctx, current.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			service.refreshRejected(ctx, current.UserID, current.ID, params.Client, "user_missing")
			return nil, ErrInvalidRefresh
		}
		return nil, err
	}
	if !user.IsActive {
		service.refreshRejected(ctx, user.ID, current.ID, params.Client, "account_deactivated")
		return nil, ErrAccountDeactivated
	}

	// 6. Touch the old session before it is retired.
	if err := service.sessions.UpdateLastActivity(ctx, current.ID); err != nil {
		service.logger.Warn("refresh_touch_activity_failed", slog.Any("error", err))
	}

	// 8 (serialization point, deliberately before 7 and 9): retire the old
	// session. Losing this race means another rotation already consumed the
	// token.
	won, err := service.sessions.RevokeIfActive(ctx, current.ID, "token_rotation")
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, service.handleReuse(ctx, current, claims, params.Client, "concurrent_rotation_lost")
	}

	// 9. The successor session carries the client context and family
	// forward; its horizon stays the old session's expiry.
	successor := session.NewSession(session.NewSessionParams{
		UserID:            user.ID,
		IPAddress:         firstNonEmpty(params.Client.IPAddress, current.IPAddress),
		UserAgent:         firstNonEmpty(params.Client.UserAgent, current.UserAgent),
		DeviceFingerprint: current.DeviceFingerprint,
		Geolocation:       current.Geolocation,
		RiskScore:         current.RiskScore,
	})
	successor.TokenFamily = familyOf(current, claims)
	successor.ExpiresAt = current.ExpiresAt

	// 7. New pair, same family.
	pair, err := service.issuePair(user, successor)
	if err != nil {
		return nil, err
	}

	if err := service.sessions.Create(ctx, successor); err != nil {
		return nil, err
	}

	// 10. Audit both sides of the rotation.
	service.recorder.Record(ctx, &audit.Event{
		UserID:    user.ID,
		SessionID: successor.ID,
		EventType: audit.EventTokenRefresh,
		Result:    audit.ResultSuccess,
		IPAddress: params.Client.IPAddress,
		UserAgent: params.Client.UserAgent,
		Metadata: map[string]any{
			"previousSessionId": current.ID,
			"tokenFamily":       successor.TokenFamily,
		},
	})
	service.recorder.Record(ctx, &audit.Event{
		UserID:    user.ID,
		SessionID: successor.ID,
		EventType: audit.EventSessionCreated,
		Result:    audit.ResultSuccess,
		IPAddress: params.Client.IPAddress,
		UserAgent: params.Client.UserAgent,
		Metadata:  map[string]any{"previousSessionId": current.ID},
	})

	return &LoginResult{
		User:      user,
		Session:   successor,
		Tokens:    pair,
		RiskScore: successor.RiskScore,
	}, nil
}

// handleReuse contains a detected refresh-token reuse: the whole family is
// revoked, falling back to every session of the user when the family is not
// resolvable.
func (service *Service) handleReuse(ctx context.Context, compromised *session.Session, claims *token.Claims, client ClientContext, reason string) error {
	family := familyOf(compromised, claims)

	var revoked int
	var err error
	if family != "" {
		revoked, err = service.sessions.RevokeFamily(ctx, family, "token_reuse")
	} else {
		revoked, err = service.sessions.RevokeAllUserSessions(ctx, compromised.UserID, "token_reuse")
	}
	if err != nil {
		service.logger.Error("refresh_reuse_containment_failed",
			slog.String("user_id", compromised.UserID),
			slog.String("token_family", family),
			slog.Any("error", err),
		)
	}

	service.recorder.Record(ctx, &audit.Event{
		UserID:    compromised.UserID,
		SessionID: compromised.ID,
		EventType: audit.EventSuspiciousActivity,
		Severity:  audit.SeverityCritical,
		Result:    audit.ResultDenied,
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
		Metadata: map[string]any{
			"reason":          reason,
			"tokenFamily":     family,
			"sessionsRevoked": revoked,
		},
	})

	return ErrTokenReuse
}

// refreshRejected audits a rejected rotation with its local reason. The
// wire response stays uniform.
func (service *Service) refreshRejected(ctx context.Context, userID, sessionID string, client ClientContext, reason string) {
	service.recorder.Record(ctx, &audit.Event{
		UserID:    userID,
		SessionID: sessionID,
		EventType: audit.EventTokenRefresh,
		Severity:  audit.SeverityCritical,
		Result:    audit.ResultFailure,
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
		Metadata:  map[string]any{"reason": reason},
	})
}

// familyOf resolves the token family from the session record, falling back
// to the claim.
func familyOf(current *session.Session, claims *token.Claims) string {
	if current.TokenFamily != "" {
		return current.TokenFamily
	}
	return claims.TokenFamily
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
