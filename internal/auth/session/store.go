// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package session

import "context"

// Store is the domain-defined persistence contract for sessions.
//
// # Lookup Semantics
//
// FindByRefreshTokenJTI deliberately returns sessions in ANY state: the
// rotation engine needs to see an already-rotated session to recognize a
// reused token. FindActiveByRefreshTokenJTI is the active-path variant.
type Store interface {
	Create(ctx context.Context, session *Session) error

	FindByID(ctx context.Context, id string) (*Session, error)
	FindByAccessTokenJTI(ctx context.Context, jti string) (*Session, error)
	FindByRefreshTokenJTI(ctx context.Context, jti string) (*Session, error)
	FindActiveByRefreshTokenJTI(ctx context.Context, jti string) (*Session, error)
	FindActiveByUserID(ctx context.Context, userID string) ([]*Session, error)

	UpdateLastActivity(ctx context.Context, id string) error
	UpdateRiskScore(ctx context.Context, id string, score int) error
	UpdateJTIs(ctx context.Context, id, accessJTI, refreshJTI string) error

	// RevokeSession is idempotent: revoking an already-revoked session is
	// a no-op, not an error.
	RevokeSession(ctx context.Context, id, reason string) error

	// RevokeIfActive revokes the session only if it is still active,
	// reporting whether this call was the one that flipped it. It is the
	// serialization point for concurrent refresh attempts.
	RevokeIfActive(ctx context.Context, id, reason string) (bool, error)

	RevokeAllUserSessions(ctx context.Context, userID, reason string) (int, error)

	// RevokeOtherUserSessions revokes all of a user's active sessions
	// except the one named. Used after password changes so the changing
	// device stays signed in.
	RevokeOtherUserSessions(ctx context.Context, userID, keepSessionID, reason string) (int, error)

	// RevokeFamily revokes every active session in a refresh-token family.
	RevokeFamily(ctx context.Context, tokenFamily, reason string) (int, error)

	// CleanupExpiredSessions deletes sessions past expiry regardless of
	// state and returns the number removed.
	CleanupExpiredSessions(ctx context.Context) (int, error)
}
