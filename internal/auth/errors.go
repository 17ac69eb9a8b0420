// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package auth

import "errors"

// Domain sentinels for the authentication flows. The HTTP layer collapses
// several of these into identical wire responses on purpose; the
// distinction exists for audit records and tests.
var (
	// ErrUserNotFound is the repository-level absence signal. It never
	// crosses the HTTP boundary directly.
	ErrUserNotFound = errors.New("auth: user not found")

	// ErrInvalidCredentials covers unknown user, missing password hash, and
	// wrong password alike. Callers must not reveal which one occurred.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrAccountDeactivated is returned for a correct password on a
	// deactivated account.
	ErrAccountDeactivated = errors.New("auth: account deactivated")

	// ErrInvalidRefresh is returned when a refresh token verifies but no
	// session has ever carried its JTI.
	ErrInvalidRefresh = errors.New("auth: invalid refresh token")

	// ErrTokenReuse is returned when an already-rotated refresh token is
	// presented again. The whole token family is revoked as a side effect.
	// On the wire this is indistinguishable from ErrInvalidRefresh.
	ErrTokenReuse = errors.New("auth: refresh token reuse detected")

	// ErrSessionNotOwned is returned when a caller targets a session that
	// belongs to someone else. Surfaces as not-found.
	ErrSessionNotOwned = errors.New("auth: session not owned by caller")
)
