// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package session

import "errors"

var (
	// ErrNotFound is returned when no session matches the lookup.
	ErrNotFound = errors.New("session: not found")

	// ErrSessionExpired is returned when the session exists but is past its
	// expiry. Cleanup will remove it within the hour.
	ErrSessionExpired = errors.New("session: expired")

	// ErrSessionRevoked is returned when the session was explicitly ended,
	// whether by logout, rotation, or a security revocation.
	ErrSessionRevoked = errors.New("session: revoked")
)
