// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package token

import "errors"

// Sentinel errors for token verification. Handlers collapse all of these
// into one uniform wire message; the distinction exists for logging, audit,
// and tests only.
var (
	// ErrInvalidToken covers malformed tokens, bad signatures, unknown or
	// retired key IDs, and issuer/audience mismatches.
	ErrInvalidToken = errors.New("token: invalid token")

	// ErrTokenExpired is returned when the token is past exp (beyond the
	// configured clock-skew leeway).
	ErrTokenExpired = errors.New("token: token expired")

	// ErrWrongType is returned when a token of one variant is presented
	// where another is required (e.g. a refresh token sent as an access
	// token).
	ErrWrongType = errors.New("token: wrong token type")

	// ErrBindingMismatch is returned when a strict-bound token is presented
	// from a different IP or user agent than it was issued to.
	ErrBindingMismatch = errors.New("token: context binding mismatch")
)
