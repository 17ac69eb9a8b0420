// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package keys

import "errors"

var (
	// ErrNoActiveKey is returned when signing is requested and no active
	// signing key exists. Signing never falls back to grace or expired keys.
	ErrNoActiveKey = errors.New("keys: no active signing key")

	// ErrUnknownKey is returned when verification names a key ID that is
	// absent, expired, or outside its grace window. Higher layers translate
	// it to a re-authentication hint.
	ErrUnknownKey = errors.New("keys: unknown or retired key id")
)
