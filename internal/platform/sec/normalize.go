// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package sec

import (
	"strings"

	"golang.org/x/text/secure/precis"
)

// # Identifier Normalization

// NormalizeIdentifier canonicalizes a login identifier (email address) before
// any repository lookup.
//
// # Why precis?
//
// Plain strings.ToLower misses Unicode case folding and width variants
// (fullwidth forms pasted from IMEs). The PRECIS UsernameCaseMapped profile
// handles both, so "User@Example.COM" and its fullwidth twin resolve to the
// same account instead of silently failing the login.
func NormalizeIdentifier(identifier string) string {
	trimmed := strings.TrimSpace(identifier)
	normalized, err := precis.UsernameCaseMapped.String(trimmed)
	if err != nil {
		// Fall back to simple lowercasing for inputs the profile rejects;
		// the credential check will fail them anyway.
		return strings.ToLower(trimmed)
	}
	return normalized
}
