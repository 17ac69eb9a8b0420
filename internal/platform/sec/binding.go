// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package sec

import (
	"crypto/sha256"
	"encoding/hex"
)

// # Client Binding

// BindingLevel controls how strictly a token is tied to the client that
// requested it.
type BindingLevel string

const (
	// BindingStrict rejects the token when the client hash differs.
	// Always used for privileged tokens.
	BindingStrict BindingLevel = "strict"

	// BindingSoft accepts a mismatch but surfaces it as a risk signal.
	// Default for access tokens; mobile clients change IPs constantly.
	BindingSoft BindingLevel = "soft"

	// BindingDisabled skips the client check entirely.
	BindingDisabled BindingLevel = "disabled"
)

// BindingHashLength is the number of hex characters kept from the SHA-256
// digest. 64 bits of the digest is plenty for an equality check and keeps
// the token payload small.
const BindingHashLength = 16

// BindingHash returns the truncated SHA-256 hash of a client attribute
// (IP address or user agent) for embedding into token payloads.
//
// An empty input produces an empty hash so that absent attributes never
// match a present one.
func BindingHash(value string) string {
	if value == "" {
		return ""
	}
	digest := sha256.Sum256([]byte(value))
	return hex.EncodeToString(digest[:])[:BindingHashLength]
}
