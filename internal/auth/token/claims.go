// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

/*
Package token implements signing and verification of the three portal token
variants: access, refresh, and privileged.

# Architecture

This package sits between the key manager (which owns the RSA material) and
the session/authorization layers. It knows nothing about sessions beyond the
`sid` claim it embeds; session validity is checked by callers after the
cryptographic verification succeeds.

Tokens carry the signing key's ID in the JWS header so verification can
route to the right public key across rotations.
*/
package token

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/meridianhq/meridian/internal/platform/sec"
)

// # Token Variants

// Type discriminates the three token variants. A token of one type is never
// accepted where another is required.
type Type string

const (
	TypeAccess     Type = "access"
	TypeRefresh    Type = "refresh"
	TypePrivileged Type = "privileged"
)

// Claims is the payload shared by all three token variants.
//
// # Why one claim set?
//
// The variants differ only in which optional fields are populated; a single
// struct keeps the verification path uniform and lets the kid-routing
// keyfunc stay variant-agnostic. The `type` claim is the discriminator.
type Claims struct {
	jwt.RegisteredClaims

	// Type discriminates access/refresh/privileged.
	Type Type `json:"type"`

	// SessionID ties the token to its server-side session record.
	SessionID string `json:"sid"`

	// Email and Name let the middleware reconstruct the principal without a
	// database round trip on every request. Absent on refresh tokens.
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`

	// IPHash and UAHash are truncated hashes of the client context the
	// token was issued to. Empty on refresh tokens (refresh binding is
	// enforced via the session record instead).
	IPHash string `json:"ipHash,omitempty"`
	UAHash string `json:"uaHash,omitempty"`

	// BindingLevel controls how IPHash/UAHash mismatches are treated at
	// verification time.
	BindingLevel sec.BindingLevel `json:"bindingLevel,omitempty"`

	// TokenFamily groups a refresh token with all of its rotation
	// descendants so a detected reuse can revoke the whole lineage.
	TokenFamily string `json:"tokenFamily,omitempty"`

	// Scopes lists the operations a privileged token is good for.
	Scopes []string `json:"scopes,omitempty"`
}

// HasScope reports whether a privileged token carries the given scope.
func (claims *Claims) HasScope(scope string) bool {
	for _, candidate := range claims.Scopes {
		if candidate == scope {
			return true
		}
	}
	return false
}
