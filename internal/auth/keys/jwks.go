// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package keys

import (
	"encoding/base64"
	"math/big"
	"time"
)

// # JWKS Export

// JWK is the public-only JSON Web Key representation of one verification key.
type JWK struct {
	KeyID     string `json:"kid"`
	KeyType   string `json:"kty"`
	Use       string `json:"use"`
	Algorithm string `json:"alg"`
	Modulus   string `json:"n"`
	Exponent  string `json:"e"`
}

// JWKS is the document served at /.well-known/jwks.json.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

/*
JWKS exports the current verification set as a JWKS document.

Description: Includes every key that verifies right now (the active key and
any keys inside their grace window) so external verifiers keep working
across rotations. Expired keys never appear. Output is ordered newest first
for stable responses.

Returns:
  - JWKS: Public-only key set (never includes private material)
*/
func (manager *Manager) JWKS() JWKS {
	now := time.Now()

	pairs := manager.snapshot()
	var verifying []*KeyPair
	for _, pair := range pairs {
		if pair.Verifies(now) {
			verifying = append(verifying, pair)
		}
	}
	sortNewestFirst(verifying)

	document := JWKS{Keys: make([]JWK, 0, len(verifying))}
	for _, pair := range verifying {
		document.Keys = append(document.Keys, publicJWK(pair))
	}

	return document
}

// publicJWK converts a key pair into its RFC 7517 public representation.
func publicJWK(pair *KeyPair) JWK {
	public := pair.Public()

	return JWK{
		KeyID:     pair.KeyID,
		KeyType:   "RSA",
		Use:       "sig",
		Algorithm: string(pair.Algorithm),
		Modulus:   base64.RawURLEncoding.EncodeToString(public.N.Bytes()),
		Exponent:  base64.RawURLEncoding.EncodeToString(big.NewInt(int64(public.E)).Bytes()),
	}
}
