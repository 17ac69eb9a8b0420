// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

/*
Package keys implements the asymmetric signing key manager.

It owns the full lifecycle of the RSA key pairs used to sign and verify
portal tokens: generation, persistence, rotation with a bounded grace
window, hourly cleanup, and JWKS export for external verifiers.

Architecture:

  - Manager: In-memory key index with a single-writer/many-readers lock.
  - FileStore: One JSON file per key pair (0600) plus an index.json summary.
  - JWKS: Public-only view of the verification set.

Private key material never leaves this package.
*/
package keys

import (
	"crypto/rsa"
	"sync/atomic"
	"time"
)

// # Domain Entities

// Algorithm identifies the JWS algorithm a key pair is intended for.
//
// PS256 (RSASSA-PSS) is preferred for all new keys; RS256 is accepted for
// verification of tokens minted before the migration.
type Algorithm string

const (
	AlgPS256 Algorithm = "PS256"
	AlgRS256 Algorithm = "RS256"
)

// KeyPair is a managed RSA signing key with its lifecycle metadata.
//
// # States
//
//   - active: the single key used for signing.
//   - grace: demoted by rotation; verifies until GracePeriodUntil.
//   - expired: past ExpiresAt; refused for both signing and verification,
//     purged after a further 7-day hard grace.
//
// A key that is neither active nor in grace does not verify. This is
// stricter than accepting any non-expired persisted key: a restart that
// loses grace state forces clients to re-authenticate, which we prefer over
// silently honoring stale keys.
type KeyPair struct {
	KeyID            string
	Algorithm        Algorithm
	PrivateKey       *rsa.PrivateKey
	CreatedAt        time.Time
	ExpiresAt        *time.Time
	IsActive         bool
	GracePeriodUntil *time.Time

	// lastUsed is touched on every signing operation. Atomic so that the
	// read path never takes the manager's write lock.
	lastUsed atomic.Int64
}

// Public returns the verification half of the pair.
func (k *KeyPair) Public() *rsa.PublicKey {
	return &k.PrivateKey.PublicKey
}

// InGrace reports whether the key is inside its post-rotation grace window.
func (k *KeyPair) InGrace(now time.Time) bool {
	return !k.IsActive && k.GracePeriodUntil != nil && now.Before(*k.GracePeriodUntil)
}

// Expired reports whether the key is past its expiry.
func (k *KeyPair) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

// PurgeEligible reports whether the key may be physically deleted: expired
// past the hard grace, not active, and with any rotation grace elapsed.
func (k *KeyPair) PurgeEligible(now time.Time, hardGrace time.Duration) bool {
	if k.IsActive || k.ExpiresAt == nil {
		return false
	}
	if now.Before(k.ExpiresAt.Add(hardGrace)) {
		return false
	}
	return k.GracePeriodUntil == nil || !now.Before(*k.GracePeriodUntil)
}

// Verifies reports whether the key may be used to verify signatures at the
// given instant: it must be active or in grace, and not expired.
func (k *KeyPair) Verifies(now time.Time) bool {
	if k.Expired(now) {
		return false
	}
	return k.IsActive || k.InGrace(now)
}

// MarkUsed records a signing operation for the index summary.
func (k *KeyPair) MarkUsed(now time.Time) {
	k.lastUsed.Store(now.Unix())
}

// LastUsed returns the time of the most recent signing operation, or the
// zero time if the key has never signed.
func (k *KeyPair) LastUsed() time.Time {
	unix := k.lastUsed.Load()
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}
