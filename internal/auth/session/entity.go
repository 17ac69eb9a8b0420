// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

/*
Package session implements the server-side session store.

Sessions are the revocation anchor for the whole token system: tokens
reference their session via `sid`, and a revoked or expired session kills
every token pointing at it regardless of the token's own expiry.

# Architecture

  - Session: Domain entity with its lifecycle predicates.
  - Store: Domain-defined persistence interface.
  - PostgresStore: pgx implementation over the portal.session table.

The store keeps both raw and hashed client attributes: the hashes feed token
binding checks, the raw values feed the risk engine and the user-facing
device list.
*/
package session

import (
	"time"

	"github.com/meridianhq/meridian/internal/platform/sec"
	"github.com/meridianhq/meridian/internal/platform/validate"
	"github.com/meridianhq/meridian/pkg/uuid"
)

// # Domain Entity

// Session represents one authenticated device context for a user.
//
// # Invariants
//
//   - IsActive implies RevokedAt is nil.
//   - ExpiresAt is strictly after CreatedAt.
//   - RefreshTokenJTI identifies at most one active session.
type Session struct {
	ID     string
	UserID string

	// JTIs of the tokens currently bound to this session. Rotated in place
	// on refresh via UpdateJTIs.
	AccessTokenJTI  string
	RefreshTokenJTI string

	// TokenFamily links the session to its refresh-rotation lineage so a
	// detected reuse can revoke every descendant at once.
	TokenFamily string

	// Client context. IPAddress is empty when the presented address failed
	// structural validation; the hash is always computed from the sanitized
	// value.
	IPAddress         string
	IPHash            string
	UserAgent         string
	UserAgentHash     string
	DeviceFingerprint string
	Geolocation       string

	// RiskScore is the 0-100 assessment attached at login and updated as
	// the risk engine re-evaluates the session.
	RiskScore int

	IsActive       bool
	LastActivityAt time.Time
	ExpiresAt      time.Time
	RevokedAt      *time.Time
	RevokedReason  string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSessionParams carries the client context captured at login.
type NewSessionParams struct {
	UserID            string
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
	Geolocation       string
	RiskScore         int
	TTL               time.Duration
}

// NewSession constructs an active session with a fresh UUIDv7 identifier.
//
// The IP address is sanitized before storage: anything that is not a basic
// IPv4 address (with optional CIDR suffix) is dropped rather than persisted
// verbatim.
func NewSession(params NewSessionParams) *Session {
	now := time.Now()
	sanitizedIP := validate.SanitizeIP(params.IPAddress)

	return &Session{
		ID:                uuid.New(),
		UserID:            params.UserID,
		IPAddress:         sanitizedIP,
		IPHash:            sec.BindingHash(sanitizedIP),
		UserAgent:         params.UserAgent,
		UserAgentHash:     sec.BindingHash(params.UserAgent),
		DeviceFingerprint: params.DeviceFingerprint,
		Geolocation:       params.Geolocation,
		RiskScore:         params.RiskScore,
		IsActive:          true,
		LastActivityAt:    now,
		ExpiresAt:         now.Add(params.TTL),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Usable reports whether the session can back a request right now,
// returning the specific lifecycle error when it cannot.
func (session *Session) Usable(now time.Time) error {
	if !session.IsActive {
		return ErrSessionRevoked
	}
	if !now.Before(session.ExpiresAt) {
		return ErrSessionExpired
	}
	return nil
}
