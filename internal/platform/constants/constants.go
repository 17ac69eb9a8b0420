// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

/*
Package constants provides centralized, immutable values for the entire platform.

It defines default timeouts, rate limits, and cross-cutting keys that are shared
between different layers of the system.

Categories:

  - Server Timing: Read/Write/Idle timeouts for the HTTP server.
  - Rate Limiting: Burst capacities and IP tracking TTLs.
  - Security: Token issuers, TTLs, and key lifecycle windows.

Using this package ensures Magic Strings and Magic Numbers are eliminated
from the business logic.
*/
package constants

import "time"

// # Metadata

const (
	AppName    = "meridian-portal-api"
	AppVersion = "0.3.0-dev"
)

// # Server Timing

const (
	// DefaultReadTimeout is the maximum duration for reading the entire request.
	DefaultReadTimeout = 5 * time.Second

	// DefaultWriteTimeout is the maximum duration before timing out writes of the response.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultIdleTimeout is the maximum amount of time to wait for the next request.
	DefaultIdleTimeout = 120 * time.Second

	// DefaultReadHeaderTimeout is the amount of time allowed to read request headers.
	DefaultReadHeaderTimeout = 2 * time.Second

	// GlobalRequestTimeout is the deadline for the entire request lifecycle.
	GlobalRequestTimeout = 30 * time.Second

	// ShutdownTimeout is how long we wait for in-flight requests to complete during shutdown.
	ShutdownTimeout = 30 * time.Second
)

// # Rate Limiting

const (
	// DefaultRateLimitRPS is the requests per second allowed per IP.
	DefaultRateLimitRPS = 100.0

	// DefaultRateLimitBurst is the maximum burst allowed for the rate limiter.
	DefaultRateLimitBurst = 150

	// AuthRateLimitRPS is the tighter budget applied to credential endpoints.
	AuthRateLimitRPS = 5.0

	// AuthRateLimitBurst is the burst allowed on credential endpoints.
	AuthRateLimitBurst = 10

	// RateLimitCleanupInterval is how often old IP entries are removed from memory.
	RateLimitCleanupInterval = 1 * time.Minute

	// RateLimitClientTTL is how long a client must be idle before its entry is deleted.
	RateLimitClientTTL = 3 * time.Minute
)

// # Session Lifecycle

const (
	// SessionTTL is the default lifetime of an authenticated session.
	SessionTTL = 24 * time.Hour

	// SessionTTLRemembered is the extended lifetime for remember-me logins.
	SessionTTLRemembered = 7 * 24 * time.Hour

	// PrivilegedTokenTTL is the lifetime of a step-up privileged token.
	PrivilegedTokenTTL = 5 * time.Minute

	// SweepInterval is the cadence of the background cleanup tasks
	// (expired sessions, expired keys).
	SweepInterval = 1 * time.Hour
)

// # Key Lifecycle

const (
	// KeyExpiry is the lifetime assigned to freshly generated signing keys.
	KeyExpiry = 90 * 24 * time.Hour

	// KeyExpiryFallback is the reduced lifetime of a degraded-mode fallback key.
	KeyExpiryFallback = 30 * 24 * time.Hour

	// KeyHardGrace is the retention period after expiry before a key file is purged.
	KeyHardGrace = 7 * 24 * time.Hour

	// KeyBits is the RSA modulus size for new signing keys.
	KeyBits = 2048
)

// # HTTP Headers

const (
	HeaderXRequestID    = "X-Request-ID"
	HeaderXRealIP       = "X-Real-IP"
	HeaderXForwardedFor = "X-Forwarded-For"
	HeaderOrigin        = "Origin"
)

// # JSON Field Identifiers

const (
	FieldData    = "data"
	FieldError   = "error"
	FieldCode    = "code"
	FieldDetails = "details"
	FieldMessage = "message"
	FieldStatus  = "status"
	FieldApp     = "app"
	FieldVersion = "version"
	FieldChecks  = "checks"
)

// # Database Schemas

const (
	SchemaPortal = "portal"
)

// # Redis Prefixes (Risk Attribute Taxonomy)

const (
	RedisPrefixDevices        = "risk:devices:"
	RedisPrefixCountries      = "risk:countries:"
	RedisPrefixFailedAttempts = "risk:failed:"
)
