// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

/*
Package config handles application-wide settings and environment parsing.

It leverages 'caarlos0/env' to map OS environment variables into a strongly-typed
Go struct, providing early validation and default values.

Usage:

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal(err)
	}

Architecture:

  - Immutability: Once loaded, configuration is read-only.
  - DI-Friendly: Passed to core components (DB, Redis, Key Manager) via constructors.
  - Zero Hidden State: No global variables are used to store config.

This ensures the application is Twelve-Factor compliant by storing config in the env.
*/
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// # Configuration Schema

// Config holds all runtime configuration for the Meridian portal API server.
type Config struct {

	// Server settings
	ServerPort  string `env:"SERVER_PORT"  envDefault:"8080"`
	Environment string `env:"ENVIRONMENT"  envDefault:"development"`
	Debug       bool   `env:"DEBUG"        envDefault:"false"`

	// Relational Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required"`

	// MigrationPath is the filesystem path to the SQL migrations directory.
	MigrationPath string `env:"MIGRATION_PATH" envDefault:"./data/migrations"`

	// Key-Value Store (Redis) backing the risk attribute lookups.
	RedisURL string `env:"REDIS_URL,required"`

	// Token configuration.
	//
	// JWTSecret is only consulted when a legacy HS256 token is presented.
	// New tokens are always signed with the key manager's active RSA key.
	JWTSecret           string `env:"JWT_SECRET"`
	JWTAccessTTLSecs    int    `env:"JWT_ACCESS_TTL_SECONDS"  envDefault:"900"`
	JWTRefreshTTLSecs   int    `env:"JWT_REFRESH_TTL_SECONDS" envDefault:"604800"`
	JWTIssuer           string `env:"JWT_ISSUER"   envDefault:"meridian.app"`
	JWTAudience         string `env:"JWT_AUDIENCE" envDefault:"meridian-portal"`
	JWTClockSkewSeconds int    `env:"JWT_CLOCK_SKEW_SECONDS" envDefault:"60"`

	// Signing key storage.
	KeyStoreDir   string `env:"KEY_STORE_DIR"   envDefault:"./data/keys"`
	KeyGraceHours int    `env:"KEY_GRACE_HOURS" envDefault:"24"`

	// AuditHashChain enables tamper-evident hash chaining of audit events.
	AuditHashChain bool `env:"AUDIT_HASH_CHAIN" envDefault:"false"`
}

// # Configuration Loading

// Load parses environment variables into a [Config] struct.
func Load() (*Config, error) {

	// Initialize an empty config struct
	cfg := &Config{}

	// Use the 'env' package to map environment variables to struct fields.
	// This will fail if any field marked with 'required' is missing.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment variables: %w", err)
	}

	// The key grace window must outlive the longest access token, otherwise
	// rotation would invalidate in-flight tokens.
	if time.Duration(cfg.KeyGraceHours)*time.Hour < cfg.AccessTokenTTL() {
		return nil, fmt.Errorf("config: KEY_GRACE_HOURS (%dh) is shorter than the access token TTL", cfg.KeyGraceHours)
	}

	return cfg, nil
}

// # Derived Durations

// AccessTokenTTL returns the configured access token lifetime.
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.JWTAccessTTLSecs) * time.Second
}

// RefreshTokenTTL returns the configured refresh token lifetime.
func (c *Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.JWTRefreshTTLSecs) * time.Second
}

// ClockSkew returns the verification leeway applied to exp/iat/nbf claims.
func (c *Config) ClockSkew() time.Duration {
	return time.Duration(c.JWTClockSkewSeconds) * time.Second
}

// KeyGraceWindow returns the post-rotation window during which the previous
// signing key still verifies.
func (c *Config) KeyGraceWindow() time.Duration {
	return time.Duration(c.KeyGraceHours) * time.Hour
}

// IsDevelopment reports whether the server is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction reports whether the server is running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
