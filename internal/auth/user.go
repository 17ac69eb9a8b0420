// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

/*
Package auth implements the portal's authentication core: login and logout
orchestration, refresh-token rotation, and the account repository the flows
depend on.

# Architecture

The package follows the layered domain shape used across the codebase:

  - user.go: Account entity and repository contract.
  - store_postgres.go: pgx implementation over portal.account.
  - service.go: Login/logout/password orchestration.
  - refresh.go: The refresh rotation engine with reuse detection.
  - http.go: Transport layer mapping domain errors to uniform responses.

Signing, sessions, auditing, and risk scoring live in their own packages
and are injected through interfaces.
*/
package auth

import (
	"context"
	"time"
)

// # Domain Entity

// User is a portal account as the authentication flows see it.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	IsActive     bool

	// PasswordChangedAt and CreatedAt feed the password-age and account-age
	// risk factors.
	PasswordChangedAt time.Time
	LastLoginAt       *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// # Repository Contract

// UserRepository is the persistence contract for portal accounts.
type UserRepository interface {
	Create(ctx context.Context, user *User) error

	// FindByEmail looks up by the normalized email. Returns ErrUserNotFound
	// (wrapped) when absent; the service collapses that into
	// ErrInvalidCredentials before it reaches a client.
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)

	UpdatePassword(ctx context.Context, userID, newHash string) error
	TouchLastLogin(ctx context.Context, userID string) error
}
