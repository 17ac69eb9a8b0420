// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// # User Repository

const userColumns = `
	id, email, name, passwordhash, isactive,
	passwordchangedat, lastloginat, createdat, updatedat`

// PostgresUserRepository implements the UserRepository interface using pgx.
type PostgresUserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new PostgreSQL implementation of the
// UserRepository.
func NewUserRepository(pool *pgxpool.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

/*
Create persists a new account record into the portal.account table.

Parameters:
  - ctx: context.Context
  - user: *User (Entity to persist)

Returns:
  - error: Database constraint violations or connectivity errors
*/
func (repository *PostgresUserRepository) Create(ctx context.Context, user *User) error {
	const query = `
		INSERT INTO portal.account (
			id, email, name, passwordhash, isactive, passwordchangedat, createdat, updatedat
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.PasswordChangedAt.IsZero() {
		user.PasswordChangedAt = now
	}
	user.UpdatedAt = now

	_, err := repository.pool.Exec(ctx, query,
		user.ID,
		user.Email,
		user.Name,
		user.PasswordHash,
		user.IsActive,
		user.PasswordChangedAt,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("postgres_user_repo_create_failed: %w", err)
	}

	return nil
}

/*
FindByEmail retrieves an account by its normalized email address.

Parameters:
  - ctx: context.Context
  - email: string (already normalized by the caller)

Returns:
  - *User: Hydrated account entity
  - error: ErrUserNotFound or database errors
*/
func (repository *PostgresUserRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	query := "SELECT " + userColumns + " FROM portal.account WHERE email = $1"
	return repository.findOne(ctx, query, email)
}

/*
FindByID retrieves an account by its unique ID.

Parameters:
  - ctx: context.Context
  - id: string (UUIDv7)

Returns:
  - *User: Hydrated account entity
  - error: ErrUserNotFound or database errors
*/
func (repository *PostgresUserRepository) FindByID(ctx context.Context, id string) (*User, error) {
	query := "SELECT " + userColumns + " FROM portal.account WHERE id = $1"
	return repository.findOne(ctx, query, id)
}

/*
UpdatePassword replaces the password hash and stamps the change time.

Parameters:
  - ctx: context.Context
  - userID: string
  - newHash: string (bcrypt)

Returns:
  - error: Execution errors
*/
func (repository *PostgresUserRepository) UpdatePassword(ctx context.Context, userID, newHash string) error {
	const query = `
		UPDATE portal.account
		SET passwordhash = $2, passwordchangedat = NOW(), updatedat = NOW()
		WHERE id = $1`

	if _, err := repository.pool.Exec(ctx, query, userID, newHash); err != nil {
		return fmt.Errorf("postgres_user_repo_update_password_failed: %w", err)
	}

	return nil
}

/*
TouchLastLogin records a successful authentication time.

Returns:
  - error: Execution errors
*/
func (repository *PostgresUserRepository) TouchLastLogin(ctx context.Context, userID string) error {
	const query = "UPDATE portal.account SET lastloginat = NOW(), updatedat = NOW() WHERE id = $1"
	if _, err := repository.pool.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("postgres_user_repo_touch_last_login_failed: %w", err)
	}
	return nil
}

func (repository *PostgresUserRepository) findOne(ctx context.Context, query string, args ...any) (*User, error) {
	user := &User{}
	err := repository.pool.QueryRow(ctx, query, args...).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.PasswordHash,
		&user.IsActive,
		&user.PasswordChangedAt,
		&user.LastLoginAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("postgres_user_repo_find_failed: %w", err)
	}

	return user, nil
}
