// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// # Postgres Store

// sessionColumns is the canonical column list shared by every SELECT.
const sessionColumns = `
	id, userid, accesstokenjti, refreshtokenjti, tokenfamily,
	ipaddress, iphash, useragent, useragenthash, devicefingerprint, geolocation,
	riskscore, isactive, lastactivityat, expiresat, revokedat, revokedreason,
	createdat, updatedat`

// PostgresStore implements the Store interface over portal.session.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL implementation of the Store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

/*
Create persists a new session record into the portal.session table.

Description: Records a successful authentication in persistent storage.
Empty client attributes are stored as NULL rather than empty strings. The
JTI and family columns are uuid-typed, so an unbound value must also go to
the server as NULL; an empty string is not a uuid literal.

Parameters:
  - ctx: context.Context
  - session: *Session

Returns:
  - error: Constraint violations or connectivity errors
*/
func (store *PostgresStore) Create(ctx context.Context, session *Session) error {
	const query = `
		INSERT INTO portal.session (
			id, userid, accesstokenjti, refreshtokenjti, tokenfamily,
			ipaddress, iphash, useragent, useragenthash, devicefingerprint, geolocation,
			riskscore, isactive, lastactivityat, expiresat, revokedat, revokedreason,
			createdat, updatedat
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	_, err := store.pool.Exec(ctx, query,
		session.ID,
		session.UserID,
		nullable(session.AccessTokenJTI),
		nullable(session.RefreshTokenJTI),
		nullable(session.TokenFamily),
		nullable(session.IPAddress),
		nullable(session.IPHash),
		nullable(session.UserAgent),
		nullable(session.UserAgentHash),
		nullable(session.DeviceFingerprint),
		nullable(session.Geolocation),
		session.RiskScore,
		session.IsActive,
		session.LastActivityAt,
		session.ExpiresAt,
		session.RevokedAt,
		nullable(session.RevokedReason),
		session.CreatedAt,
		session.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("postgres_session_store_create_failed: %w", err)
	}

	return nil
}

/*
FindByID retrieves a session by its primary key, in any state.

Parameters:
  - ctx: context.Context
  - id: string (UUIDv7)

Returns:
  - *Session: Hydrated session entity
  - error: ErrNotFound or execution errors
*/
func (store *PostgresStore) FindByID(ctx context.Context, id string) (*Session, error) {
	query := "SELECT " + sessionColumns + " FROM portal.session WHERE id = $1"
	return store.findOne(ctx, query, id)
}

/*
FindByAccessTokenJTI retrieves the session bound to an access-token JTI.

Description: Used by the session middleware after cryptographic token
verification; the caller decides what an inactive or expired session means.

Returns:
  - *Session: Hydrated session entity, any state
  - error: ErrNotFound or execution errors
*/
func (store *PostgresStore) FindByAccessTokenJTI(ctx context.Context, jti string) (*Session, error) {
	query := "SELECT " + sessionColumns + " FROM portal.session WHERE accesstokenjti = $1"
	return store.findOne(ctx, query, jti)
}

/*
FindByRefreshTokenJTI retrieves the session bound to a refresh-token JTI in
ANY state.

Description: The rotation engine's reuse check depends on seeing sessions
that were already rotated away; filtering to active rows here would make
token reuse invisible.

Returns:
  - *Session: Hydrated session entity, any state
  - error: ErrNotFound or execution errors
*/
func (store *PostgresStore) FindByRefreshTokenJTI(ctx context.Context, jti string) (*Session, error) {
	query := "SELECT " + sessionColumns + " FROM portal.session WHERE refreshtokenjti = $1"
	return store.findOne(ctx, query, jti)
}

/*
FindActiveByRefreshTokenJTI retrieves only a live session for the JTI.

Returns:
  - *Session: Active, unexpired session
  - error: ErrNotFound or execution errors
*/
func (store *PostgresStore) FindActiveByRefreshTokenJTI(ctx context.Context, jti string) (*Session, error) {
	query := "SELECT " + sessionColumns + `
		FROM portal.session
		WHERE refreshtokenjti = $1 AND isactive = TRUE AND expiresat > NOW()`
	return store.findOne(ctx, query, jti)
}

/*
FindActiveByUserID lists every live session for a user, newest first.

Description: Backs the device-management view and the all-device logout.

Returns:
  - []*Session: Active sessions ordered by creation time descending
  - error: Execution errors (an empty list is not an error)
*/
func (store *PostgresStore) FindActiveByUserID(ctx context.Context, userID string) ([]*Session, error) {
	query := "SELECT " + sessionColumns + `
		FROM portal.session
		WHERE userid = $1 AND isactive = TRUE AND expiresat > NOW()
		ORDER BY createdat DESC`

	rows, err := store.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres_session_store_find_active_by_user_failed: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres_session_store_scan_failed: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres_session_store_rows_failed: %w", err)
	}

	return sessions, nil
}

/*
UpdateLastActivity refreshes the session's activity timestamp.

Description: Single-writer per session; relies on row-level atomicity, no
application-side locking.

Returns:
  - error: Execution errors
*/
func (store *PostgresStore) UpdateLastActivity(ctx context.Context, id string) error {
	const query = "UPDATE portal.session SET lastactivityat = NOW(), updatedat = NOW() WHERE id = $1"
	if _, err := store.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("postgres_session_store_update_activity_failed: %w", err)
	}
	return nil
}

/*
UpdateRiskScore stores a re-evaluated risk assessment on the session.

Parameters:
  - ctx: context.Context
  - id: string
  - score: int (0-100)

Returns:
  - error: Execution errors
*/
func (store *PostgresStore) UpdateRiskScore(ctx context.Context, id string, score int) error {
	const query = "UPDATE portal.session SET riskscore = $2, updatedat = NOW() WHERE id = $1"
	if _, err := store.pool.Exec(ctx, query, id, score); err != nil {
		return fmt.Errorf("postgres_session_store_update_risk_failed: %w", err)
	}
	return nil
}

/*
UpdateJTIs rebinds the session to a freshly issued token pair.

Returns:
  - error: Execution errors
*/
func (store *PostgresStore) UpdateJTIs(ctx context.Context, id, accessJTI, refreshJTI string) error {
	const query = `
		UPDATE portal.session
		SET accesstokenjti = $2, refreshtokenjti = $3, updatedat = NOW()
		WHERE id = $1`
	if _, err := store.pool.Exec(ctx, query, id, nullable(accessJTI), nullable(refreshJTI)); err != nil {
		return fmt.Errorf("postgres_session_store_update_jtis_failed: %w", err)
	}
	return nil
}

/*
RevokeSession marks a session as revoked with a reason.

Description: Idempotent; an already-revoked session keeps its original
revocation reason and timestamp.

Returns:
  - error: Execution errors
*/
func (store *PostgresStore) RevokeSession(ctx context.Context, id, reason string) error {
	const query = `
		UPDATE portal.session
		SET isactive = FALSE, revokedat = NOW(), revokedreason = $2, updatedat = NOW()
		WHERE id = $1 AND isactive = TRUE`
	if _, err := store.pool.Exec(ctx, query, id, reason); err != nil {
		return fmt.Errorf("postgres_session_store_revoke_failed: %w", err)
	}
	return nil
}

/*
RevokeIfActive revokes the session only when it is still active.

Description: The conditional update is the serialization point for
concurrent refresh attempts: of two racing rotations of the same token,
exactly one sees a row flip and wins; the other observes zero rows and
treats the token as reused.

Returns:
  - bool: True when this call performed the revocation
  - error: Execution errors
*/
func (store *PostgresStore) RevokeIfActive(ctx context.Context, id, reason string) (bool, error) {
	const query = `
		UPDATE portal.session
		SET isactive = FALSE, revokedat = NOW(), revokedreason = $2, updatedat = NOW()
		WHERE id = $1 AND isactive = TRUE`

	tag, err := store.pool.Exec(ctx, query, id, reason)
	if err != nil {
		return false, fmt.Errorf("postgres_session_store_revoke_if_active_failed: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

/*
RevokeAllUserSessions revokes every active session belonging to a user.

Description: Security response to password changes and account-level
revocations.

Returns:
  - int: Number of sessions revoked
  - error: Execution errors
*/
func (store *PostgresStore) RevokeAllUserSessions(ctx context.Context, userID, reason string) (int, error) {
	const query = `
		UPDATE portal.session
		SET isactive = FALSE, revokedat = NOW(), revokedreason = $2, updatedat = NOW()
		WHERE userid = $1 AND isactive = TRUE`

	tag, err := store.pool.Exec(ctx, query, userID, reason)
	if err != nil {
		return 0, fmt.Errorf("postgres_session_store_revoke_all_failed: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

/*
RevokeOtherUserSessions revokes a user's active sessions except one.

Description: Security response to a password change: every other device is
signed out, the device that changed the password keeps its session.

Returns:
  - int: Number of sessions revoked
  - error: Execution errors
*/
func (store *PostgresStore) RevokeOtherUserSessions(ctx context.Context, userID, keepSessionID, reason string) (int, error) {
	const query = `
		UPDATE portal.session
		SET isactive = FALSE, revokedat = NOW(), revokedreason = $3, updatedat = NOW()
		WHERE userid = $1 AND id != $2 AND isactive = TRUE`

	tag, err := store.pool.Exec(ctx, query, userID, keepSessionID, reason)
	if err != nil {
		return 0, fmt.Errorf("postgres_session_store_revoke_others_failed: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

/*
RevokeFamily revokes every active session in a refresh-token family.

Description: Containment action after detected token reuse; the whole
rotation lineage is treated as compromised.

Returns:
  - int: Number of sessions revoked
  - error: Execution errors
*/
func (store *PostgresStore) RevokeFamily(ctx context.Context, tokenFamily, reason string) (int, error) {
	const query = `
		UPDATE portal.session
		SET isactive = FALSE, revokedat = NOW(), revokedreason = $2, updatedat = NOW()
		WHERE tokenfamily = $1 AND isactive = TRUE`

	tag, err := store.pool.Exec(ctx, query, tokenFamily, reason)
	if err != nil {
		return 0, fmt.Errorf("postgres_session_store_revoke_family_failed: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

/*
CleanupExpiredSessions permanently removes sessions past their expiration.

Description: Hourly reclamation task; removes expired rows regardless of
active/revoked state.

Returns:
  - int: Number of sessions deleted
  - error: Cleanup failures
*/
func (store *PostgresStore) CleanupExpiredSessions(ctx context.Context) (int, error) {
	const query = "DELETE FROM portal.session WHERE expiresat <= NOW()"

	tag, err := store.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("postgres_session_store_cleanup_failed: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// # Row Mapping

// findOne runs a single-row query and maps pgx.ErrNoRows to ErrNotFound.
func (store *PostgresStore) findOne(ctx context.Context, query string, args ...any) (*Session, error) {
	row := store.pool.QueryRow(ctx, query, args...)

	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("postgres_session_store_find_failed: %w", err)
	}

	return session, nil
}

// scanSession hydrates one session row, folding NULL text columns back to
// empty strings.
func scanSession(row pgx.Row) (*Session, error) {
	session := &Session{}
	var accessJTI, refreshJTI, tokenFamily *string
	var ipAddress, ipHash, userAgent, userAgentHash, fingerprint, geolocation, revokedReason *string

	err := row.Scan(
		&session.ID,
		&session.UserID,
		&accessJTI,
		&refreshJTI,
		&tokenFamily,
		&ipAddress,
		&ipHash,
		&userAgent,
		&userAgentHash,
		&fingerprint,
		&geolocation,
		&session.RiskScore,
		&session.IsActive,
		&session.LastActivityAt,
		&session.ExpiresAt,
		&session.RevokedAt,
		&revokedReason,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	session.AccessTokenJTI = deref(accessJTI)
	session.RefreshTokenJTI = deref(refreshJTI)
	session.TokenFamily = deref(tokenFamily)
	session.IPAddress = deref(ipAddress)
	session.IPHash = deref(ipHash)
	session.UserAgent = deref(userAgent)
	session.UserAgentHash = deref(userAgentHash)
	session.DeviceFingerprint = deref(fingerprint)
	session.Geolocation = deref(geolocation)
	session.RevokedReason = deref(revokedReason)

	return session, nil
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
