// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// # Postgres Store

const eventColumns = `
	id, userid, sessionid, eventtype, eventseverity, result,
	ipaddress, useragent, resource, action, metadata, riskindicators,
	eventhash, previouseventhash, createdat`

// PostgresStore implements the Store interface over portal.auditevent.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL implementation of the Store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

/*
Append persists one audit event.

Description: Insert-only; the table carries no update path. Empty optional
fields are stored as NULL.

Parameters:
  - ctx: context.Context
  - event: *Event (fully populated, including hashes)

Returns:
  - error: Constraint violations or connectivity errors
*/
func (store *PostgresStore) Append(ctx context.Context, event *Event) error {
	const query = `
		INSERT INTO portal.auditevent (
			id, userid, sessionid, eventtype, eventseverity, result,
			ipaddress, useragent, resource, action, metadata, riskindicators,
			eventhash, previouseventhash, createdat
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := store.pool.Exec(ctx, query,
		event.ID,
		nullable(event.UserID),
		nullable(event.SessionID),
		string(event.EventType),
		string(event.Severity),
		string(event.Result),
		nullable(event.IPAddress),
		nullable(event.UserAgent),
		nullable(event.Resource),
		nullable(event.Action),
		event.Metadata,
		event.RiskIndicators,
		event.EventHash,
		nullable(event.PreviousEventHash),
		event.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("postgres_audit_store_append_failed: %w", err)
	}

	return nil
}

/*
LatestHash returns the hash of the newest event in the log.

Returns:
  - string: Hex digest, or "" for an empty log
  - error: Execution errors
*/
func (store *PostgresStore) LatestHash(ctx context.Context) (string, error) {
	const query = "SELECT eventhash FROM portal.auditevent ORDER BY createdat DESC, id DESC LIMIT 1"

	var hash string
	err := store.pool.QueryRow(ctx, query).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("postgres_audit_store_latest_hash_failed: %w", err)
	}

	return hash, nil
}

/*
FindByUser lists a user's events, newest first.

Returns:
  - []*Event: At most limit events
  - error: Execution errors
*/
func (store *PostgresStore) FindByUser(ctx context.Context, userID string, limit int) ([]*Event, error) {
	query := "SELECT " + eventColumns + `
		FROM portal.auditevent
		WHERE userid = $1
		ORDER BY createdat DESC
		LIMIT $2`
	return store.findMany(ctx, query, userID, limit)
}

/*
FindBySession lists one session's events, newest first.

Returns:
  - []*Event: At most limit events
  - error: Execution errors
*/
func (store *PostgresStore) FindBySession(ctx context.Context, sessionID string, limit int) ([]*Event, error) {
	query := "SELECT " + eventColumns + `
		FROM portal.auditevent
		WHERE sessionid = $1
		ORDER BY createdat DESC
		LIMIT $2`
	return store.findMany(ctx, query, sessionID, limit)
}

/*
FindByType lists events of one type, newest first.

Returns:
  - []*Event: At most limit events
  - error: Execution errors
*/
func (store *PostgresStore) FindByType(ctx context.Context, eventType EventType, limit int) ([]*Event, error) {
	query := "SELECT " + eventColumns + `
		FROM portal.auditevent
		WHERE eventtype = $1
		ORDER BY createdat DESC
		LIMIT $2`
	return store.findMany(ctx, query, string(eventType), limit)
}

/*
FindSevereSince lists warning-or-worse events created after the cutoff.

Description: Backs the suspicious-activity window used by the risk engine's
user-history factor.

Returns:
  - []*Event: Newest first
  - error: Execution errors
*/
func (store *PostgresStore) FindSevereSince(ctx context.Context, cutoff time.Time) ([]*Event, error) {
	query := "SELECT " + eventColumns + `
		FROM portal.auditevent
		WHERE eventseverity IN ('warning', 'error', 'critical') AND createdat > $1
		ORDER BY createdat DESC`
	return store.findMany(ctx, query, cutoff)
}

/*
FindRecent lists the newest events across the whole log.

Returns:
  - []*Event: At most limit events
  - error: Execution errors
*/
func (store *PostgresStore) FindRecent(ctx context.Context, limit int) ([]*Event, error) {
	query := "SELECT " + eventColumns + `
		FROM portal.auditevent
		ORDER BY createdat DESC
		LIMIT $1`
	return store.findMany(ctx, query, limit)
}

// # Row Mapping

func (store *PostgresStore) findMany(ctx context.Context, query string, args ...any) ([]*Event, error) {
	rows, err := store.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres_audit_store_query_failed: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres_audit_store_scan_failed: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres_audit_store_rows_failed: %w", err)
	}

	return events, nil
}

func scanEvent(row pgx.Row) (*Event, error) {
	event := &Event{}
	var userID, sessionID, ipAddress, userAgent, resource, action, previousHash *string
	var eventType, severity, result string

	err := row.Scan(
		&event.ID,
		&userID,
		&sessionID,
		&eventType,
		&severity,
		&result,
		&ipAddress,
		&userAgent,
		&resource,
		&action,
		&event.Metadata,
		&event.RiskIndicators,
		&event.EventHash,
		&previousHash,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	event.UserID = deref(userID)
	event.SessionID = deref(sessionID)
	event.EventType = EventType(eventType)
	event.Severity = Severity(severity)
	event.Result = Result(result)
	event.IPAddress = deref(ipAddress)
	event.UserAgent = deref(userAgent)
	event.Resource = deref(resource)
	event.Action = deref(action)
	event.PreviousEventHash = deref(previousHash)

	return event, nil
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
