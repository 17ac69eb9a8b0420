// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package audit

import (
	"context"
	"time"
)

// Store is the persistence contract for audit events. Implementations are
// append-only: there is deliberately no update or delete.
type Store interface {
	Append(ctx context.Context, event *Event) error

	// LatestHash returns the hash of the most recent event, or "" when the
	// log is empty. Used to seed the chain on startup.
	LatestHash(ctx context.Context) (string, error)

	FindByUser(ctx context.Context, userID string, limit int) ([]*Event, error)
	FindBySession(ctx context.Context, sessionID string, limit int) ([]*Event, error)
	FindByType(ctx context.Context, eventType EventType, limit int) ([]*Event, error)

	// FindSevereSince lists warning-or-worse events created after the
	// cutoff; backs the "suspicious activity in the last N hours" queries.
	FindSevereSince(ctx context.Context, cutoff time.Time) ([]*Event, error)

	FindRecent(ctx context.Context, limit int) ([]*Event, error)
}
