// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/meridianhq/meridian/internal/platform/validate"
	"github.com/meridianhq/meridian/pkg/uuid"
)

// # Recorder

// Recorder is the write front of the audit log.
//
// # Failure Policy
//
// Record never fails its caller: a login that cannot be audited is still a
// login. Write errors are logged with the full event context so operators
// can reconcile the gap.
//
// # Chaining
//
// In chain mode the recorder serializes appends behind a mutex so each
// event's PreviousEventHash is exactly its predecessor's EventHash. The tip
// hash is kept in memory and seeded from the store on first use.
type Recorder struct {
	store        Store
	logger       *slog.Logger
	chainEnabled bool

	mu       sync.Mutex
	tipHash  string
	tipKnown bool
}

// NewRecorder constructs a recorder over the given store.
func NewRecorder(store Store, chainEnabled bool, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:        store,
		logger:       logger,
		chainEnabled: chainEnabled,
	}
}

/*
Record appends one audit event, filling in identity, sanitation, and
integrity fields.

Description: Assigns a fresh ID and timestamp, drops structurally invalid
IP addresses, computes the event hash, and links the chain when enabled.
Failures are logged and swallowed.

Parameters:
  - ctx: context.Context
  - event: *Event (caller fills the domain fields; ID, hashes, and
    CreatedAt are overwritten here)
*/
func (recorder *Recorder) Record(ctx context.Context, event *Event) {
	event.ID = uuid.New()
	event.CreatedAt = time.Now()
	event.IPAddress = validate.SanitizeIP(event.IPAddress)

	if event.Severity == "" {
		event.Severity = SeverityInfo
	}
	if event.Result == "" {
		event.Result = ResultSuccess
	}

	if recorder.chainEnabled {
		recorder.recordChained(ctx, event)
		return
	}

	hash, err := ComputeHash(event, "")
	if err != nil {
		recorder.dropped(event, err)
		return
	}
	event.EventHash = hash

	if err := recorder.store.Append(ctx, event); err != nil {
		recorder.dropped(event, err)
	}
}

// recordChained appends under the chain mutex so predecessor linkage is
// never reordered by concurrent writers.
func (recorder *Recorder) recordChained(ctx context.Context, event *Event) {
	recorder.mu.Lock()
	defer recorder.mu.Unlock()

	if !recorder.tipKnown {
		tip, err := recorder.store.LatestHash(ctx)
		if err != nil {
			recorder.dropped(event, err)
			return
		}
		recorder.tipHash = tip
		recorder.tipKnown = true
	}

	event.PreviousEventHash = recorder.tipHash

	hash, err := ComputeHash(event, recorder.tipHash)
	if err != nil {
		recorder.dropped(event, err)
		return
	}
	event.EventHash = hash

	if err := recorder.store.Append(ctx, event); err != nil {
		recorder.dropped(event, err)
		return
	}

	recorder.tipHash = hash
}

// dropped logs an event the store refused; the audited operation proceeds.
func (recorder *Recorder) dropped(event *Event, err error) {
	recorder.logger.Error("audit_event_dropped",
		slog.String("event_type", string(event.EventType)),
		slog.String("severity", string(event.Severity)),
		slog.String("user_id", event.UserID),
		slog.String("session_id", event.SessionID),
		slog.Any("error", err),
	)
}
