// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

/*
Package audit implements the append-only security event log.

Every security-relevant operation in the portal (logins, rotations,
revocations, denied authorizations, step-up flows) leaves an event here.
Events are never mutated or deleted.

# Tamper Evidence

Each event carries a SHA-256 hash over its canonical JSON serialization.
When hash chaining is enabled, the hash additionally covers the previous
event's hash, so rewriting history invalidates every later event.

# Failure Policy

Auditing never takes the audited operation down with it: the Recorder logs
write failures locally and returns nothing to its caller.
*/
package audit

import (
	"time"
)

// # Event Vocabulary

// EventType enumerates the security events the portal records.
type EventType string

const (
	EventUserLogin          EventType = "user_login"
	EventUserLogout         EventType = "user_logout"
	EventUserRegister       EventType = "user_register"
	EventPasswordChange     EventType = "password_change"
	EventTokenRefresh       EventType = "token_refresh"
	EventTokenRevoked       EventType = "token_revoked"
	EventSessionCreated     EventType = "session_created"
	EventSessionRevoked     EventType = "session_revoked"
	EventPermissionDenied   EventType = "permission_denied"
	EventStepUpRequired     EventType = "step_up_required"
	EventStepUpCompleted    EventType = "step_up_completed"
	EventSuspiciousActivity EventType = "suspicious_activity"
	EventAccountLocked      EventType = "account_locked"
	EventAccountUnlocked    EventType = "account_unlocked"
)

// Severity grades an event for alerting and retention.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Result records how the audited operation ended.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultDenied  Result = "denied"
)

// # Domain Entity

// Event is one immutable audit record.
type Event struct {
	ID        string
	UserID    string
	SessionID string

	EventType EventType
	Severity  Severity
	Result    Result

	IPAddress string
	UserAgent string
	Resource  string
	Action    string

	// Metadata holds operation-specific context; RiskIndicators holds the
	// risk factors that fired, if any. Both are stored as JSONB.
	Metadata       map[string]any
	RiskIndicators map[string]any

	// EventHash is the integrity hash of this event; PreviousEventHash
	// links it to its predecessor when chaining is enabled.
	EventHash         string
	PreviousEventHash string

	CreatedAt time.Time
}
