// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// # Integrity Hashing

/*
ComputeHash derives the integrity hash for an event.

Description: The hash covers a canonical JSON serialization of every field
except the hash fields themselves, concatenated with the previous event's
hash (empty when chaining is off or the log is empty). Canonical form relies
on encoding/json's deterministic key ordering for maps, so equal events
always hash equally.

Parameters:
  - event: *Event (hash fields ignored)
  - previousHash: string (empty outside chain mode)

Returns:
  - string: Hex-encoded SHA-256 digest
  - error: Serialization failures (non-JSON-encodable metadata)
*/
func ComputeHash(event *Event, previousHash string) (string, error) {
	canonical, err := canonicalPayload(event)
	if err != nil {
		return "", err
	}

	digest := sha256.Sum256(append(canonical, []byte(previousHash)...))
	return hex.EncodeToString(digest[:]), nil
}

// canonicalPayload serializes the hashable fields in a deterministic order.
//
// A map is used deliberately: encoding/json sorts map keys, which gives a
// canonical byte form without a custom serializer. Timestamps are fixed to
// UTC RFC 3339 with nanoseconds so the form is independent of server zone.
func canonicalPayload(event *Event) ([]byte, error) {
	payload := map[string]any{
		"id":             event.ID,
		"userId":         event.UserID,
		"sessionId":      event.SessionID,
		"eventType":      string(event.EventType),
		"severity":       string(event.Severity),
		"result":         string(event.Result),
		"ipAddress":      event.IPAddress,
		"userAgent":      event.UserAgent,
		"resource":       event.Resource,
		"action":         event.Action,
		"metadata":       event.Metadata,
		"riskIndicators": event.RiskIndicators,
		"createdAt":      event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}

	canonical, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("audit: event not serializable: %w", err)
	}

	return canonical, nil
}
