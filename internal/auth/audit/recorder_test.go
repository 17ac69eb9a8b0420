// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryStore collects appended events; optionally failing every write.
type memoryStore struct {
	events  []*Event
	failing bool
}

func (store *memoryStore) Append(_ context.Context, event *Event) error {
	if store.failing {
		return errors.New("store unavailable")
	}
	copied := *event
	store.events = append(store.events, &copied)
	return nil
}

func (store *memoryStore) LatestHash(context.Context) (string, error) {
	if len(store.events) == 0 {
		return "", nil
	}
	return store.events[len(store.events)-1].EventHash, nil
}

func (store *memoryStore) FindByUser(context.Context, string, int) ([]*Event, error) {
	return nil, nil
}
func (store *memoryStore) FindBySession(context.Context, string, int) ([]*Event, error) {
	return nil, nil
}
func (store *memoryStore) FindByType(context.Context, EventType, int) ([]*Event, error) {
	return nil, nil
}
func (store *memoryStore) FindSevereSince(context.Context, time.Time) ([]*Event, error) {
	return nil, nil
}
func (store *memoryStore) FindRecent(context.Context, int) ([]*Event, error) {
	return nil, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestComputeHashIsDeterministic(t *testing.T) {
	event := &Event{
		ID:        "event-1",
		UserID:    "user-1",
		EventType: EventUserLogin,
		Severity:  SeverityInfo,
		Result:    ResultSuccess,
		Metadata:  map[string]any{"zeta": 1, "alpha": "x"},
		CreatedAt: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
	}

	first, err := ComputeHash(event, "")
	require.NoError(t, err)
	second, err := ComputeHash(event, "")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)

	// Any field change or a different predecessor changes the digest.
	event.Result = ResultFailure
	changed, err := ComputeHash(event, "")
	require.NoError(t, err)
	assert.NotEqual(t, first, changed)

	chained, err := ComputeHash(event, first)
	require.NoError(t, err)
	assert.NotEqual(t, changed, chained)
}

func TestRecordFillsIdentityAndDefaults(t *testing.T) {
	store := &memoryStore{}
	recorder := NewRecorder(store, false, discardLogger())

	recorder.Record(context.Background(), &Event{
		UserID:    "user-1",
		EventType: EventUserLogin,
		IPAddress: "203.0.113.10",
	})

	require.Len(t, store.events, 1)
	recorded := store.events[0]
	assert.NotEmpty(t, recorded.ID)
	assert.NotEmpty(t, recorded.EventHash)
	assert.Empty(t, recorded.PreviousEventHash)
	assert.Equal(t, SeverityInfo, recorded.Severity)
	assert.Equal(t, ResultSuccess, recorded.Result)
	assert.Equal(t, "203.0.113.10", recorded.IPAddress)
}

func TestRecordSanitizesInvalidIP(t *testing.T) {
	store := &memoryStore{}
	recorder := NewRecorder(store, false, discardLogger())

	recorder.Record(context.Background(), &Event{
		EventType: EventUserLogin,
		IPAddress: "not-an-address",
	})

	require.Len(t, store.events, 1)
	assert.Empty(t, store.events[0].IPAddress)
}

func TestChainLinksEachEventToItsPredecessor(t *testing.T) {
	store := &memoryStore{}
	recorder := NewRecorder(store, true, discardLogger())

	for i := 0; i < 3; i++ {
		recorder.Record(context.Background(), &Event{EventType: EventTokenRefresh})
	}

	require.Len(t, store.events, 3)
	assert.Empty(t, store.events[0].PreviousEventHash)
	assert.Equal(t, store.events[0].EventHash, store.events[1].PreviousEventHash)
	assert.Equal(t, store.events[1].EventHash, store.events[2].PreviousEventHash)

	// Each event's hash verifies against its recorded predecessor.
	for _, recorded := range store.events {
		recomputed, err := ComputeHash(recorded, recorded.PreviousEventHash)
		require.NoError(t, err)
		assert.Equal(t, recorded.EventHash, recomputed)
	}
}

func TestChainSeedsFromExistingLog(t *testing.T) {
	store := &memoryStore{events: []*Event{{ID: "old", EventHash: "deadbeef"}}}
	recorder := NewRecorder(store, true, discardLogger())

	recorder.Record(context.Background(), &Event{EventType: EventUserLogout})

	require.Len(t, store.events, 2)
	assert.Equal(t, "deadbeef", store.events[1].PreviousEventHash)
}

func TestRecordNeverPanicsOrFailsOnStoreErrors(t *testing.T) {
	store := &memoryStore{failing: true}
	recorder := NewRecorder(store, true, discardLogger())

	assert.NotPanics(t, func() {
		recorder.Record(context.Background(), &Event{EventType: EventUserLogin})
	})
	assert.Empty(t, store.events)
}
