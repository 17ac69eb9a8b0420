// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package keys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/platform/constants"
	"github.com/meridianhq/meridian/pkg/uuid"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	manager := NewManager(context.Background(), store, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, manager.WaitReady(context.Background()))

	return manager
}

func newTestKeyPair(t *testing.T, createdAt time.Time, expiresAt *time.Time) *KeyPair {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	return &KeyPair{
		KeyID:      uuid.New(),
		Algorithm:  AlgPS256,
		PrivateKey: privateKey,
		CreatedAt:  createdAt,
		ExpiresAt:  expiresAt,
	}
}

func TestManagerGeneratesKeyOnEmptyStore(t *testing.T) {
	manager := newTestManager(t)

	pair, err := manager.SigningKey()
	require.NoError(t, err)
	assert.True(t, pair.IsActive)
	assert.Equal(t, AlgPS256, pair.Algorithm)
	require.NotNil(t, pair.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(constants.KeyExpiry), *pair.ExpiresAt, time.Minute)
}

func TestManagerReusesPersistedActiveKey(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	expiresAt := time.Now().Add(constants.KeyExpiry)
	persisted := newTestKeyPair(t, time.Now(), &expiresAt)
	persisted.IsActive = true
	require.NoError(t, store.Save(persisted))

	manager := NewManager(context.Background(), store, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, manager.WaitReady(context.Background()))

	assert.Equal(t, persisted.KeyID, manager.ActiveKeyID())
}

func TestManagerReactivatesNewestViableKey(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	expiresAt := time.Now().Add(constants.KeyExpiry)
	older := newTestKeyPair(t, time.Now().Add(-48*time.Hour), &expiresAt)
	newer := newTestKeyPair(t, time.Now().Add(-time.Hour), &expiresAt)
	require.NoError(t, store.Save(older))
	require.NoError(t, store.Save(newer))

	manager := NewManager(context.Background(), store, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, manager.WaitReady(context.Background()))

	assert.Equal(t, newer.KeyID, manager.ActiveKeyID())
}

func TestManagerDemotesDuplicateActiveKeys(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	expiresAt := time.Now().Add(constants.KeyExpiry)
	older := newTestKeyPair(t, time.Now().Add(-48*time.Hour), &expiresAt)
	older.IsActive = true
	newer := newTestKeyPair(t, time.Now().Add(-time.Hour), &expiresAt)
	newer.IsActive = true
	require.NoError(t, store.Save(older))
	require.NoError(t, store.Save(newer))

	manager := NewManager(context.Background(), store, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, manager.WaitReady(context.Background()))

	assert.Equal(t, newer.KeyID, manager.ActiveKeyID())

	// The demoted extra still verifies through its grace window.
	_, err = manager.VerificationKey(older.KeyID)
	assert.NoError(t, err)
}

func TestRotateKeepsOldKeyVerifyingThroughGrace(t *testing.T) {
	manager := newTestManager(t)

	before, err := manager.SigningKey()
	require.NoError(t, err)

	after, err := manager.Rotate(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, before.KeyID, after.KeyID)

	assert.Equal(t, after.KeyID, manager.ActiveKeyID())

	// Old key: no longer signs, still verifies.
	assert.False(t, before.IsActive)
	_, err = manager.VerificationKey(before.KeyID)
	assert.NoError(t, err)

	_, err = manager.VerificationKey(after.KeyID)
	assert.NoError(t, err)
}

func TestVerificationKeyRejectsUnknownAndRetired(t *testing.T) {
	manager := newTestManager(t)

	_, err := manager.VerificationKey("no-such-key")
	assert.ErrorIs(t, err, ErrUnknownKey)

	// A key with an elapsed grace window no longer verifies.
	expiresAt := time.Now().Add(time.Hour)
	retired := newTestKeyPair(t, time.Now().Add(-time.Hour), &expiresAt)
	lapsed := time.Now().Add(-time.Minute)
	retired.GracePeriodUntil = &lapsed

	manager.mu.Lock()
	manager.keys[retired.KeyID] = retired
	manager.mu.Unlock()

	_, err = manager.VerificationKey(retired.KeyID)
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestCleanupPurgesOnlyPastHardGrace(t *testing.T) {
	manager := newTestManager(t)

	// Expired but inside the hard grace: retained.
	recentExpiry := time.Now().Add(-time.Hour)
	recent := newTestKeyPair(t, time.Now().Add(-30*24*time.Hour), &recentExpiry)

	// Expired past the hard grace: purged.
	oldExpiry := time.Now().Add(-constants.KeyHardGrace - time.Hour)
	stale := newTestKeyPair(t, time.Now().Add(-120*24*time.Hour), &oldExpiry)

	require.NoError(t, manager.store.Save(recent))
	require.NoError(t, manager.store.Save(stale))
	manager.mu.Lock()
	manager.keys[recent.KeyID] = recent
	manager.keys[stale.KeyID] = stale
	manager.mu.Unlock()

	purged, err := manager.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	manager.mu.RLock()
	_, recentKept := manager.keys[recent.KeyID]
	_, staleKept := manager.keys[stale.KeyID]
	manager.mu.RUnlock()
	assert.True(t, recentKept)
	assert.False(t, staleKept)
}

func TestCleanupDropsElapsedGraceState(t *testing.T) {
	manager := newTestManager(t)

	expiresAt := time.Now().Add(constants.KeyExpiry)
	demoted := newTestKeyPair(t, time.Now().Add(-time.Hour), &expiresAt)
	lapsed := time.Now().Add(-time.Minute)
	demoted.GracePeriodUntil = &lapsed

	require.NoError(t, manager.store.Save(demoted))
	manager.mu.Lock()
	manager.keys[demoted.KeyID] = demoted
	manager.mu.Unlock()

	_, err := manager.Cleanup(context.Background())
	require.NoError(t, err)

	assert.Nil(t, demoted.GracePeriodUntil)
	_, err = manager.VerificationKey(demoted.KeyID)
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestSigningNeverFallsBackToGraceKeys(t *testing.T) {
	manager := newTestManager(t)

	manager.mu.Lock()
	active := manager.keys[manager.activeID]
	active.IsActive = false
	graceUntil := time.Now().Add(time.Hour)
	active.GracePeriodUntil = &graceUntil
	manager.activeID = ""
	manager.mu.Unlock()

	_, err := manager.SigningKey()
	assert.ErrorIs(t, err, ErrNoActiveKey)
}

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	expiresAt := time.Now().Add(constants.KeyExpiry).Truncate(time.Second)
	graceUntil := time.Now().Add(time.Hour).Truncate(time.Second)
	original := newTestKeyPair(t, time.Now().Truncate(time.Second), &expiresAt)
	original.GracePeriodUntil = &graceUntil

	require.NoError(t, store.Save(original))

	loaded, problems := store.LoadAll()
	require.Empty(t, problems)
	require.Len(t, loaded, 1)

	assert.Equal(t, original.KeyID, loaded[0].KeyID)
	assert.Equal(t, original.Algorithm, loaded[0].Algorithm)
	assert.True(t, original.PrivateKey.Equal(loaded[0].PrivateKey))
	assert.True(t, expiresAt.Equal(*loaded[0].ExpiresAt))
	assert.True(t, graceUntil.Equal(*loaded[0].GracePeriodUntil))
}

func TestFileStoreSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	good := newTestKeyPair(t, time.Now(), nil)
	require.NoError(t, store.Save(good))

	corruptPath := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corruptPath, []byte("{not json"), 0o600))

	loaded, problems := store.LoadAll()
	assert.Len(t, loaded, 1)
	assert.Len(t, problems, 1)
}

func TestJWKSExportsOnlyVerifyingKeys(t *testing.T) {
	manager := newTestManager(t)

	expiredAt := time.Now().Add(-time.Hour)
	expired := newTestKeyPair(t, time.Now().Add(-48*time.Hour), &expiredAt)

	graceUntil := time.Now().Add(time.Hour)
	inGrace := newTestKeyPair(t, time.Now().Add(-time.Hour), nil)
	inGrace.GracePeriodUntil = &graceUntil

	manager.mu.Lock()
	manager.keys[expired.KeyID] = expired
	manager.keys[inGrace.KeyID] = inGrace
	manager.mu.Unlock()

	document := manager.JWKS()
	require.Len(t, document.Keys, 2)

	seen := make(map[string]JWK, len(document.Keys))
	for _, jwk := range document.Keys {
		seen[jwk.KeyID] = jwk

		assert.Equal(t, "RSA", jwk.KeyType)
		assert.Equal(t, "sig", jwk.Use)
		assert.NotEmpty(t, jwk.Modulus)
		assert.NotEmpty(t, jwk.Exponent)
	}

	assert.Contains(t, seen, manager.ActiveKeyID())
	assert.Contains(t, seen, inGrace.KeyID)
	assert.NotContains(t, seen, expired.KeyID)
}
