// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package keys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/meridianhq/meridian/internal/platform/constants"
	"github.com/meridianhq/meridian/pkg/uuid"
)

// # Key Manager

// Manager owns the in-memory key index and the single active signing key.
//
// # Concurrency
//
// Verification reads vastly outnumber writes, so the index sits behind a
// read-biased RWMutex. The only writers are rotation, cleanup, and the
// background initial load.
//
// # Initialization
//
// New returns immediately with an empty index while loading runs in a
// goroutine; callers that must not race the load wait on [Manager.Ready].
// Verification before the load completes fails with ErrUnknownKey, which
// higher layers translate into a re-authentication hint.
type Manager struct {
	store       *FileStore
	graceWindow time.Duration
	logger      *slog.Logger

	mu       sync.RWMutex
	keys     map[string]*KeyPair
	activeID string

	ready chan struct{}
}

// NewManager constructs a key manager and starts loading persisted keys in
// the background.
//
// # Parameters
//   - ctx: Governs the background load; cancelling it abandons initialization.
//   - store: File-backed key persistence.
//   - graceWindow: Post-rotation verification window for demoted keys.
//   - logger: Structured logger for lifecycle events.
func NewManager(ctx context.Context, store *FileStore, graceWindow time.Duration, logger *slog.Logger) *Manager {
	manager := &Manager{
		store:       store,
		graceWindow: graceWindow,
		logger:      logger,
		keys:        make(map[string]*KeyPair),
		ready:       make(chan struct{}),
	}

	go manager.initialize(ctx)

	return manager
}

// Ready returns a channel that is closed once the initial load has finished
// and an active signing key is available (or the degraded state was logged).
func (manager *Manager) Ready() <-chan struct{} {
	return manager.ready
}

// WaitReady blocks until initialization completes or the context is done.
func (manager *Manager) WaitReady(ctx context.Context) error {
	select {
	case <-manager.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("keys: initialization wait aborted: %w", ctx.Err())
	}
}

// # Initialization

/*
initialize loads persisted keys and establishes the active signing key.

Description: Selection order follows the recovery ladder: newest persisted
active PS256 key, else reactivate the newest viable inactive key, else
generate a fresh 90-day key, else a 30-day fallback with logged degradation.
*/
func (manager *Manager) initialize(ctx context.Context) {
	defer close(manager.ready)

	loaded, problems := manager.store.LoadAll()
	for _, problem := range problems {
		manager.logger.Warn("key_load_skipped_file", slog.Any("error", problem))
	}

	if ctx.Err() != nil {
		manager.logger.Warn("key_initialization_abandoned", slog.Any("error", ctx.Err()))
		return
	}

	now := time.Now()

	manager.mu.Lock()
	for _, pair := range loaded {
		manager.keys[pair.KeyID] = pair
	}

	// 1. Prefer the newest persisted active PS256 key. Demote any extras so
	// the single-active invariant holds even after a messy shutdown.
	actives := manager.lockedSelect(func(k *KeyPair) bool {
		return k.IsActive && k.Algorithm == AlgPS256 && !k.Expired(now)
	})
	if len(actives) > 0 {
		sortNewestFirst(actives)
		manager.activeID = actives[0].KeyID
		for _, extra := range actives[1:] {
			extra.IsActive = false
			graceUntil := now.Add(manager.graceWindow)
			extra.GracePeriodUntil = &graceUntil
		}
	}

	// 2. Otherwise reactivate the newest non-expired key that is not merely
	// riding out a grace window.
	if manager.activeID == "" {
		candidates := manager.lockedSelect(func(k *KeyPair) bool {
			return !k.Expired(now) && !k.InGrace(now)
		})
		if len(candidates) > 0 {
			sortNewestFirst(candidates)
			candidates[0].IsActive = true
			manager.activeID = candidates[0].KeyID
			manager.logger.Info("key_reactivated", slog.String("key_id", manager.activeID))
		}
	}
	manager.mu.Unlock()

	// Persist state adjustments made above.
	manager.persistAll()

	// 3. No viable key on disk: generate a fresh one.
	if manager.ActiveKeyID() == "" {
		if _, err := manager.generateActive(constants.KeyExpiry); err != nil {
			manager.logger.Error("key_generation_failed", slog.Any("error", err))

			// 4. Degraded mode: a short-lived fallback key keeps the service
			// signing while the operator investigates.
			if _, fallbackErr := manager.generateActive(constants.KeyExpiryFallback); fallbackErr != nil {
				manager.logger.Error("key_fallback_generation_failed", slog.Any("error", fallbackErr))
			} else {
				manager.logger.Warn("key_manager_degraded",
					slog.Duration("fallback_expiry", constants.KeyExpiryFallback))
			}
		}
	}

	manager.logger.Info("key_manager_ready",
		slog.Int("keys_loaded", len(loaded)),
		slog.String("active_key_id", manager.ActiveKeyID()),
	)
}

// # Lookups

// SigningKey returns the single active key pair.
func (manager *Manager) SigningKey() (*KeyPair, error) {
	manager.mu.RLock()
	defer manager.mu.RUnlock()

	pair, ok := manager.keys[manager.activeID]
	if !ok || !pair.IsActive || pair.Expired(time.Now()) {
		return nil, ErrNoActiveKey
	}

	pair.MarkUsed(time.Now())
	return pair, nil
}

// VerificationKey returns the public key for the given key ID, provided the
// key is allowed to verify (active or within grace, and not expired).
func (manager *Manager) VerificationKey(keyID string) (*rsa.PublicKey, error) {
	manager.mu.RLock()
	defer manager.mu.RUnlock()

	pair, ok := manager.keys[keyID]
	if !ok || !pair.Verifies(time.Now()) {
		return nil, ErrUnknownKey
	}

	return pair.Public(), nil
}

// ActiveKeyID returns the current signing key's ID, or "" when none exists.
func (manager *Manager) ActiveKeyID() string {
	manager.mu.RLock()
	defer manager.mu.RUnlock()
	return manager.activeID
}

// # Rotation

/*
Rotate generates a new active signing key and demotes the previous one into
its grace window.

Description: The new key is persisted before it becomes visible; a disk
failure drops the generated key and leaves the old key active, so rotation
is all-or-nothing. In-flight verifications against the old key keep working
for the full grace window.

Returns:
  - *KeyPair: The freshly activated key
  - error: Generation or persistence failures
*/
func (manager *Manager) Rotate(ctx context.Context) (*KeyPair, error) {
	if err := manager.WaitReady(ctx); err != nil {
		return nil, err
	}

	now := time.Now()
	expiresAt := now.Add(constants.KeyExpiry)

	fresh, err := generateKeyPair(AlgPS256, now, &expiresAt)
	if err != nil {
		return nil, err
	}
	fresh.IsActive = true

	// Persist the new key first. If this fails nothing changed.
	if err := manager.store.Save(fresh); err != nil {
		return nil, err
	}

	manager.mu.Lock()
	previous := manager.keys[manager.activeID]
	if previous != nil {
		previous.IsActive = false
		graceUntil := now.Add(manager.graceWindow)
		previous.GracePeriodUntil = &graceUntil
	}
	manager.keys[fresh.KeyID] = fresh
	manager.activeID = fresh.KeyID
	manager.mu.Unlock()

	// Persist the demoted key and refresh the index outside the lock.
	if previous != nil {
		if err := manager.store.Save(previous); err != nil {
			manager.logger.Error("key_demotion_persist_failed",
				slog.String("key_id", previous.KeyID),
				slog.Any("error", err),
			)
		}
	}
	manager.persistIndex()

	manager.logger.Info("key_rotated",
		slog.String("new_key_id", fresh.KeyID),
		slog.Duration("grace_window", manager.graceWindow),
	)

	return fresh, nil
}

// # Cleanup

/*
Cleanup purges key pairs that are expired past the 7-day hard grace and
drops elapsed grace state.

Description: Runs from the hourly background sweep. Idempotent; holds the
write lock only to mutate the index, never across file I/O.

Returns:
  - int: Number of keys purged
  - error: First persistence failure, if any
*/
func (manager *Manager) Cleanup(ctx context.Context) (int, error) {
	if err := manager.WaitReady(ctx); err != nil {
		return 0, err
	}

	now := time.Now()

	manager.mu.Lock()
	var purge []*KeyPair
	var degrace []*KeyPair
	for _, pair := range manager.keys {
		switch {
		case pair.PurgeEligible(now, constants.KeyHardGrace):
			purge = append(purge, pair)
			delete(manager.keys, pair.KeyID)
		case !pair.IsActive && pair.GracePeriodUntil != nil && !now.Before(*pair.GracePeriodUntil):
			pair.GracePeriodUntil = nil
			degrace = append(degrace, pair)
		}
	}
	manager.mu.Unlock()

	var firstErr error
	for _, pair := range purge {
		if err := manager.store.Delete(pair.KeyID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, pair := range degrace {
		if err := manager.store.Save(pair); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if len(purge) > 0 || len(degrace) > 0 {
		manager.persistIndex()
		manager.logger.Info("key_cleanup_completed",
			slog.Int("purged", len(purge)),
			slog.Int("grace_dropped", len(degrace)),
		)
	}

	return len(purge), firstErr
}

// # Internals

// generateActive creates, persists, and activates a fresh PS256 key.
func (manager *Manager) generateActive(lifetime time.Duration) (*KeyPair, error) {
	now := time.Now()
	expiresAt := now.Add(lifetime)

	fresh, err := generateKeyPair(AlgPS256, now, &expiresAt)
	if err != nil {
		return nil, err
	}
	fresh.IsActive = true

	if err := manager.store.Save(fresh); err != nil {
		// The generated key is dropped; the caller decides how to degrade.
		return nil, err
	}

	manager.mu.Lock()
	manager.keys[fresh.KeyID] = fresh
	manager.activeID = fresh.KeyID
	manager.mu.Unlock()

	manager.persistIndex()

	manager.logger.Info("key_generated",
		slog.String("key_id", fresh.KeyID),
		slog.Time("expires_at", expiresAt),
	)

	return fresh, nil
}

// generateKeyPair produces a new RSA key pair with a fresh opaque key ID.
func generateKeyPair(algorithm Algorithm, createdAt time.Time, expiresAt *time.Time) (*KeyPair, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, constants.KeyBits)
	if err != nil {
		return nil, fmt.Errorf("keys: RSA generation failed: %w", err)
	}

	return &KeyPair{
		KeyID:      uuid.New(),
		Algorithm:  algorithm,
		PrivateKey: privateKey,
		CreatedAt:  createdAt,
		ExpiresAt:  expiresAt,
	}, nil
}

// snapshot returns a copy of the current key list.
func (manager *Manager) snapshot() []*KeyPair {
	manager.mu.RLock()
	defer manager.mu.RUnlock()

	pairs := make([]*KeyPair, 0, len(manager.keys))
	for _, pair := range manager.keys {
		pairs = append(pairs, pair)
	}
	return pairs
}

// lockedSelect filters the key map. Caller must hold at least a read lock.
func (manager *Manager) lockedSelect(keep func(*KeyPair) bool) []*KeyPair {
	var out []*KeyPair
	for _, pair := range manager.keys {
		if keep(pair) {
			out = append(out, pair)
		}
	}
	return out
}

// persistAll writes every key and the index. Used after initialization
// adjusts active/grace flags.
func (manager *Manager) persistAll() {
	for _, pair := range manager.snapshot() {
		if err := manager.store.Save(pair); err != nil {
			manager.logger.Error("key_persist_failed",
				slog.String("key_id", pair.KeyID),
				slog.Any("error", err),
			)
		}
	}
	manager.persistIndex()
}

// persistIndex refreshes index.json; failures are logged, not returned.
func (manager *Manager) persistIndex() {
	if err := manager.store.WriteIndex(manager.snapshot()); err != nil {
		manager.logger.Warn("key_index_write_failed", slog.Any("error", err))
	}
}

// sortNewestFirst orders pairs by descending creation time.
func sortNewestFirst(pairs []*KeyPair) {
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].CreatedAt.After(pairs[j].CreatedAt)
	})
}
