// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meridianhq/meridian/internal/platform/constants"
)

// # Attribute Stores
//
// The risk factors that depend on per-user behavioral state (seen devices,
// seen countries, failed-attempt counters) read it from Redis: the data is
// hot, small, and naturally expiring.

const (
	deviceSetTTL  = 90 * 24 * time.Hour
	countrySetTTL = 90 * 24 * time.Hour
	failedTTL     = time.Hour
)

// DeviceStore tracks the device fingerprints a user has logged in from.
type DeviceStore struct {
	client *redis.Client
}

// NewDeviceStore creates a Redis-backed device set.
func NewDeviceStore(client *redis.Client) *DeviceStore {
	return &DeviceStore{client: client}
}

func (store *DeviceStore) key(userID string) string {
	return constants.RedisPrefixDevices + userID
}

/*
Check looks up a fingerprint in the user's device set.

Returns:
  - known: The fingerprint was seen before
  - any: The user has at least one recorded device
  - error: Redis failures
*/
func (store *DeviceStore) Check(ctx context.Context, userID, fingerprint string) (known bool, any bool, err error) {
	pipe := store.client.Pipeline()
	isMember := pipe.SIsMember(ctx, store.key(userID), fingerprint)
	cardinality := pipe.SCard(ctx, store.key(userID))

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return false, false, fmt.Errorf("risk: device check failed: %w", err)
	}

	return isMember.Val(), cardinality.Val() > 0, nil
}

// Record adds a fingerprint to the user's device set, refreshing the TTL.
func (store *DeviceStore) Record(ctx context.Context, userID, fingerprint string) error {
	if fingerprint == "" {
		return nil
	}

	pipe := store.client.Pipeline()
	pipe.SAdd(ctx, store.key(userID), fingerprint)
	pipe.Expire(ctx, store.key(userID), deviceSetTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("risk: device record failed: %w", err)
	}

	return nil
}

// CountryStore tracks the countries a user has logged in from.
type CountryStore struct {
	client *redis.Client
}

// NewCountryStore creates a Redis-backed country set.
func NewCountryStore(client *redis.Client) *CountryStore {
	return &CountryStore{client: client}
}

func (store *CountryStore) key(userID string) string {
	return constants.RedisPrefixCountries + userID
}

/*
Check looks up a country code in the user's seen set.

Returns:
  - seen: The country was seen before
  - any: The user has at least one recorded country
  - error: Redis failures
*/
func (store *CountryStore) Check(ctx context.Context, userID, country string) (seen bool, any bool, err error) {
	pipe := store.client.Pipeline()
	isMember := pipe.SIsMember(ctx, store.key(userID), country)
	cardinality := pipe.SCard(ctx, store.key(userID))

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return false, false, fmt.Errorf("risk: country check failed: %w", err)
	}

	return isMember.Val(), cardinality.Val() > 0, nil
}

// Record adds a country code to the user's seen set.
func (store *CountryStore) Record(ctx context.Context, userID, country string) error {
	if country == "" {
		return nil
	}

	pipe := store.client.Pipeline()
	pipe.SAdd(ctx, store.key(userID), country)
	pipe.Expire(ctx, store.key(userID), countrySetTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("risk: country record failed: %w", err)
	}

	return nil
}

// FailedAttemptStore counts recent failed logins per identifier with a
// one-hour sliding expiry.
type FailedAttemptStore struct {
	client *redis.Client
}

// NewFailedAttemptStore creates a Redis-backed failure counter.
func NewFailedAttemptStore(client *redis.Client) *FailedAttemptStore {
	return &FailedAttemptStore{client: client}
}

func (store *FailedAttemptStore) key(identifier string) string {
	return constants.RedisPrefixFailedAttempts + identifier
}

// Increment bumps the counter and refreshes its expiry.
func (store *FailedAttemptStore) Increment(ctx context.Context, identifier string) error {
	pipe := store.client.Pipeline()
	pipe.Incr(ctx, store.key(identifier))
	pipe.Expire(ctx, store.key(identifier), failedTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("risk: failed-attempt increment failed: %w", err)
	}

	return nil
}

// Count returns the number of failures in the current window.
func (store *FailedAttemptStore) Count(ctx context.Context, identifier string) (int, error) {
	value, err := store.client.Get(ctx, store.key(identifier)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("risk: failed-attempt count failed: %w", err)
	}

	return value, nil
}

// Reset clears the counter after a successful authentication.
func (store *FailedAttemptStore) Reset(ctx context.Context, identifier string) error {
	if err := store.client.Del(ctx, store.key(identifier)).Err(); err != nil {
		return fmt.Errorf("risk: failed-attempt reset failed: %w", err)
	}
	return nil
}
