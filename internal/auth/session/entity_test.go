// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/platform/sec"
)

func TestNewSessionHashesClientContext(t *testing.T) {
	created := NewSession(NewSessionParams{
		UserID:    "user-1",
		IPAddress: "203.0.113.10",
		UserAgent: "portal-web/2.4",
		RiskScore: 15,
		TTL:       24 * time.Hour,
	})

	require.NotEmpty(t, created.ID)
	assert.Equal(t, "203.0.113.10", created.IPAddress)
	assert.Equal(t, sec.BindingHash("203.0.113.10"), created.IPHash)
	assert.Equal(t, sec.BindingHash("portal-web/2.4"), created.UserAgentHash)
	assert.True(t, created.IsActive)
	assert.True(t, created.ExpiresAt.After(created.CreatedAt))
}

func TestNewSessionDropsInvalidIP(t *testing.T) {
	tests := []struct {
		name string
		ip   string
	}{
		{"hostname", "evil.example.com"},
		{"octet out of range", "300.1.2.3"},
		{"sql fragment", "1.2.3.4; DROP TABLE portal.session"},
		{"leading zeros", "010.1.2.3"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			created := NewSession(NewSessionParams{
				UserID:    "user-1",
				IPAddress: test.ip,
				TTL:       time.Hour,
			})

			assert.Empty(t, created.IPAddress)
			assert.Empty(t, created.IPHash)
		})
	}
}

func TestNewSessionKeepsCIDRSuffix(t *testing.T) {
	created := NewSession(NewSessionParams{
		UserID:    "user-1",
		IPAddress: "10.0.0.0/24",
		TTL:       time.Hour,
	})

	assert.Equal(t, "10.0.0.0/24", created.IPAddress)
}

func TestUsableReturnsLifecycleErrors(t *testing.T) {
	now := time.Now()

	active := NewSession(NewSessionParams{UserID: "user-1", TTL: time.Hour})
	assert.NoError(t, active.Usable(now))

	revoked := NewSession(NewSessionParams{UserID: "user-1", TTL: time.Hour})
	revoked.IsActive = false
	assert.ErrorIs(t, revoked.Usable(now), ErrSessionRevoked)

	expired := NewSession(NewSessionParams{UserID: "user-1", TTL: time.Hour})
	expired.ExpiresAt = now.Add(-time.Minute)
	assert.ErrorIs(t, expired.Usable(now), ErrSessionExpired)
}
