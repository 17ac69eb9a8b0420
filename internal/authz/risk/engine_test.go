// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package risk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/auth/audit"
)

// # Fakes

type fakeDevices struct {
	known      bool
	hasDevices bool
	err        error
	recorded   []string
}

func (fake *fakeDevices) Check(context.Context, string, string) (bool, bool, error) {
	return fake.known, fake.hasDevices, fake.err
}

func (fake *fakeDevices) Record(_ context.Context, _, fingerprint string) error {
	fake.recorded = append(fake.recorded, fingerprint)
	return nil
}

type fakeCountries struct {
	seen       bool
	hasHistory bool
	err        error
}

func (fake *fakeCountries) Check(context.Context, string, string) (bool, bool, error) {
	return fake.seen, fake.hasHistory, fake.err
}

func (fake *fakeCountries) Record(context.Context, string, string) error { return nil }

type fakeAttempts struct {
	count int
	err   error
}

func (fake *fakeAttempts) Count(context.Context, string) (int, error) {
	return fake.count, fake.err
}

type fakeHistory struct {
	events []*audit.Event
	err    error
}

func (fake *fakeHistory) FindByUser(context.Context, string, int) ([]*audit.Event, error) {
	return fake.events, fake.err
}

type captureRecorder struct {
	events []*audit.Event
}

func (capture *captureRecorder) Record(_ context.Context, event *audit.Event) {
	capture.events = append(capture.events, event)
}

type engineFixture struct {
	engine    *Engine
	devices   *fakeDevices
	countries *fakeCountries
	attempts  *fakeAttempts
	history   *fakeHistory
	recorder  *captureRecorder
}

func newFixture() *engineFixture {
	fixture := &engineFixture{
		devices:   &fakeDevices{known: true, hasDevices: true},
		countries: &fakeCountries{seen: true, hasHistory: true},
		attempts:  &fakeAttempts{},
		history:   &fakeHistory{},
		recorder:  &captureRecorder{},
	}
	fixture.engine = NewEngine(
		fixture.devices, fixture.countries, fixture.attempts, fixture.history,
		fixture.recorder, slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return fixture
}

// quietInput represents a trusted repeat login: known device, seen country,
// clean history, mature account, mid-day.
func quietInput() Input {
	return Input{
		UserID:            "user-1",
		Email:             "ana@example.com",
		IPAddress:         "203.0.113.10",
		UserAgent:         "portal-web/2.4",
		DeviceFingerprint: "device-1",
		Country:           "DE",
		AccountCreatedAt:  time.Now().Add(-365 * 24 * time.Hour),
		PasswordChangedAt: time.Now().Add(-10 * 24 * time.Hour),
		At:                time.Date(2026, 8, 24, 11, 0, 0, 0, time.Local),
	}
}

// # Factor Tests

func TestScoreTimeOfDayWindows(t *testing.T) {
	day := func(hour int) time.Time {
		return time.Date(2026, 8, 24, hour, 30, 0, 0, time.Local)
	}

	assert.Equal(t, 80, scoreTimeOfDay(day(3)))
	assert.Equal(t, 80, scoreTimeOfDay(day(4)))
	assert.Equal(t, 50, scoreTimeOfDay(day(2)))
	assert.Equal(t, 50, scoreTimeOfDay(day(19)))
	assert.Equal(t, 10, scoreTimeOfDay(day(11)))
	assert.Equal(t, 50, scoreTimeOfDay(day(18)))
	assert.Equal(t, 10, scoreTimeOfDay(day(5)))
}

func TestScoreIPReputation(t *testing.T) {
	assert.Equal(t, 10, scoreIPReputation("192.168.1.50"))
	assert.Equal(t, 10, scoreIPReputation("127.0.0.1"))
	assert.Equal(t, 95, scoreIPReputation("185.220.101.7"))
	assert.Equal(t, 60, scoreIPReputation("5.188.10.10"))
	assert.Equal(t, 20, scoreIPReputation("203.0.113.10"))
	assert.Equal(t, 50, scoreIPReputation("not-an-ip"))
	assert.Equal(t, 50, scoreIPReputation(""))
}

func TestScoreFailedAttemptsAnchors(t *testing.T) {
	assert.Equal(t, 0, scoreFailedAttempts(0))
	assert.Equal(t, 50, scoreFailedAttempts(1))
	assert.Equal(t, 80, scoreFailedAttempts(3))
	assert.Equal(t, 100, scoreFailedAttempts(5))
	assert.Equal(t, 100, scoreFailedAttempts(12))
}

func TestScoreAccountAndPasswordAge(t *testing.T) {
	now := time.Now()

	assert.Equal(t, 80, scoreAccountAge(now.Add(-time.Hour), now))
	assert.Equal(t, 60, scoreAccountAge(now.Add(-3*24*time.Hour), now))
	assert.Equal(t, 5, scoreAccountAge(now.Add(-365*24*time.Hour), now))

	assert.Equal(t, 5, scorePasswordAge(now.Add(-time.Hour), now))
	assert.Equal(t, 40, scorePasswordAge(now.Add(-60*24*time.Hour), now))
	assert.Equal(t, 70, scorePasswordAge(now.Add(-365*24*time.Hour), now))
}

func TestScoreSessionAnomalyAccumulates(t *testing.T) {
	now := time.Now()
	session := SessionContext{IPHash: "aaaa", UAHash: "bbbb", CreatedAt: now.Add(-40 * 24 * time.Hour)}

	// IP drift + UA drift + stale session.
	assert.Equal(t, 90, scoreSessionAnomaly(session, "xxxx", "yyyy", now))

	// Matching context on a fresh session scores zero.
	fresh := SessionContext{IPHash: "aaaa", UAHash: "bbbb", CreatedAt: now.Add(-time.Hour)}
	assert.Equal(t, 0, scoreSessionAnomaly(fresh, "aaaa", "bbbb", now))

	// No session at all scores zero.
	assert.Equal(t, 0, scoreSessionAnomaly(SessionContext{}, "aaaa", "bbbb", now))
}

// # Engine Tests

func TestEvaluateQuietLoginIsLowRisk(t *testing.T) {
	fixture := newFixture()

	assessment := fixture.engine.Evaluate(context.Background(), quietInput())

	require.False(t, assessment.FailSafe)
	assert.Less(t, assessment.Score, 40)
	assert.Equal(t, LevelLow, assessment.Level)
	assert.Len(t, assessment.Factors, 9)
	assert.Empty(t, fixture.recorder.events)
}

func TestEvaluateHostileContextIsCriticalAndAudited(t *testing.T) {
	fixture := newFixture()
	fixture.devices.known = false
	fixture.countries.seen = false
	fixture.attempts.count = 5
	fixture.history.events = []*audit.Event{
		{EventType: audit.EventUserLogin, Result: audit.ResultFailure, Severity: audit.SeverityWarning, CreatedAt: time.Now()},
		{EventType: audit.EventUserLogin, Result: audit.ResultFailure, Severity: audit.SeverityWarning, CreatedAt: time.Now()},
		{EventType: audit.EventSuspiciousActivity, Result: audit.ResultSuccess, Severity: audit.SeverityCritical, CreatedAt: time.Now()},
	}

	input := quietInput()
	input.IPAddress = "185.220.101.7" // known exit node
	input.Country = "KP"
	input.AccountCreatedAt = time.Now().Add(-time.Hour)
	input.PasswordChangedAt = time.Now().Add(-365 * 24 * time.Hour)
	input.At = time.Date(2026, 8, 24, 3, 30, 0, 0, time.Local)
	input.Session = SessionContext{
		IPHash:    "aaaa",
		UAHash:    "bbbb",
		CreatedAt: time.Now().Add(-40 * 24 * time.Hour),
	}

	assessment := fixture.engine.Evaluate(context.Background(), input)

	assert.Greater(t, assessment.Score, 70)
	require.Len(t, fixture.recorder.events, 1)
	recorded := fixture.recorder.events[0]
	assert.Equal(t, audit.EventSuspiciousActivity, recorded.EventType)
	assert.Contains(t, recorded.RiskIndicators, "score")
}

// suspicionBoundaryInput builds a hostile profile whose weighted factors sum
// to exactly 70: ipReputation 95, geolocation 90, timeOfDay 80, userHistory
// 35 (two failed logins, one severe event), deviceFingerprint 70,
// sessionAnomaly 90, failedAttempts 0, accountAge 60, passwordAge 20.
func suspicionBoundaryInput(fixture *engineFixture) Input {
	base := time.Date(2026, 8, 24, 3, 30, 0, 0, time.Local)

	fixture.devices.known = false
	fixture.devices.hasDevices = true
	fixture.history.events = []*audit.Event{
		{EventType: audit.EventUserLogin, Result: audit.ResultFailure, CreatedAt: base.Add(-time.Hour)},
		{EventType: audit.EventUserLogin, Result: audit.ResultFailure, CreatedAt: base.Add(-time.Hour)},
		{EventType: audit.EventSuspiciousActivity, Severity: audit.SeverityWarning, CreatedAt: base.Add(-time.Hour)},
	}

	return Input{
		UserID:            "user-1",
		Email:             "ana@example.com",
		IPAddress:         "185.220.101.7",
		UserAgent:         "portal-web/2.4",
		DeviceFingerprint: "device-1",
		Country:           "KP",
		AccountCreatedAt:  base.Add(-3 * 24 * time.Hour),
		PasswordChangedAt: base.Add(-10 * 24 * time.Hour),
		At:                base,
		Session: SessionContext{
			IPHash:    "aaaa",
			UAHash:    "bbbb",
			CreatedAt: base.Add(-40 * 24 * time.Hour),
		},
	}
}

func TestEvaluateSuspicionThresholdIsExclusive(t *testing.T) {
	t.Run("score 70 stays quiet", func(t *testing.T) {
		fixture := newFixture()
		input := suspicionBoundaryInput(fixture)

		assessment := fixture.engine.Evaluate(context.Background(), input)

		require.False(t, assessment.FailSafe)
		assert.Equal(t, 70, assessment.Score)
		assert.Equal(t, LevelHigh, assessment.Level)
		assert.Empty(t, fixture.recorder.events)
	})

	t.Run("score 71 is reported", func(t *testing.T) {
		fixture := newFixture()
		input := suspicionBoundaryInput(fixture)

		// Account age 60 -> 80 and password age 20 -> 40 add exactly one
		// weighted point.
		input.AccountCreatedAt = input.At.Add(-time.Hour)
		input.PasswordChangedAt = input.At.Add(-60 * 24 * time.Hour)

		assessment := fixture.engine.Evaluate(context.Background(), input)

		require.False(t, assessment.FailSafe)
		assert.Equal(t, 71, assessment.Score)
		require.Len(t, fixture.recorder.events, 1)
		recorded := fixture.recorder.events[0]
		assert.Equal(t, audit.EventSuspiciousActivity, recorded.EventType)
		assert.Equal(t, audit.SeverityWarning, recorded.Severity)
	})
}

func TestEvaluateFailsSafeOnSourceErrors(t *testing.T) {
	fixture := newFixture()
	fixture.attempts.err = errors.New("redis unavailable")

	assessment := fixture.engine.Evaluate(context.Background(), quietInput())

	assert.True(t, assessment.FailSafe)
	assert.Equal(t, 100, assessment.Score)
	assert.Equal(t, LevelCritical, assessment.Level)
}

func TestEvaluateScoreIsMonotonicInFailedAttempts(t *testing.T) {
	previous := -1
	for _, count := range []int{0, 1, 3, 5} {
		fixture := newFixture()
		fixture.attempts.count = count

		assessment := fixture.engine.Evaluate(context.Background(), quietInput())
		require.False(t, assessment.FailSafe)
		assert.GreaterOrEqual(t, assessment.Score, previous, "count=%d", count)
		previous = assessment.Score
	}
}

func TestLevelBoundaries(t *testing.T) {
	assert.Equal(t, LevelLow, LevelFor(39))
	assert.Equal(t, LevelMedium, LevelFor(40))
	assert.Equal(t, LevelMedium, LevelFor(59))
	assert.Equal(t, LevelHigh, LevelFor(60))
	assert.Equal(t, LevelHigh, LevelFor(79))
	assert.Equal(t, LevelCritical, LevelFor(80))
}

func TestObserveRecordsDevice(t *testing.T) {
	fixture := newFixture()

	fixture.engine.Observe(context.Background(), "user-1", "device-9", "DE")

	assert.Equal(t, []string{"device-9"}, fixture.devices.recorded)
}
