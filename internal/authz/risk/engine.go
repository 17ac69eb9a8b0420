// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

/*
Package risk implements adaptive risk scoring for authentication and
authorization decisions.

Nine weighted factors grade each request on a 0-100 scale: network
reputation, geography, timing, account history, device familiarity, session
drift, brute-force pressure, and account/password age. The policy decision
point caps sensitive operations by the resulting score, and high scores
trigger step-up obligations.

# Fail-Safe

Risk scoring guards security decisions, so an engine that cannot compute a
score reports the MAXIMUM score, not a neutral one. A Redis outage makes the
portal stricter, never more permissive.
*/
package risk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/meridianhq/meridian/internal/auth/audit"
	"github.com/meridianhq/meridian/internal/platform/sec"
	"github.com/meridianhq/meridian/internal/platform/validate"
)

// # Weights and Levels

// factorWeights is the calibrated contribution of each factor to the final
// score. Weights sum to 1.0.
var factorWeights = map[string]float64{
	FactorIPReputation:       0.20,
	FactorGeolocationAnomaly: 0.15,
	FactorTimeOfDay:          0.10,
	FactorUserHistory:        0.20,
	FactorDeviceFingerprint:  0.10,
	FactorSessionAnomaly:     0.15,
	FactorFailedAttempts:     0.05,
	FactorAccountAge:         0.025,
	FactorPasswordAge:        0.025,
}

// Level buckets a numeric score for policy and display purposes.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// LevelFor maps a score onto its level bucket.
func LevelFor(score int) Level {
	switch {
	case score < 40:
		return LevelLow
	case score < 60:
		return LevelMedium
	case score < 80:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// auditThreshold is the score above which an evaluation itself becomes a
// recorded security event.
const (
	auditThreshold    = 70
	criticalThreshold = 90
)

// historyWindow bounds how far back the user-history factor looks.
const historyWindow = 24 * time.Hour

// # Dependencies

type deviceSource interface {
	Check(ctx context.Context, userID, fingerprint string) (known bool, any bool, err error)
	Record(ctx context.Context, userID, fingerprint string) error
}

type countrySource interface {
	Check(ctx context.Context, userID, country string) (seen bool, any bool, err error)
	Record(ctx context.Context, userID, country string) error
}

type attemptSource interface {
	Count(ctx context.Context, identifier string) (int, error)
}

type historySource interface {
	FindByUser(ctx context.Context, userID string, limit int) ([]*audit.Event, error)
}

type recorder interface {
	Record(ctx context.Context, event *audit.Event)
}

// # Engine

// Engine computes risk assessments from the configured attribute sources.
type Engine struct {
	devices   deviceSource
	countries countrySource
	attempts  attemptSource
	history   historySource
	recorder  recorder
	logger    *slog.Logger
}

// NewEngine wires the risk engine to its attribute sources.
func NewEngine(devices deviceSource, countries countrySource, attempts attemptSource, history historySource, auditRecorder recorder, logger *slog.Logger) *Engine {
	return &Engine{
		devices:   devices,
		countries: countries,
		attempts:  attempts,
		history:   history,
		recorder:  auditRecorder,
		logger:    logger,
	}
}

// Input carries everything one evaluation needs. The caller resolves the
// user record and session up front; the engine itself only reaches out to
// its attribute sources.
type Input struct {
	UserID    string
	Email     string
	SessionID string

	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
	Country           string

	// Session is the stored context of the session this request claims;
	// zero value when there is no session yet (login).
	Session SessionContext

	AccountCreatedAt  time.Time
	PasswordChangedAt time.Time

	// At pins the evaluation instant; zero means now. Tests use it to probe
	// the time-of-day factor.
	At time.Time
}

// Assessment is one computed risk verdict.
type Assessment struct {
	Score   int
	Level   Level
	Factors map[string]int

	// FailSafe marks a verdict produced by the fail-safe path rather than
	// actual factor evaluation.
	FailSafe bool
}

/*
Evaluate computes the weighted risk score for one request.

Description: The four factors that need I/O (geolocation, history, device,
failed attempts) fan out concurrently; the five pure factors are computed
inline. Any factor failure aborts into the fail-safe verdict of 100. Scores
above 70 emit a suspicious_activity audit event carrying the per-factor
breakdown.

Returns:
  - *Assessment: Always non-nil; FailSafe is set on the degraded path
*/
func (engine *Engine) Evaluate(ctx context.Context, input Input) *Assessment {
	now := input.At
	if now.IsZero() {
		now = time.Now()
	}

	currentIPHash, currentUAHash := bindingHashes(input.IPAddress, input.UserAgent)

	factors := map[string]int{
		FactorIPReputation:   scoreIPReputation(input.IPAddress),
		FactorTimeOfDay:      scoreTimeOfDay(now),
		FactorSessionAnomaly: scoreSessionAnomaly(input.Session, currentIPHash, currentUAHash, now),
		FactorAccountAge:     scoreAccountAge(input.AccountCreatedAt, now),
		FactorPasswordAge:    scorePasswordAge(input.PasswordChangedAt, now),
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
	)

	record := func(name string, score int, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		factors[name] = score
	}

	wg.Add(4)

	go func() {
		defer wg.Done()
		seen, hasHistory, err := engine.countries.Check(ctx, input.UserID, input.Country)
		record(FactorGeolocationAnomaly, scoreGeolocation(input.Country, seen, hasHistory), err)
	}()

	go func() {
		defer wg.Done()
		failedLogins, severeEvents, err := engine.recentHistory(ctx, input.UserID, now)
		record(FactorUserHistory, scoreUserHistory(failedLogins, severeEvents), err)
	}()

	go func() {
		defer wg.Done()
		known, hasDevices, err := engine.devices.Check(ctx, input.UserID, input.DeviceFingerprint)
		record(FactorDeviceFingerprint, scoreDeviceFingerprint(input.DeviceFingerprint, known, hasDevices), err)
	}()

	go func() {
		defer wg.Done()
		count, err := engine.attempts.Count(ctx, input.Email)
		record(FactorFailedAttempts, scoreFailedAttempts(count), err)
	}()

	wg.Wait()

	if firstErr != nil {
		engine.logger.Error("risk_evaluation_failed",
			slog.String("user_id", input.UserID),
			slog.Any("error", firstErr),
		)
		return &Assessment{Score: 100, Level: LevelCritical, FailSafe: true}
	}

	weighted := 0.0
	for name, score := range factors {
		weighted += float64(score) * factorWeights[name]
	}

	assessment := &Assessment{
		Score:   clamp(int(weighted + 0.5)),
		Factors: factors,
	}
	assessment.Level = LevelFor(assessment.Score)

	if assessment.Score > auditThreshold {
		engine.reportSuspicious(ctx, input, assessment)
	}

	return assessment
}

// Observe records the device and country of a successful authentication so
// future evaluations treat them as familiar. Failures are logged only; the
// login has already succeeded.
func (engine *Engine) Observe(ctx context.Context, userID, fingerprint, country string) {
	if err := engine.devices.Record(ctx, userID, fingerprint); err != nil {
		engine.logger.Warn("risk_device_record_failed",
			slog.String("user_id", userID), slog.Any("error", err))
	}
	if err := engine.countries.Record(ctx, userID, country); err != nil {
		engine.logger.Warn("risk_country_record_failed",
			slog.String("user_id", userID), slog.Any("error", err))
	}
}

// recentHistory counts failed logins and severe events for the user inside
// the history window.
func (engine *Engine) recentHistory(ctx context.Context, userID string, now time.Time) (failedLogins, severeEvents int, err error) {
	events, err := engine.history.FindByUser(ctx, userID, 50)
	if err != nil {
		return 0, 0, err
	}

	cutoff := now.Add(-historyWindow)
	for _, event := range events {
		if event.CreatedAt.Before(cutoff) {
			continue
		}
		if event.EventType == audit.EventUserLogin && event.Result == audit.ResultFailure {
			failedLogins++
		}
		switch event.Severity {
		case audit.SeverityWarning, audit.SeverityError, audit.SeverityCritical:
			severeEvents++
		}
	}

	return failedLogins, severeEvents, nil
}

// bindingHashes derives the comparison hashes for the current request the
// same way the session store derives its stored ones.
func bindingHashes(ipAddress, userAgent string) (string, string) {
	return sec.BindingHash(validate.SanitizeIP(ipAddress)), sec.BindingHash(userAgent)
}

// reportSuspicious turns a high-risk evaluation into an audit event.
func (engine *Engine) reportSuspicious(ctx context.Context, input Input, assessment *Assessment) {
	severity := audit.SeverityWarning
	if assessment.Score > criticalThreshold {
		severity = audit.SeverityCritical
	}

	indicators := make(map[string]any, len(assessment.Factors)+1)
	for name, score := range assessment.Factors {
		indicators[name] = score
	}
	indicators["score"] = assessment.Score

	engine.recorder.Record(ctx, &audit.Event{
		UserID:         input.UserID,
		SessionID:      input.SessionID,
		EventType:      audit.EventSuspiciousActivity,
		Severity:       severity,
		Result:         audit.ResultSuccess,
		IPAddress:      input.IPAddress,
		UserAgent:      input.UserAgent,
		RiskIndicators: indicators,
	})
}
