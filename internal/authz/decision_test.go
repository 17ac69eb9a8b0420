// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package authz

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/auth/audit"
	"github.com/meridianhq/meridian/internal/authz/risk"
)

// stubRisk returns a fixed assessment regardless of input.
type stubRisk struct {
	assessment *risk.Assessment
}

func (stub *stubRisk) Evaluate(_ context.Context, _ risk.Input) *risk.Assessment {
	return stub.assessment
}

func scored(score int) *stubRisk {
	return &stubRisk{assessment: &risk.Assessment{Score: score, Level: risk.LevelFor(score)}}
}

// captureRecorder collects audit events for assertions.
type captureRecorder struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (capture *captureRecorder) Record(_ context.Context, event *audit.Event) {
	capture.mu.Lock()
	defer capture.mu.Unlock()
	capture.events = append(capture.events, event)
}

func (capture *captureRecorder) ofType(eventType audit.EventType) []*audit.Event {
	capture.mu.Lock()
	defer capture.mu.Unlock()
	var matched []*audit.Event
	for _, event := range capture.events {
		if event.EventType == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

func newTestPDP(t *testing.T, rules []*PermissionRule, riskEngine riskEvaluator) (*PDP, *captureRecorder) {
	t.Helper()
	recorder := &captureRecorder{}
	engine := newTestEngine(t, rules)
	return NewPDP(engine, riskEngine, recorder, slog.New(slog.NewTextHandler(io.Discard, nil))), recorder
}

func TestRiskCapFor(t *testing.T) {
	assert.Equal(t, 20, riskCapFor("user", "delete"))
	assert.Equal(t, 30, riskCapFor("admin", "reconfigure"))
	assert.Equal(t, 70, riskCapFor("license", "revoke"))
	assert.Equal(t, 80, riskCapFor("portal:dashboard", "view"))
}

func TestDecisionAllowsQuietRequest(t *testing.T) {
	pdp, recorder := newTestPDP(t, nil, scored(8))

	decision := pdp.Evaluate(context.Background(), DecisionRequest{
		Permission: Request{UserID: "user-1", Resource: "portal:dashboard", Action: "view"},
	})

	assert.True(t, decision.Allowed)
	assert.Equal(t, "allowed", decision.Reason)
	assert.Equal(t, 8, decision.RiskScore)
	assert.Equal(t, risk.LevelLow, decision.RiskLevel)
	assert.Empty(t, decision.Obligations)
	assert.Empty(t, recorder.ofType(audit.EventPermissionDenied))
}

func TestDecisionRuleDenyIsAudited(t *testing.T) {
	pdp, recorder := newTestPDP(t, nil, scored(8))

	decision := pdp.Evaluate(context.Background(), DecisionRequest{
		Permission: Request{UserID: "user-1", Resource: "billing:export", Action: "run"},
	})

	assert.False(t, decision.Allowed)
	assert.Equal(t, "no_matching_rule", decision.Reason)

	denials := recorder.ofType(audit.EventPermissionDenied)
	require.Len(t, denials, 1)
	assert.Equal(t, "user-1", denials[0].UserID)
	assert.Equal(t, "billing:export", denials[0].Resource)
	assert.Equal(t, audit.ResultDenied, denials[0].Result)
}

func TestDecisionRiskCapOverridesAllow(t *testing.T) {
	// Rule allows the deletion, but score 25 exceeds the user:delete cap.
	rules := []*PermissionRule{
		{ID: "allow-delete", Resource: "user", Action: "delete", Priority: 10, Effect: EffectAllow},
	}
	pdp, recorder := newTestPDP(t, rules, scored(25))

	decision := pdp.Evaluate(context.Background(), DecisionRequest{
		Permission: Request{UserID: "user-1", Resource: "user", Action: "delete"},
	})

	assert.False(t, decision.Allowed)
	assert.Equal(t, "risk_exceeds_cap", decision.Reason)
	require.Len(t, decision.Advice, 1)
	assert.Contains(t, decision.Advice[0], "cap 20")
	require.Len(t, recorder.ofType(audit.EventPermissionDenied), 1)
}

func TestDecisionFreshScoreFeedsRuleConditions(t *testing.T) {
	// The caller supplies no score; the rule's risk condition must see the
	// engine's fresh assessment, not the zero value.
	rules := []*PermissionRule{
		{
			ID: "low-risk-only", Resource: "license:*", Action: "*", Priority: 10, Effect: EffectAllow,
			Conditions: []Condition{{Type: ConditionRiskScore, Number: 40}},
		},
	}
	pdp, _ := newTestPDP(t, rules, scored(55))

	decision := pdp.Evaluate(context.Background(), DecisionRequest{
		Permission: Request{UserID: "user-1", Resource: "license:contract", Action: "read"},
	})

	assert.False(t, decision.Allowed)
	assert.Equal(t, "conditions_not_met", decision.Reason)
}

func TestDecisionStepUpObligation(t *testing.T) {
	rules := []*PermissionRule{
		{ID: "allow-manage", Resource: "license:*", Action: "*", Priority: 10, Effect: EffectAllow},
	}
	pdp, recorder := newTestPDP(t, rules, scored(65))

	decision := pdp.Evaluate(context.Background(), DecisionRequest{
		Permission: Request{UserID: "user-1", Resource: "license:contract", Action: "revoke"},
	})

	assert.True(t, decision.Allowed)
	assert.Contains(t, decision.Obligations, ObligationStepUp)
	assert.Contains(t, decision.Obligations, ObligationEnhancedAudit)
	require.Len(t, recorder.ofType(audit.EventStepUpRequired), 1)
}

func TestDecisionSensitiveClassCarriesEnhancedAudit(t *testing.T) {
	rules := []*PermissionRule{
		{ID: "allow-read", Resource: "license:*", Action: "read", Priority: 10, Effect: EffectAllow},
	}
	pdp, _ := newTestPDP(t, rules, scored(10))

	decision := pdp.Evaluate(context.Background(), DecisionRequest{
		Permission: Request{UserID: "user-1", Resource: "license:contract", Action: "read"},
	})

	assert.True(t, decision.Allowed)
	assert.Equal(t, []string{ObligationEnhancedAudit}, decision.Obligations)
	assert.Empty(t, decision.Advice)
}

func TestDecisionFailSafeOnRiskOutage(t *testing.T) {
	failing := &stubRisk{assessment: &risk.Assessment{Score: 100, Level: risk.LevelCritical, FailSafe: true}}
	pdp, recorder := newTestPDP(t, nil, failing)

	decision := pdp.Evaluate(context.Background(), DecisionRequest{
		Permission: Request{UserID: "user-1", Resource: "portal:dashboard", Action: "view"},
	})

	assert.False(t, decision.Allowed)
	assert.Equal(t, "risk_unavailable", decision.Reason)
	assert.Equal(t, 100, decision.RiskScore)
	assert.Equal(t, risk.LevelCritical, decision.RiskLevel)
	require.Len(t, recorder.ofType(audit.EventPermissionDenied), 1)
}

func TestDecisionCancelledContextDenies(t *testing.T) {
	blocked := &blockingRisk{release: make(chan struct{})}
	defer close(blocked.release)

	pdp, _ := newTestPDP(t, nil, blocked)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	decision := pdp.Evaluate(ctx, DecisionRequest{
		Permission: Request{UserID: "user-1", Resource: "portal:dashboard", Action: "view"},
	})

	assert.False(t, decision.Allowed)
	assert.Equal(t, "evaluation_aborted", decision.Reason)
	assert.Equal(t, risk.LevelCritical, decision.RiskLevel)
}

// blockingRisk parks until released, simulating a slow risk backend.
type blockingRisk struct {
	release chan struct{}
}

func (blocked *blockingRisk) Evaluate(_ context.Context, _ risk.Input) *risk.Assessment {
	<-blocked.release
	return &risk.Assessment{Score: 0, Level: risk.LevelLow}
}
