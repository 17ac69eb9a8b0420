// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package authz

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryRuleStore is an in-memory RuleStore for engine tests.
type memoryRuleStore struct {
	rules   []*PermissionRule
	loadErr error
	seeded  []*PermissionRule
}

func (store *memoryRuleStore) LoadRules(_ context.Context) ([]*PermissionRule, error) {
	if store.loadErr != nil {
		return nil, store.loadErr
	}
	return store.rules, nil
}

func (store *memoryRuleStore) SeedRules(_ context.Context, rules []*PermissionRule) error {
	store.seeded = rules
	return nil
}

func newTestEngine(t *testing.T, rules []*PermissionRule) *Engine {
	t.Helper()
	engine := NewEngine(&memoryRuleStore{rules: rules}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, engine.Load(context.Background()))
	return engine
}

func TestEngineDefaultDeny(t *testing.T) {
	engine := newTestEngine(t, []*PermissionRule{
		{ID: "r1", Resource: "license:*", Action: "read", Priority: 10, Effect: EffectAllow},
	})

	verdict := engine.Evaluate(&Request{Resource: "billing:invoice", Action: "read"})

	assert.False(t, verdict.Allowed)
	assert.Equal(t, "no_matching_rule", verdict.Reason)
	assert.Empty(t, verdict.RuleID)
}

func TestEngineHighestPriorityRuleDecides(t *testing.T) {
	engine := newTestEngine(t, []*PermissionRule{
		{ID: "broad-allow", Resource: "license:*", Action: "*", Priority: 10, Effect: EffectAllow},
		{ID: "contract-deny", Resource: "license:contract", Action: "delete", Priority: 50, Effect: EffectDeny},
	})

	denied := engine.Evaluate(&Request{Resource: "license:contract", Action: "delete"})
	assert.False(t, denied.Allowed)
	assert.Equal(t, "contract-deny", denied.RuleID)
	assert.Equal(t, "rule_denied", denied.Reason)

	allowed := engine.Evaluate(&Request{Resource: "license:contract", Action: "read"})
	assert.True(t, allowed.Allowed)
	assert.Equal(t, "broad-allow", allowed.RuleID)
}

func TestEngineFailingConditionsDenyWithoutFallthrough(t *testing.T) {
	// The lower-priority rule would allow unconditionally, but the first
	// matching rule decides.
	engine := newTestEngine(t, []*PermissionRule{
		{ID: "fallback-allow", Resource: "license:*", Action: "*", Priority: 10, Effect: EffectAllow},
		{
			ID: "gated-allow", Resource: "license:*", Action: "revoke", Priority: 50, Effect: EffectAllow,
			Conditions: []Condition{{Type: ConditionRiskScore, Number: 20}},
		},
	})

	verdict := engine.Evaluate(&Request{Resource: "license:contract", Action: "revoke", RiskScore: 45})

	assert.False(t, verdict.Allowed)
	assert.Equal(t, "gated-allow", verdict.RuleID)
	assert.Equal(t, "conditions_not_met", verdict.Reason)
}

func TestEngineSeedsDefaultsIntoEmptyStore(t *testing.T) {
	store := &memoryRuleStore{}
	engine := NewEngine(store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, engine.Load(context.Background()))

	require.NotEmpty(t, store.seeded)
	assert.Len(t, engine.Snapshot(), len(DefaultRules()))

	verdict := engine.Evaluate(&Request{Resource: "portal:dashboard", Action: "view"})
	assert.True(t, verdict.Allowed)
}

func TestEngineLoadFailureKeepsSnapshot(t *testing.T) {
	store := &memoryRuleStore{rules: []*PermissionRule{
		{ID: "r1", Resource: "portal:dashboard", Action: "view", Priority: 10, Effect: EffectAllow},
	}}
	engine := NewEngine(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, engine.Load(context.Background()))

	store.loadErr = errors.New("connection refused")
	require.Error(t, engine.Load(context.Background()))

	verdict := engine.Evaluate(&Request{Resource: "portal:dashboard", Action: "view"})
	assert.True(t, verdict.Allowed, "previous snapshot stays active")
}

func TestDefaultRulesGateAdminAndDeletion(t *testing.T) {
	engine := newTestEngine(t, nil)

	admin := engine.Evaluate(&Request{Resource: "admin:users", Action: "list", SecurityLevel: 3, RiskScore: 10})
	assert.True(t, admin.Allowed)

	lowClearance := engine.Evaluate(&Request{Resource: "admin:users", Action: "list", SecurityLevel: 1, RiskScore: 10})
	assert.False(t, lowClearance.Allowed)
	assert.Equal(t, "conditions_not_met", lowClearance.Reason)

	deletion := engine.Evaluate(&Request{Resource: "user", Action: "delete", DeviceKnown: true, RiskScore: 15})
	assert.True(t, deletion.Allowed)

	riskyDeletion := engine.Evaluate(&Request{Resource: "user", Action: "delete", DeviceKnown: true, RiskScore: 35})
	assert.False(t, riskyDeletion.Allowed)
}
