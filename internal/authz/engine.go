// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package authz

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
)

// # Rule Store Contract

// RuleStore is the persistence contract for permission rules.
type RuleStore interface {
	LoadRules(ctx context.Context) ([]*PermissionRule, error)
	SeedRules(ctx context.Context, rules []*PermissionRule) error
}

// # Permission Engine

// Engine evaluates requests against an in-memory rule snapshot.
//
// # Concurrency
//
// The sorted rule slice sits in an atomic.Value: evaluation reads a
// consistent snapshot without locking, Reload swaps in a new one. The
// engine never mutates a published snapshot.
type Engine struct {
	store  RuleStore
	rules  atomic.Value // []*PermissionRule, sorted by descending priority
	logger *slog.Logger
}

// NewEngine constructs an engine with an empty snapshot; call Load before
// serving traffic.
func NewEngine(store RuleStore, logger *slog.Logger) *Engine {
	engine := &Engine{store: store, logger: logger}
	engine.rules.Store([]*PermissionRule{})
	return engine
}

/*
Load reads all rules from the store and publishes them as the active
snapshot, seeding the default rule set when the store is empty.

Returns:
  - error: Store failures (the previous snapshot stays active)
*/
func (engine *Engine) Load(ctx context.Context) error {
	rules, err := engine.store.LoadRules(ctx)
	if err != nil {
		return fmt.Errorf("authz: rule load failed: %w", err)
	}

	if len(rules) == 0 {
		rules = DefaultRules()
		if err := engine.store.SeedRules(ctx, rules); err != nil {
			return fmt.Errorf("authz: rule seed failed: %w", err)
		}
		engine.logger.Info("authz_rules_seeded", slog.Int("count", len(rules)))
	}

	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})

	engine.rules.Store(rules)
	engine.logger.Info("authz_rules_loaded", slog.Int("count", len(rules)))

	return nil
}

// Snapshot returns the active rule set (read-only by convention).
func (engine *Engine) Snapshot() []*PermissionRule {
	return engine.rules.Load().([]*PermissionRule)
}

// Verdict is the permission engine's half of an authorization decision.
type Verdict struct {
	Allowed bool
	RuleID  string
	Reason  string
}

/*
Evaluate decides a request against the active snapshot.

Description: Rules are scanned in descending priority and the FIRST rule
whose resource/action matches decides: its conditions are ANDed, failing
conditions turn an allow into a deny rather than falling through to a
lower-priority rule. No matching rule means deny.

Returns:
  - Verdict: Always populated; never errs (pure function over the snapshot)
*/
func (engine *Engine) Evaluate(request *Request) Verdict {
	for _, rule := range engine.Snapshot() {
		if !rule.Matches(request.Resource, request.Action) {
			continue
		}

		if !rule.ConditionsHold(request) {
			return Verdict{Allowed: false, RuleID: rule.ID, Reason: "conditions_not_met"}
		}

		if rule.Effect == EffectAllow {
			return Verdict{Allowed: true, RuleID: rule.ID, Reason: "rule_matched"}
		}
		return Verdict{Allowed: false, RuleID: rule.ID, Reason: "rule_denied"}
	}

	return Verdict{Allowed: false, Reason: "no_matching_rule"}
}

// DefaultRules is the seed set installed into an empty store: everyday
// portal surfaces are open to authenticated users, administrative and
// destructive surfaces are gated.
func DefaultRules() []*PermissionRule {
	return []*PermissionRule{
		{
			Name:     "portal-dashboard",
			Resource: "portal:dashboard",
			Action:   "view",
			Priority: 10,
			Effect:   EffectAllow,
		},
		{
			Name:     "own-profile",
			Resource: "user:profile",
			Action:   "*",
			Priority: 20,
			Effect:   EffectAllow,
		},
		{
			Name:     "license-read",
			Resource: "license:*",
			Action:   "read",
			Priority: 30,
			Effect:   EffectAllow,
		},
		{
			Name:     "license-manage-low-risk",
			Resource: "license:*",
			Action:   "*",
			Priority: 40,
			Effect:   EffectAllow,
			Conditions: []Condition{
				{Type: ConditionRiskScore, Number: 60},
			},
		},
		{
			Name:     "account-delete-trusted-device",
			Resource: "user",
			Action:   "delete",
			Priority: 80,
			Effect:   EffectAllow,
			Conditions: []Condition{
				{Type: ConditionDeviceFingerprint},
				{Type: ConditionRiskScore, Number: 20},
			},
		},
		{
			Name:     "admin-elevated-only",
			Resource: "admin:*",
			Action:   "*",
			Priority: 90,
			Effect:   EffectAllow,
			Conditions: []Condition{
				{Type: ConditionSecurityLevel, Number: 3},
				{Type: ConditionRiskScore, Number: 30},
			},
		},
	}
}
