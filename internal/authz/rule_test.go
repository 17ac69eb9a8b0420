// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGlobMatch(t *testing.T) {
	tests := []struct {
		pattern string
		value   string
		want    bool
	}{
		{"*", "anything:at:all", true},
		{"license:contract", "license:contract", true},
		{"license:contract", "license:invoice", false},
		{"license:*", "license:contract", true},
		{"license:*", "license:", true},
		{"license:*", "account:contract", false},
		{"*:read", "license:read", true},
		{"*:read", "license:write", false},
		{"admin:*:config", "admin:billing:config", true},
		{"admin:*:config", "admin:billing:users", false},
		{"user:*:*", "user:42:profile", true},
	}

	for _, test := range tests {
		assert.Equal(t, test.want, globMatch(test.pattern, test.value),
			"pattern %q value %q", test.pattern, test.value)
	}
}

func TestRuleMatchesActionAndResource(t *testing.T) {
	rule := &PermissionRule{Resource: "license:*", Action: "read"}

	assert.True(t, rule.Matches("license:contract", "read"))
	assert.False(t, rule.Matches("license:contract", "write"))
	assert.False(t, rule.Matches("account:profile", "read"))

	wildcard := &PermissionRule{Resource: "license:*", Action: "*"}
	assert.True(t, wildcard.Matches("license:contract", "revoke"))
}

func TestConditionsHoldRequiresAll(t *testing.T) {
	rule := &PermissionRule{
		Conditions: []Condition{
			{Type: ConditionRiskScore, Number: 50},
			{Type: ConditionDeviceFingerprint},
		},
	}

	assert.True(t, rule.ConditionsHold(&Request{RiskScore: 30, DeviceKnown: true}))
	assert.False(t, rule.ConditionsHold(&Request{RiskScore: 30, DeviceKnown: false}))
	assert.False(t, rule.ConditionsHold(&Request{RiskScore: 70, DeviceKnown: true}))
}

func TestRuleWithoutConditionsAlwaysHolds(t *testing.T) {
	rule := &PermissionRule{}
	assert.True(t, rule.ConditionsHold(&Request{RiskScore: 100}))
}
