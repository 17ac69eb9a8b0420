// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package authz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 14, hour, minute, 0, 0, time.UTC)
}

func TestTimeWindowInclusiveBounds(t *testing.T) {
	condition := Condition{
		Type:   ConditionTimeWindow,
		Window: TimeWindow{Start: "09:00", End: "17:30"},
	}

	assert.False(t, condition.Evaluate(&Request{At: at(8, 59)}))
	assert.True(t, condition.Evaluate(&Request{At: at(9, 0)}))
	assert.True(t, condition.Evaluate(&Request{At: at(12, 15)}))
	assert.True(t, condition.Evaluate(&Request{At: at(17, 30)}))
	assert.False(t, condition.Evaluate(&Request{At: at(17, 31)}))
}

func TestTimeWindowMalformedClockFailsClosed(t *testing.T) {
	condition := Condition{
		Type:   ConditionTimeWindow,
		Window: TimeWindow{Start: "nine", End: "17:00"},
	}

	assert.False(t, condition.Evaluate(&Request{At: at(12, 0)}))
}

func TestIPRangeWhitelistAndBlacklist(t *testing.T) {
	condition := Condition{
		Type:      ConditionIPRange,
		Whitelist: []string{"10.0.0.0/8", "192.168.0.0/16"},
		Blacklist: []string{"10.66.0.0/16"},
	}

	assert.True(t, condition.Evaluate(&Request{IPAddress: "10.1.2.3"}))
	assert.True(t, condition.Evaluate(&Request{IPAddress: "192.168.4.5"}))
	assert.False(t, condition.Evaluate(&Request{IPAddress: "172.16.0.1"}), "outside whitelist")
	assert.False(t, condition.Evaluate(&Request{IPAddress: "10.66.1.1"}), "whitelisted range overridden by blacklist")
	assert.False(t, condition.Evaluate(&Request{IPAddress: "not-an-ip"}))
}

func TestIPRangeBlacklistOnly(t *testing.T) {
	condition := Condition{
		Type:      ConditionIPRange,
		Blacklist: []string{"203.0.113.0/24"},
	}

	assert.True(t, condition.Evaluate(&Request{IPAddress: "198.51.100.7"}))
	assert.False(t, condition.Evaluate(&Request{IPAddress: "203.0.113.9"}))
}

func TestRiskScoreAndSecurityLevelThresholds(t *testing.T) {
	maxRisk := Condition{Type: ConditionRiskScore, Number: 60}
	assert.True(t, maxRisk.Evaluate(&Request{RiskScore: 60}))
	assert.False(t, maxRisk.Evaluate(&Request{RiskScore: 61}))

	minLevel := Condition{Type: ConditionSecurityLevel, Number: 3}
	assert.True(t, minLevel.Evaluate(&Request{SecurityLevel: 3}))
	assert.False(t, minLevel.Evaluate(&Request{SecurityLevel: 2}))
}

func TestGeolocationAndDeviceConditions(t *testing.T) {
	geo := Condition{Type: ConditionGeolocation, List: []string{"RO", "DE", "FR"}}
	assert.True(t, geo.Evaluate(&Request{Country: "DE"}))
	assert.False(t, geo.Evaluate(&Request{Country: "BR"}))
	assert.False(t, geo.Evaluate(&Request{Country: ""}))

	device := Condition{Type: ConditionDeviceFingerprint}
	assert.True(t, device.Evaluate(&Request{DeviceKnown: true}))
	assert.False(t, device.Evaluate(&Request{DeviceKnown: false}))
}

func TestUserAttributeOperators(t *testing.T) {
	request := &Request{Attributes: map[string]string{
		"department": "engineering",
		"clearance":  "standard",
		"tenure":     "7",
	}}

	tests := []struct {
		name      string
		condition Condition
		want      bool
	}{
		{
			name:      "equal",
			condition: Condition{Type: ConditionUserAttribute, Key: "department", Operator: OpEqual, Text: "engineering"},
			want:      true,
		},
		{
			name:      "equal default operator",
			condition: Condition{Type: ConditionUserAttribute, Key: "department", Text: "engineering"},
			want:      true,
		},
		{
			name:      "not equal",
			condition: Condition{Type: ConditionUserAttribute, Key: "clearance", Operator: OpNotEqual, Text: "elevated"},
			want:      true,
		},
		{
			name:      "in",
			condition: Condition{Type: ConditionUserAttribute, Key: "department", Operator: OpIn, List: []string{"support", "engineering"}},
			want:      true,
		},
		{
			name:      "not in",
			condition: Condition{Type: ConditionUserAttribute, Key: "department", Operator: OpNotIn, List: []string{"finance"}},
			want:      true,
		},
		{
			name:      "greater",
			condition: Condition{Type: ConditionUserAttribute, Key: "tenure", Operator: OpGreater, Number: 5},
			want:      true,
		},
		{
			name:      "greater excludes equal",
			condition: Condition{Type: ConditionUserAttribute, Key: "tenure", Operator: OpGreater, Number: 7},
			want:      false,
		},
		{
			name:      "greater or equal includes equal",
			condition: Condition{Type: ConditionUserAttribute, Key: "tenure", Operator: OpGreaterEq, Number: 7},
			want:      true,
		},
		{
			name:      "less",
			condition: Condition{Type: ConditionUserAttribute, Key: "tenure", Operator: OpLess, Number: 10},
			want:      true,
		},
		{
			name:      "less or equal includes equal",
			condition: Condition{Type: ConditionUserAttribute, Key: "tenure", Operator: OpLessEq, Number: 7},
			want:      true,
		},
		{
			name:      "numeric comparison on non-number fails closed",
			condition: Condition{Type: ConditionUserAttribute, Key: "department", Operator: OpGreater, Number: 1},
			want:      false,
		},
		{
			name:      "between inclusive bounds",
			condition: Condition{Type: ConditionUserAttribute, Key: "tenure", Operator: OpBetween, List: []string{"7", "12"}},
			want:      true,
		},
		{
			name:      "between outside range",
			condition: Condition{Type: ConditionUserAttribute, Key: "tenure", Operator: OpBetween, List: []string{"8", "12"}},
			want:      false,
		},
		{
			name:      "between malformed bounds fail closed",
			condition: Condition{Type: ConditionUserAttribute, Key: "tenure", Operator: OpBetween, List: []string{"low"}},
			want:      false,
		},
		{
			name:      "contains",
			condition: Condition{Type: ConditionUserAttribute, Key: "department", Operator: OpContains, Text: "gineer"},
			want:      true,
		},
		{
			name:      "not contains",
			condition: Condition{Type: ConditionUserAttribute, Key: "department", Operator: OpNotContains, Text: "sales"},
			want:      true,
		},
		{
			name:      "regex match",
			condition: Condition{Type: ConditionUserAttribute, Key: "department", Operator: OpRegexMatch, Text: "^eng.*ing$"},
			want:      true,
		},
		{
			name:      "regex invalid pattern fails closed",
			condition: Condition{Type: ConditionUserAttribute, Key: "department", Operator: OpRegexMatch, Text: "("},
			want:      false,
		},
		{
			name:      "missing attribute",
			condition: Condition{Type: ConditionUserAttribute, Key: "team", Operator: OpEqual, Text: "platform"},
			want:      false,
		},
		{
			name:      "unknown operator fails closed",
			condition: Condition{Type: ConditionUserAttribute, Key: "department", Operator: "fuzzy", Text: "engineering"},
			want:      false,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.want, test.condition.Evaluate(request))
		})
	}
}

func TestUnknownConditionTypeFailsClosed(t *testing.T) {
	condition := Condition{Type: "phase_of_moon"}
	assert.False(t, condition.Evaluate(&Request{}))
}
