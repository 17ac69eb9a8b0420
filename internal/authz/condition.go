// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

/*
Package authz implements attribute-based access control for the portal: a
permission engine over prioritized glob rules with structured conditions,
and the policy decision point that combines rule verdicts with adaptive
risk scoring.

# Architecture

  - condition.go: Typed ABAC conditions and their evaluation.
  - rule.go: Permission rules, resource/action matching.
  - engine.go: Rule cache (atomic snapshot), the pure evaluator and the
    default seed set.
  - store_postgres.go: Rule and condition persistence.
  - decision.go: The policy decision point (rules + risk, obligations).
  - http.go: The /authz/evaluate endpoint.

Evaluation is pure: the engine never mutates shared state, so the same
inputs yield the same verdict within a load epoch.
*/
package authz

import (
	"net/netip"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// # Condition Vocabulary

// ConditionType tags the structured condition variants.
type ConditionType string

const (
	ConditionTimeWindow        ConditionType = "time_window"
	ConditionIPRange           ConditionType = "ip_range"
	ConditionRiskScore         ConditionType = "risk_score"
	ConditionUserAttribute     ConditionType = "user_attribute"
	ConditionSecurityLevel     ConditionType = "security_level"
	ConditionGeolocation       ConditionType = "geolocation"
	ConditionDeviceFingerprint ConditionType = "device_fingerprint"
)

// Operator is the comparison applied by attribute-style conditions.
type Operator string

const (
	OpEqual       Operator = "="
	OpNotEqual    Operator = "!="
	OpGreater     Operator = ">"
	OpLess        Operator = "<"
	OpGreaterEq   Operator = ">="
	OpLessEq      Operator = "<="
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpBetween     Operator = "between"
	OpRegexMatch  Operator = "regex_match"
)

// Condition is one structured constraint attached to a permission rule.
//
// The payload layout depends on Type:
//
//   - time_window: Window holds the HH:MM bounds.
//   - ip_range: Whitelist/Blacklist hold CIDR prefixes.
//   - risk_score: Number holds the maximum allowed score.
//   - user_attribute: Key, Operator, and Text/Number/List hold the match.
//   - security_level: Number holds the minimum required level.
//   - geolocation: List holds the allowed country codes.
//   - device_fingerprint: no payload; the request says whether the device
//     is known.
type Condition struct {
	ID   string
	Type ConditionType

	Key      string
	Operator Operator

	Text   string
	Number float64
	List   []string

	Window    TimeWindow
	Whitelist []string
	Blacklist []string
}

// TimeWindow is an inclusive local-time range. Wrap-around windows are not
// supported; split them into two conditions instead.
type TimeWindow struct {
	Start string // "HH:MM"
	End   string // "HH:MM"
}

// # Evaluation

// Request is the attribute bundle a single authorization decision sees.
type Request struct {
	UserID   string
	Resource string
	Action   string

	IPAddress     string
	Country       string
	DeviceKnown   bool
	SecurityLevel int
	RiskScore     int
	Attributes    map[string]string

	// At pins the evaluation instant for the time_window condition; zero
	// means now.
	At time.Time
}

// when returns the pinned or current evaluation time.
func (request *Request) when() time.Time {
	if request.At.IsZero() {
		return time.Now()
	}
	return request.At
}

// Evaluate reports whether the condition holds for the request. Unknown
// condition types fail closed.
func (condition *Condition) Evaluate(request *Request) bool {
	switch condition.Type {
	case ConditionTimeWindow:
		return condition.evaluateTimeWindow(request.when())
	case ConditionIPRange:
		return condition.evaluateIPRange(request.IPAddress)
	case ConditionRiskScore:
		return float64(request.RiskScore) <= condition.Number
	case ConditionUserAttribute:
		return condition.evaluateAttribute(request.Attributes[condition.Key])
	case ConditionSecurityLevel:
		return float64(request.SecurityLevel) >= condition.Number
	case ConditionGeolocation:
		return containsString(condition.List, request.Country)
	case ConditionDeviceFingerprint:
		return request.DeviceKnown
	default:
		return false
	}
}

// evaluateTimeWindow checks the local wall clock against the inclusive
// [Start, End] range.
func (condition *Condition) evaluateTimeWindow(now time.Time) bool {
	start, okStart := parseClock(condition.Window.Start)
	end, okEnd := parseClock(condition.Window.End)
	if !okStart || !okEnd {
		return false
	}

	minute := now.Hour()*60 + now.Minute()
	return minute >= start && minute <= end
}

// evaluateIPRange requires membership in the whitelist (when present) and
// absence from the blacklist.
func (condition *Condition) evaluateIPRange(ipAddress string) bool {
	address, err := netip.ParseAddr(ipAddress)
	if err != nil {
		return false
	}

	if len(condition.Whitelist) > 0 && !inAnyPrefix(address, condition.Whitelist) {
		return false
	}
	return !inAnyPrefix(address, condition.Blacklist)
}

// evaluateAttribute applies the operator to the actual attribute value.
// Numeric operators parse the attribute as a float and fail closed on
// non-numeric values.
func (condition *Condition) evaluateAttribute(actual string) bool {
	switch condition.Operator {
	case OpEqual, "":
		return actual == condition.Text
	case OpNotEqual:
		return actual != condition.Text
	case OpGreater, OpLess, OpGreaterEq, OpLessEq:
		number, err := strconv.ParseFloat(actual, 64)
		if err != nil {
			return false
		}
		switch condition.Operator {
		case OpGreater:
			return number > condition.Number
		case OpLess:
			return number < condition.Number
		case OpGreaterEq:
			return number >= condition.Number
		default:
			return number <= condition.Number
		}
	case OpBetween:
		// List holds the inclusive [low, high] bounds.
		if len(condition.List) != 2 {
			return false
		}
		number, errValue := strconv.ParseFloat(actual, 64)
		low, errLow := strconv.ParseFloat(condition.List[0], 64)
		high, errHigh := strconv.ParseFloat(condition.List[1], 64)
		if errValue != nil || errLow != nil || errHigh != nil {
			return false
		}
		return number >= low && number <= high
	case OpIn:
		return containsString(condition.List, actual)
	case OpNotIn:
		return !containsString(condition.List, actual)
	case OpContains:
		return strings.Contains(actual, condition.Text)
	case OpNotContains:
		return !strings.Contains(actual, condition.Text)
	case OpRegexMatch:
		matched, err := regexp.MatchString(condition.Text, actual)
		return err == nil && matched
	default:
		return false
	}
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(value string) (int, bool) {
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return 0, false
	}
	return parsed.Hour()*60 + parsed.Minute(), true
}

func inAnyPrefix(address netip.Addr, cidrs []string) bool {
	for _, cidr := range cidrs {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			continue
		}
		if prefix.Contains(address) {
			return true
		}
	}
	return false
}

func containsString(list []string, value string) bool {
	for _, candidate := range list {
		if candidate == value {
			return true
		}
	}
	return false
}
