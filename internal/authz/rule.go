// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package authz

import "strings"

// # Permission Rules

// Effect is a rule's outcome when it matches and its conditions hold.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// PermissionRule grants or denies an action on a resource pattern, subject
// to its conditions. Higher priority wins; the first matching rule decides.
type PermissionRule struct {
	ID         string
	Name       string
	Resource   string // glob pattern, e.g. "license:*"
	Action     string // exact action or "*"
	Conditions []Condition
	Priority   int
	Effect     Effect
}

// Matches reports whether the rule applies to the request's resource and
// action (conditions are evaluated separately).
func (rule *PermissionRule) Matches(resource, action string) bool {
	if rule.Action != "*" && rule.Action != action {
		return false
	}
	return globMatch(rule.Resource, resource)
}

// ConditionsHold evaluates every attached condition; a rule with no
// conditions holds for any authenticated request.
func (rule *PermissionRule) ConditionsHold(request *Request) bool {
	for i := range rule.Conditions {
		if !rule.Conditions[i].Evaluate(request) {
			return false
		}
	}
	return true
}

// globMatch matches a resource pattern where '*' spans any run of
// characters. Patterns are small and evaluated per request, so a greedy
// segment scan beats compiling regexps.
func globMatch(pattern, value string) bool {
	if pattern == "*" {
		return true
	}

	segments := strings.Split(pattern, "*")
	if len(segments) == 1 {
		return pattern == value
	}

	if !strings.HasPrefix(value, segments[0]) {
		return false
	}
	value = value[len(segments[0]):]

	last := len(segments) - 1
	for _, segment := range segments[1:last] {
		index := strings.Index(value, segment)
		if index < 0 {
			return false
		}
		value = value[index+len(segment):]
	}

	return strings.HasSuffix(value, segments[last])
}
