// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package authz

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/meridianhq/meridian/internal/auth/audit"
	"github.com/meridianhq/meridian/internal/authz/risk"
)

// # Policy Decision Point
//
// The PDP combines the permission engine's verdict with a fresh risk
// assessment. Both run concurrently; the combination is:
//
//  1. Rule deny wins outright.
//  2. An allowed operation is still denied when the risk score exceeds the
//     operation's cap.
//  3. Otherwise allow, possibly with obligations the enforcement layer
//     must honor before completing the operation.

// Obligations the enforcement layer understands.
const (
	ObligationStepUp                 = "step_up_authentication"
	ObligationAdditionalVerification = "additional_verification"
	ObligationEnhancedAudit          = "enhanced_audit"
)

// operationCap pairs a glob over "resource:action" with the maximum risk
// score at which the operation may proceed.
type operationCap struct {
	pattern string
	cap     int
}

// operationCaps is evaluated in order; the first matching pattern applies.
var operationCaps = []operationCap{
	{"user:delete", 20},
	{"admin:*", 30},
	{"license:*", 70},
}

// defaultRiskCap applies to operations with no specific cap.
const defaultRiskCap = 80

const (
	stepUpScoreThreshold       = 60
	verificationScoreThreshold = 80
)

// riskCapFor resolves the cap for one operation.
func riskCapFor(resource, action string) int {
	operation := fmt.Sprintf("%s:%s", resource, action)
	for _, entry := range operationCaps {
		if globMatch(entry.pattern, operation) {
			return entry.cap
		}
	}
	return defaultRiskCap
}

// sensitiveOperation reports whether the operation belongs to the class
// with a tighter-than-default risk cap. Sensitive operations always carry
// the enhanced-audit obligation and require step-up at elevated scores.
func sensitiveOperation(resource, action string) bool {
	return riskCapFor(resource, action) < defaultRiskCap
}

// Decision is the PDP's complete answer to one authorization request.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	RuleID  string `json:"ruleId,omitempty"`

	RiskScore int        `json:"riskScore"`
	RiskLevel risk.Level `json:"riskLevel"`

	// Obligations are binding: the enforcement layer must discharge them
	// before completing the operation. Advice is informational.
	Obligations []string `json:"obligations,omitempty"`
	Advice      []string `json:"advice,omitempty"`
}

// DecisionRequest bundles the rule-engine request with the risk inputs.
type DecisionRequest struct {
	Permission Request
	Risk       risk.Input
}

// riskEvaluator is the slice of the risk engine the PDP consumes.
type riskEvaluator interface {
	Evaluate(ctx context.Context, input risk.Input) *risk.Assessment
}

// PDP is the policy decision point.
type PDP struct {
	permissions *Engine
	riskEngine  riskEvaluator
	recorder    recorder
	logger      *slog.Logger
}

type recorder interface {
	Record(ctx context.Context, event *audit.Event)
}

// NewPDP wires the decision point to its two engines.
func NewPDP(permissions *Engine, riskEngine riskEvaluator, auditRecorder recorder, logger *slog.Logger) *PDP {
	return &PDP{
		permissions: permissions,
		riskEngine:  riskEngine,
		recorder:    auditRecorder,
		logger:      logger,
	}
}

/*
Evaluate produces the authorization decision for one request.

Description: The permission verdict and the risk assessment are computed
concurrently, then combined: rule deny first, risk cap second. Denials are
audited as permission_denied; step-up obligations additionally emit a
step_up_required event. Any internal panic or fail-safe assessment denies
with critical risk.

Parameters:
  - ctx: context.Context
  - request: DecisionRequest (permission attributes plus risk inputs)

Returns:
  - *Decision: Always non-nil; deny-by-default on every failure path
*/
func (pdp *PDP) Evaluate(ctx context.Context, request DecisionRequest) *Decision {
	verdictCh := make(chan Verdict, 1)
	assessmentCh := make(chan *risk.Assessment, 1)

	go func() {
		verdictCh <- pdp.permissions.Evaluate(&request.Permission)
	}()
	go func() {
		assessmentCh <- pdp.riskEngine.Evaluate(ctx, request.Risk)
	}()

	var verdict Verdict
	var assessment *risk.Assessment
	for i := 0; i < 2; i++ {
		select {
		case verdict = <-verdictCh:
		case assessment = <-assessmentCh:
		case <-ctx.Done():
			pdp.logger.Warn("pdp_evaluation_aborted", slog.Any("error", ctx.Err()))
			return pdp.failSafe(ctx, request, "evaluation_aborted")
		}
	}

	if assessment.FailSafe {
		return pdp.failSafe(ctx, request, "risk_unavailable")
	}

	// The rule engine sees the fresh score for its risk_score conditions.
	// It ran with the caller-supplied score; re-evaluate only when the
	// fresh assessment is stricter.
	if assessment.Score > request.Permission.RiskScore {
		strict := request.Permission
		strict.RiskScore = assessment.Score
		verdict = pdp.permissions.Evaluate(&strict)
	}

	decision := &Decision{
		RiskScore: assessment.Score,
		RiskLevel: assessment.Level,
	}

	resource := request.Permission.Resource
	action := request.Permission.Action

	if !verdict.Allowed {
		decision.Reason = verdict.Reason
		decision.RuleID = verdict.RuleID
		pdp.audited(ctx, request, decision, audit.EventPermissionDenied)
		return decision
	}

	if limit := riskCapFor(resource, action); assessment.Score > limit {
		decision.Reason = "risk_exceeds_cap"
		decision.Advice = append(decision.Advice,
			fmt.Sprintf("risk score %d exceeds cap %d for %s:%s", assessment.Score, limit, resource, action))
		pdp.audited(ctx, request, decision, audit.EventPermissionDenied)
		return decision
	}

	decision.Allowed = true
	decision.Reason = "allowed"
	decision.RuleID = verdict.RuleID

	if sensitiveOperation(resource, action) && assessment.Score > stepUpScoreThreshold {
		decision.Obligations = append(decision.Obligations, ObligationStepUp)
		pdp.audited(ctx, request, decision, audit.EventStepUpRequired)
	}
	if assessment.Score > verificationScoreThreshold {
		decision.Obligations = append(decision.Obligations, ObligationAdditionalVerification)
	}
	if sensitiveOperation(resource, action) {
		decision.Obligations = append(decision.Obligations, ObligationEnhancedAudit)
	}

	return decision
}

// failSafe is the deny-with-critical-risk decision used on every internal
// failure path.
func (pdp *PDP) failSafe(ctx context.Context, request DecisionRequest, reason string) *Decision {
	decision := &Decision{
		Allowed:   false,
		Reason:    reason,
		RiskScore: 100,
		RiskLevel: risk.LevelCritical,
	}
	pdp.audited(ctx, request, decision, audit.EventPermissionDenied)
	return decision
}

// audited records the decision outcome; audit failures never affect the
// decision.
func (pdp *PDP) audited(ctx context.Context, request DecisionRequest, decision *Decision, eventType audit.EventType) {
	result := audit.ResultDenied
	severity := audit.SeverityWarning
	if decision.Allowed {
		result = audit.ResultSuccess
		severity = audit.SeverityInfo
	}

	pdp.recorder.Record(ctx, &audit.Event{
		UserID:    request.Permission.UserID,
		SessionID: request.Risk.SessionID,
		EventType: eventType,
		Severity:  severity,
		Result:    result,
		Resource:  request.Permission.Resource,
		Action:    request.Permission.Action,
		IPAddress: request.Risk.IPAddress,
		UserAgent: request.Risk.UserAgent,
		Metadata: map[string]any{
			"reason":    decision.Reason,
			"riskScore": decision.RiskScore,
			"riskLevel": string(decision.RiskLevel),
		},
	})
}
