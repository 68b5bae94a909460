//
//  Copyright © Manetu Inc. All rights reserved.
//

package core

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/manetu/zerotrust/internal/logging"
	"github.com/manetu/zerotrust/pkg/core/accesslog"
	"github.com/manetu/zerotrust/pkg/core/config"
	"github.com/manetu/zerotrust/pkg/core/opa"
	"github.com/manetu/zerotrust/pkg/core/options"
	"github.com/manetu/zerotrust/pkg/core/policy"
	"github.com/manetu/zerotrust/pkg/core/trust"
	"github.com/manetu/zerotrust/pkg/core/types"
)

var logger = logging.GetLogger("decisionengine")

const agent string = "decisionengine"

// Reasons attached to decisions.
const (
	ReasonAllowed      = "All policy checks passed"
	ReasonGuardFailure = "Policy guard evaluation failed"
)

// DecisionEngine runs the ordered policy checks over a scored request.
type DecisionEngine struct {
	audit    accesslog.Stream
	policy   *policy.Store
	scorer   *trust.Scorer
	guard    *opa.Guard
	auditEnv map[string]string
}

// NewDecisionEngine returns an engine over the given options. The policy
// defaults to the built-in one.
func NewDecisionEngine(engineOptions *options.EngineOptions) (*DecisionEngine, error) {
	store := engineOptions.Policy
	if store == nil {
		store = policy.Default()
	}

	al, err := engineOptions.AccessLogFactory.NewStream()
	if err != nil {
		return nil, err
	}

	var auditEnv map[string]string
	if config.VConfig != nil {
		auditEnv = config.GetAuditEnv()
	}

	return &DecisionEngine{
		audit:  al,
		policy: store,
		scorer: trust.NewScorer(store,
			trust.WithHistory(engineOptions.History),
			trust.WithTimeout(engineOptions.HistoryTimeout)),
		guard:    engineOptions.Guard,
		auditEnv: auditEnv,
	}, nil
}

func (de *DecisionEngine) auditDecision(eo *options.EvalOptions, rc *types.RequestContext, d *types.Decision) {
	if logger.IsDebugEnabled() {
		logger.Debugf(agent, "auditDecision", "user: %s, resource: %s, decision: %s, reason: %s, options: %+v",
			rc.Username, rc.ResourceType, d.Decision, d.Reason, eo)
	}

	if de.audit == nil || eo.Probe {
		return
	}

	ev := accesslog.NewEvent(accesslog.TypeDecision).WithScore(d.TrustScore)
	ev.Username = rc.Username
	ev.SourceIP = rc.SourceIP
	ev.Resource = rc.ResourceType
	ev.Action = rc.Action
	ev.Decision = d.Decision
	ev.Reason = d.Reason
	ev.Details = map[string]interface{}{"roles": rc.Roles}
	if d.Components != nil {
		ev.Details["components"] = d.Components
	} else if d.IPCheck != "" {
		ev.Details["ip_check"] = d.IPCheck
	}
	if d.AccessLevel != "" {
		ev.Details["access_level"] = d.AccessLevel
	}
	if len(de.auditEnv) > 0 {
		ev.Metadata = maps.Clone(de.auditEnv)
	}

	if err := de.audit.Send(ev); err != nil {
		logger.Errorf(agent, "auditDecision", "unable to send audit event %+v", err)
	}
}

func (de *DecisionEngine) guardInput(rc *types.RequestContext, score float64, c *types.TrustComponents) map[string]interface{} {
	roles := make([]interface{}, len(rc.Roles))
	for i, r := range rc.Roles {
		roles[i] = r
	}
	return map[string]interface{}{
		"username":    rc.Username,
		"roles":       roles,
		"source_ip":   rc.SourceIP,
		"resource":    rc.ResourceType,
		"action":      rc.Action,
		"context":     rc.Context,
		"timestamp":   rc.Timestamp.Unix(),
		"trust_score": score,
		"network":     c.Network,
		"components": map[string]interface{}{
			"base_trust":    c.BaseTrust,
			"history_score": c.HistoryScore,
			"anomaly_score": c.AnomalyScore,
			"context_score": c.ContextScore,
		},
	}
}

// Evaluate produces the decision for rc. The checks run in a fixed order and
// the first failing check decides. Decisions start as deny so that a panic
// anywhere below is still audited as a denial.
func (de *DecisionEngine) Evaluate(ctx context.Context, rc *types.RequestContext, eo *options.EvalOptions) *types.Decision {
	logger.Debug(agent, "evaluate", "Enter")
	defer logger.Debug(agent, "evaluate", "Exit")

	if eo == nil {
		eo = &options.EvalOptions{}
	}
	d := &types.Decision{Decision: types.Deny}

	// -------------------------- NOTE: all returns audited -----------------
	defer de.auditDecision(eo, rc, d)

	if de.policy.IsBlacklisted(rc.SourceIP) {
		d.Reason = fmt.Sprintf("IP %s is blacklisted", rc.SourceIP)
		d.IPCheck = types.IPCheckBlocked
		logger.Warnf(rc.Username, "evaluate", "blocked request from blacklisted address %s", rc.SourceIP)
		return d
	}

	score, components := de.scorer.Score(ctx, rc)
	d.TrustScore = score
	d.Components = components

	rule, known := de.policy.Resource(rc.ResourceType)
	if !known {
		logger.Debugf(rc.Username, "evaluate", "resource %q not in policy, applying defaults", rc.ResourceType)
	}

	if score < rule.MinTrust {
		d.Reason = fmt.Sprintf("Trust score %g below minimum %g for resource %s", score, rule.MinTrust, rc.ResourceType)
		return d
	}

	// an empty role list on the resource leaves it unrestricted
	if !rule.Allows(rc.Roles) {
		d.Reason = fmt.Sprintf("User roles [%s] not authorized for resource %s", strings.Join(rc.Roles, ", "), rc.ResourceType)
		return d
	}

	switch {
	case len(rc.Roles) == 0:
		// a principal with no roles skips the action check
		logger.Debugf(rc.Username, "evaluate", "no roles, action check skipped for %s", rc.Action)
	case !de.policy.Grants(rc.Roles, rc.Action):
		d.Reason = fmt.Sprintf("Action '%s' not permitted for user roles", rc.Action)
		return d
	}

	if de.guard != nil {
		reasons, err := de.guard.Check(ctx, de.guardInput(rc, score, components))
		if err != nil {
			logger.Errorf(rc.Username, "evaluate", "guard failed: %v", err)
			d.Reason = ReasonGuardFailure
			return d
		}
		if len(reasons) > 0 {
			d.Reason = strings.Join(reasons, "; ")
			return d
		}
	}

	d.Decision = types.Allow
	d.Reason = ReasonAllowed
	d.AccessLevel = de.policy.AccessLevel(score)

	logger.Debugf(rc.Username, "evaluate", "allowed %s on %s at %.2f (%s)", rc.Action, rc.ResourceType, score, d.AccessLevel)

	return d
}

// TrustScore scores rc without applying any policy check or auditing.
func (de *DecisionEngine) TrustScore(ctx context.Context, rc *types.RequestContext) (float64, *types.TrustComponents) {
	return de.scorer.Score(ctx, rc)
}

// Policy returns the store the engine evaluates against.
func (de *DecisionEngine) Policy() *policy.Store {
	return de.policy
}

// Close releases the audit stream.
func (de *DecisionEngine) Close() {
	if de.audit != nil {
		de.audit.Close()
	}
}
