//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package core provides the primary interface for the zero-trust decision
// engine, which scores each request for trust and then applies layered
// policy checks to allow or deny it.
//
// # Quick Start
//
// Create an engine with default options (built-in policy, stdout audit, no
// history service):
//
//	de, err := core.NewDecisionEngine()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Make a decision:
//
//	d, err := de.Evaluate(ctx, `{
//	    "subject":  {"username": "alice", "roles": ["developer"]},
//	    "device":   {"ip": "172.28.2.15"},
//	    "resource": {"type": "projects", "action": "read"}
//	}`)
//
// # Configuration
//
// Collaborators are replaced with functional options:
//
//	de, err := core.NewDecisionEngine(
//	    options.WithHistory(history.NewRedis(client)),
//	    options.WithAccessLog(accesslog.NewNullFactory()),
//	)
//
// [NewDecisionEngineFromConfig] builds every collaborator from the loaded
// configuration instead. See the [config] package for the settings.
package core

import (
	"context"
	"time"

	"github.com/manetu/zerotrust/internal/core"
	"github.com/manetu/zerotrust/internal/logging"
	"github.com/manetu/zerotrust/pkg/core/accesslog"
	"github.com/manetu/zerotrust/pkg/core/auxdata"
	"github.com/manetu/zerotrust/pkg/core/config"
	"github.com/manetu/zerotrust/pkg/core/history"
	"github.com/manetu/zerotrust/pkg/core/opa"
	"github.com/manetu/zerotrust/pkg/core/options"
	"github.com/manetu/zerotrust/pkg/core/policy"
	"github.com/manetu/zerotrust/pkg/core/types"
	"github.com/pkg/errors"
)

var logger = logging.GetLogger("decisionengine")
var agent = "decisionengine"

// DecisionEngine is the primary interface for making access decisions.
//
// Implementations are safe for concurrent use by multiple goroutines.
type DecisionEngine interface {
	// Evaluate normalizes a request and decides it.
	//
	// The request may be a JSON string, []byte, or a decoded map in either
	// accepted wire shape. See the [types] package for both.
	//
	// Returns an error only when the request is malformed; policy denials
	// are reported in the Decision.
	Evaluate(ctx context.Context, req types.AnyRequest, evalOptions ...options.EvalOptionsFunc) (*types.Decision, error)

	// EvaluateContext decides an already normalized request.
	EvaluateContext(ctx context.Context, rc *types.RequestContext, evalOptions ...options.EvalOptionsFunc) *types.Decision

	// TrustScore normalizes a request and scores it without policy checks
	// or auditing.
	TrustScore(ctx context.Context, req types.AnyRequest) (*types.RequestContext, float64, *types.TrustComponents, error)

	// Policy returns the policy the engine evaluates against.
	Policy() *policy.Store

	// Close releases the audit stream.
	Close()
}

// DecisionEngineImpl is the default implementation of the [DecisionEngine] interface.
type DecisionEngineImpl struct {
	instance *core.DecisionEngine
	now      func() time.Time
}

// NewDecisionEngine creates and initializes a new [DecisionEngine].
//
// By default the engine uses the built-in policy, a stdout audit stream and
// no history service, so every history signal takes its neutral default.
//
// Returns an error if configuration loading fails or the audit stream cannot
// be opened.
func NewDecisionEngine(engineOptions ...options.EngineOptionsFunc) (DecisionEngine, error) {
	err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "error loading config")
	}

	opts := &options.EngineOptions{
		AccessLogFactory: accesslog.NewStdoutFactory(),
		History:          history.Null{},
		HistoryTimeout:   config.VConfig.GetDuration(config.HistoryTimeout),
	}
	for _, o := range engineOptions {
		o(opts)
	}

	instance, err := core.NewDecisionEngine(opts)
	if err != nil {
		return nil, errors.Wrap(err, "error creating decision engine")
	}

	return &DecisionEngineImpl{instance: instance, now: time.Now}, nil
}

// NewDecisionEngineFromConfig creates a [DecisionEngine] whose policy,
// history signal, audit sinks and guard all come from configuration.
// Explicit options are applied last and win.
func NewDecisionEngineFromConfig(engineOptions ...options.EngineOptionsFunc) (DecisionEngine, error) {
	err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "error loading config")
	}

	var base []options.EngineOptionsFunc

	if path := config.VConfig.GetString(config.PolicyPath); path != "" {
		store, err := policy.Load(path)
		if err != nil {
			return nil, err
		}
		base = append(base, options.WithPolicy(store))
	}

	h, err := history.NewFromConfig()
	if err != nil {
		return nil, err
	}
	base = append(base, options.WithHistory(h))

	factory, err := accesslog.NewFromConfig()
	if err != nil {
		return nil, err
	}
	base = append(base, options.WithAccessLog(factory))

	if path := config.VConfig.GetString(config.GuardPath); path != "" {
		g, err := opa.LoadGuard(path, core.UnsafeBuiltins())
		if err != nil {
			return nil, err
		}
		aux, err := auxdata.Load(config.VConfig.GetString(config.GuardAuxData))
		if err != nil {
			return nil, errors.Wrap(err, "loading guard auxdata")
		}
		g.WithAuxData(aux)
		base = append(base, options.WithGuard(g))
	}

	logger.SysInfof("decision engine: history=%s audit=%v guard=%t",
		config.VConfig.GetString(config.HistoryBackend), config.GetList(config.AuditSinks),
		config.VConfig.GetString(config.GuardPath) != "")

	return NewDecisionEngine(append(base, engineOptions...)...)
}

func evalOpts(evalOptions []options.EvalOptionsFunc) *options.EvalOptions {
	opts := &options.EvalOptions{Probe: false}
	for _, o := range evalOptions {
		o(opts)
	}
	return opts
}

// Evaluate normalizes req, stamping it with the time of receipt, and decides it.
//
// The decision is sent to the configured audit stream unless probe mode is set:
//
//	d, err := de.Evaluate(ctx, req, options.SetProbeMode(true))
func (de *DecisionEngineImpl) Evaluate(ctx context.Context, req types.AnyRequest, evalOptions ...options.EvalOptionsFunc) (*types.Decision, error) {
	rc, err := types.UnmarshalRequest(req, de.now())
	if err != nil {
		return nil, err
	}

	d := de.instance.Evaluate(ctx, rc, evalOpts(evalOptions))
	logger.Debugf(agent, "Evaluate", "returned from evaluate(): %s", d.Decision)

	return d, nil
}

// EvaluateContext decides an already normalized request.
func (de *DecisionEngineImpl) EvaluateContext(ctx context.Context, rc *types.RequestContext, evalOptions ...options.EvalOptionsFunc) *types.Decision {
	if rc.Timestamp.IsZero() {
		rc.Timestamp = de.now()
	}
	return de.instance.Evaluate(ctx, rc, evalOpts(evalOptions))
}

// TrustScore normalizes req and scores it.
func (de *DecisionEngineImpl) TrustScore(ctx context.Context, req types.AnyRequest) (*types.RequestContext, float64, *types.TrustComponents, error) {
	rc, err := types.UnmarshalRequest(req, de.now())
	if err != nil {
		return nil, 0, nil, err
	}

	score, components := de.instance.TrustScore(ctx, rc)
	return rc, score, components, nil
}

// Policy returns the policy the engine evaluates against.
func (de *DecisionEngineImpl) Policy() *policy.Store {
	return de.instance.Policy()
}

// Close releases the audit stream.
func (de *DecisionEngineImpl) Close() {
	de.instance.Close()
}
