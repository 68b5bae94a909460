//
//  Copyright © Manetu Inc. All rights reserved.
//
// shared between pkg/core and internal/core, and thus must be in a separate package to avoid circular dependencies

package options

import (
	"time"

	"github.com/manetu/zerotrust/pkg/core/accesslog"
	"github.com/manetu/zerotrust/pkg/core/history"
	"github.com/manetu/zerotrust/pkg/core/opa"
	"github.com/manetu/zerotrust/pkg/core/policy"
)

// EngineOptions defines the collaborators of a decision engine.
type EngineOptions struct {
	AccessLogFactory accesslog.Factory
	History          history.Signal
	HistoryTimeout   time.Duration
	Policy           *policy.Store
	Guard            *opa.Guard
}

// EngineOptionsFunc is a function that modifies EngineOptions.
type EngineOptionsFunc func(*EngineOptions)

// WithAccessLog configures the audit stream for the engine.
func WithAccessLog(factory accesslog.Factory) EngineOptionsFunc {
	return func(o *EngineOptions) {
		o.AccessLogFactory = factory
	}
}

// WithHistory configures the history signal consulted by the trust scorer.
func WithHistory(h history.Signal) EngineOptionsFunc {
	return func(o *EngineOptions) {
		o.History = h
	}
}

// WithHistoryTimeout bounds each history query.
func WithHistoryTimeout(d time.Duration) EngineOptionsFunc {
	return func(o *EngineOptions) {
		o.HistoryTimeout = d
	}
}

// WithPolicy replaces the policy the engine evaluates against.
func WithPolicy(p *policy.Store) EngineOptionsFunc {
	return func(o *EngineOptions) {
		o.Policy = p
	}
}

// WithGuard installs a Rego guard evaluated after the built-in checks.
func WithGuard(g *opa.Guard) EngineOptionsFunc {
	return func(o *EngineOptions) {
		o.Guard = g
	}
}

// EvalOptions represents configuration options for Evaluate operations.
type EvalOptions struct {
	Probe bool
}

// EvalOptionsFunc is a function that modifies EvalOptions.
type EvalOptionsFunc func(*EvalOptions)

// SetProbeMode configures probe mode for Evaluate operations. Probe mode
// produces a decision without auditing it, so a PEP can ask what a principal
// could do without leaving a record that suggests they tried. Probe
// decisions also never feed the history signal.
//
// Probe mode is disabled by default.
func SetProbeMode(probe bool) EvalOptionsFunc {
	return func(o *EvalOptions) {
		o.Probe = probe
	}
}
