//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package ids is the signature detection engine.
//
// Content is handed to a primary [Backend], normally an external engine
// whose fast-alert output is parsed by [ParseFastAlerts]. When the primary
// is missing, fails, or reports nothing, the local [Fallback] rule table runs
// instead, so a minimum level of detection never depends on the external
// engine. Traffic is blocked when any alert asks for it.
package ids

import (
	"context"
	"maps"
	"sync/atomic"
	"time"

	"github.com/manetu/zerotrust/internal/logging"
	"github.com/manetu/zerotrust/pkg/common"
	"github.com/manetu/zerotrust/pkg/core/accesslog"
	"github.com/manetu/zerotrust/pkg/core/config"
	"github.com/manetu/zerotrust/pkg/session"
)

var logger = logging.GetLogger("ids")

const agent = "ids"

// Modes the engine may report.
const (
	ModeInline  = "inline"
	ModePassive = "passive"
	ModeTap     = "tap"
)

// Result is the outcome of one analysis.
type Result struct {
	Analyzed    bool      `json:"analyzed"`
	Engine      string    `json:"engine"`
	AlertsCount int       `json:"alerts_count"`
	Alerts      []Alert   `json:"alerts"`
	Blocked     bool      `json:"blocked"`
	Timestamp   time.Time `json:"timestamp"`
}

// Stats are the engine counters.
type Stats struct {
	PacketsAnalyzed   int64     `json:"packets_analyzed"`
	AlertsGenerated   int64     `json:"alerts_generated"`
	BlockedAttempts   int64     `json:"blocked_attempts"`
	EngineInvocations int64     `json:"engine_invocations"`
	SessionsTracked   int       `json:"sessions_tracked"`
	StartTime         time.Time `json:"start_time"`
	Uptime            string    `json:"uptime"`
}

// Health summarizes engine readiness.
type Health struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Engine    string    `json:"engine"`
	Mode      string    `json:"mode"`
	Timestamp time.Time `json:"timestamp"`
	Stats     Stats     `json:"stats"`
}

// Engine runs signature analysis. It is safe for concurrent use.
type Engine struct {
	primary  Backend
	fallback *Fallback
	rules    *RuleTable
	audit    accesslog.Stream
	sessions *session.Tracker
	mode     string
	auditEnv map[string]string
	now      func() time.Time
	start    time.Time

	packets     atomic.Int64
	alerts      atomic.Int64
	blocked     atomic.Int64
	invocations atomic.Int64
}

// Option configures an [Engine].
type Option func(*Engine)

// WithPrimary sets the primary backend. Without one only the fallback runs.
func WithPrimary(b Backend) Option {
	return func(e *Engine) {
		e.primary = b
	}
}

// WithRules sets the rule table used by the fallback.
func WithRules(t *RuleTable) Option {
	return func(e *Engine) {
		if t != nil {
			e.rules = t
		}
	}
}

// WithAccessLog sets the audit stream.
func WithAccessLog(s accesslog.Stream) Option {
	return func(e *Engine) {
		e.audit = s
	}
}

// WithSessions shares a session tracker with the engine.
func WithSessions(t *session.Tracker) Option {
	return func(e *Engine) {
		if t != nil {
			e.sessions = t
		}
	}
}

// WithMode sets the reported deployment mode.
func WithMode(mode string) Option {
	return func(e *Engine) {
		if mode != "" {
			e.mode = mode
		}
	}
}

// NewEngine creates an engine. The defaults are the built-in rule table, no
// primary backend, no audit, and inline mode.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		rules: DefaultRules(),
		mode:  ModeInline,
		now:   time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	if e.sessions == nil {
		e.sessions = session.NewTracker()
	}
	if config.VConfig != nil {
		e.auditEnv = config.GetAuditEnv()
	}
	e.fallback = NewFallback(e.rules)
	e.start = e.now().UTC()
	return e
}

// Rules is the active rule table.
func (e *Engine) Rules() *RuleTable {
	return e.rules
}

// Sessions is the session tracker fed by this engine.
func (e *Engine) Sessions() *session.Tracker {
	return e.sessions
}

// Mode is the deployment mode.
func (e *Engine) Mode() string {
	return e.mode
}

func (e *Engine) runPrimary(ctx context.Context, c *Content) []Alert {
	if e.primary == nil || !e.primary.Available() {
		return nil
	}
	e.invocations.Add(1)

	alerts, err := e.primary.Analyze(ctx, c)
	if err != nil {
		logger.Warnf(agent, "analyze", "%s backend failed, using fallback: %v", e.primary.Name(), err)
		return nil
	}
	return alerts
}

// Analyze inspects content and reports the alerts it raises. Collaborator
// failures never surface as errors; only missing content does.
func (e *Engine) Analyze(ctx context.Context, c *Content) (*Result, error) {
	if c == nil {
		return nil, common.NewError(common.InvalidParam, "no packet data provided")
	}
	e.packets.Add(1)

	engine := SourceNative
	alerts := e.runPrimary(ctx, c)
	if len(alerts) == 0 {
		engine = SourceFallback
		alerts, _ = e.fallback.Analyze(ctx, c)
		if len(alerts) > 0 {
			logger.Infof(agent, "analyze", "fallback engine found %d alerts", len(alerts))
		}
	}
	if alerts == nil {
		alerts = []Alert{}
	}

	fingerprint := c.Fingerprint()
	for i := range alerts {
		alerts[i].SourceIP = c.sourceIP()
		alerts[i].DestIP = c.destIP()
		alerts[i].URI = c.URI
		alerts[i].PayloadFingerprint = fingerprint
	}

	r := &Result{
		Analyzed:    true,
		Engine:      engine,
		AlertsCount: len(alerts),
		Alerts:      alerts,
		Blocked:     anyBlocks(alerts),
		Timestamp:   e.now().UTC(),
	}

	e.alerts.Add(int64(len(alerts)))
	if r.Blocked {
		e.blocked.Add(1)
	}
	e.sessions.Touch(c.sourceIP(), c.destIP())

	e.auditResult(c, r)
	return r, nil
}

func (e *Engine) metadata() map[string]string {
	if len(e.auditEnv) == 0 {
		return nil
	}
	return maps.Clone(e.auditEnv)
}

func (e *Engine) send(ev *accesslog.Event) {
	if err := e.audit.Send(ev); err != nil {
		logger.Errorf(agent, "audit", "unable to send audit event %+v", err)
	}
}

func (e *Engine) auditResult(c *Content, r *Result) {
	logger.Debugf(agent, "analyze", "source: %s, uri: %s, engine: %s, alerts: %d, blocked: %t",
		c.sourceIP(), c.URI, r.Engine, r.AlertsCount, r.Blocked)

	if e.audit == nil {
		return
	}

	ids := make([]string, len(r.Alerts))
	for i, a := range r.Alerts {
		ids[i] = a.RuleID

		ev := accesslog.NewEvent(accesslog.TypeAlert)
		ev.SourceIP = a.SourceIP
		ev.Resource = a.URI
		ev.Decision = a.Action
		ev.Reason = a.Message
		ev.Details = map[string]interface{}{
			"rule_id":  a.RuleID,
			"severity": a.Severity,
			"category": a.Category,
			"engine":   a.Source,
			"dest_ip":  a.DestIP,
		}
		if a.PayloadFingerprint != "" {
			ev.Details["payload_fingerprint"] = a.PayloadFingerprint
		}
		ev.Metadata = e.metadata()
		e.send(ev)
	}

	ev := accesslog.NewEvent(accesslog.TypeAnalysis)
	ev.SourceIP = c.sourceIP()
	ev.Resource = c.URI
	ev.Details = map[string]interface{}{
		"alerts_count": r.AlertsCount,
		"blocked":      r.Blocked,
		"alerts":       ids,
		"engine":       r.Engine,
		"dest_ip":      c.destIP(),
	}
	ev.Metadata = e.metadata()
	e.send(ev)
}

// DeepInspect runs a normal analysis and adds the advisory inspection.
func (e *Engine) DeepInspect(ctx context.Context, c *Content) (*Result, *Inspection, error) {
	r, err := e.Analyze(ctx, c)
	if err != nil {
		return nil, nil, err
	}
	return r, Inspect(c.Payload), nil
}

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() Stats {
	return Stats{
		PacketsAnalyzed:   e.packets.Load(),
		AlertsGenerated:   e.alerts.Load(),
		BlockedAttempts:   e.blocked.Load(),
		EngineInvocations: e.invocations.Load(),
		SessionsTracked:   e.sessions.Count(),
		StartTime:         e.start,
		Uptime:            e.now().UTC().Sub(e.start).Round(time.Second).String(),
	}
}

// Health reports degraded when the primary backend cannot run.
func (e *Engine) Health() Health {
	h := Health{
		Status:    "healthy",
		Service:   "signature-engine",
		Engine:    SourceNative,
		Mode:      e.mode,
		Timestamp: e.now().UTC(),
		Stats:     e.Stats(),
	}
	if e.primary == nil || !e.primary.Available() {
		h.Status = "degraded"
		h.Engine = SourceFallback
	}
	return h
}

// Close releases the audit stream.
func (e *Engine) Close() {
	if e.audit != nil {
		e.audit.Close()
	}
}

// NewFromConfig creates an engine from the rules.path, ids.engine.* and
// ids.mode settings. Explicit options are applied last.
func NewFromConfig(opts ...Option) (*Engine, error) {
	if err := config.Load(); err != nil {
		return nil, err
	}

	rules := DefaultRules()
	if path := config.VConfig.GetString(config.RulesPath); path != "" {
		var err error
		if rules, err = LoadRules(path); err != nil {
			return nil, err
		}
	}

	base := []Option{
		WithRules(rules),
		WithPrimary(NewExec(ExecConfigFromViper())),
		WithMode(config.VConfig.GetString(config.IDSMode)),
	}
	return NewEngine(append(base, opts...)...), nil
}
