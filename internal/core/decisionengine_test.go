//
//  Copyright © Manetu Inc. All rights reserved.
//

package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/manetu/zerotrust/internal/core/accesslog"
	pkgaccesslog "github.com/manetu/zerotrust/pkg/core/accesslog"
	"github.com/manetu/zerotrust/pkg/core/history"
	"github.com/manetu/zerotrust/pkg/core/opa"
	"github.com/manetu/zerotrust/pkg/core/options"
	"github.com/manetu/zerotrust/pkg/core/policy"
	"github.com/manetu/zerotrust/pkg/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var workday = time.Date(2026, 4, 15, 10, 30, 0, 0, time.UTC)

func newEngine(t *testing.T, opts *options.EngineOptions) (*DecisionEngine, chan *pkgaccesslog.Event) {
	ch := make(chan *pkgaccesslog.Event, 1024)
	opts.AccessLogFactory = accesslog.NewChannelLogger(ch)

	de, err := NewDecisionEngine(opts)
	require.NoError(t, err)
	return de, ch
}

func request(user string, roles []string, ip, resource, action string) *types.RequestContext {
	return &types.RequestContext{
		Username:     user,
		Roles:        roles,
		SourceIP:     ip,
		ResourceType: resource,
		Action:       action,
		Timestamp:    workday,
	}
}

func lastEvent(t *testing.T, ch chan *pkgaccesslog.Event) *pkgaccesslog.Event {
	select {
	case ev := <-ch:
		return ev
	default:
		t.Fatal("expected an audit event")
		return nil
	}
}

func TestBlacklistAlwaysDenies(t *testing.T) {
	de, ch := newEngine(t, &options.EngineOptions{History: &history.Mock{Ratio: &history.Ratio{Success: 100}}})
	ctx := context.Background()

	for _, ip := range policy.DefaultPolicy().IPBlacklist {
		for _, role := range []string{"ceo", "cto", "developer", ""} {
			for _, resource := range []string{"audit", "stats", "nothing-here"} {
				var roles []string
				if role != "" {
					roles = []string{role}
				}

				d := de.Evaluate(ctx, request("mallory", roles, ip, resource, "read"), &options.EvalOptions{})

				assert.Equal(t, types.Deny, d.Decision)
				assert.Equal(t, 0.0, d.TrustScore)
				assert.Equal(t, "IP "+ip+" is blacklisted", d.Reason)
				assert.Equal(t, types.IPCheckBlocked, d.IPCheck)
				assert.Nil(t, d.Components)
				assert.Empty(t, d.AccessLevel)

				ev := lastEvent(t, ch)
				assert.Equal(t, "deny", ev.Decision)
				assert.Equal(t, ip, ev.SourceIP)
				assert.Equal(t, types.IPCheckBlocked, ev.Details["ip_check"])
			}
		}
	}
}

func TestScenarioExecutiveAudit(t *testing.T) {
	de, ch := newEngine(t, &options.EngineOptions{})

	d := de.Evaluate(context.Background(), request("carol", []string{"cto"}, "172.28.4.20", "audit", "read"), nil)

	require.Equal(t, types.Allow, d.Decision)
	assert.Equal(t, 91.0, d.TrustScore)
	assert.Equal(t, policy.AccessFull, d.AccessLevel)
	assert.Equal(t, ReasonAllowed, d.Reason)
	assert.Equal(t, 95.0, d.Components.BaseTrust)
	assert.Equal(t, 100.0, d.Components.ContextScore)

	ev := lastEvent(t, ch)
	assert.Equal(t, pkgaccesslog.TypeDecision, ev.Type)
	assert.Equal(t, "carol", ev.Username)
	assert.Equal(t, "172.28.4.20", ev.SourceIP)
	assert.Equal(t, "audit", ev.Resource)
	assert.Equal(t, "allow", ev.Decision)
	assert.Equal(t, 91.0, *ev.TrustScore)
	assert.Equal(t, policy.AccessFull, ev.Details["access_level"])
}

func TestScenarioDeveloperFromUnknownExternal(t *testing.T) {
	de, _ := newEngine(t, &options.EngineOptions{})

	d := de.Evaluate(context.Background(), request("dan", []string{"developer"}, "172.28.1.77", "employees", "read"), nil)

	require.Equal(t, types.Allow, d.Decision)
	assert.Equal(t, 71.0, d.TrustScore)
	assert.Equal(t, policy.AccessStandard, d.AccessLevel)
	assert.Equal(t, 30.0, d.Components.ContextScore)
}

func TestOrderedChecks(t *testing.T) {
	de, ch := newEngine(t, &options.EngineOptions{})

	tests := []struct {
		name   string
		rc     *types.RequestContext
		want   string
		reason string
		level  string
	}{
		{
			name:   "minimum trust",
			rc:     request("ivan", []string{"intern"}, "172.28.1.9", "audit", "read"),
			want:   types.Deny,
			reason: "Trust score 63.5 below minimum 80 for resource audit",
		},
		{
			name:   "minimum trust before roles",
			rc:     request("ivan", []string{"analyst"}, "172.28.1.9", "audit", "read"),
			want:   types.Deny,
			reason: "Trust score 69.5 below minimum 80 for resource audit",
		},
		{
			name:   "roles not authorized",
			rc:     request("dan", []string{"developer"}, "172.28.4.5", "customers", "read"),
			want:   types.Deny,
			reason: "User roles [developer] not authorized for resource customers",
		},
		{
			name:   "action not permitted",
			rc:     request("ann", []string{"analyst"}, "172.28.2.5", "employees", "write"),
			want:   types.Deny,
			reason: "Action 'write' not permitted for user roles",
		},
		{
			name:   "any role grants the action",
			rc:     request("hal", []string{"analyst", "hr_manager"}, "172.28.2.5", "employees", "write"),
			want:   types.Allow,
			reason: ReasonAllowed,
			level:  policy.AccessFull,
		},
		{
			name:   "unknown resource has no role restriction",
			rc:     request("ann", []string{"analyst"}, "172.28.2.5", "wiki", "read"),
			want:   types.Allow,
			reason: ReasonAllowed,
			level:  policy.AccessFull,
		},
		{
			name:   "unknown resource from unknown external",
			rc:     request("dan", []string{"developer"}, "172.28.1.9", "wiki", "read"),
			want:   types.Allow,
			reason: ReasonAllowed,
			level:  policy.AccessStandard,
		},
		{
			name:   "unmapped role grants nothing",
			rc:     request("ivan", []string{"intern"}, "172.28.1.9", "wiki", "read"),
			want:   types.Deny,
			reason: "Action 'read' not permitted for user roles",
		},
		{
			name:   "zero roles skip the action check",
			rc:     request("anonymous", nil, "172.28.4.5", "wiki", "delete"),
			want:   types.Allow,
			reason: ReasonAllowed,
			level:  policy.AccessStandard,
		},
		{
			name:   "zero roles fail a role restricted resource",
			rc:     request("anonymous", nil, "172.28.4.5", "projects", "read"),
			want:   types.Deny,
			reason: "User roles [] not authorized for resource projects",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := de.Evaluate(context.Background(), tt.rc, nil)
			assert.Equal(t, tt.want, d.Decision)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, tt.level, d.AccessLevel)
			if d.Decision == types.Deny {
				assert.NotNil(t, d.Components, "components are kept on policy denials")
			}

			ev := lastEvent(t, ch)
			assert.Equal(t, tt.want, ev.Decision)
			assert.Equal(t, tt.reason, ev.Reason)
		})
	}
}

func TestMinimumTrustIndependentOfRole(t *testing.T) {
	m := &history.Mock{Ratio: &history.Ratio{Failure: 10}, Events: 20}
	de, _ := newEngine(t, &options.EngineOptions{History: m})

	// ceo from unknown external: 30 + 0 + 5 + 6 = 41
	d := de.Evaluate(context.Background(), request("eve", []string{"ceo"}, "172.28.1.9", "employees", "read"), nil)
	assert.Equal(t, types.Deny, d.Decision)
	assert.Equal(t, 41.0, d.TrustScore)
	assert.Contains(t, d.Reason, "below minimum 50")
}

func TestProbeModeSkipsAudit(t *testing.T) {
	de, ch := newEngine(t, &options.EngineOptions{})

	d := de.Evaluate(context.Background(), request("carol", []string{"cto"}, "172.28.4.20", "audit", "read"), &options.EvalOptions{Probe: true})
	assert.True(t, d.Allowed())
	assert.Len(t, ch, 0)
}

func TestIdempotence(t *testing.T) {
	m := &history.Mock{Ratio: &history.Ratio{Success: 7, Failure: 3}, Events: 4}
	de, _ := newEngine(t, &options.EngineOptions{History: m})

	for _, rc := range []*types.RequestContext{
		request("a", []string{"sales_manager"}, "172.28.3.3", "orders", "write"),
		request("b", []string{"developer"}, "172.28.1.200", "projects", "read"),
		request("c", []string{"intern"}, "10.0.0.1", "stats", "read"),
	} {
		first := de.Evaluate(context.Background(), rc, nil)
		second := de.Evaluate(context.Background(), rc, nil)
		assert.Equal(t, first, second)
	}
}

type failingStream struct{}

func (failingStream) Send(*pkgaccesslog.Event) error { return errors.New("sink down") }
func (failingStream) Close()                         {}

type failingFactory struct{}

func (failingFactory) NewStream() (pkgaccesslog.Stream, error) { return failingStream{}, nil }

func TestAuditFailureIsSwallowed(t *testing.T) {
	de, err := NewDecisionEngine(&options.EngineOptions{AccessLogFactory: failingFactory{}})
	require.NoError(t, err)

	d := de.Evaluate(context.Background(), request("carol", []string{"cto"}, "172.28.4.20", "audit", "read"), nil)
	assert.True(t, d.Allowed())
}

type brokenFactory struct{}

func (brokenFactory) NewStream() (pkgaccesslog.Stream, error) { return nil, errors.New("no stream") }

func TestNewDecisionEngineStreamFailure(t *testing.T) {
	_, err := NewDecisionEngine(&options.EngineOptions{AccessLogFactory: brokenFactory{}})
	assert.Error(t, err)
}

const guard = `
package ztguard

deny contains "deletes require full trust" if {
	input.action == "delete"
	input.trust_score < 80
}

deny contains "interns may not touch audit data" if {
	input.roles[_] == "intern"
	input.resource == "audit"
}
`

func TestGuardStage(t *testing.T) {
	g, err := opa.NewGuard("guard.rego", guard)
	require.NoError(t, err)
	de, _ := newEngine(t, &options.EngineOptions{Guard: g})

	// ceo at dmz: 30 + 17.5 + 25 + 17 = 89.5, so deletes pass the guard
	d := de.Evaluate(context.Background(), request("hal", []string{"hr_manager", "ceo"}, "172.28.3.1", "employees", "delete"), nil)
	assert.True(t, d.Allowed())

	// ceo from unknown external: 30 + 17.5 + 25 + 6 = 78.5
	d = de.Evaluate(context.Background(), request("sam", []string{"ceo"}, "172.28.1.9", "orders", "delete"), nil)
	assert.Equal(t, types.Deny, d.Decision)
	assert.Equal(t, "deletes require full trust", d.Reason)
	assert.NotNil(t, d.Components)

	// the guard never runs for requests the built-in checks already deny
	d = de.Evaluate(context.Background(), request("ivan", []string{"intern"}, "172.28.4.1", "audit", "read"), nil)
	assert.Contains(t, d.Reason, "below minimum 80")
}

func TestGuardFailureDenies(t *testing.T) {
	g, err := opa.NewGuard("guard.rego", "package ztguard\ndeny := 42\n")
	require.NoError(t, err)
	de, _ := newEngine(t, &options.EngineOptions{Guard: g})

	d := de.Evaluate(context.Background(), request("carol", []string{"cto"}, "172.28.4.20", "audit", "read"), nil)
	assert.Equal(t, types.Deny, d.Decision)
	assert.Equal(t, ReasonGuardFailure, d.Reason)
}

func TestTrustScoreDoesNotAudit(t *testing.T) {
	de, ch := newEngine(t, &options.EngineOptions{})

	score, c := de.TrustScore(context.Background(), request("carol", []string{"cto"}, "172.28.4.20", "", ""))
	assert.Equal(t, 91.0, score)
	assert.Equal(t, "production", c.Network)
	assert.Len(t, ch, 0)

	assert.NotNil(t, de.Policy())
	de.Close()
	_, ok := <-ch
	assert.False(t, ok)
}
