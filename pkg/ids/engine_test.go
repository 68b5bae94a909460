//
//  Copyright © Manetu Inc. All rights reserved.
//

package ids

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	chanlog "github.com/manetu/zerotrust/internal/core/accesslog"
	"github.com/manetu/zerotrust/pkg/core/accesslog"
	"github.com/manetu/zerotrust/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	available bool
	alerts    []Alert
	err       error

	mu    sync.Mutex
	calls int
}

func (f *fakeBackend) Name() string    { return SourceNative }
func (f *fakeBackend) Available() bool { return f.available }

func (f *fakeBackend) Analyze(context.Context, *Content) ([]Alert, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]Alert(nil), f.alerts...), nil
}

func ruleIDs(alerts []Alert) []string {
	out := make([]string, len(alerts))
	for i, a := range alerts {
		out[i] = a.RuleID
	}
	return out
}

func TestUnionSelectIsBlocked(t *testing.T) {
	e := NewEngine()

	r, err := e.Analyze(context.Background(), &Content{
		Payload: "' OR '1'='1",
		URI:     "/api/users?id=1' UNION SELECT * FROM users--",
	})
	require.NoError(t, err)

	assert.True(t, r.Analyzed)
	assert.True(t, r.Blocked)
	assert.Equal(t, SourceFallback, r.Engine)
	assert.Equal(t, []string{"SQLI-001", "SQLI-002", "SQLI-003"}, ruleIDs(r.Alerts))

	first := r.Alerts[0]
	assert.Equal(t, "SQLI-001", first.RuleID)
	assert.Equal(t, SeverityCritical, first.Severity)
	assert.Equal(t, ActionBlock, first.Action)
	assert.Equal(t, SourceFallback, first.Source)
	assert.Equal(t, "1e54e11980633c7d", first.PayloadFingerprint)
	assert.Equal(t, DefaultSourceIP, first.SourceIP)
	assert.Equal(t, "/api/users?id=1' UNION SELECT * FROM users--", first.URI)
}

func TestEmptyContentRaisesNothing(t *testing.T) {
	e := NewEngine()

	r, err := e.Analyze(context.Background(), &Content{})
	require.NoError(t, err)

	assert.True(t, r.Analyzed)
	assert.False(t, r.Blocked)
	assert.Equal(t, 0, r.AlertsCount)
	assert.NotNil(t, r.Alerts)
	assert.Empty(t, r.Alerts)

	_, err = e.Analyze(context.Background(), nil)
	assert.Error(t, err)
}

func TestCannedAttacks(t *testing.T) {
	tests := []struct {
		kind    string
		want    []string
		blocked bool
	}{
		{"sqli", []string{"SQLI-001", "SQLI-002", "SQLI-003"}, true},
		{"xss", []string{"XSS-001"}, true},
		{"traversal", []string{"TRAV-001", "FILE-001"}, true},
		{"cmdi", []string{"CMD-001", "FILE-001"}, true},
		{"scan", []string{"SCAN-001"}, false},
		{"no-such-attack", []string{"SQLI-001", "SQLI-002", "SQLI-003"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			e := NewEngine()
			r, err := e.TestAttack(context.Background(), tt.kind)
			require.NoError(t, err)

			assert.True(t, r.Detected)
			assert.Equal(t, tt.want, ruleIDs(r.Alerts))
			assert.Equal(t, tt.blocked, r.Blocked)
			for _, a := range r.Alerts {
				assert.Equal(t, AttackSourceIP, a.SourceIP)
				assert.Equal(t, AttackDestIP, a.DestIP)
			}
		})
	}

	kind, _ := AttackContent("unknown")
	assert.Equal(t, DefaultAttack, kind)
	assert.Equal(t, []string{"cmdi", "scan", "sqli", "traversal", "xss"}, AttackTypes())
}

func TestMethodAndSizeRules(t *testing.T) {
	e := NewEngine()

	r, err := e.Analyze(context.Background(), &Content{Method: "trace", URI: "/"})
	require.NoError(t, err)
	assert.Equal(t, []string{"PROTO-001"}, ruleIDs(r.Alerts))
	assert.False(t, r.Blocked)

	r, err = e.Analyze(context.Background(), &Content{Method: "GET", URI: "/"})
	require.NoError(t, err)
	assert.Empty(t, r.Alerts)

	r, err = e.Analyze(context.Background(), &Content{Payload: strings.Repeat("a", 10485761)})
	require.NoError(t, err)
	assert.Equal(t, []string{"EXFIL-001"}, ruleIDs(r.Alerts))
}

func TestPrimaryBackendPrecedence(t *testing.T) {
	sqli := &Content{URI: "/q?id=1 union select 1"}

	native := &fakeBackend{available: true, alerts: []Alert{{RuleID: "SID-42", Action: ActionAlert, Source: SourceNative}}}
	e := NewEngine(WithPrimary(native))
	r, err := e.Analyze(context.Background(), sqli)
	require.NoError(t, err)
	assert.Equal(t, SourceNative, r.Engine)
	assert.Equal(t, []string{"SID-42"}, ruleIDs(r.Alerts))
	assert.False(t, r.Blocked)
	assert.Equal(t, int64(1), e.Stats().EngineInvocations)

	quiet := &fakeBackend{available: true}
	e = NewEngine(WithPrimary(quiet))
	r, err = e.Analyze(context.Background(), sqli)
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, r.Engine)
	assert.Equal(t, []string{"SQLI-001"}, ruleIDs(r.Alerts))
	assert.Equal(t, 1, quiet.calls)

	broken := &fakeBackend{available: true, err: errors.New("engine crashed")}
	e = NewEngine(WithPrimary(broken))
	r, err = e.Analyze(context.Background(), sqli)
	require.NoError(t, err)
	assert.True(t, r.Blocked)

	missing := &fakeBackend{available: false}
	e = NewEngine(WithPrimary(missing))
	r, err = e.Analyze(context.Background(), sqli)
	require.NoError(t, err)
	assert.True(t, r.Blocked)
	assert.Equal(t, 0, missing.calls)
	assert.Equal(t, int64(0), e.Stats().EngineInvocations)
}

func TestStatsAndSessions(t *testing.T) {
	tracker := session.NewTracker()
	e := NewEngine(WithSessions(tracker))

	for i := 0; i < 3; i++ {
		_, err := e.TestAttack(context.Background(), "traversal")
		require.NoError(t, err)
	}
	_, err := e.TestAttack(context.Background(), "scan")
	require.NoError(t, err)
	_, err = e.Analyze(context.Background(), &Content{SourceIP: "172.28.1.5", DestIP: "172.28.2.40", URI: "/ok"})
	require.NoError(t, err)

	s := e.Stats()
	assert.Equal(t, int64(5), s.PacketsAnalyzed)
	assert.Equal(t, int64(7), s.AlertsGenerated)
	assert.Equal(t, int64(3), s.BlockedAttempts)
	assert.Equal(t, 2, s.SessionsTracked)
	assert.Same(t, tracker, e.Sessions())

	snap, ok := tracker.Get(AttackSourceIP, AttackDestIP)
	require.True(t, ok)
	assert.Equal(t, int64(4), snap.RequestCount)
}

func TestConcurrentAnalysis(t *testing.T) {
	e := NewEngine()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_, _ = e.TestAttack(context.Background(), "xss")
			}
		}()
	}
	wg.Wait()

	s := e.Stats()
	assert.Equal(t, int64(500), s.PacketsAnalyzed)
	assert.Equal(t, int64(500), s.AlertsGenerated)
	assert.Equal(t, int64(500), s.BlockedAttempts)
}

func TestAnalysisAudit(t *testing.T) {
	ch := make(chan *accesslog.Event, 16)
	stream, err := chanlog.NewChannelLogger(ch).NewStream()
	require.NoError(t, err)

	e := NewEngine(WithAccessLog(stream))
	_, err = e.TestAttack(context.Background(), "traversal")
	require.NoError(t, err)

	for _, id := range []string{"TRAV-001", "FILE-001"} {
		ev := <-ch
		assert.Equal(t, accesslog.TypeAlert, ev.Type)
		assert.Equal(t, id, ev.Details["rule_id"])
		assert.Equal(t, AttackSourceIP, ev.SourceIP)
		assert.Equal(t, ActionBlock, ev.Decision)
	}

	ev := <-ch
	assert.Equal(t, accesslog.TypeAnalysis, ev.Type)
	assert.Equal(t, 2, ev.Details["alerts_count"])
	assert.Equal(t, true, ev.Details["blocked"])
	assert.Equal(t, []string{"TRAV-001", "FILE-001"}, ev.Details["alerts"])

	_, err = e.Analyze(context.Background(), &Content{URI: "/fine"})
	require.NoError(t, err)
	ev = <-ch
	assert.Equal(t, accesslog.TypeAnalysis, ev.Type)
	assert.Equal(t, 0, ev.Details["alerts_count"])

	e.Close()
	_, open := <-ch
	assert.False(t, open)
}

func TestHealth(t *testing.T) {
	h := NewEngine(WithMode(ModePassive)).Health()
	assert.Equal(t, "degraded", h.Status)
	assert.Equal(t, SourceFallback, h.Engine)
	assert.Equal(t, ModePassive, h.Mode)

	h = NewEngine(WithPrimary(&fakeBackend{available: true})).Health()
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, SourceNative, h.Engine)
	assert.Equal(t, ModeInline, h.Mode)
}

func TestDeepInspect(t *testing.T) {
	e := NewEngine()

	r, dpi, err := e.DeepInspect(context.Background(), &Content{Payload: "%3Cscript%3E"})
	require.NoError(t, err)
	assert.Empty(t, r.Alerts)
	assert.Equal(t, EncodedDelta, dpi.RiskScore)

	_, _, err = e.DeepInspect(context.Background(), nil)
	assert.Error(t, err)
}
