//
//  Copyright © Manetu Inc. All rights reserved.
//

package ids

import (
	"context"
	"sort"
	"strings"
)

// Canned attack sources.
const (
	AttackSourceIP = "192.168.1.100"
	AttackDestIP   = "172.28.2.40"
	DefaultAttack  = "sqli"
)

var attacks = map[string]Content{
	"sqli": {
		Payload: "' OR '1'='1",
		URI:     "/api/users?id=1' UNION SELECT * FROM users--",
		Method:  "GET",
	},
	"xss": {
		Payload: `<script>alert("XSS")</script>`,
		URI:     "/search?q=<script>document.cookie</script>",
		Method:  "GET",
	},
	"traversal": {
		URI:    "/files/../../../etc/passwd",
		Method: "GET",
	},
	"cmdi": {
		Payload: "; cat /etc/passwd",
		URI:     "/api/ping?host=localhost;ls -la",
		Method:  "POST",
	},
	"scan": {
		URI:       "/admin",
		Method:    "GET",
		UserAgent: "Nikto/2.1.6",
	},
}

// AttackTypes lists the canned attacks.
func AttackTypes() []string {
	out := make([]string, 0, len(attacks))
	for k := range attacks {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// AttackContent returns the canned content for an attack type. Unknown types
// resolve to [DefaultAttack]; the resolved type is returned.
func AttackContent(kind string) (string, *Content) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	c, ok := attacks[kind]
	if !ok {
		kind = DefaultAttack
		c = attacks[kind]
	}
	c.SourceIP = AttackSourceIP
	c.DestIP = AttackDestIP
	c.Protocol = "HTTP"
	return kind, &c
}

// AttackResult is the outcome of a simulated attack.
type AttackResult struct {
	TestType    string  `json:"test_type"`
	Detected    bool    `json:"detected"`
	AlertsCount int     `json:"alerts_count"`
	Alerts      []Alert `json:"alerts"`
	Blocked     bool    `json:"blocked"`
}

// TestAttack analyzes a canned attack through the full engine.
func (e *Engine) TestAttack(ctx context.Context, kind string) (*AttackResult, error) {
	kind, c := AttackContent(kind)
	r, err := e.Analyze(ctx, c)
	if err != nil {
		return nil, err
	}
	return &AttackResult{
		TestType:    kind,
		Detected:    r.AlertsCount > 0,
		AlertsCount: r.AlertsCount,
		Alerts:      r.Alerts,
		Blocked:     r.Blocked,
	}, nil
}
