//
//  Copyright © Manetu Inc. All rights reserved.
//

package ids

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Rule targets.
const (
	// TargetContent matches the pattern against payload, uri and user agent.
	TargetContent = "content"
	// TargetMethod matches the pattern against the upper-cased request method.
	TargetMethod = "method"
	// TargetSize fires when the payload is larger than Threshold bytes.
	TargetSize = "size"
)

// Rule is one entry of the signature table.
type Rule struct {
	ID          string `json:"rule_id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Severity    string `json:"severity" yaml:"severity"`
	Category    string `json:"category" yaml:"category"`
	Pattern     string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Action      string `json:"action" yaml:"action"`
	Target      string `json:"target,omitempty" yaml:"target,omitempty"`
	Threshold   int    `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Builtin     bool   `json:"builtin" yaml:"-"`

	re *regexp.Regexp
}

// fallbackRules is the detection floor. It is compiled into every table and
// cannot be replaced by a rules file.
var fallbackRules = []Rule{
	{ID: "SQLI-001", Name: "SQL Injection - UNION SELECT", Description: "Detects UNION-based SQL injection",
		Severity: SeverityCritical, Category: "injection", Action: ActionBlock, Pattern: `union\s+(all\s+)?select`},
	{ID: "SQLI-002", Name: "SQL Injection - Boolean", Description: "Detects boolean-based SQL injection",
		Severity: SeverityCritical, Category: "injection", Action: ActionBlock, Pattern: `'\s*(or|and)\s*'?\d+'?\s*=\s*'?\d+'?`},
	{ID: "SQLI-003", Name: "SQL Injection - Comment", Description: "Detects SQL comment sequences used to truncate queries",
		Severity: SeverityHigh, Category: "injection", Action: ActionBlock, Pattern: `(--|;--)`},
	{ID: "XSS-001", Name: "XSS - Script Tag", Description: "Detects script tag injection",
		Severity: SeverityHigh, Category: "xss", Action: ActionBlock, Pattern: `<script`},
	{ID: "XSS-002", Name: "XSS - Event Handler", Description: "Detects event handler attribute injection",
		Severity: SeverityHigh, Category: "xss", Action: ActionBlock, Pattern: `on(error|load|click)\s*=`},
	{ID: "TRAV-001", Name: "Path Traversal", Description: "Detects directory traversal sequences",
		Severity: SeverityHigh, Category: "traversal", Action: ActionBlock, Pattern: `\.\./`},
	{ID: "CMD-001", Name: "Command Injection", Description: "Detects OS command injection",
		Severity: SeverityCritical, Category: "injection", Action: ActionBlock, Pattern: `;\s*(cat|ls|wget|curl)`},
	{ID: "SCAN-001", Name: "Scanner Detected", Description: "Detects common vulnerability scanners",
		Severity: SeverityMedium, Category: "reconnaissance", Action: ActionAlert, Pattern: `(nikto|sqlmap|nmap|acunetix)`},
	{ID: "FILE-001", Name: "Sensitive File Access", Description: "Detects attempts to read credential files",
		Severity: SeverityCritical, Category: "traversal", Action: ActionBlock, Pattern: `/etc/(passwd|shadow)`},
}

// extendedRules complete the default catalog.
var extendedRules = []Rule{
	{ID: "SQLI-004", Name: "SQL Injection - Time-based", Description: "Detects time-based blind SQL injection",
		Severity: SeverityCritical, Category: "injection", Action: ActionBlock, Pattern: `sleep\s*\(|benchmark\s*\(|waitfor\s+delay`},
	{ID: "CMD-002", Name: "Shell Metacharacter Injection", Description: "Detects shell metacharacter abuse",
		Severity: SeverityHigh, Category: "injection", Action: ActionAlert, Pattern: "\\|.*\\||`.*`|\\$\\(.*\\)"},
	{ID: "UA-001", Name: "Malicious Bot Detection", Description: "Detects known attack tool user agents",
		Severity: SeverityMedium, Category: "bot", Action: ActionBlock, Pattern: `sqlmap|havij|pangolin|webscarab|paros`},
	{ID: "PROTO-001", Name: "HTTP Method Anomaly", Description: "Detects unusual HTTP methods",
		Severity: SeverityMedium, Category: "anomaly", Action: ActionAlert, Target: TargetMethod, Pattern: `^(TRACE|TRACK|CONNECT|DEBUG)$`},
	{ID: "EXFIL-001", Name: "Large Data Transfer", Description: "Detects unusually large request bodies",
		Severity: SeverityMedium, Category: "exfiltration", Action: ActionAlert, Target: TargetSize, Threshold: 10485760},
}

// RuleTable is an ordered, immutable set of compiled rules.
type RuleTable struct {
	rules []*Rule
	index map[string]int
	file  string
}

func (r *Rule) compile() error {
	if r.ID == "" {
		return fmt.Errorf("rule has no id")
	}
	if r.Target == "" {
		r.Target = TargetContent
	}
	if r.Action != ActionBlock {
		r.Action = ActionAlert
	}

	switch r.Target {
	case TargetSize:
		if r.Threshold <= 0 {
			return fmt.Errorf("rule %s: size rule needs a positive threshold", r.ID)
		}
		return nil
	case TargetContent, TargetMethod:
		if r.Pattern == "" {
			return fmt.Errorf("rule %s: empty pattern", r.ID)
		}
	default:
		return fmt.Errorf("rule %s: unknown target %q", r.ID, r.Target)
	}

	re, err := regexp.Compile("(?i)" + r.Pattern)
	if err != nil {
		return fmt.Errorf("rule %s: %w", r.ID, err)
	}
	r.re = re
	return nil
}

// NewRuleTable builds a table holding the fallback rules followed by extra.
// An extra rule that redefines an existing id replaces it in place, except
// that the fallback rules cannot be replaced. Malformed rules are skipped
// with a warning.
func NewRuleTable(extra ...Rule) *RuleTable {
	t := &RuleTable{index: make(map[string]int)}

	for _, r := range fallbackRules {
		r := r
		r.Builtin = true
		if err := r.compile(); err != nil {
			logger.Panicf(agent, "rules", "built-in rule failed to compile: %v", err)
		}
		t.add(&r)
	}

	for _, r := range extra {
		r := r
		r.Builtin = false
		if err := r.compile(); err != nil {
			logger.Warnf(agent, "rules", "skipping malformed rule: %v", err)
			continue
		}
		if i, ok := t.index[r.ID]; ok && t.rules[i].Builtin {
			logger.Warnf(agent, "rules", "rule %s is built in and cannot be redefined", r.ID)
			continue
		}
		t.add(&r)
	}
	return t
}

func (t *RuleTable) add(r *Rule) {
	if i, ok := t.index[r.ID]; ok {
		t.rules[i] = r
		return
	}
	t.index[r.ID] = len(t.rules)
	t.rules = append(t.rules, r)
}

// DefaultRules returns the built-in catalog.
func DefaultRules() *RuleTable {
	return NewRuleTable(extendedRules...)
}

type rulesDocument struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads a YAML rule file and layers it over the built-in catalog.
func LoadRules(path string) (*RuleTable, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return nil, errors.Wrapf(err, "reading rules %s", path)
	}

	var doc rulesDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "parsing rules %s", path)
	}

	t := NewRuleTable(append(append([]Rule{}, extendedRules...), doc.Rules...)...)
	t.file = path
	logger.SysInfof("loaded %d rules from %s (%d active)", len(doc.Rules), path, t.Len())
	return t, nil
}

// Len is the number of active rules.
func (t *RuleTable) Len() int {
	return len(t.rules)
}

// File is the path the table was loaded from, or "" for the built-in catalog.
func (t *RuleTable) File() string {
	return t.file
}

// Lookup finds a rule by id.
func (t *RuleTable) Lookup(id string) (Rule, bool) {
	i, ok := t.index[strings.TrimSpace(id)]
	if !ok {
		return Rule{}, false
	}
	return *t.rules[i], true
}

// Rules returns the active rules in evaluation order.
func (t *RuleTable) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	for i, r := range t.rules {
		out[i] = *r
	}
	return out
}

func (r *Rule) matches(c *Content, combined string) bool {
	switch r.Target {
	case TargetSize:
		return len(c.Payload) > r.Threshold
	case TargetMethod:
		return c.Method != "" && r.re.MatchString(strings.ToUpper(c.Method))
	default:
		return r.re.MatchString(combined)
	}
}

// Match evaluates every rule in order and returns one alert per matching rule.
func (t *RuleTable) Match(c *Content, now time.Time) []Alert {
	combined := c.Combined()

	var alerts []Alert
	for _, r := range t.rules {
		if !r.matches(c, combined) {
			continue
		}
		alerts = append(alerts, Alert{
			Timestamp: now,
			RuleID:    r.ID,
			Message:   r.Name,
			Severity:  r.Severity,
			Category:  r.Category,
			Action:    r.Action,
			Source:    SourceFallback,
		})
	}
	return alerts
}
