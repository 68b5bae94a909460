//
//  Copyright © Manetu Inc. All rights reserved.
//

package test

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/manetu/zerotrust/cmd/ztpdp/common"
	"github.com/manetu/zerotrust/pkg/core"
	"github.com/manetu/zerotrust/pkg/core/options"
	"github.com/manetu/zerotrust/pkg/core/types"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// TestCase represents a single decision test case
type TestCase struct {
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description"`
	Request     map[string]interface{} `yaml:"request"`
	Result      TestResult             `yaml:"result"`
}

// TestResult represents the expected outcome of a test. Unset fields are
// not checked.
type TestResult struct {
	Decision    string   `yaml:"decision"`
	AccessLevel string   `yaml:"access_level"`
	MinTrust    *float64 `yaml:"min_trust"`
	MaxTrust    *float64 `yaml:"max_trust"`
}

// TestSuite represents a collection of test cases
type TestSuite struct {
	Tests []TestCase `yaml:"tests"`
}

// ExecuteSuite runs a suite of decision tests from a YAML file
func ExecuteSuite(ctx context.Context, cmd *cli.Command) error {
	suite, err := loadTestSuite(cmd.String("input"))
	if err != nil {
		return fmt.Errorf("failed to load test suite: %w", err)
	}

	if len(suite.Tests) == 0 {
		return fmt.Errorf("no tests found in test suite")
	}

	testsToRun := filterTests(suite.Tests, cmd.StringSlice("test"))
	if len(testsToRun) == 0 {
		return fmt.Errorf("no tests match the specified patterns")
	}

	de, err := common.NewCliDecisionEngine(cmd, common.AuditWriter(cmd))
	if err != nil {
		return err
	}
	defer de.Close()

	out := common.Stdout(cmd)
	if failed := runSuite(ctx, de, testsToRun, out); failed > 0 {
		return cli.Exit("", 1)
	}
	return nil
}

// runSuite prints one line per test plus a summary and returns the number
// of failures.
func runSuite(ctx context.Context, de core.DecisionEngine, tests []TestCase, out io.Writer) int {
	passed := 0
	failed := 0

	for _, tc := range tests {
		d, err := de.Evaluate(ctx, tc.Request, options.SetProbeMode(true))
		if err != nil {
			_, _ = fmt.Fprintf(out, "%s: ERROR (%v)\n", tc.Name, err)
			failed++
			continue
		}

		if reason := tc.Result.mismatch(d); reason != "" {
			_, _ = fmt.Fprintf(out, "%s: FAIL (%s)\n", tc.Name, reason)
			failed++
		} else {
			_, _ = fmt.Fprintf(out, "%s: PASS\n", tc.Name)
			passed++
		}
	}

	_, _ = fmt.Fprintf(out, "\n%d/%d tests passed\n", passed, passed+failed)
	return failed
}

func (r TestResult) mismatch(d *types.Decision) string {
	switch {
	case r.Decision != "" && r.Decision != d.Decision:
		return fmt.Sprintf("expected decision=%s, got %s: %s", r.Decision, d.Decision, d.Reason)
	case r.AccessLevel != "" && r.AccessLevel != d.AccessLevel:
		return fmt.Sprintf("expected access_level=%s, got %q", r.AccessLevel, d.AccessLevel)
	case r.MinTrust != nil && d.TrustScore < *r.MinTrust:
		return fmt.Sprintf("expected trust_score>=%.1f, got %.1f", *r.MinTrust, d.TrustScore)
	case r.MaxTrust != nil && d.TrustScore > *r.MaxTrust:
		return fmt.Sprintf("expected trust_score<=%.1f, got %.1f", *r.MaxTrust, d.TrustScore)
	}
	return ""
}

// loadTestSuite reads and parses a test suite from a YAML file
func loadTestSuite(path string) (*TestSuite, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- CLI tool intentionally reads user-provided paths
	if err != nil {
		return nil, fmt.Errorf("failed to read test file: %w", err)
	}

	var suite TestSuite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("failed to parse test file: %w", err)
	}

	return &suite, nil
}

// filterTests returns tests that match the specified patterns.
// If no patterns are specified, all tests are returned.
// Patterns support glob matching (e.g., "exec-*" matches "exec-audit").
func filterTests(tests []TestCase, patterns []string) []TestCase {
	if len(patterns) == 0 {
		return tests
	}

	var filtered []TestCase
	for _, tc := range tests {
		for _, pattern := range patterns {
			matched, err := filepath.Match(pattern, tc.Name)
			if err != nil {
				// Invalid pattern - treat as literal match
				if pattern == tc.Name {
					filtered = append(filtered, tc)
					break
				}
			} else if matched {
				filtered = append(filtered, tc)
				break
			}
		}
	}

	return filtered
}
