//
//  Copyright © Manetu Inc. All rights reserved.
//

package test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	coretest "github.com/manetu/zerotrust/internal/core/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

// buildTestCommand creates a CLI command structure mirroring ztpdp's test
// subcommands, printing to out.
func buildTestCommand(out *bytes.Buffer) *cli.Command {
	return &cli.Command{
		Name:           "ztpdp",
		Writer:         out,
		ExitErrHandler: func(context.Context, *cli.Command, error) {},
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "trace"},
		},
		Commands: []*cli.Command{
			{
				Name: "test",
				Commands: []*cli.Command{
					{
						Name: "decision",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "input", Aliases: []string{"i"}},
							&cli.StringFlag{Name: "policy"},
						},
						Action: ExecuteDecision,
					},
					{
						Name: "analyze",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "input", Aliases: []string{"i"}},
							&cli.StringFlag{Name: "rules"},
							&cli.BoolFlag{Name: "deep"},
						},
						Action: ExecuteAnalyze,
					},
					{
						Name: "suite",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Required: true},
							&cli.StringFlag{Name: "policy"},
							&cli.StringSliceFlag{Name: "test"},
						},
						Action: ExecuteSuite,
					},
				},
			},
		},
	}
}

func writeTemp(t *testing.T, pattern, content string) string {
	path := filepath.Join(t.TempDir(), pattern)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	require.NoError(t, coretest.SetupTestConfig())

	var out bytes.Buffer
	err := buildTestCommand(&out).Run(context.Background(), append([]string{"ztpdp", "test"}, args...))
	return out.String(), err
}

func TestExecuteDecision(t *testing.T) {
	input := writeTemp(t, "req.json", `{"username": "carol", "roles": ["cto"], "source_ip": "172.28.4.20", "resource": "audit"}`)

	out, err := run(t, "decision", "-i", input)
	require.NoError(t, err)

	var d map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &d))
	assert.Equal(t, "allow", d["decision"])
	assert.Equal(t, 91.0, d["trust_score"])
	assert.Equal(t, "full", d["access_level"])
}

func TestExecuteDecision_PolicyFlag(t *testing.T) {
	input := writeTemp(t, "req.json", `{"username": "carol", "roles": ["cto"], "source_ip": "172.28.1.250", "resource": "audit"}`)

	out, err := run(t, "decision", "-i", input)
	require.NoError(t, err)
	assert.NotContains(t, out, "BLOCKED")

	out, err = run(t, "decision", "-i", input, "--policy", filepath.Join(coretest.GetTestdataPath(), "policy.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, `"decision": "deny"`)
	assert.Contains(t, out, `"ip_check": "BLOCKED"`)
}

func TestExecuteDecision_Errors(t *testing.T) {
	_, err := run(t, "decision", "-i", "nonexistent.json")
	assert.ErrorContains(t, err, "failed to read input")

	_, err = run(t, "decision", "-i", writeTemp(t, "bad.json", "{nope"))
	assert.ErrorContains(t, err, "malformed request")
}

func TestExecuteAnalyze(t *testing.T) {
	input := writeTemp(t, "content.json", `{"source_ip": "172.28.1.77", "uri": "/search?q=<script>alert(1)</script>"}`)

	out, err := run(t, "analyze", "-i", input)
	require.NoError(t, err)

	var r struct {
		Analyzed bool `json:"analyzed"`
		Blocked  bool `json:"blocked"`
		Alerts   []struct {
			RuleID string `json:"rule_id"`
		} `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.True(t, r.Analyzed)
	assert.True(t, r.Blocked)
	require.NotEmpty(t, r.Alerts)
	assert.Equal(t, "XSS-001", r.Alerts[0].RuleID)
}

func TestExecuteAnalyze_Deep(t *testing.T) {
	input := writeTemp(t, "content.json", `{"payload": "%3Cscript%3E"}`)

	out, err := run(t, "analyze", "--deep", "-i", input)
	require.NoError(t, err)

	var r map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	require.Contains(t, r, "dpi_results")
	assert.Equal(t, []interface{}{"Encoded payload detected"}, r["dpi_results"].(map[string]interface{})["anomalies"])
}

func TestExecuteAnalyze_RulesFlag(t *testing.T) {
	rules := writeTemp(t, "rules.yaml", `rules:
  - id: CUSTOM-001
    name: Internal hostname leak
    severity: high
    category: disclosure
    pattern: corp\.internal
    action: block
`)
	input := writeTemp(t, "content.json", `{"payload": "see db01.corp.internal"}`)

	out, err := run(t, "analyze", "-i", input)
	require.NoError(t, err)
	assert.Contains(t, out, `"blocked": false`)

	out, err = run(t, "analyze", "-i", input, "--rules", rules)
	require.NoError(t, err)
	assert.Contains(t, out, `"rule_id": "CUSTOM-001"`)
	assert.Contains(t, out, `"blocked": true`)
}

func TestExecuteAnalyze_EmptyContent(t *testing.T) {
	_, err := run(t, "analyze", "-i", writeTemp(t, "empty.json", "{}"))
	assert.Error(t, err)
}
