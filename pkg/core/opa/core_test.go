//
//  Copyright © Manetu Inc. All rights reserved.
//

package opa

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/manetu/zerotrust/pkg/common"
	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileSuccess(t *testing.T) {
	compiler := NewCompiler()

	modules := Modules{
		"test.rego": `
package authz
default allow := false
allow if input.user == "admin"
`,
	}

	a, err := compiler.Compile("test-policy", modules)
	require.NoError(t, err)
	assert.Equal(t, "test-policy", a.name)
	assert.NotNil(t, a.compiler)
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name   string
		module string
	}{
		{"syntax", "package authz\nallow if { this is invalid syntax }\n"},
		{"undefined function", "package authz\nallow if data.undefined_function()\n"},
		{"v0 syntax under v1", "package authz\nallow = true { input.user == \"admin\" }\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewCompiler().Compile("test-policy", Modules{"test.rego": tt.module})
			assert.Error(t, err)
			assert.Nil(t, a)
		})
	}
}

func TestCompileRegoV0(t *testing.T) {
	a, err := NewCompiler(WithRegoVersion(ast.RegoV0)).Compile("legacy", Modules{
		"test.rego": "package authz\nallow = true { input.user == \"admin\" }\n",
	})
	require.NoError(t, err)
	assert.NotNil(t, a)
}

func TestCompileWithUnsafeBuiltins(t *testing.T) {
	compiler := NewCompiler(WithUnsafeBuiltins(NewBuiltins("http.send")))

	modules := Modules{
		"test.rego": `
package authz
allow if {
	response := http.send({"method": "get", "url": "http://example.com"})
	response.status_code == 200
}
`,
	}

	a, err := compiler.Compile("test-policy", modules)
	assert.Nil(t, a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undefined function http.send")

	a, err = NewCompiler().Compile("test-policy", modules)
	assert.NoError(t, err)
	assert.NotNil(t, a)

	// a clone inherits the restricted capabilities
	_, err = compiler.Clone().Compile("test-policy", modules)
	assert.Error(t, err)

	_, err = compiler.Clone(WithDefaultCapabilities()).Compile("test-policy", modules)
	assert.NoError(t, err)
}

func TestEvaluate(t *testing.T) {
	a, err := NewCompiler().Compile("test-policy", Modules{
		"test.rego": `
package authz
default allow := false
allow if {
	input.roles[_] == "admin"
	input.action == "write"
}
`,
	})
	require.NoError(t, err)

	result, perr := a.Evaluate(context.Background(), "data.authz.allow",
		map[string]interface{}{"roles": []string{"user", "admin"}, "action": "write"})
	assert.Nil(t, perr)
	assert.Equal(t, true, result.Expressions[0].Value)

	result, perr = a.Evaluate(context.Background(), "data.authz.allow",
		map[string]interface{}{"roles": []string{"user"}, "action": "write"}, WithTrace(true))
	assert.Nil(t, perr)
	assert.Equal(t, false, result.Expressions[0].Value)
}

func TestEvaluateFailures(t *testing.T) {
	a, err := NewCompiler().Compile("test-policy", Modules{
		"test.rego": `
package authz
allow if {
	x := 1 / 0
	x > 0
}
`,
	})
	require.NoError(t, err)

	_, perr := a.Evaluate(context.Background(), "data.authz.allow", map[string]interface{}{})
	require.NotNil(t, perr)
	assert.Equal(t, common.Evaluation, perr.ReasonCode)

	_, perr = a.Evaluate(context.Background(), "data.other.allow", map[string]interface{}{})
	require.NotNil(t, perr)
	assert.Equal(t, common.Evaluation, perr.ReasonCode)
	assert.Contains(t, perr.Reason, "no opa results")
}

const guardSource = `
package ztguard

deny contains msg if {
	input.resource == "audit"
	input.action != "read"
	msg := "audit records are append-only"
}

deny contains msg if {
	input.trust_score < 65
	input.action == "delete"
	msg := sprintf("delete requires trust 65, have %v", [input.trust_score])
}
`

func TestGuardCheck(t *testing.T) {
	g, err := NewGuard("guard.rego", guardSource)
	require.NoError(t, err)

	tests := []struct {
		name  string
		input map[string]interface{}
		want  []string
	}{
		{
			name:  "clean",
			input: map[string]interface{}{"resource": "employees", "action": "read", "trust_score": 90},
			want:  []string{},
		},
		{
			name:  "single",
			input: map[string]interface{}{"resource": "audit", "action": "write", "trust_score": 90},
			want:  []string{"audit records are append-only"},
		},
		{
			name:  "both sorted",
			input: map[string]interface{}{"resource": "audit", "action": "delete", "trust_score": 61.5},
			want:  []string{"audit records are append-only", "delete requires trust 65, have 61.5"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reasons, err := g.Check(context.Background(), tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, reasons)
		})
	}
}

func TestGuardWrongPackage(t *testing.T) {
	g, err := NewGuard("guard.rego", "package other\ndeny contains \"x\" if true\n")
	require.NoError(t, err)

	_, err = g.Check(context.Background(), map[string]interface{}{})
	assert.Equal(t, common.Evaluation, common.CodeOf(err))
}

func TestGuardNotASet(t *testing.T) {
	g, err := NewGuard("guard.rego", "package ztguard\ndeny := \"nope\"\n")
	require.NoError(t, err)

	_, err = g.Check(context.Background(), map[string]interface{}{})
	assert.Equal(t, common.Evaluation, common.CodeOf(err))
}

func TestLoadGuard(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "guard.rego")
	require.NoError(t, os.WriteFile(path, []byte(guardSource), 0o600))
	g, err := LoadGuard(path, NewBuiltins("http.send"))
	require.NoError(t, err)
	assert.NotNil(t, g)

	unsafe := filepath.Join(dir, "unsafe.rego")
	require.NoError(t, os.WriteFile(unsafe, []byte(`
package ztguard
deny contains "remote" if {
	resp := http.send({"method": "get", "url": "http://example.com"})
	resp.status_code != 200
}
`), 0o600))
	_, err = LoadGuard(unsafe, NewBuiltins("http.send"))
	assert.ErrorContains(t, err, "http.send")

	_, err = LoadGuard(filepath.Join(dir, "missing.rego"), nil)
	assert.Error(t, err)
}

func TestGuardAuxData(t *testing.T) {
	g, err := NewGuard("guard.rego", `
package ztguard

deny contains msg if {
	input.resource in input.auxdata.frozen
	msg := sprintf("%s is frozen", [input.resource])
}
`)
	require.NoError(t, err)

	input := func() map[string]interface{} {
		return map[string]interface{}{"resource": "payroll", "action": "read"}
	}

	reasons, err := g.Check(context.Background(), input())
	require.NoError(t, err)
	assert.Empty(t, reasons)

	g.WithAuxData(map[string]interface{}{"frozen": []interface{}{"payroll", "audit"}})
	reasons, err = g.Check(context.Background(), input())
	require.NoError(t, err)
	assert.Equal(t, []string{"payroll is frozen"}, reasons)
}
