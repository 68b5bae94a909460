//
//  Copyright © Manetu Inc. All rights reserved.
//

package opa

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/manetu/zerotrust/pkg/common"
	"github.com/manetu/zerotrust/pkg/core/auxdata"
	"github.com/pkg/errors"
)

// GuardQuery is the rule a guard module must define: a set of denial messages.
//
//	package ztguard
//
//	deny contains msg if {
//	    input.resource == "audit"
//	    input.action != "read"
//	    msg := "audit records are append-only"
//	}
const GuardQuery = "data.ztguard.deny"

// Guard is an operator-supplied Rego module consulted after the built-in checks.
type Guard struct {
	ast *Ast
	aux map[string]interface{}
}

// WithAuxData makes aux available to the guard as input.auxdata.
func (g *Guard) WithAuxData(aux map[string]interface{}) *Guard {
	g.aux = aux
	return g
}

// NewGuard compiles a guard from source.
func NewGuard(name, source string, options ...CompilerOptionFunc) (*Guard, error) {
	a, err := NewCompiler(options...).Compile(name, Modules{name: source})
	if err != nil {
		return nil, errors.Wrapf(err, "compiling guard %s", name)
	}
	return &Guard{ast: a}, nil
}

// LoadGuard reads and compiles a guard module with the given builtins removed.
func LoadGuard(path string, unsafe Builtins) (*Guard, error) {
	src, err := os.ReadFile(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return nil, errors.Wrapf(err, "reading guard %s", path)
	}

	g, err := NewGuard(path, string(src), WithUnsafeBuiltins(unsafe))
	if err != nil {
		return nil, err
	}

	logger.SysInfof("loaded guard from %s", path)
	return g, nil
}

// Check returns the guard's denial messages for input, sorted. A guard that
// cannot be evaluated returns an error and the caller must deny.
func (g *Guard) Check(ctx context.Context, input map[string]interface{}) ([]string, error) {
	result, perr := g.ast.Evaluate(ctx, GuardQuery, auxdata.Merge(input, g.aux))
	if perr != nil {
		return nil, perr
	}
	if len(result.Expressions) == 0 {
		return nil, common.NewError(common.Evaluation, "guard produced no value")
	}

	set, ok := result.Expressions[0].Value.([]interface{})
	if !ok {
		return nil, common.NewErrorf(common.Evaluation, "guard deny is %T, want a set", result.Expressions[0].Value)
	}

	reasons := make([]string, 0, len(set))
	for _, v := range set {
		if s, ok := v.(string); ok {
			reasons = append(reasons, s)
		} else {
			reasons = append(reasons, fmt.Sprint(v))
		}
	}
	sort.Strings(reasons)
	return reasons, nil
}
