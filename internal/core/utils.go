//
//  Copyright © Manetu Inc. All rights reserved.
//

package core

import (
	"github.com/manetu/zerotrust/pkg/core/config"
	"github.com/manetu/zerotrust/pkg/core/opa"
)

// UnsafeBuiltins returns the Rego builtins stripped from guard modules.
func UnsafeBuiltins() opa.Builtins {
	return opa.NewBuiltins(config.GetList(config.UnsafeBuiltIns)...)
}
