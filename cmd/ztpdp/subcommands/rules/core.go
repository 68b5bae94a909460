//
//  Copyright © Manetu Inc. All rights reserved.
//

package rules

import (
	"context"
	"fmt"
	"io"

	"github.com/manetu/zerotrust/cmd/ztpdp/common"
	pkgcommon "github.com/manetu/zerotrust/pkg/common"
	"github.com/urfave/cli/v3"
)

// Execute prints the active rule table, or the single rule named by --id.
func Execute(_ context.Context, cmd *cli.Command) error {
	engine, err := common.NewCliSignatureEngine(cmd, io.Discard)
	if err != nil {
		return err
	}
	defer engine.Close()

	table := engine.Rules()

	var v interface{}
	if id := cmd.String("id"); id != "" {
		r, ok := table.Lookup(id)
		if !ok {
			return cli.Exit(fmt.Sprintf("rule %s not found", id), 1)
		}
		v = r
	} else {
		v = map[string]interface{}{
			"rules_count": table.Len(),
			"rules":       table.Rules(),
			"rules_file":  table.File(),
		}
	}

	pkgcommon.PrettyPrint(common.Stdout(cmd), v)
	return nil
}
