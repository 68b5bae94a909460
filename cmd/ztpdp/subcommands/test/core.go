//
//  Copyright © Manetu Inc. All rights reserved.
//

package test

import (
	"context"
	"io"

	"github.com/manetu/zerotrust/cmd/ztpdp/common"
	pkgcommon "github.com/manetu/zerotrust/pkg/common"
	"github.com/manetu/zerotrust/pkg/ids"
	"github.com/urfave/cli/v3"
)

func printResult(w io.Writer, v interface{}) error {
	pkgcommon.PrettyPrint(w, v)
	return nil
}

// ExecuteDecision evaluates a single request document and prints the decision
func ExecuteDecision(ctx context.Context, cmd *cli.Command) error {
	input, err := common.ReadInput(cmd.String("input"))
	if err != nil {
		return err
	}

	de, err := common.NewCliDecisionEngine(cmd, common.AuditWriter(cmd))
	if err != nil {
		return err
	}
	defer de.Close()

	d, err := de.Evaluate(ctx, input)
	if err != nil {
		return err
	}
	return printResult(common.Stdout(cmd), d)
}

// ExecuteAnalyze runs signature analysis, and with --deep the payload
// inspection, over a single content document and prints the result
func ExecuteAnalyze(ctx context.Context, cmd *cli.Command) error {
	input, err := common.ReadInput(cmd.String("input"))
	if err != nil {
		return err
	}

	content, err := ids.UnmarshalContent(input)
	if err != nil {
		return err
	}

	engine, err := common.NewCliSignatureEngine(cmd, common.AuditWriter(cmd))
	if err != nil {
		return err
	}
	defer engine.Close()

	if !cmd.Bool("deep") {
		r, err := engine.Analyze(ctx, content)
		if err != nil {
			return err
		}
		return printResult(common.Stdout(cmd), r)
	}

	r, dpi, err := engine.DeepInspect(ctx, content)
	if err != nil {
		return err
	}
	return printResult(common.Stdout(cmd), map[string]interface{}{
		"alerts":      r.Alerts,
		"blocked":     r.Blocked,
		"dpi_results": dpi,
		"timestamp":   r.Timestamp,
	})
}
