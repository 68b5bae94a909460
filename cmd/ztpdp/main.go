//
//  Copyright © Manetu Inc. All rights reserved.
//

package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/manetu/zerotrust/cmd/ztpdp/common"
	"github.com/manetu/zerotrust/cmd/ztpdp/subcommands/rules"
	"github.com/manetu/zerotrust/cmd/ztpdp/subcommands/serve"
	"github.com/manetu/zerotrust/cmd/ztpdp/subcommands/test"
	"github.com/manetu/zerotrust/cmd/ztpdp/version"
	"github.com/manetu/zerotrust/internal/logging"
	"github.com/urfave/cli/v3"
)

var logger = logging.GetLogger("ztpdp")

func inputFlag(usage string) cli.Flag {
	return &cli.StringFlag{
		Name:    "input",
		Aliases: []string{"i"},
		Usage:   usage,
	}
}

func main() {
	cmd := &cli.Command{
		Name:    "ztpdp",
		Usage:   "A zero-trust policy decision point with signature-based request analysis",
		Version: version.GetVersion(),
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "trace",
				Aliases: []string{"t"},
				Usage:   "Enable debug logging and write audit records to stderr",
				Value:   logger.IsDebugEnabled(),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Serves the REST decision point and, optionally, the Envoy external authorization API",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "port",
						Usage: "The TCP port of the REST API.",
						Value: 5000,
					},
					&cli.IntFlag{
						Name:  "envoy-port",
						Usage: "The TCP port of the Envoy ext_authz gRPC API.  Disabled when 0.",
					},
					&cli.StringFlag{
						Name:  "policy",
						Usage: "Load the policy from `FILE`, overriding policy.path",
					},
					&cli.StringFlag{
						Name:  "rules",
						Usage: "Load the signature rules from `FILE`, overriding rules.path",
					},
				},
				Action: serve.Execute,
			},
			{
				Name:  "test",
				Usage: "Runs decisions and analyses locally, simplifying policy and rule authoring",
				Commands: []*cli.Command{
					{
						Name:  "decision",
						Usage: "Evaluates a single request document",
						Flags: []cli.Flag{
							inputFlag("Load the request from 'FILE', or use '-' for stdin"),
							&cli.StringFlag{Name: "policy", Usage: "Load the policy from `FILE`"},
						},
						Action: test.ExecuteDecision,
					},
					{
						Name:  "analyze",
						Usage: "Runs signature analysis over a single content document",
						Flags: []cli.Flag{
							inputFlag("Load the content from 'FILE', or use '-' for stdin"),
							&cli.StringFlag{Name: "rules", Usage: "Load the signature rules from `FILE`"},
							&cli.BoolFlag{Name: "deep", Usage: "Include payload inspection results"},
						},
						Action: test.ExecuteAnalyze,
					},
					{
						Name:  "suite",
						Usage: "Runs a YAML suite of decision expectations",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "input",
								Aliases:  []string{"i"},
								Usage:    "Load the test suite from `FILE`",
								Required: true,
							},
							&cli.StringFlag{Name: "policy", Usage: "Load the policy from `FILE`"},
							&cli.StringSliceFlag{
								Name:  "test",
								Usage: "Run only tests matching the glob `PATTERN`.  Can be specified multiple times.",
							},
						},
						Action: test.ExecuteSuite,
					},
				},
			},
			{
				Name:  "rules",
				Usage: "Prints the active signature rule table",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "rules", Usage: "Load the signature rules from `FILE`"},
					&cli.StringFlag{Name: "id", Usage: "Print only the rule with this `ID`"},
				},
				Action: rules.Execute,
			},
			{
				Name:  "version",
				Usage: "Prints the version",
				Action: func(_ context.Context, cmd *cli.Command) error {
					_, err := fmt.Fprintln(common.Stdout(cmd), version.GetVersion())
					return err
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
