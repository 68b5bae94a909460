//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package common holds the engine construction shared by the ztpdp subcommands.
package common

import (
	"fmt"
	"io"
	"os"

	"github.com/manetu/zerotrust/internal/logging"
	"github.com/manetu/zerotrust/pkg/core"
	"github.com/manetu/zerotrust/pkg/core/accesslog"
	"github.com/manetu/zerotrust/pkg/core/config"
	"github.com/manetu/zerotrust/pkg/core/options"
	"github.com/manetu/zerotrust/pkg/ids"
	"github.com/urfave/cli/v3"
)

// Stdout is where subcommands print results: the root command's writer when
// one is set, os.Stdout otherwise.
func Stdout(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

// AuditWriter is stderr with --trace, otherwise audit records are discarded
// so they do not mix with command output.
func AuditWriter(cmd *cli.Command) io.Writer {
	if cmd.Root().Bool("trace") {
		return os.Stderr
	}
	return io.Discard
}

// ApplyFlags loads configuration and lets the --policy and --rules flags,
// where a command defines them, override the configured paths.
func ApplyFlags(cmd *cli.Command) error {
	if err := config.Load(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cmd.Root().Bool("trace") {
		if err := logging.UpdateLogLevels(".:debug"); err != nil {
			return err
		}
	}

	for flag, key := range map[string]string{"policy": config.PolicyPath, "rules": config.RulesPath} {
		if p := cmd.String(flag); p != "" {
			config.VConfig.Set(key, p)
		}
	}
	return nil
}

// NewCliDecisionEngine creates a DecisionEngine from configuration whose
// audit records go to w.
func NewCliDecisionEngine(cmd *cli.Command, w io.Writer) (core.DecisionEngine, error) {
	if err := ApplyFlags(cmd); err != nil {
		return nil, err
	}
	return core.NewDecisionEngineFromConfig(options.WithAccessLog(accesslog.NewIoWriterFactory(w)))
}

// NewCliSignatureEngine creates a signature engine from configuration whose
// audit records go to w.
func NewCliSignatureEngine(cmd *cli.Command, w io.Writer) (*ids.Engine, error) {
	if err := ApplyFlags(cmd); err != nil {
		return nil, err
	}

	stream, err := accesslog.NewIoWriterFactory(w).NewStream()
	if err != nil {
		return nil, err
	}
	return ids.NewFromConfig(ids.WithAccessLog(stream))
}

// ReadInput reads path, or stdin when path is "-" or empty.
func ReadInput(path string) ([]byte, error) {
	if path == "-" || path == "" {
		return io.ReadAll(os.Stdin)
	}

	data, err := os.ReadFile(path) // #nosec G304 -- CLI tool intentionally reads user-provided paths
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return data, nil
}
