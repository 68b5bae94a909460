//
//  Copyright © Manetu Inc. All rights reserved.
//

package ids

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/manetu/zerotrust/pkg/common"
	"github.com/manetu/zerotrust/pkg/core/config"
)

// InputPlaceholder in an engine argument is replaced by the path of a file
// holding the captured request. Without it the request is written to stdin.
const InputPlaceholder = "{input}"

// DefaultEngineTimeout bounds one engine run.
const DefaultEngineTimeout = 30 * time.Second

// ExecConfig describes the external detection engine.
type ExecConfig struct {
	Bin     string
	Args    []string
	Timeout time.Duration
}

// ExecConfigFromViper reads the ids.engine.* keys.
func ExecConfigFromViper() ExecConfig {
	return ExecConfig{
		Bin:     config.VConfig.GetString(config.EngineBin),
		Args:    strings.Fields(config.VConfig.GetString(config.EngineArgs)),
		Timeout: config.VConfig.GetDuration(config.EngineTimeout),
	}
}

// Exec runs an external engine that prints fast-format alerts.
type Exec struct {
	cfg      ExecConfig
	lookPath func(string) (string, error)
	now      func() time.Time
}

// NewExec creates the primary backend. Whether the engine is installed is
// checked on every call, not here.
func NewExec(cfg ExecConfig) *Exec {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultEngineTimeout
	}
	return &Exec{cfg: cfg, lookPath: exec.LookPath, now: time.Now}
}

// Name implements [Backend].
func (e *Exec) Name() string {
	return SourceNative
}

// Available implements [Backend].
func (e *Exec) Available() bool {
	if e.cfg.Bin == "" {
		return false
	}
	_, err := e.lookPath(e.cfg.Bin)
	return err == nil
}

func (e *Exec) args(inputPath string) []string {
	out := make([]string, len(e.cfg.Args))
	for i, a := range e.cfg.Args {
		out[i] = strings.ReplaceAll(a, InputPlaceholder, inputPath)
	}
	return out
}

func (e *Exec) wantsFile() bool {
	for _, a := range e.cfg.Args {
		if strings.Contains(a, InputPlaceholder) {
			return true
		}
	}
	return false
}

func writeCapture(request string) (string, error) {
	f, err := os.CreateTemp("", "zt-capture-*.txt")
	if err != nil {
		return "", err
	}
	if _, err := f.WriteString(request); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), f.Close()
}

// Analyze implements [Backend]. Engine output is parsed even when the process
// exits non-zero, since some engines do so after reporting alerts.
func (e *Exec) Analyze(ctx context.Context, c *Content) ([]Alert, error) {
	path, err := e.lookPath(e.cfg.Bin)
	if err != nil {
		return nil, common.NewErrorf(common.Unavailable, "detection engine %q not found", e.cfg.Bin)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	request := c.HTTPRequest()

	var input string
	if e.wantsFile() {
		input, err = writeCapture(request)
		if err != nil {
			return nil, common.NewErrorf(common.Internal, "writing capture: %v", err)
		}
		defer func() { _ = os.Remove(input) }()
	}

	cmd := exec.CommandContext(ctx, path, e.args(input)...) // #nosec G204 -- operator configured engine
	if input == "" {
		cmd.Stdin = strings.NewReader(request)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = time.Second

	logger.Debugf(agent, "exec", "running %s %s", path, strings.Join(cmd.Args[1:], " "))
	runErr := cmd.Run()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, common.NewErrorf(common.Timeout, "detection engine timed out after %s", e.cfg.Timeout)
	}

	alerts := ParseFastAlerts(out.String(), e.now().UTC())
	if runErr != nil && len(alerts) == 0 {
		return nil, common.NewErrorf(common.Evaluation, "detection engine failed: %v", runErr)
	}
	return alerts, nil
}
