//
//  Copyright © Manetu Inc. All rights reserved.
//

package test

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/manetu/zerotrust/internal/core/accesslog"
	"github.com/manetu/zerotrust/pkg/core"
	pkgaccesslog "github.com/manetu/zerotrust/pkg/core/accesslog"
	"github.com/manetu/zerotrust/pkg/core/config"
	"github.com/manetu/zerotrust/pkg/core/options"
)

// TestConfigFilename is the name of the test configuration file (without extension).
const TestConfigFilename = "zt-config"

// GetTestdataPath returns the absolute path to the testdata directory.
// This uses runtime.Caller to locate the source file and compute the path
// relative to it, ensuring tests work regardless of the working directory.
func GetTestdataPath() string {
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		return "testdata"
	}
	// thisFile is internal/core/test/instance.go
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(filepath.Dir(thisFile))))
	return filepath.Join(projectRoot, "testdata")
}

// SetupTestConfig points configuration at the test configuration so tests
// do not pick up the user's environment.
func SetupTestConfig() error {
	if err := os.Setenv(config.ConfigPathEnv, GetTestdataPath()); err != nil {
		return err
	}
	if err := os.Setenv(config.ConfigFileNameEnv, TestConfigFilename); err != nil {
		return err
	}
	config.ResetConfig()
	return nil
}

// NewTestDecisionEngine instantiates an engine suitable for unit-testing,
// auditing to a channel of the given depth. Extra options are applied last.
func NewTestDecisionEngine(depth int, extra ...options.EngineOptionsFunc) (core.DecisionEngine, chan *pkgaccesslog.Event, error) {
	if err := SetupTestConfig(); err != nil {
		return nil, nil, err
	}

	ch := make(chan *pkgaccesslog.Event, depth)
	opts := append([]options.EngineOptionsFunc{options.WithAccessLog(accesslog.NewChannelLogger(ch))}, extra...)

	engine, err := core.NewDecisionEngine(opts...)
	if err != nil {
		return nil, nil, err
	}

	return engine, ch, nil
}
