//
//  Copyright © Manetu Inc. All rights reserved.
//

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/manetu/zerotrust/pkg/core/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	t.Setenv(config.ConfigPathEnv, t.TempDir())
	config.ResetConfig()
	require.NotNil(t, config.VConfig)

	assert.Equal(t, "none", config.VConfig.GetString(config.HistoryBackend))
	assert.Equal(t, 3*time.Second, config.VConfig.GetDuration(config.HistoryTimeout))
	assert.Equal(t, 5*time.Second, config.VConfig.GetDuration(config.AuditTimeout))
	assert.Equal(t, "zerotrust", config.VConfig.GetString(config.SplunkIndex))
	assert.Equal(t, "http.send", config.VConfig.GetString(config.UnsafeBuiltIns))
	assert.Equal(t, []string{"stdout"}, config.GetList(config.AuditSinks))
}

func TestConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	doc := `
history:
  backend: redis
  timeout: 750ms
audit:
  sinks: " stdout , kafka ,,"
  env:
    pod: ZT_TEST_POD
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "custom.yaml"), []byte(doc), 0o600))

	t.Setenv(config.ConfigPathEnv, dir)
	t.Setenv(config.ConfigFileNameEnv, "custom")
	t.Setenv("ZT_TEST_POD", "pod-7")
	config.ResetConfig()

	assert.Equal(t, "redis", config.VConfig.GetString(config.HistoryBackend))
	assert.Equal(t, 750*time.Millisecond, config.VConfig.GetDuration(config.HistoryTimeout))
	assert.Equal(t, []string{"stdout", "kafka"}, config.GetList(config.AuditSinks))
	assert.Equal(t, map[string]string{"pod": "pod-7"}, config.GetAuditEnv())
}

func TestConfigEnvOverride(t *testing.T) {
	t.Setenv(config.ConfigPathEnv, t.TempDir())
	t.Setenv("ZT_HISTORY_BACKEND", "splunk")
	config.ResetConfig()

	assert.Equal(t, "splunk", config.VConfig.GetString(config.HistoryBackend))
}

func TestAuditEnvWithPodLabels(t *testing.T) {
	podinfo := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(podinfo, "labels"),
		[]byte("app=\"ztpdp\"\nzone=\"prod\"\nbroken-line\n"), 0o600))

	t.Setenv(config.ConfigPathEnv, t.TempDir())
	t.Setenv("ZT_AUDIT_PODINFO", podinfo)
	config.ResetConfig()

	env := config.GetAuditEnv()
	assert.Equal(t, "ztpdp", env["k8s.app"])
	assert.Equal(t, "prod", env["k8s.zone"])
	assert.Len(t, env, 2)
}
