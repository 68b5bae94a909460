//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package config provides configuration management for the decision engine
// using [Viper].
//
// Configuration can be provided via:
//   - a YAML configuration file
//   - environment variables with the ZT_ prefix
//   - programmatic defaults
//
// By default the engine looks for zt-config.yaml in the current directory.
// Override the location with:
//
//	ZT_CONFIG_PATH=/etc/zerotrust
//	ZT_CONFIG_FILENAME=production
//
// Example configuration file:
//
//	log:
//	  level: ".:info;ids:debug"
//	policy:
//	  path: /etc/zerotrust/policy.yaml
//	history:
//	  backend: splunk
//	  timeout: 3s
//	splunk:
//	  url: https://splunk:8089
//	  hecurl: https://splunk:8088
//	  username: admin
//	  password: changeme
//	  hectoken: 00000000-0000-0000-0000-000000000000
//	audit:
//	  sinks: stdout,hec
//	  env:
//	    pod: HOSTNAME
//
// Dots in key names become underscores in the environment, so "history.backend"
// is ZT_HISTORY_BACKEND.
//
// [Viper]: https://github.com/spf13/viper
package config

import (
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/manetu/zerotrust/internal/logging"
	"github.com/spf13/viper"
)

// Environment variable and default path constants for configuration loading.
const (
	EnvVarPrefix          string = "ZT"
	ConfigPathEnv         string = "ZT_CONFIG_PATH"
	ConfigFileNameEnv     string = "ZT_CONFIG_FILENAME"
	ConfigDefaultPath     string = "."
	ConfigDefaultFilename string = "zt-config"
)

// Configuration keys for use with [VConfig].
const (
	logLevel string = "log.level"

	// PolicyPath names a YAML policy document. Empty selects the built-in policy.
	PolicyPath string = "policy.path"

	// RulesPath names a YAML signature rule table. Empty selects the built-in table.
	RulesPath string = "rules.path"

	// HistoryBackend selects the history signal: "none", "splunk" or "redis".
	HistoryBackend string = "history.backend"

	// HistoryTimeout bounds every history query.
	HistoryTimeout string = "history.timeout"

	SplunkURL      string = "splunk.url"
	SplunkHECURL   string = "splunk.hecurl"
	SplunkUsername string = "splunk.username"
	SplunkPassword string = "splunk.password"
	SplunkHECToken string = "splunk.hectoken"
	SplunkIndex    string = "splunk.index"
	SplunkInsecure string = "splunk.insecure"

	RedisAddr     string = "redis.addr"
	RedisPassword string = "redis.password"
	RedisDB       string = "redis.db"

	KafkaBrokers string = "kafka.brokers"
	KafkaTopic   string = "kafka.topic"

	// AuditSinks is a comma-separated list of audit streams: stdout, hec, kafka, redis, null.
	AuditSinks string = "audit.sinks"

	// AuditTimeout bounds each audit delivery.
	AuditTimeout string = "audit.timeout"

	// AuditEnv maps audit metadata keys to environment variable names whose
	// values are stamped on every audit event.
	//
	//	audit:
	//	  env:
	//	    pod: HOSTNAME
	AuditEnv string = "audit.env"

	// EngineBin is the external detection engine executable. When it cannot be
	// resolved the signature engine runs on its fallback table alone.
	EngineBin     string = "ids.engine.bin"
	EngineArgs    string = "ids.engine.args"
	EngineTimeout string = "ids.engine.timeout"
	IDSMode       string = "ids.mode"

	// GuardPath names an optional Rego module evaluated as the final decision stage.
	GuardPath string = "guard.path"

	// GuardAuxData names a directory of reference data exposed to the guard as input.auxdata.
	GuardAuxData string = "guard.auxdata"

	// UnsafeBuiltIns is a comma-separated list of Rego built-ins removed from
	// the guard's capabilities.
	UnsafeBuiltIns string = "opa.unsafebuiltins"
)

var (
	once     sync.Once
	loadOnce sync.Once
	loadErr  error

	// VConfig is the global Viper instance. It is initialized by [Init] or [Load].
	VConfig *viper.Viper
	logger  = logging.GetLogger("zerotrust.config")
)

// Init sets up paths, environment handling and defaults without reading any
// file. Safe to call repeatedly.
func Init() {
	once.Do(doInitialize)
}

func getConfigPath() string {
	if p, ok := os.LookupEnv(ConfigPathEnv); ok {
		return p
	}
	return ConfigDefaultPath
}

func getConfigFileName() string {
	if n, ok := os.LookupEnv(ConfigFileNameEnv); ok {
		return n
	}
	return ConfigDefaultFilename
}

func doInitialize() {
	VConfig = viper.New()

	VConfig.AddConfigPath(getConfigPath())
	VConfig.SetConfigName(getConfigFileName())
	VConfig.SetConfigType("yaml")

	VConfig.SetEnvPrefix(EnvVarPrefix)
	VConfig.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	VConfig.AutomaticEnv()

	VConfig.SetDefault(logLevel, ".:info")
	VConfig.SetDefault(PolicyPath, "")
	VConfig.SetDefault(RulesPath, "")
	VConfig.SetDefault(HistoryBackend, "none")
	VConfig.SetDefault(HistoryTimeout, 3*time.Second)
	VConfig.SetDefault(SplunkIndex, "zerotrust")
	VConfig.SetDefault(SplunkInsecure, true)
	VConfig.SetDefault(RedisAddr, "localhost:6379")
	VConfig.SetDefault(RedisDB, 0)
	VConfig.SetDefault(KafkaTopic, "zerotrust-audit")
	VConfig.SetDefault(AuditSinks, "stdout")
	VConfig.SetDefault(AuditTimeout, 5*time.Second)
	VConfig.SetDefault(EngineBin, "snort")
	VConfig.SetDefault(EngineArgs, "-q -A console -c /etc/snort/snort.conf -r {input}")
	VConfig.SetDefault(EngineTimeout, 30*time.Second)
	VConfig.SetDefault(IDSMode, "inline")
	VConfig.SetDefault(AuditPodinfo, "")
	VConfig.SetDefault(GuardPath, "")
	VConfig.SetDefault(GuardAuxData, "")
	VConfig.SetDefault(UnsafeBuiltIns, "http.send")
}

// Load initializes configuration and reads the config file, if present, then
// applies the configured log levels. Only the first call does any work.
func Load() error {
	loadOnce.Do(func() {
		Init()

		// honor the env level before reading the file so loading itself can be traced
		if early := os.Getenv("ZT_LOG_LEVEL"); early != "" {
			if err := logging.UpdateLogLevels(early); err != nil {
				logger.SysErrorf("Failed updating early log level %s: %+v", early, err)
				loadErr = err
				return
			}
		}

		logger.SysDebugf("Loading configuration from %s/%s.yaml", getConfigPath(), getConfigFileName())
		if err := VConfig.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				logger.SysWarnf("error reading config; using defaults: %+v", err)
			}
		}

		level := VConfig.GetString(logLevel)
		if err := logging.UpdateLogLevels(level); err != nil {
			logger.SysErrorf("Failed updating log level %s: %+v", level, err)
			loadErr = err
			return
		}

		if logger.IsDebugEnabled() {
			VConfig.DebugTo(logger.Out())
		}
	})

	return loadErr
}

// ResetConfig discards all loaded state and reloads from scratch. Tests only.
func ResetConfig() {
	VConfig = nil
	once = sync.Once{}
	loadOnce = sync.Once{}
	loadErr = nil
	resetPodLabels()
	Init()
	_ = Load()
}

// GetAuditEnv resolves the audit.env mapping against the process environment.
// Unset variables resolve to empty strings. Pod labels from the Downward API
// are merged in when [AuditPodinfo] is configured.
func GetAuditEnv() map[string]string {
	result := make(map[string]string)
	for key, name := range VConfig.GetStringMapString(AuditEnv) {
		result[key] = os.Getenv(name)
	}
	for label, value := range getPodLabels() {
		result["k8s."+label] = value
	}
	return result
}

// GetList splits a comma-separated key into trimmed, non-empty items.
func GetList(key string) []string {
	var items []string
	for _, item := range strings.Split(VConfig.GetString(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
