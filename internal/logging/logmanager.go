//
//  Copyright © Manetu Inc. All rights reserved.
//

package logging

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

// registry tracks every logger handed out so level changes reach all of them
type registry struct {
	loggers  map[string]*Logger
	explicit map[string]bool
	defLevel zapcore.Level
}

var (
	reg  *registry
	mu   sync.RWMutex
	once sync.Once
)

func initRegistry() {
	reg = &registry{
		loggers:  make(map[string]*Logger),
		explicit: make(map[string]bool),
		defLevel: zapcore.InfoLevel,
	}
}

func resetForTesting() {
	mu.Lock()
	defer mu.Unlock()
	reg = nil
	once = sync.Once{}
}

// GetLogger returns the logger for a module, creating it at the default level
// on first use.
func GetLogger(name string) *Logger {
	once.Do(initRegistry)

	mu.RLock()
	l := reg.loggers[name]
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()

	if l = reg.loggers[name]; l != nil {
		return l
	}

	l = newLogger(name)
	l.SetLevel(reg.defLevel)
	reg.loggers[name] = l

	return l
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(s) {
	case "panic":
		return zapcore.PanicLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "debug", "trace":
		return zapcore.DebugLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// UpdateLogLevels applies a level specification of the form
// "mod1:debug;mod2:error;.:info", where "." names the default for every
// module without an explicit entry. Whitespace is ignored. Entries with an
// unknown level are skipped and reported in the returned error; the valid
// entries are still applied.
func UpdateLogLevels(spec string) error {
	once.Do(initRegistry)

	spec = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n':
			return -1
		}
		return r
	}, spec)

	mu.Lock()
	defer mu.Unlock()

	var bad []string
	for _, entry := range strings.Split(spec, ";") {
		name, lvl, ok := strings.Cut(entry, ":")
		if !ok {
			continue
		}

		level, err := parseLevel(lvl)
		if err != nil {
			bad = append(bad, entry)
			continue
		}

		if name == "." {
			reg.defLevel = level
			continue
		}

		reg.explicit[name] = true
		l := reg.loggers[name]
		if l == nil {
			l = newLogger(name)
			reg.loggers[name] = l
		}
		l.SetLevel(level)
	}

	for name, l := range reg.loggers {
		if !reg.explicit[name] {
			l.SetLevel(reg.defLevel)
		}
	}

	if len(bad) > 0 {
		return fmt.Errorf("invalid log level entries: %s", strings.Join(bad, ";"))
	}
	return nil
}
