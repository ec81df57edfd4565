package config

import (
	"fmt"
	"strings"
	"sync"

	"kestrel/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watcher re-reads a subset of runtime-tunable keys (currently only
// app.log_level) when the main config file changes on disk. Structural keys
// still require a restart.
type Watcher struct {
	path string
	v    *viper.Viper

	mu       sync.RWMutex
	logLevel string
}

// NewWatcher starts watching the config file for changes.
func NewWatcher(path string) (*Watcher, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config watcher requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config failed: %w", err)
	}
	w := &Watcher{path: path, v: v}
	w.reload()
	v.OnConfigChange(func(evt fsnotify.Event) {
		if w.reload() {
			logger.Infof("config reloaded (%s): log_level=%s", evt.Name, w.LogLevel())
		}
	})
	v.WatchConfig()
	return w, nil
}

// LogLevel returns the most recently loaded log level.
func (w *Watcher) LogLevel() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.logLevel
}

func (w *Watcher) reload() bool {
	if err := w.v.ReadInConfig(); err != nil {
		logger.Errorf("config reload failed (%s): %v", w.path, err)
		return false
	}
	level := strings.TrimSpace(w.v.GetString("app.log_level"))
	if level == "" {
		level = defaultAppLogLevel
	}
	w.mu.Lock()
	changed := level != w.logLevel
	w.logLevel = level
	w.mu.Unlock()
	if changed {
		logger.SetLevel(level)
	}
	return changed
}
