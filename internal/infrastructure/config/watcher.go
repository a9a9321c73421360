package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Watcher hot-reloads a config file on change so the responder model or log
// level can be adjusted without restarting the server. Safe for concurrent
// reads.
type Watcher struct {
	mu     sync.RWMutex
	cfg    *Config
	v      *viper.Viper
	logger *zap.Logger
	onLoad func(*Config)
}

// NewWatcher watches path and keeps the latest successfully-parsed config.
// onLoad, if non-nil, runs after every successful reload.
func NewWatcher(path string, initial *Config, logger *zap.Logger, onLoad func(*Config)) (*Watcher, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	w := &Watcher{
		cfg:    initial,
		v:      v,
		logger: logger.With(zap.String("component", "config-watcher")),
		onLoad: onLoad,
	}

	if err := v.ReadInConfig(); err == nil {
		w.reload()
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		w.logger.Info("Config file changed", zap.String("file", e.Name))
		w.reload()
	})
	v.WatchConfig()

	return w, nil
}

// Config returns the latest config.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

func (w *Watcher) reload() {
	var cfg Config
	if err := w.v.Unmarshal(&cfg); err != nil {
		w.logger.Warn("Ignoring unparsable config change", zap.Error(err))
		return
	}

	w.mu.Lock()
	w.cfg = &cfg
	w.mu.Unlock()

	if w.onLoad != nil {
		w.onLoad(&cfg)
	}
}
