package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/authgrid/ldap-admin/pkg/logger"
)

// FindConfigFile resolves the config file Load picked up, probing the same
// locations in the same order. Returns an empty string when the service is
// running on defaults and env vars only, in which case there is nothing to
// watch.
func FindConfigFile() string {
	candidates := []string{
		filepath.Join("/etc/ldap-admin", "config.yaml"),
		filepath.Join("configs", "config.yaml"),
		"config.yaml",
	}
	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// Watcher reloads the configuration when the config file changes and
// notifies registered callbacks. Only safe-to-hot-apply settings (log
// level, rate limits) should be consumed from callbacks; structural
// settings still require a restart.
type Watcher struct {
	config     *Config
	configPath string
	logger     logger.Logger
	mu         sync.RWMutex
	callbacks  []func(*Config)
	stopCh     chan struct{}
}

func NewWatcher(configPath string, initial *Config, logger logger.Logger) *Watcher {
	return &Watcher{
		config:     initial,
		configPath: configPath,
		logger:     logger,
		callbacks:  make([]func(*Config), 0),
		stopCh:     make(chan struct{}),
	}
}

// Start begins watching for configuration file changes. It blocks until the
// context is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.configPath); err != nil {
		return fmt.Errorf("failed to watch config file: %w", err)
	}

	w.logger.Info("Configuration watcher started", "path", w.configPath)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.logger.Info("Configuration file changed, reloading", "file", event.Name)
			if err := w.reload(); err != nil {
				w.logger.Error("Failed to reload configuration", "error", err)
				continue
			}
			w.notify()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("Configuration watcher error", "error", err)

		case <-ctx.Done():
			return nil

		case <-w.stopCh:
			return nil
		}
	}
}

// Register adds a callback invoked after every successful reload.
func (w *Watcher) Register(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Current returns the live configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

func (w *Watcher) Stop() {
	close(w.stopCh)
}

func (w *Watcher) reload() error {
	newConfig, err := Load()
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.config = newConfig
	w.mu.Unlock()
	return nil
}

func (w *Watcher) notify() {
	w.mu.RLock()
	config := w.config
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for _, cb := range callbacks {
		go func(cb func(*Config)) {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error("Configuration callback panic", "panic", r)
				}
			}()
			cb(config)
		}(cb)
	}
}
