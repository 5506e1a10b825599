package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ReloadFunc receives a config that replaced old together with what changed
// between them. d.Changed() is always true.
type ReloadFunc func(old, new *Config, d ConfigDiff)

// Watcher polls a config file and hands every effective change to a
// [ReloadFunc].
//
// An edit that fails to load or validate is logged once and the previous
// config stays current. An edit that loads to an equal config, such as a
// comment or formatting change, becomes current without a callback.
type Watcher struct {
	path     string
	interval time.Duration
	reload   ReloadFunc
	logger   *slog.Logger

	mu      sync.Mutex
	current *Config
	sum     [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLogger sets the logger used for reload and failure messages.
// The default is [slog.Default].
func WithLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWatcher loads the config at path and returns a Watcher for it. Polling
// starts with [Watcher.Run].
func NewWatcher(path string, reload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		reload:   reload,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current = cfg
	w.sum = sha256.Sum256(data)
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls the file until ctx ends and returns ctx.Err().
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Check(); err != nil {
				w.logger.Warn("config reload skipped", "path", w.path, "err", err)
			}
		}
	}
}

// Check reads the file once. When its content loads to a config that
// differs from the current one, the new config becomes current and the
// reload callback runs before Check returns the diff.
//
// Content that was already seen, valid or not, yields a zero diff and no
// error.
func (w *Watcher) Check() (ConfigDiff, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return ConfigDiff{}, fmt.Errorf("config: read %s: %w", w.path, err)
	}
	sum := sha256.Sum256(data)

	w.mu.Lock()
	if sum == w.sum {
		w.mu.Unlock()
		return ConfigDiff{}, nil
	}
	w.sum = sum
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		w.mu.Unlock()
		return ConfigDiff{}, err
	}
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	d := Diff(old, cfg)
	if !d.Changed() {
		w.logger.Debug("config file changed without effect", "path", w.path)
		return d, nil
	}

	w.logger.Info("configuration reloaded",
		"path", w.path,
		"log_level", d.LogLevelChanged,
		"tracker", d.TrackerChanged,
		"dialogue", d.DialogueChanged,
		"restart_required", d.RestartRequired,
	)
	// Outside the lock so the callback may call Current.
	if w.reload != nil {
		w.reload(old, cfg, d)
	}
	return d, nil
}
