package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events editors emit on save.
const reloadDebounce = 100 * time.Millisecond

// Holder provides thread-safe access to a mutable *Config and an immutable
// config file path. Long-running commands read through a Holder so a reload
// updates config in exactly one place.
type Holder struct {
	mu   sync.RWMutex
	cfg  *Config
	path string // immutable after construction

	env EnvOverrides
	cli CLIOverrides
}

// NewHolder creates a Holder with the initial config and config file path.
func NewHolder(cfg *Config, path string) *Holder {
	return &Holder{
		cfg:  cfg,
		path: path,
	}
}

// ResolveHolder resolves the configuration like Resolve and keeps the
// overrides so reloads apply them again.
func ResolveHolder(env EnvOverrides, cli CLIOverrides) (*Holder, error) {
	cfg, path, err := Resolve(env, cli)
	if err != nil {
		return nil, err
	}

	h := NewHolder(cfg, path)
	h.env = env
	h.cli = cli

	return h, nil
}

// Config returns the current config snapshot. Thread-safe (read lock).
func (h *Holder) Config() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.cfg
}

// Path returns the config file path.
func (h *Holder) Path() string {
	return h.path
}

// Update replaces the config. Thread-safe (write lock).
func (h *Holder) Update(cfg *Config) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cfg = cfg
}

// Reload re-reads the config file and reapplies the overrides. On error the
// current config is kept.
func (h *Holder) Reload() (*Config, error) {
	cfg, err := resolveAt(h.path, h.env, h.cli)
	if err != nil {
		return nil, err
	}

	h.Update(cfg)

	return cfg, nil
}

// Watch reloads the config whenever the file changes, until ctx is
// canceled. The parent directory is watched so atomic replace-by-rename
// saves are seen. Invalid files are logged and ignored. onReload, if
// non-nil, is called with every successfully reloaded config.
func (h *Holder) Watch(ctx context.Context, logger *slog.Logger, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: creating watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(h.path)

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("config: watching %s: %w", filepath.Dir(target), err)
	}

	logger.Debug("watching config file", slog.String("path", target))

	var debounce <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			debounce = time.After(reloadDebounce)

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn("config watcher error", slog.String("error", werr.Error()))

		case <-debounce:
			debounce = nil

			cfg, err := h.Reload()
			if err != nil {
				logger.Warn("config reload failed, keeping previous config",
					slog.String("path", target),
					slog.String("error", err.Error()),
				)

				continue
			}

			logger.Info("config reloaded", slog.String("path", target))

			if onReload != nil {
				onReload(cfg)
			}
		}
	}
}
