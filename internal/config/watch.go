package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"backy/internal/logging"
)

// WatchDaemonConfig watches path for changes and invokes onReload with the
// newly parsed config each time it changes, grounded on internal/ingester/
// tail's fsnotify directory-watch loop. A reload that
// fails to parse is logged and the previous config is kept running
// (spec.md §7 "ConfigInvalid: on reload, retain previous config and log").
// WatchDaemonConfig blocks until ctx is cancelled.
func WatchDaemonConfig(ctx context.Context, path string, logger *slog.Logger, onReload func(*DaemonConfig)) error {
	logger = logging.Default(logger).With("component", "config.watch")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != path || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			cfg, err := LoadDaemonConfig(path)
			if err != nil {
				logger.Warn("config reload failed, keeping previous config", "error", err)
				continue
			}
			logger.Info("config reloaded", "jobs", len(cfg.Jobs))
			onReload(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("fsnotify error", "error", err)
		}
	}
}
