package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settle is how long the file must stay quiet before it is reloaded. A
// single save often produces a truncate and one or more writes.
const settle = 150 * time.Millisecond

// Watch reloads path after it changes and calls onChange when the agent
// section differs from the last one delivered. Edits that only touch other
// sections of a shared file are ignored. Invalid files are logged and
// skipped. Watch runs until ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("agent config: watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("agent config: watch %q: %w", path, err)
	}
	slog.Info("config: watching for changes", "path", path)

	var last AgentConfig
	if cfg, err := Load(path); err == nil {
		last = cfg.Agent
	}

	timer := time.NewTimer(settle)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				timer.Reset(settle)
			}
			// A rename-based save drops the watch on the old inode.
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				_ = watcher.Add(path)
				timer.Reset(settle)
			}

		case <-timer.C:
			cfg, err := Load(path)
			if err != nil {
				slog.Error("config: reload failed, keeping previous config", "path", path, "err", err)
				continue
			}
			_ = watcher.Add(path)
			if cfg.Agent == last {
				slog.Debug("config: agent section unchanged", "path", path)
				continue
			}
			last = cfg.Agent
			slog.Info("config: reloaded", "path", path)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}
