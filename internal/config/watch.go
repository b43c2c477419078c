package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay coalesces the burst of events editors produce for one save.
const reloadDelay = 100 * time.Millisecond

// Watch reloads the config file at path whenever it changes and passes the
// result to fn, with environment overrides applied. A file that fails to
// load or validate is reported as an error; the caller keeps its previous
// config. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, fn func(*Config, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	// Watch the directory: editors often replace the file instead of
	// writing it in place.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				timer.Reset(reloadDelay)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fn(nil, fmt.Errorf("config watcher: %w", err))

		case <-timer.C:
			fn(reload(abs))
		}
	}
}

func reload(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
