package file

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"

	"hometopology/internal/config"
)

// Watch starts watching the store's file for external changes and invokes
// onChange with the freshly loaded Config whenever the file is written or
// recreated. It runs until ctx is canceled. Reload errors are logged and
// otherwise ignored — a transient partial write during editing shouldn't
// tear down the watcher.
func (s *Store) Watch(ctx context.Context, logger *slog.Logger, onChange func(*config.Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(s.path); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "error", err)
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := s.Load(ctx)
				if err != nil {
					logger.Warn("reload config on file change failed", "error", err)
					continue
				}
				if cfg != nil {
					onChange(cfg)
				}
			}
		}
	}()
	return nil
}
