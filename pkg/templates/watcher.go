package templates

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/afk2auto/afkbot/internal/logging"
)

// Watcher reloads template YAML files when they change on disk, so
// thresholds and regions can be tuned without restarting the bot.
type Watcher struct {
	registry *Registry
	dir      string
	logger   *logging.Logger
	fsw      *fsnotify.Watcher
}

// NewWatcher creates a watcher over dir feeding the given registry.
func NewWatcher(registry *Registry, dir string, logger *logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		registry: registry,
		dir:      dir,
		logger:   logger,
		fsw:      fsw,
	}, nil
}

// Run processes file events until ctx is cancelled. Reload failures
// are logged and leave the previous definitions in place.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			ext := filepath.Ext(event.Name)
			if ext != ".yaml" && ext != ".yml" {
				continue
			}
			if err := w.registry.LoadFromFile(event.Name); err != nil {
				w.logger.Warnf("template reload failed for %s: %v", event.Name, err)
				continue
			}
			w.logger.Infof("reloaded templates from %s", filepath.Base(event.Name))
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warnf("template watcher error: %v", err)
		}
	}
}
