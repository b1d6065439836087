package policy

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a rule pack when the file changes on disk. Malformed packs
// are rejected and the previous rule set stays active.
type Watcher struct {
	logger *slog.Logger
	store  *Store
	path   string
}

// NewWatcher constructs a watcher for the given rule pack path.
func NewWatcher(logger *slog.Logger, store *Store, path string) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{logger: logger, store: store, path: path}
}

// Run blocks until the context is cancelled, reloading the pack on writes.
// Editors replace files rather than writing in place, so the parent directory
// is watched and events are filtered by name.
func (w *Watcher) Run(ctx context.Context) error {
	if w.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	var debounce *time.Timer
	reload := func() {
		rules, err := LoadRulePack(w.path)
		if err != nil {
			w.logger.Error("rule pack reload rejected", slog.String("path", w.path), slog.Any("error", err))
			return
		}
		w.store.ReplaceRules(rules)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("rule pack watcher error", slog.Any("error", err))
		}
	}
}
