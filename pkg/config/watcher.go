package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/openfroyo/orchestrator/pkg/engine"
	"github.com/rs/zerolog"
)

// ReloadFunc receives every successfully loaded version of a watched model file.
type ReloadFunc func(ctx context.Context, def *engine.ModelDefinition) error

// Watcher reloads a model file whenever it changes on disk.
type Watcher struct {
	loader   *ModelLoader
	logger   zerolog.Logger
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer

	// pending counts scheduled reloads that have neither run to completion nor been cancelled.
	pending sync.WaitGroup
}

// NewWatcher creates a new model file watcher.
func NewWatcher(loader *ModelLoader, logger zerolog.Logger, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		loader:   loader,
		logger:   logger.With().Str("component", "model-watcher").Logger(),
		debounce: debounce,
	}
}

// Watch loads path once, passes it to reloadFn and then reloads it on every change until ctx
// is done. It returns only after a reload in progress has finished. The containing directory is watched so that editors replacing the file by rename
// are noticed. Load and reload errors are logged; the last good model stays applied.
func (w *Watcher) Watch(ctx context.Context, path string, reloadFn ReloadFunc) error {
	path, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if _, err := FormatOf(path); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	w.logger.Info().Str("path", path).Msg("Started watching model file")
	w.reload(ctx, path, reloadFn)

	defer w.stop()
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Model file changed")
			w.schedule(ctx, path, reloadFn)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("File watcher error")
		}
	}
}

func (w *Watcher) schedule(ctx context.Context, path string, reloadFn ReloadFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelTimer()
	w.pending.Add(1)
	w.timer = time.AfterFunc(w.debounce, func() {
		defer w.pending.Done()
		w.reload(ctx, path, reloadFn)
	})
}

// cancelTimer stops the scheduled reload. Must be called with mu held.
func (w *Watcher) cancelTimer() {
	if w.timer != nil && w.timer.Stop() {
		w.pending.Done()
	}
	w.timer = nil
}

// stop cancels the scheduled reload and waits for a running one.
func (w *Watcher) stop() {
	w.mu.Lock()
	w.cancelTimer()
	w.mu.Unlock()
	w.pending.Wait()
}

func (w *Watcher) reload(ctx context.Context, path string, reloadFn ReloadFunc) {
	if ctx.Err() != nil {
		return
	}
	def, err := w.loader.LoadPath(path)
	if err != nil {
		w.logger.Error().Err(err).Str("path", path).Msg("Failed to load model file")
		return
	}
	if err := reloadFn(ctx, def); err != nil {
		w.logger.Error().Err(err).Int("version", def.Version).Msg("Failed to apply model")
		return
	}
	w.logger.Info().
		Int("version", def.Version).
		Int("resources", len(def.Resources)).
		Msg("Applied model")
}
