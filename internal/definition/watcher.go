package definition

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadRecorder observes reload outcomes ("success" or "invalid" or "error").
type ReloadRecorder interface {
	RecordDefinitionReload(outcome string)
}

// Watcher reloads the registry when a definition file changes. Invalid
// bundles are logged and the previous snapshot stays in place.
type Watcher struct {
	loader    *Loader
	validator *Validator
	registry  *Registry
	dirs      []string
	debounce  time.Duration
	logger    *zap.Logger
	recorder  ReloadRecorder

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher creates a Watcher over dirs. Bursts of file events within
// debounce collapse into one reload. recorder may be nil.
func NewWatcher(loader *Loader, validator *Validator, registry *Registry, dirs []string, debounce time.Duration, logger *zap.Logger, recorder ReloadRecorder) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		loader:    loader,
		validator: validator,
		registry:  registry,
		dirs:      dirs,
		debounce:  debounce,
		logger:    logger,
		recorder:  recorder,
	}
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("definition watcher: %w", err)
	}
	defer fw.Close()

	for _, dir := range w.dirs {
		if err := addTree(fw, dir); err != nil {
			return fmt.Errorf("definition watcher: watching %s: %w", dir, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				// New subdirectories must be watched too.
				_ = addTree(fw, ev.Name)
			}
			if isDefinitionFile(ev.Name) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				w.schedule()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("definition watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { _ = w.Reload() })
}

// Reload loads, validates and installs the bundles once.
func (w *Watcher) Reload() error {
	bundles, err := w.loader.LoadAll(w.dirs)
	if err != nil {
		w.record("error")
		w.logger.Error("definition reload failed", zap.Error(err))
		return err
	}
	if verrs := w.validator.Validate(bundles); len(verrs) > 0 {
		w.record("invalid")
		for _, ve := range verrs {
			w.logger.Warn("definition rejected",
				zap.String("path", ve.Path),
				zap.String("code", ve.Code),
				zap.String("message", ve.Message),
			)
		}
		return fmt.Errorf("definition reload: %d validation errors", len(verrs))
	}
	w.registry.Replace(bundles)
	w.record("success")
	w.logger.Info("definitions reloaded",
		zap.Int("bundles", len(bundles)),
		zap.String("checksum", w.registry.Checksum()),
	)
	return nil
}

func (w *Watcher) record(outcome string) {
	if w.recorder != nil {
		w.recorder.RecordDefinitionReload(outcome)
	}
}

// addTree watches root and every directory below it. Files are ignored.
func addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return fw.Add(path)
	})
}
