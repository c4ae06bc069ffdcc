// Package rules hot-reloads the kind pair table and the audit rule catalog
// from YAML files.
package rules

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/demonfiddler/evidence-engine-sub000/domain/core/audit"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/registry"
)

// Clearer is anything whose contents go stale when rules change
type Clearer interface {
	Clear()
}

// Watcher reloads rule files when they change on disk. A file that fails to
// parse leaves the previous rules in place.
type Watcher struct {
	kindsPath string
	auditPath string
	mode      audit.GroupMode

	registry *registry.Registry
	catalog  *audit.Catalog
	caches   []Clearer

	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	timers   map[string]*time.Timer
	stopCh   chan struct{}
	stopOnce sync.Once
	reloaded chan string
}

// NewWatcher creates a watcher. Either path may be empty.
func NewWatcher(kindsPath, auditPath string, mode audit.GroupMode, reg *registry.Registry, catalog *audit.Catalog, logger *zap.Logger, caches ...Clearer) *Watcher {
	return &Watcher{
		kindsPath: kindsPath,
		auditPath: auditPath,
		mode:      mode,
		registry:  reg,
		catalog:   catalog,
		caches:    caches,
		debounce:  100 * time.Millisecond,
		logger:    logger,
		timers:    make(map[string]*time.Timer),
		stopCh:    make(chan struct{}),
	}
}

// LoadAll applies both files once
func (w *Watcher) LoadAll() error {
	if w.kindsPath != "" {
		if err := w.ReloadKinds(); err != nil {
			return err
		}
	}
	if w.auditPath != "" {
		if err := w.ReloadAudit(); err != nil {
			return err
		}
	}
	return nil
}

// ReloadKinds re-reads the kind pair table
func (w *Watcher) ReloadKinds() error {
	pairs, err := registry.ReadFile(w.kindsPath)
	if err != nil {
		return fmt.Errorf("failed to read kind rules: %w", err)
	}
	if err := w.registry.Reload(pairs); err != nil {
		return fmt.Errorf("invalid kind rules: %w", err)
	}
	w.clearCaches()
	w.logger.Info("Kind rules reloaded", zap.String("path", w.kindsPath), zap.Int("pairs", len(pairs)))
	return nil
}

// ReloadAudit re-reads the audit rule catalog
func (w *Watcher) ReloadAudit() error {
	rules, err := audit.ReadRulesFile(w.auditPath, w.mode)
	if err != nil {
		return fmt.Errorf("failed to read audit rules: %w", err)
	}
	w.catalog.Reload(rules)
	w.clearCaches()
	w.logger.Info("Audit rules reloaded", zap.String("path", w.auditPath), zap.Int("kinds", len(rules)))
	return nil
}

func (w *Watcher) clearCaches() {
	for _, c := range w.caches {
		c.Clear()
	}
}

// Start watches the directories of the configured files
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	dirs := map[string]bool{}
	for _, p := range []string{w.kindsPath, w.auditPath} {
		if p != "" {
			dirs[filepath.Dir(p)] = true
		}
	}
	// Watching the directory catches editors that save by rename
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	w.watcher = fw
	go w.watchLoop()
	w.logger.Info("Rules watcher started",
		zap.String("kindRules", w.kindsPath),
		zap.String("auditRules", w.auditPath),
	)
	return nil
}

// Stop ends the watch loop
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		if w.watcher != nil {
			w.watcher.Close()
		}
		w.mu.Lock()
		for _, t := range w.timers {
			t.Stop()
		}
		w.mu.Unlock()
	})
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			switch filepath.Clean(event.Name) {
			case filepath.Clean(w.kindsPath):
				w.schedule(w.kindsPath, w.ReloadKinds)
			case filepath.Clean(w.auditPath):
				w.schedule(w.auditPath, w.ReloadAudit)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) schedule(path string, reload func() error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		if err := reload(); err != nil {
			w.logger.Error("Rule reload failed, keeping current rules", zap.Error(err), zap.String("path", path))
			return
		}
		if w.reloaded != nil {
			select {
			case w.reloaded <- path:
			default:
			}
		}
	})
}
