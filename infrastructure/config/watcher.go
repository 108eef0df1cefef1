package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/alishams21/lineagentic-kg/domain/registry"
)

// RegistryWatcher watches the registry document and hot-reloads it. A
// reload that fails validation is discarded; the current registry stays in
// effect until a valid document lands.
type RegistryWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	current  *registry.Registry
	mu       sync.RWMutex
	onChange []func(*registry.Registry)
	logger   *zap.Logger
	stopCh   chan struct{}
}

// NewRegistryWatcher loads the registry and begins tracking its file.
func NewRegistryWatcher(registryPath string, logger *zap.Logger) (*RegistryWatcher, error) {
	reg, err := registry.Load(registryPath)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(registryPath); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch registry file: %w", err)
	}
	// Watch the directory too, for atomic saves done via rename.
	if err := watcher.Add(filepath.Dir(registryPath)); err != nil {
		logger.Warn("failed to watch registry directory", zap.Error(err))
	}

	return &RegistryWatcher{
		path:    registryPath,
		watcher: watcher,
		current: reg,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}, nil
}

// Registry returns the current registry.
func (w *RegistryWatcher) Registry() *registry.Registry {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers a callback invoked with each successfully reloaded
// registry. Register before Start.
func (w *RegistryWatcher) OnChange(fn func(*registry.Registry)) {
	w.onChange = append(w.onChange, fn)
}

// Start begins watching for registry changes.
func (w *RegistryWatcher) Start() {
	go w.watchLoop()
	w.logger.Info("registry watcher started", zap.String("path", w.path))
}

// Stop stops watching.
func (w *RegistryWatcher) Stop() {
	close(w.stopCh)
	w.watcher.Close()
	w.logger.Info("registry watcher stopped")
}

func (w *RegistryWatcher) watchLoop() {
	var debounce *time.Timer
	const debounceDuration = 100 * time.Millisecond

	for {
		select {
		case <-w.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDuration, w.reload)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("registry watcher error", zap.Error(err))
		}
	}
}

func (w *RegistryWatcher) reload() {
	w.logger.Info("registry file changed, reloading", zap.String("path", w.path))

	reg, err := registry.Load(w.path)
	if err != nil {
		w.logger.Error("registry reload failed, keeping current registry", zap.Error(err))
		return
	}

	w.mu.Lock()
	w.current = reg
	callbacks := w.onChange
	w.mu.Unlock()

	for _, fn := range callbacks {
		fn(reg)
	}
	w.logger.Info("registry reloaded",
		zap.Int("entity_types", len(reg.EntityTypes())),
		zap.Int("aspects", len(reg.AspectNames())))
}
