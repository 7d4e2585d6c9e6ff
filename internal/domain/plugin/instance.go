package plugin

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/noxsuite/noxhost/internal/domain/hook"
	"github.com/noxsuite/noxhost/internal/domain/manifest"
	"github.com/noxsuite/noxhost/internal/domain/sandbox"
)

// Instance is one loaded plugin: its manifest, implementation,
// configuration, hook table, private resource store, and monitor. The
// registry holds exactly one instance per manifest name.
type Instance struct {
	man     *manifest.Manifest
	dir     string
	impl    Plugin
	monitor *sandbox.Monitor
	config  map[string]any
	logger  *slog.Logger

	mu        sync.RWMutex
	status    Status
	hooks     map[string][]hook.Handler
	resources map[string]any
}

// NewInstance builds an instance around a resolved implementation.
func NewInstance(man *manifest.Manifest, dir string, impl Plugin, monitor *sandbox.Monitor, config map[string]any, logger *slog.Logger) *Instance {
	if logger == nil {
		logger = slog.Default()
	}
	if config == nil {
		config = make(map[string]any)
	}
	return &Instance{
		man:       man,
		dir:       dir,
		impl:      impl,
		monitor:   monitor,
		config:    config,
		logger:    logger.With("plugin", man.Name),
		status:    StatusLoading,
		hooks:     make(map[string][]hook.Handler),
		resources: make(map[string]any),
	}
}

// Manifest returns the immutable manifest.
func (i *Instance) Manifest() *manifest.Manifest {
	return i.man
}

// Dir returns the plugin's package directory.
func (i *Instance) Dir() string {
	return i.dir
}

// Impl returns the resolved plugin implementation.
func (i *Instance) Impl() Plugin {
	return i.impl
}

// Monitor returns the instance's resource monitor.
func (i *Instance) Monitor() *sandbox.Monitor {
	return i.monitor
}

// Status returns the current lifecycle state.
func (i *Instance) Status() Status {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.status
}

// SetStatus moves the instance to a new lifecycle state.
func (i *Instance) SetStatus(s Status) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.status = s
}

// RegisterHook records a handler in the instance's private hook table.
// Only hook names the manifest declared are accepted.
func (i *Instance) RegisterHook(name string, h hook.Handler) error {
	declared := false
	for _, d := range i.man.Hooks {
		if d == name {
			declared = true
			break
		}
	}
	if !declared {
		return fmt.Errorf("%w: %s (plugin %s)", hook.ErrUndeclaredHook, name, i.man.Name)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.hooks[name] = append(i.hooks[name], h)
	return nil
}

// Hooks returns the plugin's private hook table as name to handlers,
// in registration order.
func (i *Instance) Hooks() map[string][]hook.Handler {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make(map[string][]hook.Handler, len(i.hooks))
	for name, hs := range i.hooks {
		copied := make([]hook.Handler, len(hs))
		copy(copied, hs)
		out[name] = copied
	}
	return out
}

// SetResource stores a value in the instance's private store. The
// store is owned exclusively by this instance and never shared across
// plugins except via the hook bus.
func (i *Instance) SetResource(key string, value any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.resources[key] = value
}

// Resource reads a value from the instance's private store.
func (i *Instance) Resource(key string) (any, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	v, ok := i.resources[key]
	return v, ok
}

// Config returns the effective configuration mapping.
func (i *Instance) Config() map[string]any {
	return i.config
}

// Logger returns the plugin-scoped logger.
func (i *Instance) Logger() *slog.Logger {
	return i.logger
}
