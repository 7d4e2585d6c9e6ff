package host

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/noxsuite/noxhost/internal/domain/capability"
	"github.com/noxsuite/noxhost/internal/domain/hook"
	"github.com/noxsuite/noxhost/internal/domain/manifest"
	"github.com/noxsuite/noxhost/internal/domain/plugin"
	"github.com/noxsuite/noxhost/internal/domain/sandbox"
	"github.com/noxsuite/noxhost/internal/domain/security"
)

// APIVersion is the host API version manifests are checked against.
const APIVersion = "1.0.0"

// Config is the host construction configuration. There are no other
// configuration sources; everything the host enforces is set here.
type Config struct {
	// PluginDir is the directory scanned for plugin packages.
	PluginDir string

	// Isolation is the host-wide isolation policy.
	Isolation sandbox.IsolationConfig

	// Limits are the per-execution resource limits.
	Limits sandbox.ResourceLimits

	// Permissions govern which capability tags plugins may request.
	Permissions capability.Permissions

	// TrustedKeys are authorized_keys-format entries used to verify
	// plugin signatures.
	TrustedKeys []string

	// EventQueueSize bounds the pending event buffer.
	EventQueueSize int
}

// DefaultConfig returns a config with standard isolation and limits.
func DefaultConfig(pluginDir string) Config {
	return Config{
		PluginDir:   pluginDir,
		Isolation:   sandbox.DefaultIsolation(),
		Limits:      sandbox.DefaultLimits(),
		Permissions: capability.DefaultPermissions(),
	}
}

// Manager is the plugin lifecycle manager. It owns the instance
// registry, the hook bus, and the event queue; all registry access is
// serialized behind one mutex so concurrent lifecycle calls cannot
// race a duplicate registration or a stale dependency.
type Manager struct {
	logger    *slog.Logger
	cfg       Config
	manifests *manifest.Loader
	validator *security.Validator
	resolver  *plugin.Resolver
	runtime   *sandbox.WazeroRuntime
	bus       *hook.Bus
	events    *hook.Queue

	mu        sync.Mutex
	instances map[string]*plugin.Instance
	reports   map[string]*security.Report
}

// NewManager constructs a host. The WASM runtime is created eagerly so
// a broken sandbox fails host construction, not the first load.
func NewManager(ctx context.Context, cfg Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Isolation.CheckInterval <= 0 {
		cfg.Isolation = sandbox.DefaultIsolation()
	}

	var keys *security.Keyring
	if len(cfg.TrustedKeys) > 0 {
		kr, err := security.NewKeyring(cfg.TrustedKeys)
		if err != nil {
			return nil, err
		}
		keys = kr
	}

	runtime, err := sandbox.NewWazeroRuntime(ctx, logger, cfg.Limits)
	if err != nil {
		return nil, err
	}

	return &Manager{
		logger:    logger.With("component", "host"),
		cfg:       cfg,
		manifests: manifest.NewLoader(logger),
		validator: security.NewValidator(logger, keys),
		resolver:  plugin.NewResolver(runtime),
		runtime:   runtime,
		bus:       hook.NewBus(logger),
		events:    hook.NewQueue(logger, cfg.EventQueueSize),
		instances: make(map[string]*plugin.Instance),
		reports:   make(map[string]*security.Report),
	}, nil
}

// RegisterFactory exposes the resolver's native factory registry so
// hosts can compile plugins in and select them via "go:<key>" entry
// points.
func (m *Manager) RegisterFactory(key string, f plugin.Factory) error {
	return m.resolver.RegisterFactory(key, f)
}

// Load validates, resolves, and initializes the plugin package at dir.
// Any stage failure aborts without registering a partial instance.
// With autoActivate the plugin is activated after a successful load.
func (m *Manager) Load(ctx context.Context, dir string, autoActivate bool) error {
	man, err := m.manifests.Load(dir)
	if err != nil {
		return err
	}

	if err := man.CheckCompatibility(APIVersion); err != nil {
		return err
	}

	if err := m.cfg.Permissions.CheckAll(man.Permissions); err != nil {
		return fmt.Errorf("plugin %s: %w", man.Name, err)
	}

	m.mu.Lock()
	if _, exists := m.instances[man.Name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyLoaded, man.Name)
	}
	m.mu.Unlock()

	report, err := m.validator.Validate(dir, man)
	if err != nil {
		return err
	}

	// Dependencies must be active right now; the check is not cached
	// so a dependency unloaded since discovery is still caught.
	if err := m.checkDependencies(man); err != nil {
		return err
	}

	config, err := plugin.BuildConfig(dir, man)
	if err != nil {
		return err
	}

	impl, err := m.resolver.Resolve(ctx, dir, man, config)
	if err != nil {
		return err
	}

	monitor := sandbox.NewMonitor(m.logger, m.cfg.Isolation, m.cfg.Limits)
	m.runtime.SetMonitor(man.Name, monitor)
	inst := plugin.NewInstance(man, dir, impl, monitor, config, m.logger)

	if err := monitor.Exec(ctx, man.Name, func(ctx context.Context) error {
		return impl.Initialize(ctx, inst)
	}); err != nil {
		_ = impl.Cleanup(ctx)
		m.runtime.ForgetMonitor(man.Name, monitor)
		return &LifecycleError{Plugin: man.Name, Op: "initialize", Err: err}
	}

	// Commit: the checksum is recorded here, not in Validate, so a
	// load that loses the name race has nothing shared to roll back.
	m.mu.Lock()
	if _, exists := m.instances[man.Name]; exists {
		m.mu.Unlock()
		_ = impl.Cleanup(ctx)
		m.runtime.ForgetMonitor(man.Name, monitor)
		return fmt.Errorf("%w: %s", ErrAlreadyLoaded, man.Name)
	}
	if err := m.checkDependenciesLocked(man); err != nil {
		m.mu.Unlock()
		_ = impl.Cleanup(ctx)
		m.runtime.ForgetMonitor(man.Name, monitor)
		return err
	}
	inst.SetStatus(plugin.StatusLoaded)
	m.instances[man.Name] = inst
	m.reports[man.Name] = report
	m.validator.Record(man.Name, report.Checksum)
	// Re-assert the monitor binding: a racing load for the same name
	// may have overwritten it between resolve and commit.
	m.runtime.SetMonitor(man.Name, monitor)
	m.mu.Unlock()

	for name, handlers := range inst.Hooks() {
		for _, h := range handlers {
			if err := m.bus.Register(man.Name, name, man.Hooks, h); err != nil {
				m.logger.Error("hook registration rejected", "plugin", man.Name, "hook", name, "error", err)
			}
		}
	}

	m.events.Emit(hook.NewEvent("plugin_loaded", man.Name, map[string]any{
		"version":  man.Version,
		"category": man.Category,
		"trust":    string(report.Trust),
	}))
	m.logger.Info("plugin loaded", "plugin", man.Name, "version", man.Version, "trust", string(report.Trust))

	if autoActivate {
		return m.Activate(ctx, man.Name)
	}
	return nil
}

// Activate transitions a loaded plugin to active. Activating an
// already-active plugin is a no-op; the plugin's Activate is not
// invoked a second time.
func (m *Manager) Activate(ctx context.Context, name string) error {
	inst, err := m.instance(name)
	if err != nil {
		return err
	}

	if inst.Status() == plugin.StatusActive {
		return nil
	}

	if err := inst.Monitor().Exec(ctx, name, inst.Impl().Activate); err != nil {
		inst.SetStatus(plugin.StatusError)
		return &LifecycleError{Plugin: name, Op: "activate", Err: err}
	}

	inst.SetStatus(plugin.StatusActive)
	m.events.Emit(hook.NewEvent("plugin_activated", name, nil))
	m.logger.Info("plugin activated", "plugin", name)
	return nil
}

// Deactivate transitions an active plugin to inactive. A plugin that
// is not active is left untouched.
func (m *Manager) Deactivate(ctx context.Context, name string) error {
	inst, err := m.instance(name)
	if err != nil {
		return err
	}

	if inst.Status() != plugin.StatusActive {
		return nil
	}

	if err := inst.Monitor().Exec(ctx, name, inst.Impl().Deactivate); err != nil {
		inst.SetStatus(plugin.StatusError)
		return &LifecycleError{Plugin: name, Op: "deactivate", Err: err}
	}

	inst.SetStatus(plugin.StatusInactive)
	m.events.Emit(hook.NewEvent("plugin_deactivated", name, nil))
	m.logger.Info("plugin deactivated", "plugin", name)
	return nil
}

// Unload deactivates (if needed), cleans up, and removes a plugin. A
// failed cleanup leaves the instance registered in the error state so
// it can be inspected and retried; telemetry and violations are
// discarded only when removal succeeds.
func (m *Manager) Unload(ctx context.Context, name string) error {
	inst, err := m.instance(name)
	if err != nil {
		return err
	}

	if inst.Status() == plugin.StatusActive {
		if err := m.Deactivate(ctx, name); err != nil {
			m.logger.Error("deactivate before unload failed", "plugin", name, "error", err)
		}
	}

	cleanupCtx := ctx
	if m.cfg.Isolation.CleanupTimeout > 0 {
		var cancel context.CancelFunc
		cleanupCtx, cancel = context.WithTimeout(ctx, m.cfg.Isolation.CleanupTimeout)
		defer cancel()
	}

	if err := inst.Monitor().Exec(cleanupCtx, name, inst.Impl().Cleanup); err != nil {
		inst.SetStatus(plugin.StatusError)
		return &LifecycleError{Plugin: name, Op: "cleanup", Err: err}
	}

	m.bus.UnregisterPlugin(name)
	m.validator.Forget(name)
	m.runtime.ForgetMonitor(name, inst.Monitor())

	m.mu.Lock()
	delete(m.instances, name)
	delete(m.reports, name)
	m.mu.Unlock()

	m.events.Emit(hook.NewEvent("plugin_unloaded", name, nil))
	m.logger.Info("plugin unloaded", "plugin", name)
	return nil
}

// Disable administratively disables a plugin: it is deactivated if
// needed and kept registered in the disabled state.
func (m *Manager) Disable(ctx context.Context, name string) error {
	inst, err := m.instance(name)
	if err != nil {
		return err
	}
	if inst.Status() == plugin.StatusActive {
		if err := m.Deactivate(ctx, name); err != nil {
			return err
		}
	}
	inst.SetStatus(plugin.StatusDisabled)
	m.logger.Info("plugin disabled", "plugin", name)
	return nil
}

// DiscoverAndLoad loads every valid plugin package under the plugin
// directory, in manifest priority order, returning how many loaded.
// Individual failures are logged and skipped.
func (m *Manager) DiscoverAndLoad(ctx context.Context) (int, error) {
	dirs, err := m.manifests.Discover(m.cfg.PluginDir)
	if err != nil {
		return 0, err
	}

	type candidate struct {
		dir string
		man *manifest.Manifest
	}
	var candidates []candidate
	for _, dir := range dirs {
		man, err := m.manifests.Load(dir)
		if err != nil {
			m.logger.Error("skipping plugin with invalid manifest", "dir", dir, "error", err)
			continue
		}
		candidates = append(candidates, candidate{dir: dir, man: man})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].man.Priority < candidates[j].man.Priority
	})

	loaded := 0
	for _, c := range candidates {
		if m.IsLoaded(c.man.Name) {
			continue
		}
		if err := m.Load(ctx, c.dir, true); err != nil {
			m.logger.Error("failed to load plugin", "dir", c.dir, "error", err)
			continue
		}
		loaded++
	}
	return loaded, nil
}

// ExecuteHook dispatches to every handler registered for a hook name,
// in registration order, and returns their results in that order.
func (m *Manager) ExecuteHook(ctx context.Context, name string, args ...any) []any {
	return m.bus.Execute(ctx, name, args...)
}

// RegisterEventHandler subscribes a handler to a plugin event type.
func (m *Manager) RegisterEventHandler(eventType string, handler hook.EventHandler) {
	m.events.Subscribe(eventType, handler)
}

// Telemetry returns the latest telemetry snapshot for a plugin.
func (m *Manager) Telemetry(name string) (sandbox.Telemetry, error) {
	inst, err := m.instance(name)
	if err != nil {
		return sandbox.Telemetry{}, err
	}
	t, ok := inst.Monitor().Last()
	if !ok {
		return sandbox.Telemetry{}, fmt.Errorf("no telemetry recorded for %s", name)
	}
	return t, nil
}

// Violations returns the accumulated violation log for a plugin.
func (m *Manager) Violations(name string) ([]sandbox.Violation, error) {
	inst, err := m.instance(name)
	if err != nil {
		return nil, err
	}
	return inst.Monitor().Violations(), nil
}

// SecurityReport returns a plugin's current validation report.
func (m *Manager) SecurityReport(name string) (*security.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	report, ok := m.reports[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotLoaded, name)
	}
	return report, nil
}

// VerifyIntegrity re-checks a loaded plugin's entry artifact against
// the checksum recorded at load time.
func (m *Manager) VerifyIntegrity(name string) error {
	inst, err := m.instance(name)
	if err != nil {
		return err
	}
	return m.validator.VerifyIntegrity(inst.Dir(), inst.Manifest())
}

// IsLoaded reports whether a plugin name is in the registry.
func (m *Manager) IsLoaded(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.instances[name]
	return ok
}

// Instances returns a snapshot of all loaded instances.
func (m *Manager) Instances() []*plugin.Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*plugin.Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Manifest().Name < out[j].Manifest().Name
	})
	return out
}

// Events returns the event queue for the background agent.
func (m *Manager) Events() *hook.Queue {
	return m.events
}

// PluginDir returns the configured plugin directory.
func (m *Manager) PluginDir() string {
	return m.cfg.PluginDir
}

// ManifestLoader returns the manifest loader (used by discovery).
func (m *Manager) ManifestLoader() *manifest.Loader {
	return m.manifests
}

// Close unloads every plugin and releases the WASM runtime. Unload
// failures are logged; the runtime is closed regardless.
func (m *Manager) Close(ctx context.Context) error {
	for _, inst := range m.Instances() {
		if err := m.Unload(ctx, inst.Manifest().Name); err != nil {
			m.logger.Error("unload during shutdown failed",
				"plugin", inst.Manifest().Name, "error", err)
		}
	}
	return m.runtime.Close()
}

func (m *Manager) instance(name string) (*plugin.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotLoaded, name)
	}
	return inst, nil
}

func (m *Manager) checkDependencies(man *manifest.Manifest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkDependenciesLocked(man)
}

func (m *Manager) checkDependenciesLocked(man *manifest.Manifest) error {
	for _, dep := range man.Dependencies {
		inst, ok := m.instances[dep]
		if !ok {
			return &DependencyError{Plugin: man.Name, Dependency: dep, Reason: "not loaded"}
		}
		if inst.Status() != plugin.StatusActive {
			return &DependencyError{Plugin: man.Name, Dependency: dep,
				Reason: fmt.Sprintf("status %s, want active", inst.Status())}
		}
	}
	return nil
}
