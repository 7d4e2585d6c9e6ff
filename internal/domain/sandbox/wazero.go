package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// hostModule is the import namespace plugins use for host calls.
const hostModule = "noxhost"

// wasmPageSize is the WASM linear memory page size.
const wasmPageSize = 64 * 1024

// WazeroRuntime implements Runtime using wazero. Module execution is
// pre-emptible: closing the invocation context stops plugin code, which
// is what lets the monitor terminate over-budget calls.
type WazeroRuntime struct {
	runtime wazero.Runtime
	logger  *slog.Logger

	mu       sync.Mutex
	closed   bool
	hostUp   bool
	monitors map[string]*Monitor
}

// NewWazeroRuntime creates a WASM runtime whose modules are capped at
// the configured memory limit.
func NewWazeroRuntime(ctx context.Context, logger *slog.Logger, limits ResourceLimits) (*WazeroRuntime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true)
	if limits.MaxMemoryMB > 0 {
		pages := uint32(limits.MaxMemoryMB * 1024 * 1024 / wasmPageSize)
		cfg = cfg.WithMemoryLimitPages(pages)
	}

	r := wazero.NewRuntimeWithConfig(ctx, cfg)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	return &WazeroRuntime{
		runtime:  r,
		logger:   logger.With("component", "sandbox"),
		monitors: make(map[string]*Monitor),
	}, nil
}

// SetMonitor associates a monitor with a module name so host functions
// invoked by that module are accounted against it.
func (r *WazeroRuntime) SetMonitor(name string, m *Monitor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.monitors[name] = m
}

// ForgetMonitor removes the monitor registered under name, but only if
// it is still m. A load that lost a name race must not evict the
// winner's monitor.
func (r *WazeroRuntime) ForgetMonitor(name string, m *Monitor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.monitors[name] == m {
		delete(r.monitors, name)
	}
}

// Load compiles and instantiates a plugin module for repeated
// lifecycle invocations.
func (r *WazeroRuntime) Load(ctx context.Context, name string, module []byte) (Module, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrSandboxUnavailable
	}
	if !r.hostUp {
		if err := r.registerHostFunctions(ctx); err != nil {
			r.mu.Unlock()
			return nil, fmt.Errorf("failed to register host functions: %w", err)
		}
		r.hostUp = true
	}
	r.mu.Unlock()

	compiled, err := r.runtime.CompileModule(ctx, module)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to compile: %w", ErrModuleInvalid, err)
	}

	modConfig := wazero.NewModuleConfig().
		WithName(name).
		WithStartFunctions("_initialize")

	instance, err := r.runtime.InstantiateModule(ctx, compiled, modConfig)
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, fmt.Errorf("%w: failed to instantiate: %w", ErrModuleInvalid, err)
	}

	return &wazeroModule{
		name:     name,
		compiled: compiled,
		instance: instance,
	}, nil
}

// IsAvailable reports whether the runtime can load modules.
func (r *WazeroRuntime) IsAvailable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed
}

// Close releases runtime resources.
func (r *WazeroRuntime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.runtime.Close(context.Background())
}

func (r *WazeroRuntime) monitorFor(name string) *Monitor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.monitors[name]
}

// registerHostFunctions exposes logging and accounting calls to
// plugin modules under the "noxhost" namespace.
func (r *WazeroRuntime) registerHostFunctions(ctx context.Context) error {
	builder := r.runtime.NewHostModuleBuilder(hostModule)

	logFn := func(level slog.Level) func(context.Context, api.Module, uint32, uint32) {
		return func(_ context.Context, m api.Module, ptr, length uint32) {
			r.logger.Log(context.Background(), level, readString(m, ptr, length), "plugin", m.Name())
		}
	}

	builder.NewFunctionBuilder().WithFunc(logFn(slog.LevelInfo)).Export("log_info")
	builder.NewFunctionBuilder().WithFunc(logFn(slog.LevelWarn)).Export("log_warn")
	builder.NewFunctionBuilder().WithFunc(logFn(slog.LevelError)).Export("log_error")

	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, m api.Module) {
			if mon := r.monitorFor(m.Name()); mon != nil {
				mon.CountFileOp(m.Name())
			}
		}).
		Export("count_file_op")

	_, err := builder.Instantiate(ctx)
	return err
}

type wazeroModule struct {
	name     string
	compiled wazero.CompiledModule
	instance api.Module
	mu       sync.Mutex
}

// Invoke calls an exported lifecycle function. A module that does not
// export the function reports ok=false with no error; hosts treat the
// call as a successful no-op.
func (m *wazeroModule) Invoke(ctx context.Context, fn string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exported := m.instance.ExportedFunction(fn)
	if exported == nil {
		return false, nil
	}

	if _, err := exported.Call(ctx); err != nil {
		if ctx.Err() != nil {
			return true, fmt.Errorf("%w: %w", ErrSandboxTimeout, err)
		}
		return true, fmt.Errorf("plugin %s.%s failed: %w", m.name, fn, err)
	}
	return true, nil
}

// Close releases the module and its compiled code. Monitor bookkeeping
// stays with the manager, which owns the monitor's lifetime.
func (m *wazeroModule) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.instance.Close(ctx); err != nil {
		_ = m.compiled.Close(ctx)
		return err
	}
	return m.compiled.Close(ctx)
}

// readString reads a string from WASM memory.
func readString(m api.Module, ptr, length uint32) string {
	if m == nil {
		return ""
	}
	mem := m.Memory()
	if mem == nil {
		return ""
	}
	data, ok := mem.Read(ptr, length)
	if !ok {
		return ""
	}
	return string(data)
}
