package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/noxsuite/noxhost/internal/domain/manifest"
	"github.com/noxsuite/noxhost/internal/domain/sandbox"
)

// Resolver errors.
var (
	ErrNoPluginImpl     = errors.New("no plugin implementation found for entry point")
	ErrFactoryExists    = errors.New("factory key already registered")
	ErrModuleUnreadable = errors.New("plugin module unreadable")
)

// Factory constructs a native plugin implementation. Native plugins
// are compiled into the host and selected by manifest entry points of
// the form "go:<key>".
type Factory func(man *manifest.Manifest, config map[string]any) (Plugin, error)

// Resolver turns a manifest entry point into a concrete Plugin. It
// owns a keyed factory registry for native plugins and falls back to
// the WASM sandbox for "*.wasm" entry points. The registry is a value
// with explicit construction; nothing global is mutated on any path.
type Resolver struct {
	runtime sandbox.Runtime

	mu        sync.Mutex
	factories map[string]Factory
}

// NewResolver creates a resolver backed by the given WASM runtime.
// runtime may be nil when only native plugins are used.
func NewResolver(runtime sandbox.Runtime) *Resolver {
	return &Resolver{
		runtime:   runtime,
		factories: make(map[string]Factory),
	}
}

// RegisterFactory adds a native factory under a key. Duplicate keys
// are rejected.
func (r *Resolver) RegisterFactory(key string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[key]; exists {
		return fmt.Errorf("%w: %s", ErrFactoryExists, key)
	}
	r.factories[key] = f
	return nil
}

// Resolve constructs the implementation the manifest's entry point
// names.
func (r *Resolver) Resolve(ctx context.Context, dir string, man *manifest.Manifest, config map[string]any) (Plugin, error) {
	entry := man.EntryPoint

	if key, ok := strings.CutPrefix(entry, "go:"); ok {
		r.mu.Lock()
		factory, exists := r.factories[key]
		r.mu.Unlock()
		if !exists {
			return nil, fmt.Errorf("%w: no factory for %q", ErrNoPluginImpl, key)
		}
		return factory(man, config)
	}

	if strings.HasSuffix(entry, ".wasm") {
		if r.runtime == nil || !r.runtime.IsAvailable() {
			return nil, sandbox.ErrSandboxUnavailable
		}
		data, err := os.ReadFile(filepath.Join(dir, entry))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrModuleUnreadable, entry, err)
		}
		module, err := r.runtime.Load(ctx, man.Name, data)
		if err != nil {
			return nil, err
		}
		return &wasmPlugin{man: man, module: module}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrNoPluginImpl, entry)
}

// wasmPlugin adapts a sandboxed WASM module to the Plugin interface.
// Lifecycle calls map to exported functions of the same name; a
// missing export is a successful no-op. Each declared hook name is
// bridged to an exported "hook_<name>" function.
type wasmPlugin struct {
	man    *manifest.Manifest
	module sandbox.Module
}

func (w *wasmPlugin) Initialize(ctx context.Context, host Host) error {
	for _, name := range w.man.Hooks {
		export := "hook_" + name
		if err := host.RegisterHook(name, func(ctx context.Context, _ ...any) (any, error) {
			ok, err := w.module.Invoke(ctx, export)
			if err != nil {
				return nil, err
			}
			return ok, nil
		}); err != nil {
			return err
		}
	}

	if _, err := w.module.Invoke(ctx, "initialize"); err != nil {
		return err
	}
	return nil
}

func (w *wasmPlugin) Activate(ctx context.Context) error {
	_, err := w.module.Invoke(ctx, "activate")
	return err
}

func (w *wasmPlugin) Deactivate(ctx context.Context) error {
	_, err := w.module.Invoke(ctx, "deactivate")
	return err
}

func (w *wasmPlugin) Cleanup(ctx context.Context) error {
	if _, err := w.module.Invoke(ctx, "cleanup"); err != nil {
		_ = w.module.Close(ctx)
		return err
	}
	return w.module.Close(ctx)
}

func (w *wasmPlugin) HealthCheck(ctx context.Context) error {
	_, err := w.module.Invoke(ctx, "health_check")
	return err
}
