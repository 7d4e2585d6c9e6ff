package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noxsuite/noxhost/internal/domain/manifest"
	"github.com/noxsuite/noxhost/internal/domain/sandbox"
)

// fakePlugin records lifecycle calls for assertions.
type fakePlugin struct {
	man         *manifest.Manifest
	config      map[string]any
	initialized bool
	active      bool
	cleaned     bool
	initErr     error
	activateErr error
}

func (f *fakePlugin) Initialize(_ context.Context, _ Host) error {
	if f.initErr != nil {
		return f.initErr
	}
	f.initialized = true
	return nil
}

func (f *fakePlugin) Activate(context.Context) error {
	if f.activateErr != nil {
		return f.activateErr
	}
	f.active = true
	return nil
}

func (f *fakePlugin) Deactivate(context.Context) error {
	f.active = false
	return nil
}

func (f *fakePlugin) Cleanup(context.Context) error {
	f.cleaned = true
	return nil
}

// fakeModule implements sandbox.Module with a configurable export set.
type fakeModule struct {
	exports map[string]error
	calls   []string
	closed  bool
}

func (f *fakeModule) Invoke(_ context.Context, fn string) (bool, error) {
	f.calls = append(f.calls, fn)
	err, ok := f.exports[fn]
	if !ok {
		return false, nil
	}
	return true, err
}

func (f *fakeModule) Close(context.Context) error {
	f.closed = true
	return nil
}

// fakeRuntime hands out a prepared module.
type fakeRuntime struct {
	module    *fakeModule
	available bool
	loaded    []string
}

func (f *fakeRuntime) Load(_ context.Context, name string, _ []byte) (sandbox.Module, error) {
	f.loaded = append(f.loaded, name)
	return f.module, nil
}

func (f *fakeRuntime) IsAvailable() bool { return f.available }
func (f *fakeRuntime) Close() error      { return nil }

func nativeManifest(name string) *manifest.Manifest {
	return &manifest.Manifest{
		Name:       name,
		Version:    "1.0.0",
		Category:   "testing",
		EntryPoint: "go:" + name,
	}
}

func TestRegisterFactoryDuplicate(t *testing.T) {
	t.Parallel()

	r := NewResolver(nil)
	factory := func(man *manifest.Manifest, config map[string]any) (Plugin, error) {
		return &fakePlugin{man: man, config: config}, nil
	}

	require.NoError(t, r.RegisterFactory("demo", factory))
	assert.ErrorIs(t, r.RegisterFactory("demo", factory), ErrFactoryExists)
}

func TestResolveFactory(t *testing.T) {
	t.Parallel()

	r := NewResolver(nil)
	require.NoError(t, r.RegisterFactory("demo", func(man *manifest.Manifest, config map[string]any) (Plugin, error) {
		return &fakePlugin{man: man, config: config}, nil
	}))

	man := nativeManifest("demo")
	cfg := map[string]any{"interval": 30}

	impl, err := r.Resolve(context.Background(), t.TempDir(), man, cfg)
	require.NoError(t, err)

	fake, ok := impl.(*fakePlugin)
	require.True(t, ok)
	assert.Same(t, man, fake.man)
	assert.Equal(t, cfg, fake.config)
}

func TestResolveUnknownFactory(t *testing.T) {
	t.Parallel()

	r := NewResolver(nil)
	_, err := r.Resolve(context.Background(), t.TempDir(), nativeManifest("absent"), nil)
	assert.ErrorIs(t, err, ErrNoPluginImpl)
}

func TestResolveUnrecognizedEntryPoint(t *testing.T) {
	t.Parallel()

	r := NewResolver(nil)
	man := nativeManifest("demo")
	man.EntryPoint = "plugin.so"

	_, err := r.Resolve(context.Background(), t.TempDir(), man, nil)
	assert.ErrorIs(t, err, ErrNoPluginImpl)
}

func TestResolveWASM(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.wasm"), []byte("\x00asm"), 0o644))

	rt := &fakeRuntime{module: &fakeModule{}, available: true}
	r := NewResolver(rt)
	man := nativeManifest("demo")
	man.EntryPoint = "main.wasm"

	impl, err := r.Resolve(context.Background(), dir, man, nil)
	require.NoError(t, err)
	assert.IsType(t, &wasmPlugin{}, impl)
	assert.Equal(t, []string{"demo"}, rt.loaded)
}

func TestResolveWASMRuntimeUnavailable(t *testing.T) {
	t.Parallel()

	man := nativeManifest("demo")
	man.EntryPoint = "main.wasm"

	_, err := NewResolver(nil).Resolve(context.Background(), t.TempDir(), man, nil)
	assert.ErrorIs(t, err, sandbox.ErrSandboxUnavailable)

	rt := &fakeRuntime{module: &fakeModule{}, available: false}
	_, err = NewResolver(rt).Resolve(context.Background(), t.TempDir(), man, nil)
	assert.ErrorIs(t, err, sandbox.ErrSandboxUnavailable)
}

func TestResolveWASMModuleMissing(t *testing.T) {
	t.Parallel()

	rt := &fakeRuntime{module: &fakeModule{}, available: true}
	man := nativeManifest("demo")
	man.EntryPoint = "main.wasm"

	_, err := NewResolver(rt).Resolve(context.Background(), t.TempDir(), man, nil)
	assert.ErrorIs(t, err, ErrModuleUnreadable)
}

func TestWASMPluginLifecycle(t *testing.T) {
	t.Parallel()

	module := &fakeModule{exports: map[string]error{
		"initialize": nil,
		"activate":   nil,
		"deactivate": nil,
		"cleanup":    nil,
	}}
	man := nativeManifest("demo")
	man.Hooks = []string{"on_check"}

	w := &wasmPlugin{man: man, module: module}
	inst := NewInstance(man, t.TempDir(), w, nil, nil, nil)

	ctx := context.Background()
	require.NoError(t, w.Initialize(ctx, inst))
	assert.Contains(t, module.calls, "initialize")

	// Declared hooks were bridged to hook_<name> exports.
	hooks := inst.Hooks()
	require.Len(t, hooks["on_check"], 1)
	module.exports["hook_on_check"] = nil
	_, err := hooks["on_check"][0](ctx)
	require.NoError(t, err)
	assert.Contains(t, module.calls, "hook_on_check")

	require.NoError(t, w.Activate(ctx))
	require.NoError(t, w.Deactivate(ctx))
	require.NoError(t, w.Cleanup(ctx))
	assert.True(t, module.closed)
}

func TestWASMPluginMissingExportsAreNoOps(t *testing.T) {
	t.Parallel()

	module := &fakeModule{}
	man := nativeManifest("demo")
	w := &wasmPlugin{man: man, module: module}
	inst := NewInstance(man, t.TempDir(), w, nil, nil, nil)

	ctx := context.Background()
	assert.NoError(t, w.Initialize(ctx, inst))
	assert.NoError(t, w.Activate(ctx))
	assert.NoError(t, w.HealthCheck(ctx))
	assert.NoError(t, w.Cleanup(ctx))
}

func TestWASMPluginCleanupClosesOnError(t *testing.T) {
	t.Parallel()

	boom := errors.New("cleanup failed")
	module := &fakeModule{exports: map[string]error{"cleanup": boom}}
	w := &wasmPlugin{man: nativeManifest("demo"), module: module}

	err := w.Cleanup(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.True(t, module.closed)
}
