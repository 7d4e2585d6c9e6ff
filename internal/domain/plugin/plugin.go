// Package plugin defines the plugin capability interface and the
// loaded-instance model.
package plugin

import (
	"context"
	"log/slog"

	"github.com/noxsuite/noxhost/internal/domain/hook"
)

// Status is a plugin instance's lifecycle state.
type Status string

// Lifecycle states. Unload is terminal and not modeled as a state; the
// instance is removed from the registry instead.
const (
	StatusUnknown  Status = "unknown"
	StatusLoading  Status = "loading"
	StatusLoaded   Status = "loaded"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusError    Status = "error"
	StatusDisabled Status = "disabled"
)

// Host is the surface a plugin gets at initialization time. It is the
// explicit registration entry point: plugins publish hooks and stash
// private resources through it instead of being discovered by
// reflection.
type Host interface {
	// RegisterHook publishes a handler under a hook name the plugin's
	// manifest declared.
	RegisterHook(name string, h hook.Handler) error

	// SetResource stores a value in the instance's private store.
	SetResource(key string, value any)

	// Resource reads a value from the instance's private store.
	Resource(key string) (any, bool)

	// Config returns the effective configuration mapping.
	Config() map[string]any

	// Logger returns a logger scoped to the plugin.
	Logger() *slog.Logger
}

// Plugin is the capability interface every loadable plugin implements.
type Plugin interface {
	// Initialize prepares the plugin and registers its hooks.
	Initialize(ctx context.Context, host Host) error

	// Activate starts the plugin's steady-state work.
	Activate(ctx context.Context) error

	// Deactivate pauses the plugin.
	Deactivate(ctx context.Context) error

	// Cleanup releases everything the plugin holds before unload.
	Cleanup(ctx context.Context) error
}

// HealthChecker is optionally implemented by plugins that can report
// their own health to the background agent.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
