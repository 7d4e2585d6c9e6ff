// Package host orchestrates plugin lifecycle: validation, loading,
// activation, monitoring, and the background agent.
package host

import (
	"errors"
	"fmt"
)

// Host errors.
var (
	// ErrNotLoaded indicates the named plugin is not in the registry.
	ErrNotLoaded = errors.New("plugin not loaded")
	// ErrAlreadyLoaded indicates a loaded plugin already owns the name.
	ErrAlreadyLoaded = errors.New("plugin name already loaded")
)

// DependencyError indicates a declared dependency was not active at
// load time. No instance is created when this is returned.
type DependencyError struct {
	Plugin     string
	Dependency string
	Reason     string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("plugin %s dependency %s: %s", e.Plugin, e.Dependency, e.Reason)
}

// LifecycleError indicates a plugin's own lifecycle method failed. The
// instance transitions to the error state but stays registered for
// inspection and unload.
type LifecycleError struct {
	Plugin string
	Op     string
	Err    error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("plugin %s %s failed: %v", e.Plugin, e.Op, e.Err)
}

func (e *LifecycleError) Unwrap() error {
	return e.Err
}
