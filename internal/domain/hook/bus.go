// Package hook provides the cross-plugin hook and event bus.
package hook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Bus errors.
var (
	ErrUndeclaredHook = errors.New("hook name not declared by plugin")
)

// Handler is a callable published against a hook name. Handlers that
// need to run asynchronously should respect ctx and manage their own
// goroutines; the bus itself dispatches synchronously in registration
// order.
type Handler func(ctx context.Context, args ...any) (any, error)

type registration struct {
	plugin  string
	handler Handler
}

// Bus maps hook names to ordered handler lists. All mutation happens
// under one lock; dispatch takes a snapshot so a slow handler never
// blocks registration.
type Bus struct {
	logger *slog.Logger

	mu    sync.Mutex
	hooks map[string][]registration
}

// NewBus creates an empty hook bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger.With("component", "hooks"),
		hooks:  make(map[string][]registration),
	}
}

// Register publishes a handler for a hook name on behalf of a plugin.
// declared is the set of hook names the plugin's manifest allows; an
// instance cannot register under an undeclared name.
func (b *Bus) Register(plugin, name string, declared []string, handler Handler) error {
	if !contains(declared, name) {
		return fmt.Errorf("%w: %s (plugin %s)", ErrUndeclaredHook, name, plugin)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks[name] = append(b.hooks[name], registration{plugin: plugin, handler: handler})
	return nil
}

// UnregisterPlugin removes every handler a plugin registered, across
// all hook names.
func (b *Bus) UnregisterPlugin(plugin string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, regs := range b.hooks {
		kept := regs[:0]
		for _, reg := range regs {
			if reg.plugin != plugin {
				kept = append(kept, reg)
			}
		}
		if len(kept) == 0 {
			delete(b.hooks, name)
		} else {
			b.hooks[name] = kept
		}
	}
}

// Execute dispatches to every handler registered for name, in
// registration order. A handler that errors or panics is logged and
// skipped; the rest of the batch still runs. Results of the handlers
// that succeeded are returned in registration order.
func (b *Bus) Execute(ctx context.Context, name string, args ...any) []any {
	b.mu.Lock()
	regs := make([]registration, len(b.hooks[name]))
	copy(regs, b.hooks[name])
	b.mu.Unlock()

	results := make([]any, 0, len(regs))
	for _, reg := range regs {
		result, err := b.invoke(ctx, reg, name, args)
		if err != nil {
			b.logger.Error("hook handler failed",
				"hook", name, "plugin", reg.plugin, "error", err)
			continue
		}
		results = append(results, result)
	}
	return results
}

// HandlerCount returns the number of handlers registered for a name.
func (b *Bus) HandlerCount(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.hooks[name])
}

func (b *Bus) invoke(ctx context.Context, reg registration, name string, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook %s panicked: %v", name, r)
		}
	}()
	return reg.handler(ctx, args...)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
