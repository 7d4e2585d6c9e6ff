package host

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/felixgeelhaar/statekit"

	"github.com/noxsuite/noxhost/internal/domain/plugin"
)

// Agent states.
type AgentState string

const (
	AgentStopped     AgentState = "stopped"
	AgentStarting    AgentState = "starting"
	AgentRunning     AgentState = "running"
	AgentDispatching AgentState = "dispatching"
	AgentError       AgentState = "error"
)

// Event types for the agent state machine.
const (
	eventStart            = "START"
	eventStarted          = "STARTED"
	eventDispatch         = "DISPATCH"
	eventDispatchComplete = "DISPATCH_COMPLETE"
	eventStop             = "STOP"
	eventError            = "ERROR"
	eventRecover          = "RECOVER"
)

// agentContext is the statekit context tracked across transitions.
type agentContext struct {
	StartedAt      time.Time
	DispatchCycles int
	HealthFailures int
	LastError      error
}

// AgentConfig configures the background loop intervals.
type AgentConfig struct {
	// HealthInterval is the health-check polling period.
	HealthInterval time.Duration

	// DiscoveryInterval is the new-plugin scan period.
	DiscoveryInterval time.Duration

	// HealthTimeout bounds one plugin's health check call.
	HealthTimeout time.Duration
}

// DefaultAgentConfig returns the default loop intervals.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		HealthInterval:    30 * time.Second,
		DiscoveryInterval: time.Minute,
		HealthTimeout:     5 * time.Second,
	}
}

// Agent is the host's single background worker. It sleeps on the event
// queue channel and two tickers rather than polling: a drain cycle
// wakes on enqueue, health checks and discovery scans run on their
// intervals. Loop errors are logged and the loop continues.
type Agent struct {
	logger  *slog.Logger
	manager *Manager
	cfg     AgentConfig

	mu        sync.RWMutex
	interp    *statekit.Interpreter[agentContext]
	stopCh    chan struct{}
	stoppedCh chan struct{}
	seen      map[string]bool
}

// NewAgent creates the background agent for a manager.
func NewAgent(manager *Manager, cfg AgentConfig, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HealthInterval <= 0 {
		cfg = DefaultAgentConfig()
	}
	return &Agent{
		logger:  logger.With("component", "agent"),
		manager: manager,
		cfg:     cfg,
		seen:    make(map[string]bool),
	}
}

func buildAgentMachine() (*statekit.Interpreter[agentContext], error) {
	machine, err := statekit.NewMachine[agentContext]("noxhost-agent").
		WithInitial("stopped").
		WithContext(agentContext{}).
		WithAction("recordStart", func(c *agentContext, _ statekit.Event) {
			c.StartedAt = time.Now()
		}).
		WithAction("recordDispatch", func(c *agentContext, _ statekit.Event) {
			c.DispatchCycles++
		}).
		WithAction("recordError", func(c *agentContext, event statekit.Event) {
			if payload, ok := event.Payload.(map[string]interface{}); ok {
				if err, ok := payload["error"].(error); ok {
					c.LastError = err
				}
			}
		}).
		State("stopped").
		On(eventStart).Target("starting").Done().
		State("starting").
		OnEntry("recordStart").
		On(eventStarted).Target("running").
		On(eventError).Target("error").Done().
		State("running").
		On(eventDispatch).Target("dispatching").
		On(eventStop).Target("stopped").
		On(eventError).Target("error").Done().
		State("dispatching").
		OnEntry("recordDispatch").
		On(eventDispatchComplete).Target("running").
		On(eventStop).Target("stopped").
		On(eventError).Target("error").Done().
		State("error").
		OnEntry("recordError").
		On(eventRecover).Target("running").
		On(eventStop).Target("stopped").Done().
		Build()
	if err != nil {
		return nil, err
	}
	return statekit.NewInterpreter(machine), nil
}

// Start builds the state machine and launches the loop goroutine.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.interp != nil {
		return nil
	}

	interp, err := buildAgentMachine()
	if err != nil {
		return fmt.Errorf("failed to build agent state machine: %w", err)
	}
	a.interp = interp
	a.stopCh = make(chan struct{})
	a.stoppedCh = make(chan struct{})

	a.interp.Start()
	a.interp.Send(statekit.Event{Type: eventStart})
	a.interp.Send(statekit.Event{Type: eventStarted})

	go a.run(ctx)
	a.logger.Info("agent started")
	return nil
}

// Stop signals the loop and waits for it to drain.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	interp := a.interp
	stopCh := a.stopCh
	stoppedCh := a.stoppedCh
	a.mu.Unlock()

	if interp == nil {
		return nil
	}

	select {
	case <-stopCh:
	default:
		close(stopCh)
	}

	select {
	case <-stoppedCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	interp.Send(statekit.Event{Type: eventStop})
	interp.Stop()

	a.mu.Lock()
	a.interp = nil
	a.mu.Unlock()
	a.logger.Info("agent stopped")
	return nil
}

// State returns the agent's current state.
func (a *Agent) State() AgentState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.interp == nil {
		return AgentStopped
	}
	return AgentState(a.interp.State().Value)
}

func (a *Agent) run(ctx context.Context) {
	defer close(a.stoppedCh)

	healthTicker := time.NewTicker(a.cfg.HealthInterval)
	defer healthTicker.Stop()
	discoveryTicker := time.NewTicker(a.cfg.DiscoveryInterval)
	defer discoveryTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return

		case e := <-a.manager.Events().Wait():
			a.send(eventDispatch)
			a.manager.Events().Drain(e)
			a.send(eventDispatchComplete)

		case <-healthTicker.C:
			a.checkHealth(ctx)

		case <-discoveryTicker.C:
			a.scanForNew()
		}
	}
}

// checkHealth polls every loaded instance that implements
// HealthChecker. Failures are logged, never auto-remediated.
func (a *Agent) checkHealth(ctx context.Context) {
	for _, inst := range a.manager.Instances() {
		checker, ok := inst.Impl().(plugin.HealthChecker)
		if !ok {
			continue
		}

		checkCtx, cancel := context.WithTimeout(ctx, a.cfg.HealthTimeout)
		err := checker.HealthCheck(checkCtx)
		cancel()

		if err != nil {
			a.logger.Warn("plugin failed health check",
				"plugin", inst.Manifest().Name, "status", string(inst.Status()), "error", err)
		}
	}
}

// scanForNew logs plugin packages that appeared in the plugin
// directory since the last scan. Discovery is log-only: loading a new
// plugin requires an explicit Load call.
func (a *Agent) scanForNew() {
	dirs, err := a.manager.ManifestLoader().Discover(a.manager.PluginDir())
	if err != nil {
		a.logger.Error("plugin discovery scan failed", "error", err)
		return
	}

	for _, dir := range dirs {
		a.mu.Lock()
		known := a.seen[dir]
		a.seen[dir] = true
		a.mu.Unlock()
		if known {
			continue
		}

		man, err := a.manager.ManifestLoader().Load(dir)
		if err != nil {
			a.logger.Warn("new plugin directory has invalid manifest", "dir", dir, "error", err)
			continue
		}
		if a.manager.IsLoaded(man.Name) {
			continue
		}
		a.logger.Info("discovered new plugin, awaiting explicit load",
			"plugin", man.Name, "version", man.Version, "dir", dir)
	}
}

func (a *Agent) send(event string) {
	a.mu.RLock()
	interp := a.interp
	a.mu.RUnlock()
	if interp != nil {
		interp.Send(statekit.Event{Type: statekit.EventType(event)})
	}
}
