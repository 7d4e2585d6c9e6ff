// Package sandbox provides resource-monitored, WASM-isolated plugin execution.
package sandbox

import (
	"context"
	"errors"
	"time"
)

// Sandbox errors.
var (
	ErrSandboxTimeout     = errors.New("sandbox execution timeout")
	ErrTerminated         = errors.New("execution terminated after repeated violations")
	ErrSandboxUnavailable = errors.New("sandbox runtime unavailable")
	ErrModuleInvalid      = errors.New("invalid plugin module")
)

// IsolationLevel is the policy tier controlling how aggressively
// limits are enforced.
type IsolationLevel string

// Isolation levels.
const (
	// IsolationMinimal monitors nothing; limits are advisory.
	IsolationMinimal IsolationLevel = "minimal"
	// IsolationStandard samples resources and records violations.
	IsolationStandard IsolationLevel = "standard"
	// IsolationStrict monitors and forcibly terminates offenders.
	IsolationStrict IsolationLevel = "strict"
)

// IsolationConfig holds the host-wide isolation policy.
type IsolationConfig struct {
	// Level is the isolation tier.
	Level IsolationLevel

	// MonitoringEnabled turns resource sampling on.
	MonitoringEnabled bool

	// ViolationThreshold is the cumulative violation count past which
	// auto-recovery terminates the current execution.
	ViolationThreshold int

	// AutoRecovery enables forced termination past the threshold.
	// When false violations accumulate but execution continues.
	AutoRecovery bool

	// CheckInterval is the resource sampling period.
	CheckInterval time.Duration

	// CleanupTimeout bounds plugin cleanup during unload.
	CleanupTimeout time.Duration
}

// DefaultIsolation returns the standard isolation policy.
func DefaultIsolation() IsolationConfig {
	return IsolationConfig{
		Level:              IsolationStandard,
		MonitoringEnabled:  true,
		ViolationThreshold: 3,
		AutoRecovery:       true,
		CheckInterval:      250 * time.Millisecond,
		CleanupTimeout:     10 * time.Second,
	}
}

// IsolationFor returns the preset config for a level.
func IsolationFor(level IsolationLevel) IsolationConfig {
	switch level {
	case IsolationMinimal:
		return IsolationConfig{
			Level:              IsolationMinimal,
			MonitoringEnabled:  false,
			ViolationThreshold: 10,
			AutoRecovery:       false,
			CheckInterval:      time.Second,
			CleanupTimeout:     30 * time.Second,
		}
	case IsolationStrict:
		return IsolationConfig{
			Level:              IsolationStrict,
			MonitoringEnabled:  true,
			ViolationThreshold: 1,
			AutoRecovery:       true,
			CheckInterval:      100 * time.Millisecond,
			CleanupTimeout:     5 * time.Second,
		}
	default:
		return DefaultIsolation()
	}
}

// ResourceLimits defines per-execution resource constraints.
type ResourceLimits struct {
	// MaxMemoryMB limits sampled memory growth.
	MaxMemoryMB int

	// MaxExecutionTime limits wall-clock time per call.
	MaxExecutionTime time.Duration

	// MaxCPUPercent limits the sampled CPU share.
	MaxCPUPercent float64

	// MaxFileOps limits file operations reported by the plugin.
	MaxFileOps int

	// MaxNetworkConns limits concurrent network connections.
	MaxNetworkConns int

	// MaxDiskSpaceMB limits scratch-space usage.
	MaxDiskSpaceMB int
}

// DefaultLimits returns sensible default limits.
func DefaultLimits() ResourceLimits {
	return ResourceLimits{
		MaxMemoryMB:      128,
		MaxExecutionTime: 60 * time.Second,
		MaxCPUPercent:    25.0,
		MaxFileOps:       1000,
		MaxNetworkConns:  5,
		MaxDiskSpaceMB:   64,
	}
}

// RestrictedLimits returns tighter limits for untrusted plugins.
func RestrictedLimits() ResourceLimits {
	return ResourceLimits{
		MaxMemoryMB:      32,
		MaxExecutionTime: 10 * time.Second,
		MaxCPUPercent:    10.0,
		MaxFileOps:       100,
		MaxNetworkConns:  0,
		MaxDiskSpaceMB:   8,
	}
}

// ViolationKind classifies a recorded violation.
type ViolationKind string

// Violation kinds.
const (
	ViolationMemory  ViolationKind = "memory_exceeded"
	ViolationCPU     ViolationKind = "cpu_exceeded"
	ViolationTimeout ViolationKind = "timeout_exceeded"
	ViolationFileOps ViolationKind = "file_ops_exceeded"
)

// Violation records one observed limit breach. Records are append-only
// and scoped to an instance's lifetime.
type Violation struct {
	Kind        ViolationKind
	Severity    string
	Time        time.Time
	Description string
}

// Telemetry is one point-sample resource summary captured around a
// monitored execution. Peak values are maxima over samples taken at
// the configured interval, not a continuous-time peak detector, so
// spikes shorter than the interval can be missed.
type Telemetry struct {
	Session        string
	StartTime      time.Time
	EndTime        time.Time
	PeakMemoryMB   float64
	PeakCPUPercent float64
	Samples        int
	Terminated     bool
}

// Duration returns the execution wall-clock duration.
func (t Telemetry) Duration() time.Duration {
	if t.EndTime.IsZero() {
		return 0
	}
	return t.EndTime.Sub(t.StartTime)
}

// ExecutionResult holds the outcome of one sandboxed module run.
type ExecutionResult struct {
	Success   bool
	Duration  time.Duration
	Telemetry Telemetry
	Err       error
}

// Runtime produces module sandboxes.
type Runtime interface {
	// Load compiles a WASM module for repeated invocation.
	Load(ctx context.Context, name string, module []byte) (Module, error)

	// IsAvailable reports whether the runtime can be used.
	IsAvailable() bool

	// Close releases runtime resources.
	Close() error
}

// Module is a loaded WASM plugin module whose exported lifecycle
// functions can be invoked under a monitored context.
type Module interface {
	// Invoke calls an exported function by name. A missing export is
	// not an error; it reports ok=false.
	Invoke(ctx context.Context, fn string) (ok bool, err error)

	// Close releases the module.
	Close(ctx context.Context) error
}
