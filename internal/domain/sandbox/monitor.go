package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/metrics"
	"sync"
	"time"

	"github.com/google/uuid"
)

const cpuSecondsMetric = "/cpu/classes/user:cpu-seconds"

// Monitor wraps plugin executions with resource accounting for one
// instance. Violations accumulate across executions; telemetry is one
// snapshot per execution with only the latest retained for queries.
type Monitor struct {
	logger *slog.Logger
	cfg    IsolationConfig
	limits ResourceLimits

	mu         sync.Mutex
	violations []Violation
	last       *Telemetry
	fileOps    int
}

// NewMonitor creates a monitor bound to one plugin instance.
func NewMonitor(logger *slog.Logger, cfg IsolationConfig, limits ResourceLimits) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		logger: logger.With("component", "monitor"),
		cfg:    cfg,
		limits: limits,
	}
}

// Exec runs fn under resource accounting. fn receives a context that
// is cancelled when the execution is forcibly terminated; WASM-backed
// work stops on cancellation, Go-native work is expected to observe
// the context cooperatively.
//
// Returns fn's error, or ErrTerminated when the cumulative violation
// count passes the threshold with auto-recovery enabled. Without
// auto-recovery violations are recorded and execution continues.
func (m *Monitor) Exec(ctx context.Context, plugin string, fn func(context.Context) error) error {
	guard, cancel := context.WithCancel(ctx)
	defer cancel()

	tele := Telemetry{
		Session:   uuid.NewString(),
		StartTime: time.Now(),
	}

	done := make(chan error, 1)
	go func() {
		done <- fn(guard)
	}()

	if !m.cfg.MonitoringEnabled {
		err := <-done
		tele.EndTime = time.Now()
		m.record(tele)
		return err
	}

	var memBase runtime.MemStats
	runtime.ReadMemStats(&memBase)
	cpuBase := readCPUSeconds()
	lastCPU := cpuBase
	lastSample := tele.StartTime

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			tele.EndTime = time.Now()
			m.record(tele)
			return err

		case now := <-ticker.C:
			tele.Samples++

			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			memMB := float64(mem.HeapAlloc-min64(mem.HeapAlloc, memBase.HeapAlloc)) / (1024 * 1024)
			if memMB > tele.PeakMemoryMB {
				tele.PeakMemoryMB = memMB
			}

			cpuNow := readCPUSeconds()
			interval := now.Sub(lastSample).Seconds()
			var cpuPct float64
			if interval > 0 {
				cpuPct = (cpuNow - lastCPU) / interval * 100
			}
			lastCPU = cpuNow
			lastSample = now
			if cpuPct > tele.PeakCPUPercent {
				tele.PeakCPUPercent = cpuPct
			}

			elapsed := now.Sub(tele.StartTime)

			if m.limits.MaxMemoryMB > 0 && memMB > float64(m.limits.MaxMemoryMB) {
				m.addViolation(plugin, Violation{
					Kind:        ViolationMemory,
					Severity:    "high",
					Time:        now,
					Description: fmt.Sprintf("memory %.1fMB exceeds limit %dMB", memMB, m.limits.MaxMemoryMB),
				})
			}
			if m.limits.MaxCPUPercent > 0 && cpuPct > m.limits.MaxCPUPercent {
				m.addViolation(plugin, Violation{
					Kind:        ViolationCPU,
					Severity:    "medium",
					Time:        now,
					Description: fmt.Sprintf("cpu %.1f%% exceeds limit %.1f%%", cpuPct, m.limits.MaxCPUPercent),
				})
			}
			if m.limits.MaxExecutionTime > 0 && elapsed > m.limits.MaxExecutionTime {
				m.addViolation(plugin, Violation{
					Kind:        ViolationTimeout,
					Severity:    "high",
					Time:        now,
					Description: fmt.Sprintf("execution time %s exceeds limit %s", elapsed.Round(time.Millisecond), m.limits.MaxExecutionTime),
				})
			}

			if m.cfg.AutoRecovery && m.violationCount() > m.cfg.ViolationThreshold {
				cancel()
				tele.EndTime = time.Now()
				tele.Terminated = true
				m.record(tele)
				m.logger.Error("terminating plugin execution after repeated violations",
					"plugin", plugin, "violations", m.violationCount())
				return ErrTerminated
			}
		}
	}
}

// CountFileOp records one file operation performed on the plugin's
// behalf and checks it against the file-operation limit.
func (m *Monitor) CountFileOp(plugin string) {
	m.mu.Lock()
	m.fileOps++
	over := m.limits.MaxFileOps > 0 && m.fileOps > m.limits.MaxFileOps
	count := m.fileOps
	m.mu.Unlock()

	if over {
		m.addViolation(plugin, Violation{
			Kind:        ViolationFileOps,
			Severity:    "medium",
			Time:        time.Now(),
			Description: fmt.Sprintf("file operations %d exceed limit %d", count, m.limits.MaxFileOps),
		})
	}
}

// Violations returns a copy of the accumulated violation log.
func (m *Monitor) Violations() []Violation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Violation, len(m.violations))
	copy(out, m.violations)
	return out
}

// Last returns the most recent telemetry snapshot, if any execution
// has completed.
func (m *Monitor) Last() (Telemetry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return Telemetry{}, false
	}
	return *m.last, true
}

func (m *Monitor) addViolation(plugin string, v Violation) {
	m.mu.Lock()
	m.violations = append(m.violations, v)
	count := len(m.violations)
	m.mu.Unlock()
	m.logger.Warn("resource violation",
		"plugin", plugin, "kind", string(v.Kind), "severity", v.Severity,
		"detail", v.Description, "total", count)
}

func (m *Monitor) violationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.violations)
}

func (m *Monitor) record(t Telemetry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = &t
}

func readCPUSeconds() float64 {
	samples := []metrics.Sample{{Name: cpuSecondsMetric}}
	metrics.Read(samples)
	if samples[0].Value.Kind() != metrics.KindFloat64 {
		return 0
	}
	return samples[0].Value.Float64()
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
