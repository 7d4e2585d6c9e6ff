// Package config loads host configuration from a TOML file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/noxsuite/noxhost/internal/domain/capability"
	"github.com/noxsuite/noxhost/internal/domain/host"
	"github.com/noxsuite/noxhost/internal/domain/sandbox"
)

// File is the on-disk host configuration. Durations are strings in
// Go duration syntax ("250ms", "1m").
type File struct {
	Host struct {
		PluginDir      string `toml:"plugin_dir"`
		EventQueueSize int    `toml:"event_queue_size"`
	} `toml:"host"`

	Isolation struct {
		Level              string `toml:"level"`
		MonitoringEnabled  *bool  `toml:"monitoring_enabled"`
		ViolationThreshold *int   `toml:"violation_threshold"`
		AutoRecovery       *bool  `toml:"auto_recovery"`
		CheckInterval      string `toml:"check_interval"`
		CleanupTimeout     string `toml:"cleanup_timeout"`
	} `toml:"isolation"`

	Limits struct {
		MaxMemoryMB      int     `toml:"max_memory_mb"`
		MaxExecutionTime string  `toml:"max_execution_time"`
		MaxCPUPercent    float64 `toml:"max_cpu_percent"`
		MaxFileOps       int     `toml:"max_file_ops"`
		MaxNetworkConns  int     `toml:"max_network_conns"`
		MaxDiskSpaceMB   int     `toml:"max_disk_space_mb"`
	} `toml:"limits"`

	Permissions struct {
		Level             string   `toml:"level"`
		FilesystemAccess  *bool    `toml:"filesystem_access"`
		NetworkAccess     *bool    `toml:"network_access"`
		EnvironmentAccess *bool    `toml:"environment_access"`
		AllowedPatterns   []string `toml:"allowed_patterns"`
		RestrictedPaths   []string `toml:"restricted_paths"`
		TrustedKeys       []string `toml:"trusted_keys"`
	} `toml:"permissions"`

	Agent struct {
		HealthInterval    string `toml:"health_interval"`
		DiscoveryInterval string `toml:"discovery_interval"`
		HealthTimeout     string `toml:"health_timeout"`
	} `toml:"agent"`
}

// Load reads a TOML config file and produces the host and agent
// configurations, starting from defaults so a partial file is valid.
func Load(path string) (host.Config, host.AgentConfig, error) {
	cfg := host.DefaultConfig("plugins")
	agentCfg := host.DefaultAgentConfig()

	if path == "" {
		return cfg, agentCfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, agentCfg, fmt.Errorf("failed to read config: %w", err)
	}

	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return cfg, agentCfg, fmt.Errorf("invalid config: %w", err)
	}

	if f.Host.PluginDir != "" {
		cfg.PluginDir = f.Host.PluginDir
	}
	cfg.EventQueueSize = f.Host.EventQueueSize

	if f.Isolation.Level != "" {
		cfg.Isolation = sandbox.IsolationFor(sandbox.IsolationLevel(f.Isolation.Level))
	}
	if f.Isolation.MonitoringEnabled != nil {
		cfg.Isolation.MonitoringEnabled = *f.Isolation.MonitoringEnabled
	}
	if f.Isolation.ViolationThreshold != nil {
		cfg.Isolation.ViolationThreshold = *f.Isolation.ViolationThreshold
	}
	if f.Isolation.AutoRecovery != nil {
		cfg.Isolation.AutoRecovery = *f.Isolation.AutoRecovery
	}
	if err := setDuration(&cfg.Isolation.CheckInterval, f.Isolation.CheckInterval); err != nil {
		return cfg, agentCfg, err
	}
	if err := setDuration(&cfg.Isolation.CleanupTimeout, f.Isolation.CleanupTimeout); err != nil {
		return cfg, agentCfg, err
	}

	if f.Limits.MaxMemoryMB > 0 {
		cfg.Limits.MaxMemoryMB = f.Limits.MaxMemoryMB
	}
	if err := setDuration(&cfg.Limits.MaxExecutionTime, f.Limits.MaxExecutionTime); err != nil {
		return cfg, agentCfg, err
	}
	if f.Limits.MaxCPUPercent > 0 {
		cfg.Limits.MaxCPUPercent = f.Limits.MaxCPUPercent
	}
	if f.Limits.MaxFileOps > 0 {
		cfg.Limits.MaxFileOps = f.Limits.MaxFileOps
	}
	if f.Limits.MaxNetworkConns > 0 {
		cfg.Limits.MaxNetworkConns = f.Limits.MaxNetworkConns
	}
	if f.Limits.MaxDiskSpaceMB > 0 {
		cfg.Limits.MaxDiskSpaceMB = f.Limits.MaxDiskSpaceMB
	}

	if f.Permissions.Level != "" {
		cfg.Permissions = capability.ForLevel(capability.SecurityLevel(f.Permissions.Level))
	}
	if f.Permissions.FilesystemAccess != nil {
		cfg.Permissions.FilesystemAccess = *f.Permissions.FilesystemAccess
	}
	if f.Permissions.NetworkAccess != nil {
		cfg.Permissions.NetworkAccess = *f.Permissions.NetworkAccess
	}
	if f.Permissions.EnvironmentAccess != nil {
		cfg.Permissions.EnvironmentAccess = *f.Permissions.EnvironmentAccess
	}
	if len(f.Permissions.AllowedPatterns) > 0 {
		cfg.Permissions.AllowedPatterns = f.Permissions.AllowedPatterns
	}
	if len(f.Permissions.RestrictedPaths) > 0 {
		cfg.Permissions.RestrictedPaths = f.Permissions.RestrictedPaths
	}
	cfg.TrustedKeys = f.Permissions.TrustedKeys

	if err := setDuration(&agentCfg.HealthInterval, f.Agent.HealthInterval); err != nil {
		return cfg, agentCfg, err
	}
	if err := setDuration(&agentCfg.DiscoveryInterval, f.Agent.DiscoveryInterval); err != nil {
		return cfg, agentCfg, err
	}
	if err := setDuration(&agentCfg.HealthTimeout, f.Agent.HealthTimeout); err != nil {
		return cfg, agentCfg, err
	}

	return cfg, agentCfg, nil
}

func setDuration(dst *time.Duration, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*dst = d
	return nil
}
