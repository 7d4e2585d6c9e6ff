// Package manifest parses and validates plugin manifests.
package manifest

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// Manifest errors.
var (
	ErrManifestNotFound    = errors.New("plugin manifest not found")
	ErrManifestInvalid     = errors.New("plugin manifest invalid")
	ErrAPIIncompatible     = errors.New("plugin API version incompatible")
	ErrRuntimeIncompatible = errors.New("host runtime too old for plugin")
	ErrPlatformUnsupported = errors.New("platform not supported by plugin")
)

// FileName is the manifest file expected inside every plugin directory.
const FileName = "plugin.yaml"

// Priority orders plugin execution. Lower values run earlier.
type Priority int

// Priorities, CRITICAL first.
const (
	PriorityCritical   Priority = 1
	PriorityHigh       Priority = 2
	PriorityNormal     Priority = 3
	PriorityLow        Priority = 4
	PriorityBackground Priority = 5
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityBackground:
		return "background"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Valid reports whether the priority is a known value.
func (p Priority) Valid() bool {
	return p >= PriorityCritical && p <= PriorityBackground
}

// SignatureInfo carries an optional cryptographic signature over the
// plugin's entry artifact.
type SignatureInfo struct {
	// Type is the signature type. Only "ssh" is currently verified.
	Type string `yaml:"type"`
	// KeyID identifies the signing key (fingerprint or comment).
	KeyID string `yaml:"keyId,omitempty"`
	// Data is the base64-encoded raw signature blob.
	Data string `yaml:"data"`
}

// Manifest describes a plugin's identity, dependencies, and declared
// hooks, permissions, and resources. Immutable once loaded.
type Manifest struct {
	// Name is the unique plugin identifier within a host.
	Name string `yaml:"name"`
	// Version is the plugin's own semantic version.
	Version string `yaml:"version"`
	// Description of what the plugin does.
	Description string `yaml:"description"`
	// Author of the plugin.
	Author string `yaml:"author"`
	// Category groups plugins for status reporting (e.g. "security").
	Category string `yaml:"category"`
	// Priority orders the plugin relative to others.
	Priority Priority `yaml:"priority,omitempty"`
	// Dependencies lists plugin names that must be active before load.
	Dependencies []string `yaml:"dependencies,omitempty"`
	// Permissions lists capability tags the plugin requests.
	Permissions []string `yaml:"permissions,omitempty"`
	// APIVersion is the host API version the plugin targets.
	APIVersion string `yaml:"api_version,omitempty"`
	// EntryPoint locates the plugin implementation, either a WASM
	// module relative to the plugin directory ("main.wasm") or a
	// factory key ("go:name").
	EntryPoint string `yaml:"entry_point,omitempty"`
	// ConfigSchema maps config keys to their default values.
	ConfigSchema map[string]any `yaml:"config_schema,omitempty"`
	// Hooks lists the hook names this plugin may register against.
	Hooks []string `yaml:"hooks,omitempty"`
	// Resources lists resource tags the plugin declares.
	Resources []string `yaml:"resources,omitempty"`
	// MinRuntimeVersion is the minimum host version required.
	MinRuntimeVersion string `yaml:"min_runtime_version,omitempty"`
	// SupportedPlatforms limits the GOOS values the plugin runs on.
	// Empty or containing "all" means every platform.
	SupportedPlatforms []string `yaml:"supported_platforms,omitempty"`
	// Signature is optional signing information for trust evaluation.
	Signature *SignatureInfo `yaml:"signature,omitempty"`
}

// MissingFieldError names the required manifest field that was absent.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field %q", e.Field)
}

// Parse decodes and validates a manifest document. An out-of-range
// priority is coerced to normal with a warning rather than rejected.
func Parse(data []byte, logger *slog.Logger) (*Manifest, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifestInvalid, err)
	}

	if err := m.validateRequired(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifestInvalid, err)
	}

	if m.Priority == 0 {
		m.Priority = PriorityNormal
	} else if !m.Priority.Valid() {
		logger.Warn("unknown plugin priority, falling back to normal",
			"plugin", m.Name, "priority", int(m.Priority))
		m.Priority = PriorityNormal
	}

	if m.EntryPoint == "" {
		m.EntryPoint = "main.wasm"
	}

	return &m, nil
}

func (m *Manifest) validateRequired() error {
	for _, f := range []struct {
		name  string
		value string
	}{
		{"name", m.Name},
		{"version", m.Version},
		{"description", m.Description},
		{"author", m.Author},
		{"category", m.Category},
	} {
		if f.value == "" {
			return &MissingFieldError{Field: f.name}
		}
	}
	return nil
}

// CheckCompatibility verifies the manifest's declared API and runtime
// versions against the host and that the current platform is supported.
func (m *Manifest) CheckCompatibility(hostVersion string) error {
	if m.APIVersion != "" {
		want := canonicalVersion(m.APIVersion)
		have := canonicalVersion(hostVersion)
		if !semver.IsValid(want) {
			return fmt.Errorf("%w: invalid api_version %q", ErrManifestInvalid, m.APIVersion)
		}
		if semver.Major(want) != semver.Major(have) {
			return fmt.Errorf("%w: plugin targets %s, host provides %s",
				ErrAPIIncompatible, m.APIVersion, hostVersion)
		}
	}

	if m.MinRuntimeVersion != "" {
		want := canonicalVersion(m.MinRuntimeVersion)
		have := canonicalVersion(hostVersion)
		if !semver.IsValid(want) {
			return fmt.Errorf("%w: invalid min_runtime_version %q", ErrManifestInvalid, m.MinRuntimeVersion)
		}
		if semver.Compare(have, want) < 0 {
			return fmt.Errorf("%w: requires %s, host is %s",
				ErrRuntimeIncompatible, m.MinRuntimeVersion, hostVersion)
		}
	}

	return m.checkPlatform(runtime.GOOS)
}

func (m *Manifest) checkPlatform(goos string) error {
	if len(m.SupportedPlatforms) == 0 {
		return nil
	}
	for _, p := range m.SupportedPlatforms {
		if p == "all" || p == goos {
			return nil
		}
	}
	return fmt.Errorf("%w: %s not in %v", ErrPlatformUnsupported, goos, m.SupportedPlatforms)
}

func canonicalVersion(v string) string {
	if v == "" {
		return v
	}
	if v[0] != 'v' {
		v = "v" + v
	}
	return v
}
