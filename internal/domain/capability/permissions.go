package capability

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SecurityLevel is the enforcement tier applied to a plugin's requests.
type SecurityLevel string

// Security levels, least restrictive first.
const (
	SecurityLow     SecurityLevel = "low"
	SecurityMedium  SecurityLevel = "medium"
	SecurityHigh    SecurityLevel = "high"
	SecurityMaximum SecurityLevel = "maximum"
)

// Permissions defines what a plugin is allowed to touch. It is fixed
// at host construction time.
type Permissions struct {
	// Level is the overall security tier.
	Level SecurityLevel

	// FilesystemAccess allows files:* capabilities.
	FilesystemAccess bool

	// NetworkAccess allows network:* capabilities.
	NetworkAccess bool

	// EnvironmentAccess allows env:* capabilities.
	EnvironmentAccess bool

	// AllowedPatterns are file globs the plugin may touch when
	// FilesystemAccess is set. Empty means any path not restricted.
	AllowedPatterns []string

	// RestrictedPaths are path prefixes always denied.
	RestrictedPaths []string
}

// DefaultPermissions returns the medium-security default policy.
func DefaultPermissions() Permissions {
	return Permissions{
		Level:            SecurityMedium,
		FilesystemAccess: true,
		RestrictedPaths:  []string{"/etc", "/proc", "/sys"},
	}
}

// ForLevel returns the preset permissions for a security level.
func ForLevel(level SecurityLevel) Permissions {
	switch level {
	case SecurityLow:
		return Permissions{
			Level:             SecurityLow,
			FilesystemAccess:  true,
			NetworkAccess:     true,
			EnvironmentAccess: true,
		}
	case SecurityHigh:
		return Permissions{
			Level:            SecurityHigh,
			FilesystemAccess: true,
			AllowedPatterns:  []string{"*.txt", "*.json", "*.log"},
			RestrictedPaths:  []string{"/etc", "/proc", "/sys", "/boot", "/root"},
		}
	case SecurityMaximum:
		return Permissions{
			Level:           SecurityMaximum,
			RestrictedPaths: []string{"/"},
		}
	default:
		return DefaultPermissions()
	}
}

// Check verifies that a requested capability tag is admissible under
// these permissions. Dangerous capabilities are only admitted at the
// low security level.
func (p Permissions) Check(tag string) error {
	c, err := Parse(tag)
	if err != nil {
		return err
	}

	if c.IsDangerous() && p.Level != SecurityLow {
		return fmt.Errorf("%w: %s requires low security level", ErrCapabilityDenied, c)
	}

	switch c.Category() {
	case CategoryFiles:
		if !p.FilesystemAccess {
			return fmt.Errorf("%w: filesystem access disabled", ErrCapabilityDenied)
		}
	case CategoryNetwork:
		if !p.NetworkAccess {
			return fmt.Errorf("%w: network access disabled", ErrCapabilityDenied)
		}
	case CategoryEnv:
		if !p.EnvironmentAccess {
			return fmt.Errorf("%w: environment access disabled", ErrCapabilityDenied)
		}
	}
	return nil
}

// CheckAll verifies a list of capability tags, failing on the first
// inadmissible one.
func (p Permissions) CheckAll(tags []string) error {
	for _, tag := range tags {
		if err := p.Check(tag); err != nil {
			return fmt.Errorf("%s: %w", tag, err)
		}
	}
	return nil
}

// AllowsPath reports whether a filesystem path passes the restricted
// prefixes and, when allow patterns exist, matches one of them.
func (p Permissions) AllowsPath(path string) error {
	clean := filepath.Clean(path)
	for _, prefix := range p.RestrictedPaths {
		if clean == prefix || strings.HasPrefix(clean, strings.TrimSuffix(prefix, "/")+string(filepath.Separator)) {
			return fmt.Errorf("%w: %s is under %s", ErrPathRestricted, path, prefix)
		}
	}

	if len(p.AllowedPatterns) == 0 {
		return nil
	}
	base := filepath.Base(clean)
	for _, pattern := range p.AllowedPatterns {
		if ok, err := filepath.Match(pattern, base); err == nil && ok {
			return nil
		}
	}
	return fmt.Errorf("%w: %s matches no allowed pattern", ErrPathRestricted, path)
}
