// Package security validates plugin artifacts before the host trusts them.
package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/noxsuite/noxhost/internal/domain/manifest"
)

// Security errors.
var (
	ErrEntryPointMissing = errors.New("plugin entry point not found")
	ErrEntryUnreadable   = errors.New("plugin entry point unreadable")
	ErrChecksumMismatch  = errors.New("plugin checksum mismatch")
	ErrUnknownPlugin     = errors.New("no recorded checksum for plugin")
)

// sensitivePatterns are substrings in an entry artifact that warrant a
// warning. Matches never block loading, at any isolation level; they
// are surfaced through logs and the validation report only.
var sensitivePatterns = []string{
	"syscall.",
	"os/exec",
	"unsafe.",
	"net.Dial",
	"os.Open",
	"eval(",
	"exec(",
	"__import__",
	"subprocess",
}

// Report summarizes one validation pass over a plugin artifact.
type Report struct {
	// Plugin is the manifest name the report belongs to.
	Plugin string
	// Checksum is the SHA-256 hex digest of the entry artifact.
	Checksum string
	// PatternHits lists sensitive patterns found by the static scan.
	PatternHits []string
	// Trust is the trust level derived from signature verification.
	Trust TrustLevel
}

// Validator checksums and scans plugin entry artifacts. Checksums are
// recorded separately from validation, once a load commits, so two
// loads racing on one name cannot clobber each other's record.
type Validator struct {
	logger *slog.Logger
	keys   *Keyring

	mu        sync.Mutex
	checksums map[string]string
}

// NewValidator creates a validator. keys may be nil when no trusted
// signing keys are configured.
func NewValidator(logger *slog.Logger, keys *Keyring) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		logger:    logger.With("component", "security"),
		keys:      keys,
		checksums: make(map[string]string),
	}
}

// entryPath locates the artifact validation operates on. Native
// plugins ("go:" entry points) are compiled into the host, so their
// manifest file stands in as the artifact.
func entryPath(dir string, m *manifest.Manifest) string {
	if strings.HasPrefix(m.EntryPoint, "go:") {
		return filepath.Join(dir, manifest.FileName)
	}
	return filepath.Join(dir, m.EntryPoint)
}

// Validate confirms the manifest's entry artifact exists and is
// readable, computes its checksum, and scans its content. Scan hits
// and signature outcomes are advisory; only a missing or unreadable
// artifact fails validation. Validate itself records nothing: the
// caller commits the report's checksum via Record once the plugin is
// actually registered.
func (v *Validator) Validate(dir string, m *manifest.Manifest) (*Report, error) {
	path := entryPath(dir, m)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrEntryPointMissing, path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEntryUnreadable, path, err)
	}

	sum := sha256.Sum256(content)

	report := &Report{
		Plugin:   m.Name,
		Checksum: hex.EncodeToString(sum[:]),
		Trust:    TrustUntrusted,
	}

	text := string(content)
	for _, pattern := range sensitivePatterns {
		if strings.Contains(text, pattern) {
			report.PatternHits = append(report.PatternHits, pattern)
			v.logger.Warn("plugin entry contains sensitive pattern",
				"plugin", m.Name, "pattern", pattern)
		}
	}

	report.Trust = v.evaluateTrust(m, content)
	return report, nil
}

// Record stores the checksum a committed load settled on for a plugin
// name.
func (v *Validator) Record(name, checksum string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.checksums[name] = checksum
}

// VerifyIntegrity re-reads the entry artifact and compares it against
// the checksum recorded when the plugin's load committed.
func (v *Validator) VerifyIntegrity(dir string, m *manifest.Manifest) error {
	v.mu.Lock()
	recorded, ok := v.checksums[m.Name]
	v.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlugin, m.Name)
	}

	path := entryPath(dir, m)
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrEntryUnreadable, path, err)
	}

	sum := sha256.Sum256(content)
	actual := hex.EncodeToString(sum[:])
	if subtle.ConstantTimeCompare([]byte(recorded), []byte(actual)) != 1 {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, recorded, actual)
	}
	return nil
}

// Checksum returns the recorded checksum for a plugin name.
func (v *Validator) Checksum(name string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	c, ok := v.checksums[name]
	return c, ok
}

// Forget drops the recorded checksum for an unloaded plugin.
func (v *Validator) Forget(name string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.checksums, name)
}

func (v *Validator) evaluateTrust(m *manifest.Manifest, content []byte) TrustLevel {
	if m.Signature == nil || v.keys == nil {
		return TrustUntrusted
	}
	level, err := v.keys.Verify(m.Signature, content)
	if err != nil {
		v.logger.Warn("plugin signature verification failed",
			"plugin", m.Name, "keyId", m.Signature.KeyID, "error", err)
		return TrustUntrusted
	}
	return level
}
