package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noxsuite/noxhost/internal/domain/manifest"
)

func writeEntry(t *testing.T, content string) (string, *manifest.Manifest) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.wasm"), []byte(content), 0o644))
	return dir, &manifest.Manifest{Name: "demo", EntryPoint: "main.wasm"}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	dir, m := writeEntry(t, "clean plugin body")
	v := NewValidator(nil, nil)

	report, err := v.Validate(dir, m)
	require.NoError(t, err)

	assert.Equal(t, "demo", report.Plugin)
	assert.Len(t, report.Checksum, 64)
	assert.Empty(t, report.PatternHits)
	assert.Equal(t, TrustUntrusted, report.Trust)

	// Validation alone records nothing; the checksum is committed
	// separately once the load registers.
	_, ok := v.Checksum("demo")
	assert.False(t, ok)

	v.Record("demo", report.Checksum)
	recorded, ok := v.Checksum("demo")
	assert.True(t, ok)
	assert.Equal(t, report.Checksum, recorded)
}

func TestValidateNativeEntryUsesManifest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifest.FileName), []byte("name: demo\n"), 0o644))

	v := NewValidator(nil, nil)
	report, err := v.Validate(dir, &manifest.Manifest{Name: "demo", EntryPoint: "go:demo"})
	require.NoError(t, err)
	assert.Len(t, report.Checksum, 64)
}

func TestValidateMissingEntry(t *testing.T) {
	t.Parallel()

	v := NewValidator(nil, nil)
	m := &manifest.Manifest{Name: "demo", EntryPoint: "main.wasm"}

	_, err := v.Validate(t.TempDir(), m)
	assert.ErrorIs(t, err, ErrEntryPointMissing)
}

func TestValidateEntryIsDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "main.wasm"), 0o755))

	v := NewValidator(nil, nil)
	_, err := v.Validate(dir, &manifest.Manifest{Name: "demo", EntryPoint: "main.wasm"})
	assert.ErrorIs(t, err, ErrEntryPointMissing)
}

func TestValidatePatternHitsAreAdvisory(t *testing.T) {
	t.Parallel()

	dir, m := writeEntry(t, `import "os/exec"; ptr := unsafe.Pointer(x)`)
	v := NewValidator(nil, nil)

	report, err := v.Validate(dir, m)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"os/exec", "unsafe."}, report.PatternHits)
}

func TestVerifyIntegrity(t *testing.T) {
	t.Parallel()

	dir, m := writeEntry(t, "original")
	v := NewValidator(nil, nil)

	report, err := v.Validate(dir, m)
	require.NoError(t, err)
	v.Record(m.Name, report.Checksum)
	assert.NoError(t, v.VerifyIntegrity(dir, m))

	// Tampering after validation is detected.
	require.NoError(t, os.WriteFile(filepath.Join(dir, m.EntryPoint), []byte("tampered"), 0o644))
	assert.ErrorIs(t, v.VerifyIntegrity(dir, m), ErrChecksumMismatch)
}

func TestVerifyIntegrityUnknownPlugin(t *testing.T) {
	t.Parallel()

	dir, m := writeEntry(t, "content")
	v := NewValidator(nil, nil)

	assert.ErrorIs(t, v.VerifyIntegrity(dir, m), ErrUnknownPlugin)
}

func TestForget(t *testing.T) {
	t.Parallel()

	dir, m := writeEntry(t, "content")
	v := NewValidator(nil, nil)

	report, err := v.Validate(dir, m)
	require.NoError(t, err)
	v.Record(m.Name, report.Checksum)

	v.Forget("demo")
	_, ok := v.Checksum("demo")
	assert.False(t, ok)
	assert.ErrorIs(t, v.VerifyIntegrity(dir, m), ErrUnknownPlugin)
}
