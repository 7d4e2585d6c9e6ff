package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildConfigDefaultsOnly(t *testing.T) {
	t.Parallel()

	man := nativeManifest("demo")
	man.ConfigSchema = map[string]any{"interval": 30, "endpoint": "http://localhost"}

	cfg, err := BuildConfig(t.TempDir(), man)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg["interval"])
	assert.Equal(t, "http://localhost", cfg["endpoint"])
}

func TestBuildConfigOverlay(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	doc := "interval = 60\n\n[alerts]\nwebhook = http://hooks.local\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.ini"), []byte(doc), 0o644))

	man := nativeManifest("demo")
	man.ConfigSchema = map[string]any{"interval": 30, "endpoint": "http://localhost"}

	cfg, err := BuildConfig(dir, man)
	require.NoError(t, err)

	// INI values are strings and replace schema defaults.
	assert.Equal(t, "60", cfg["interval"])
	assert.Equal(t, "http://localhost", cfg["endpoint"])
	assert.Equal(t, "http://hooks.local", cfg["alerts.webhook"])
}

func TestBuildConfigNoSchema(t *testing.T) {
	t.Parallel()

	cfg, err := BuildConfig(t.TempDir(), nativeManifest("demo"))
	require.NoError(t, err)
	assert.Empty(t, cfg)
}

func TestBuildConfigMalformedINI(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.ini"), []byte("[unclosed\n"), 0o644))

	_, err := BuildConfig(dir, nativeManifest("demo"))
	assert.Error(t, err)
}
