package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePlugin(t *testing.T, root, name, doc string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(doc), 0o644))
	return dir
}

func TestLoaderLoad(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dir := writePlugin(t, root, "web-monitor", validManifest)

	m, err := NewLoader(nil).Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "web-monitor", m.Name)
}

func TestLoaderLoadMissing(t *testing.T) {
	t.Parallel()

	_, err := NewLoader(nil).Load(filepath.Join(t.TempDir(), "absent"))
	assert.ErrorIs(t, err, ErrManifestNotFound)
}

func TestLoaderLoadInvalid(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dir := writePlugin(t, root, "broken", "name: only-a-name\n")

	_, err := NewLoader(nil).Load(dir)
	assert.ErrorIs(t, err, ErrManifestInvalid)
}

func TestLoaderDiscover(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	a := writePlugin(t, root, "alpha", validManifest)
	b := writePlugin(t, root, "beta", validManifest)
	// A directory without a manifest is skipped.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))
	// Stray files are skipped.
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("x"), 0o644))

	dirs, err := NewLoader(nil).Discover(root)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a, b}, dirs)
}

func TestLoaderDiscoverMissingRoot(t *testing.T) {
	t.Parallel()

	dirs, err := NewLoader(nil).Discover(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, dirs)
}
