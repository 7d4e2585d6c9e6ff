package manifest

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Loader reads manifests from plugin directories.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a manifest loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger.With("component", "manifest")}
}

// Load reads and validates the manifest inside a plugin directory.
func (l *Loader) Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, path)
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	m, err := Parse(data, l.logger)
	if err != nil {
		l.logger.Error("manifest rejected", "dir", dir, "error", err)
		return nil, err
	}
	return m, nil
}

// Discover returns the subdirectories of root that contain a manifest
// file. It does not parse or load them.
func (l *Loader) Discover(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read plugins directory: %w", err)
	}

	var dirs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, entry.Name(), FileName)); err == nil {
			dirs = append(dirs, filepath.Join(root, entry.Name()))
		}
	}
	return dirs, nil
}
