package plugin

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"

	"github.com/noxsuite/noxhost/internal/domain/manifest"
)

// configFile is the optional per-plugin configuration overlay.
const configFile = "config.ini"

// BuildConfig produces a plugin's effective configuration: the
// manifest's config_schema defaults overlaid by the plugin directory's
// optional config.ini. Keys in the default section map directly;
// sectioned keys map as "section.key".
func BuildConfig(dir string, man *manifest.Manifest) (map[string]any, error) {
	config := make(map[string]any, len(man.ConfigSchema))
	for k, v := range man.ConfigSchema {
		config[k] = v
	}

	path := filepath.Join(dir, configFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", configFile, err)
	}

	for _, section := range file.Sections() {
		prefix := ""
		if section.Name() != ini.DefaultSection {
			prefix = section.Name() + "."
		}
		for _, key := range section.Keys() {
			config[prefix+key.Name()] = key.Value()
		}
	}
	return config, nil
}
