// Package paths resolves the configuration file location for the
// supervisor and its workers.
package paths

import (
	"os"
	"path/filepath"
)

const defaultConfigName = "config.json"

// ResolveConfigPath implements spec.md §6's precedence: explicit argument →
// CONFIG_PATH environment variable → config.json in the working directory →
// ~/.bungee/config.json.
func ResolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return envPath
	}
	if cwd, err := os.Getwd(); err == nil {
		candidate := filepath.Join(cwd, defaultConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return HomeConfigPath()
}

// HomeConfigPath returns ~/.bungee/config.json, the last-resort default.
func HomeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".bungee", defaultConfigName)
	}
	return filepath.Join(home, ".bungee", defaultConfigName)
}
