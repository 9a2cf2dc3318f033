package paths

import (
	"os"
	"path/filepath"
)

// GetDataDir returns the directory holding config.json and the log file.
// If running in Docker (/.dockerenv exists), returns /app/data.
// Otherwise it uses $XDG_CONFIG_HOME/arcvfs (or ~/.config/arcvfs),
// falling back to the current directory.
func GetDataDir() string {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return "/app/data"
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "arcvfs")
	}
	return "."
}

// GetTempDir returns the directory spill files are created in.
func GetTempDir() string {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return "/app/data/tmp"
	}
	return os.TempDir()
}
