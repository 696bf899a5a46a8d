package recipe

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// GetDataDir returns the platform data directory holding the analysis cache.
func GetDataDir() (string, error) {
	// Explicit override (useful for tests and portable installs)
	if override := os.Getenv("LEADSCOPE_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "Leadscope"), nil
	}

	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "leadscope"), nil
	}

	return filepath.Join(home, ".local", "share", "leadscope"), nil
}
