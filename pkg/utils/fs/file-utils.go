package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// GetUserAppDataDir returns, creating it when missing, the per-user data
// directory for appName.
func GetUserAppDataDir(appName string) (string, error) {
	var base string

	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			base = xdg
		} else if home := os.Getenv("HOME"); home != "" {
			base = filepath.Join(home, ".local", "share")
		}
	}

	if base == "" {
		return "", fmt.Errorf("could not determine base data path")
	}

	appDataPath := filepath.Join(base, appName)
	if err := EnsureDir(appDataPath); err != nil {
		return "", err
	}
	return appDataPath, nil
}

func EnsureDir(path string) error {
	err := os.MkdirAll(path, 0755)
	if err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}
