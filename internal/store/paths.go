package store

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "chessplay-core"

// DefaultDir returns the platform-specific directory self-play records are
// stored in by default:
//   - macOS: ~/Library/Application Support/chessplay-core/selfplay/
//   - Windows: %APPDATA%/chessplay-core/selfplay/
//   - other Unix: $XDG_DATA_HOME/chessplay-core/selfplay/ (or ~/.local/share/...)
func DefaultDir() (string, error) {
	var baseDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		baseDir = filepath.Join(home, "Library", "Application Support")

	case "windows":
		baseDir = os.Getenv("APPDATA")
		if baseDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			baseDir = filepath.Join(home, "AppData", "Roaming")
		}

	default:
		baseDir = os.Getenv("XDG_DATA_HOME")
		if baseDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			baseDir = filepath.Join(home, ".local", "share")
		}
	}

	dir := filepath.Join(baseDir, appName, "selfplay")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	return dir, nil
}
