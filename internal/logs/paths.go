package logs

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const appDirName = "toolproxy"

// LogDir returns the per-OS default log directory
func LogDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), appDirName, "logs"), nil
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("LOCALAPPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Local")
		}
		return filepath.Join(base, appDirName, "logs"), nil
	case "darwin":
		return filepath.Join(home, "Library", "Logs", appDirName), nil
	case "linux":
		// XDG state dir
		state := os.Getenv("XDG_STATE_HOME")
		if state == "" {
			state = filepath.Join(home, ".local", "state")
		}
		return filepath.Join(state, appDirName, "logs"), nil
	default:
		return filepath.Join(home, "."+appDirName, "logs"), nil
	}
}

// LogFilePath joins filename onto dir, falling back to LogDir when dir is
// empty. A leading ~/ is expanded. The directory is created.
func LogFilePath(dir, filename string) (string, error) {
	if dir == "" {
		d, err := LogDir()
		if err != nil {
			return "", err
		}
		dir = d
	} else if strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, dir[2:])
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, filename), nil
}
