package paths

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.emberd.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".emberd")
}

// ConfigPath returns the daemon config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// LockPath returns the single-instance lock file path.
func LockPath() string {
	return filepath.Join(BaseDir(), "LOCK")
}

// LogDir returns the log directory.
func LogDir() string {
	return filepath.Join(BaseDir(), "logs")
}

// LogPath returns the daemon log file path.
func LogPath() string {
	return filepath.Join(LogDir(), "emberd.log")
}

// EnsureDirs creates the runtime directory tree with proper permissions.
func EnsureDirs() error {
	dirs := []string{
		BaseDir(),
		LogDir(),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
