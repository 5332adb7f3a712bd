package media

import (
	"os"
	"path/filepath"
)

// DefaultDownloadDir returns the user's Downloads folder, falling back
// to the system temp dir when the home directory cannot be resolved.
func DefaultDownloadDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "downloads")
	}
	return filepath.Join(home, "Downloads")
}

// EnsureDir creates dir (and parents) if it does not exist.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
