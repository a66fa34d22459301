package ffmpeg

import (
	"os"
	"os/exec"
	"path/filepath"

	"handforge/internal/services"
)

var commonDirs = []string{
	"/usr/bin",
	"/usr/local/bin",
	"/opt/homebrew/bin",
}

// FindBinary locates an executable by name, first on PATH, then in common
// install locations.
func FindBinary(name string) (string, error) {
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	for _, dir := range commonDirs {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", services.Wrap(services.ErrConfiguration, "ffmpeg", "locate", name+" not found on PATH", nil)
}
