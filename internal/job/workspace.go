package job

import (
	"fmt"
	"os"
)

// EnsureDir creates a directory (and parents) if it does not already exist.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	return nil
}

// Stage creates a symlink at dst pointing to src. Image data is never
// copied; the external tool reads through the link.
func Stage(src, dst string) error {
	if err := os.Symlink(src, dst); err != nil {
		return fmt.Errorf("link %s -> %s: %w", src, dst, err)
	}
	return nil
}

// StageIfAbsent creates the symlink only when dst does not exist yet, making
// full restages idempotent.
func StageIfAbsent(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return nil
	}
	return Stage(src, dst)
}
