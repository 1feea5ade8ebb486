package system

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// GetAvailableSpace returns available space in bytes for the filesystem containing path
func GetAvailableSpace(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(filepath.Dir(path), &stat); err != nil {
		return 0, fmt.Errorf("failed to get filesystem stats: %w", err)
	}
	// Available blocks * block size
	return stat.Bavail * uint64(stat.Bsize), nil
}

// AbsPaths resolves every non-empty path in place to an absolute path
func AbsPaths(paths ...*string) error {
	for _, p := range paths {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("invalid path %s: %w", *p, err)
		}
		*p = abs
	}
	return nil
}
