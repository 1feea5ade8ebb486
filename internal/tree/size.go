// Package tree scans and copies directory trees.
package tree

import (
	"os"
	"path/filepath"

	"github.com/nace/vaultgen/internal/system"
	"github.com/spf13/afero"
)

// Size returns the number of bytes a Copy of root would write.
// Symlinks are followed the same way the copier follows them, so a link to
// a file counts the file and a link to a directory counts its contents.
// Special files count as zero. The first entry that cannot be read aborts
// the scan.
func Size(fsys afero.Fs, root string) (int64, error) {
	info, err := fsys.Stat(root)
	if err != nil {
		return 0, system.NewError(system.KindIO, "scan", root, err)
	}
	total, err := sizeEntry(fsys, root, info)
	if err != nil {
		return 0, system.NewError(system.KindIO, "scan", root, err)
	}
	return total, nil
}

func sizeEntry(fsys afero.Fs, path string, info os.FileInfo) (int64, error) {
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := fsys.Stat(path)
		if err != nil {
			return 0, err
		}
		info = target
	}

	switch {
	case info.Mode().IsRegular():
		return info.Size(), nil
	case info.IsDir():
		entries, err := afero.ReadDir(fsys, path)
		if err != nil {
			return 0, err
		}
		var total int64
		for _, entry := range entries {
			n, err := sizeEntry(fsys, filepath.Join(path, entry.Name()), entry)
			if err != nil {
				return 0, err
			}
			total += n
		}
		return total, nil
	default:
		return 0, nil
	}
}
