package tree

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nace/vaultgen/internal/system"
	"github.com/spf13/afero"
)

// Progress observes a copy. Total is the number of top-level source entries.
type Progress interface {
	Start(total int)
	Advance(n int)
	Finish()
}

// Copier merges directory trees
type Copier struct {
	fs       afero.Fs
	progress Progress
	skip     map[string]bool
}

// NewCopier creates a copier on fsys. progress may be nil.
func NewCopier(fsys afero.Fs, progress Progress) *Copier {
	return &Copier{fs: fsys, progress: progress, skip: map[string]bool{}}
}

// SkipTopLevel excludes the named entries directly under the source root
func (c *Copier) SkipTopLevel(names ...string) *Copier {
	for _, name := range names {
		c.skip[name] = true
	}
	return c
}

// Copy recursively copies the contents of src into dst.
// dst is created if missing and its own metadata is never changed.
// Files that exist in both are overwritten, files that exist only in dst
// are left alone. A failed copy is not rolled back.
func (c *Copier) Copy(src, dst string) error {
	info, err := c.fs.Stat(src)
	if err != nil {
		return system.NewError(system.KindIO, "copy", src, err)
	}
	if !info.IsDir() {
		return system.NewError(system.KindIO, "copy", src, fmt.Errorf("not a directory"))
	}

	all, err := afero.ReadDir(c.fs, src)
	if err != nil {
		return system.NewError(system.KindIO, "copy", src, err)
	}
	entries := all[:0]
	for _, entry := range all {
		if !c.skip[entry.Name()] {
			entries = append(entries, entry)
		}
	}

	if err := c.fs.MkdirAll(dst, info.Mode().Perm()|0o700); err != nil {
		return system.NewError(system.KindIO, "copy", dst, err)
	}

	if c.progress != nil {
		c.progress.Start(len(entries))
		defer c.progress.Finish()
	}

	for _, entry := range entries {
		name := entry.Name()
		if err := c.copyEntry(filepath.Join(src, name), filepath.Join(dst, name), entry); err != nil {
			return err
		}
		if c.progress != nil {
			c.progress.Advance(1)
		}
	}
	return nil
}

func (c *Copier) copyEntry(src, dst string, info os.FileInfo) error {
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := c.fs.Stat(src)
		if err != nil {
			return system.NewError(system.KindIO, "copy", src, err)
		}
		info = target
	}

	switch {
	case info.IsDir():
		return c.copyDir(src, dst, info)
	case info.Mode().IsRegular():
		return c.copyFile(src, dst, info)
	default:
		return system.NewError(system.KindIO, "copy", src,
			fmt.Errorf("unsupported file type %s", info.Mode().Type()))
	}
}

func (c *Copier) copyDir(src, dst string, info os.FileInfo) error {
	if err := c.fs.MkdirAll(dst, info.Mode().Perm()|0o700); err != nil {
		return system.NewError(system.KindIO, "mkdir", dst, err)
	}
	if existing, err := c.fs.Stat(dst); err == nil && existing.Mode().Perm()&0o200 == 0 {
		if err := c.fs.Chmod(dst, existing.Mode().Perm()|0o200); err != nil {
			return system.NewError(system.KindIO, "chmod", dst, err)
		}
	}

	entries, err := afero.ReadDir(c.fs, src)
	if err != nil {
		return system.NewError(system.KindIO, "copy", src, err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if err := c.copyEntry(filepath.Join(src, name), filepath.Join(dst, name), entry); err != nil {
			return err
		}
	}

	// owner write is kept so a later merge can add files
	if err := c.fs.Chmod(dst, info.Mode().Perm()|0o200); err != nil {
		return system.NewError(system.KindIO, "chmod", dst, err)
	}
	if err := c.fs.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return system.NewError(system.KindIO, "chtimes", dst, err)
	}
	return nil
}

func (c *Copier) copyFile(src, dst string, info os.FileInfo) error {
	in, err := c.fs.Open(src)
	if err != nil {
		return system.NewError(system.KindIO, "open", src, err)
	}
	defer in.Close()

	out, err := c.fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return system.NewError(system.KindIO, "create", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		if system.IsOutOfSpace(err) {
			return system.NewError(system.KindIO, "write", dst, fmt.Errorf("destination full: %w", err))
		}
		return system.NewError(system.KindIO, "write", dst, err)
	}
	if err := out.Close(); err != nil {
		return system.NewError(system.KindIO, "close", dst, err)
	}

	// existing files keep their old mode through O_TRUNC
	if err := c.fs.Chmod(dst, info.Mode().Perm()); err != nil {
		return system.NewError(system.KindIO, "chmod", dst, err)
	}
	if err := c.fs.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return system.NewError(system.KindIO, "chtimes", dst, err)
	}
	return nil
}
