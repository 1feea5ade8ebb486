// Package imagetest provides an in-memory stand-in for the image tools.
package imagetest

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

var (
	ErrNotFormatted = errors.New("wrong fs type, bad option, bad superblock")
	ErrNotMounted   = errors.New("not mounted")
	ErrBusy         = errors.New("target is busy")
)

// Tools simulates loop mounts on an afero filesystem. Each formatted image
// gets its own in-memory store; mounting copies the store into the mount
// point and unmounting copies it back and empties the mount point.
type Tools struct {
	Fs afero.Fs

	FormatErr  error
	MountErr   error
	UnmountErr error
	// Busy mount points fail to unmount with ErrBusy
	Busy map[string]bool

	mu      sync.Mutex
	calls   []string
	stores  map[string]afero.Fs
	mounted map[string]string
}

// New creates fake tools operating on fsys
func New(fsys afero.Fs) *Tools {
	return &Tools{
		Fs:      fsys,
		Busy:    map[string]bool{},
		stores:  map[string]afero.Fs{},
		mounted: map[string]string{},
	}
}

// Calls returns the operations performed so far, e.g. "mount /img /mnt"
func (t *Tools) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

// Called reports how many times an operation ("format", "mount", "unmount") ran
func (t *Tools) Called(op string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.calls {
		if len(c) > len(op) && c[:len(op)+1] == op+" " {
			n++
		}
	}
	return n
}

// Preformat registers imagePath as an already formatted image with the given files
func (t *Tools) Preformat(imagePath string, files map[string]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	store := afero.NewMemMapFs()
	for name, content := range files {
		if err := store.MkdirAll(filepath.Dir(filepath.Join("/", name)), 0o755); err != nil {
			return err
		}
		if err := afero.WriteFile(store, filepath.Join("/", name), []byte(content), 0o644); err != nil {
			return err
		}
	}
	t.stores[imagePath] = store
	return nil
}

// Format gives imagePath an empty store
func (t *Tools) Format(imagePath string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, "format "+imagePath)
	if t.FormatErr != nil {
		return t.FormatErr
	}
	if _, err := t.Fs.Stat(imagePath); err != nil {
		return err
	}
	t.stores[imagePath] = afero.NewMemMapFs()
	return nil
}

// Mount exposes the image store at mountPoint
func (t *Tools) Mount(imagePath, mountPoint string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, fmt.Sprintf("mount %s %s", imagePath, mountPoint))
	if t.MountErr != nil {
		return t.MountErr
	}
	store, ok := t.stores[imagePath]
	if !ok {
		return ErrNotFormatted
	}
	if _, busy := t.mounted[mountPoint]; busy {
		return fmt.Errorf("%s already mounted", mountPoint)
	}
	if err := copyTree(store, "/", t.Fs, mountPoint); err != nil {
		return err
	}
	t.mounted[mountPoint] = imagePath
	return nil
}

// Unmount writes the mount point contents back to the image store
func (t *Tools) Unmount(mountPoint string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, "unmount "+mountPoint)
	if t.UnmountErr != nil {
		return t.UnmountErr
	}
	imagePath, ok := t.mounted[mountPoint]
	if !ok {
		return ErrNotMounted
	}
	if t.Busy[mountPoint] {
		return ErrBusy
	}

	store := afero.NewMemMapFs()
	if err := copyTree(t.Fs, mountPoint, store, "/"); err != nil {
		return err
	}
	entries, err := afero.ReadDir(t.Fs, mountPoint)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := t.Fs.RemoveAll(filepath.Join(mountPoint, e.Name())); err != nil {
			return err
		}
	}

	t.stores[imagePath] = store
	delete(t.mounted, mountPoint)
	return nil
}

// IsMountPoint reports whether the fake has something mounted at path
func (t *Tools) IsMountPoint(path string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.mounted[path]
	return ok, nil
}

func copyTree(srcFs afero.Fs, src string, dstFs afero.Fs, dst string) error {
	return afero.Walk(srcFs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return dstFs.MkdirAll(target, info.Mode().Perm()|0o700)
		}

		in, err := srcFs.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := dstFs.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	})
}
