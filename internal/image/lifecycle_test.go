package image

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/nace/vaultgen/internal/image/imagetest"
	"github.com/nace/vaultgen/internal/system"
	"github.com/nace/vaultgen/internal/ui"
	"github.com/spf13/afero"
)

func newTestLifecycle(t *testing.T, fsys afero.Fs, path string) (*Lifecycle, *imagetest.Tools) {
	t.Helper()
	tools := imagetest.New(fsys)
	l, err := NewLifecycle(fsys, tools, ui.NewLoggerTo(io.Discard, false, false, true), path)
	if err != nil {
		t.Fatalf("NewLifecycle: %v", err)
	}
	return l, tools
}

func TestLifecycleFullCycle(t *testing.T) {
	fsys := afero.NewMemMapFs()
	l, tools := newTestLifecycle(t, fsys, "/backups/disk.img")

	if l.State() != StateAbsent {
		t.Fatalf("initial state = %s, want absent", l.State())
	}
	if err := fsys.MkdirAll("/backups", 0o755); err != nil {
		t.Fatal(err)
	}

	if err := l.Create(51 * system.MiB); err != nil {
		t.Fatalf("Create: %v", err)
	}
	info, err := fsys.Stat("/backups/disk.img")
	if err != nil {
		t.Fatalf("image not created: %v", err)
	}
	if info.Size() != 51*system.MiB {
		t.Errorf("image size = %d, want %d", info.Size(), 51*system.MiB)
	}

	if err := l.Format(); err != nil {
		t.Fatalf("Format: %v", err)
	}
	if err := l.Mount("/mnt/a/b"); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if ok, _ := afero.DirExists(fsys, "/mnt/a/b"); !ok {
		t.Error("mount point should be created with parents")
	}
	if l.State() != StateMounted || l.MountPoint() != "/mnt/a/b" {
		t.Errorf("state=%s mountPoint=%s", l.State(), l.MountPoint())
	}
	if err := l.Unmount(); err != nil {
		t.Fatalf("Unmount: %v", err)
	}
	if l.State() != StateUnmounted {
		t.Errorf("state = %s, want unmounted", l.State())
	}

	want := []string{
		"format /backups/disk.img",
		"mount /backups/disk.img /mnt/a/b",
		"unmount /mnt/a/b",
	}
	calls := tools.Calls()
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, calls[i], want[i])
		}
	}
}

func TestCreateTruncatesExistingImage(t *testing.T) {
	fsys := afero.NewMemMapFs()
	if err := afero.WriteFile(fsys, "/disk.img", make([]byte, 4096), 0o644); err != nil {
		t.Fatal(err)
	}
	l, _ := newTestLifecycle(t, fsys, "/disk.img")
	if l.State() != StateExisting || l.Size() != 4096 {
		t.Fatalf("state=%s size=%d", l.State(), l.Size())
	}

	if err := l.Create(1024); err != nil {
		t.Fatalf("Create: %v", err)
	}
	info, _ := fsys.Stat("/disk.img")
	if info.Size() != 1024 {
		t.Errorf("size = %d, want 1024", info.Size())
	}
}

func TestCreateRejectsBadSize(t *testing.T) {
	l, _ := newTestLifecycle(t, afero.NewMemMapFs(), "/disk.img")
	err := l.Create(0)
	if !errors.Is(err, ErrInvalidSize) || system.KindOf(err) != system.KindIO {
		t.Fatalf("expected io error for zero size, got %v", err)
	}
}

func TestFormatFailureBlocksMount(t *testing.T) {
	fsys := afero.NewMemMapFs()
	l, tools := newTestLifecycle(t, fsys, "/disk.img")
	tools.FormatErr = errors.New("mkfs.ext4 failed: exit status 1")

	if err := l.Create(system.MiB); err != nil {
		t.Fatal(err)
	}
	err := l.Format()
	if system.KindOf(err) != system.KindFormat {
		t.Fatalf("kind = %v, want format (%v)", system.KindOf(err), err)
	}
	if l.State() != StateCreated {
		t.Errorf("state after failed format = %s, want created", l.State())
	}

	err = l.Mount("/mnt")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("mount after failed format should be refused, got %v", err)
	}
	if tools.Called("mount") != 0 {
		t.Error("mount tool must not run after a failed format")
	}
}

func TestFormatRequiresCreated(t *testing.T) {
	fsys := afero.NewMemMapFs()
	if err := afero.WriteFile(fsys, "/disk.img", []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	l, tools := newTestLifecycle(t, fsys, "/disk.img")

	err := l.Format()
	if system.KindOf(err) != system.KindState {
		t.Fatalf("kind = %v, want state", system.KindOf(err))
	}
	if tools.Called("format") != 0 {
		t.Error("format tool must not run outside the created state")
	}
}

func TestFormatRequiresImageFile(t *testing.T) {
	fsys := afero.NewMemMapFs()
	l, tools := newTestLifecycle(t, fsys, "/disk.img")
	if err := l.Create(system.MiB); err != nil {
		t.Fatal(err)
	}
	if err := fsys.Remove("/disk.img"); err != nil {
		t.Fatal(err)
	}

	if err := l.Format(); system.KindOf(err) != system.KindIO {
		t.Fatalf("expected io error for vanished image, got %v", err)
	}
	if tools.Called("format") != 0 {
		t.Error("format tool must not run without an image file")
	}
}

func TestMountFailureLeavesUnmounted(t *testing.T) {
	fsys := afero.NewMemMapFs()
	l, tools := newTestLifecycle(t, fsys, "/disk.img")
	tools.MountErr = errors.New("mount: only root can do that")

	if err := l.Create(system.MiB); err != nil {
		t.Fatal(err)
	}
	if err := l.Format(); err != nil {
		t.Fatal(err)
	}
	err := l.Mount("/mnt/x")
	if system.KindOf(err) != system.KindMount {
		t.Fatalf("kind = %v, want mount", system.KindOf(err))
	}
	if l.State() != StateFormatted {
		t.Errorf("state = %s, want formatted", l.State())
	}

	err = l.Unmount()
	if !errors.Is(err, ErrNotMounted) || system.KindOf(err) != system.KindUnmount {
		t.Fatalf("unmount after failed mount should report not mounted, got %v", err)
	}
	if tools.Called("unmount") != 0 {
		t.Error("umount must not run when nothing is mounted")
	}
}

func TestMountMissingImage(t *testing.T) {
	fsys := afero.NewMemMapFs()
	l, tools := newTestLifecycle(t, fsys, "/nope.img")

	err := l.Mount("/mnt/x")
	if !errors.Is(err, os.ErrNotExist) || system.KindOf(err) != system.KindIO {
		t.Fatalf("absent image must not mount, got %v", err)
	}
	if tools.Called("mount") != 0 {
		t.Error("mount tool must not run for an absent image")
	}
}

func TestMountRefusesBusyMountPoint(t *testing.T) {
	fsys := afero.NewMemMapFs()
	tools := imagetest.New(fsys)
	logger := ui.NewLoggerTo(io.Discard, false, false, true)
	for _, p := range []string{"/a.img", "/b.img"} {
		if err := afero.WriteFile(fsys, p, []byte("img"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := tools.Preformat(p, nil); err != nil {
			t.Fatal(err)
		}
	}

	a, _ := NewLifecycle(fsys, tools, logger, "/a.img")
	b, _ := NewLifecycle(fsys, tools, logger, "/b.img")
	if err := a.Mount("/mnt/shared"); err != nil {
		t.Fatalf("first mount: %v", err)
	}
	err := b.Mount("/mnt/shared")
	if !errors.Is(err, ErrAlreadyMounted) {
		t.Fatalf("second mount on same point should fail, got %v", err)
	}
	if tools.Called("mount") != 1 {
		t.Errorf("mount tool ran %d times, want 1", tools.Called("mount"))
	}
}

func TestUnmountBusy(t *testing.T) {
	fsys := afero.NewMemMapFs()
	l, tools := newTestLifecycle(t, fsys, "/disk.img")
	if err := l.Create(system.MiB); err != nil {
		t.Fatal(err)
	}
	if err := l.Format(); err != nil {
		t.Fatal(err)
	}
	if err := l.Mount("/mnt/x"); err != nil {
		t.Fatal(err)
	}

	tools.Busy["/mnt/x"] = true
	err := l.Unmount()
	if !errors.Is(err, imagetest.ErrBusy) || system.KindOf(err) != system.KindUnmount {
		t.Fatalf("expected busy unmount error, got %v", err)
	}
	if l.State() != StateMounted {
		t.Errorf("state = %s, busy unmount must leave the image mounted", l.State())
	}
	if tools.Called("unmount") != 1 {
		t.Error("busy unmount must not be retried")
	}

	delete(tools.Busy, "/mnt/x")
	if err := l.Unmount(); err != nil {
		t.Fatalf("Unmount after release: %v", err)
	}
}

func TestRemountAfterUnmount(t *testing.T) {
	fsys := afero.NewMemMapFs()
	l, _ := newTestLifecycle(t, fsys, "/disk.img")
	if err := l.Create(system.MiB); err != nil {
		t.Fatal(err)
	}
	if err := l.Format(); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if err := l.Mount("/mnt/x"); err != nil {
			t.Fatalf("cycle %d mount: %v", i, err)
		}
		if err := l.Unmount(); err != nil {
			t.Fatalf("cycle %d unmount: %v", i, err)
		}
	}
}

func TestNewLifecycleRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	_, err := NewLifecycle(afero.NewOsFs(), imagetest.New(afero.NewOsFs()),
		ui.NewLoggerTo(io.Discard, false, false, true), dir)
	if !errors.Is(err, ErrImageIsDir) {
		t.Fatalf("expected directory error, got %v", err)
	}
}

func TestCreateSparseOnDisk(t *testing.T) {
	dir := t.TempDir()
	fsys := afero.NewOsFs()
	path := filepath.Join(dir, "disk.img")
	l, _ := newTestLifecycle(t, fsys, path)

	if err := l.Create(64 * system.MiB); err != nil {
		t.Fatalf("Create: %v", err)
	}
	info, err := fsys.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 64*system.MiB {
		t.Errorf("size = %d", info.Size())
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}
