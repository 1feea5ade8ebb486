// Package image manages the lifecycle of a loopback filesystem image:
// sizing, creating, formatting, mounting and unmounting it.
package image

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/nace/vaultgen/internal/system"
	"github.com/nace/vaultgen/internal/ui"
	"github.com/spf13/afero"
)

// Filesystem is the filesystem every image is formatted with
const Filesystem = "ext4"

var (
	ErrNotMounted      = errors.New("image is not mounted")
	ErrAlreadyMounted  = errors.New("mount point is already in use")
	ErrInvalidState    = errors.New("invalid lifecycle state")
	ErrInvalidSize     = errors.New("image size must be positive")
	ErrImageIsDir      = errors.New("image path is a directory")
	ErrEmptyMountPoint = errors.New("mount point is empty")
)

// State is the position of an image in its lifecycle
type State int

const (
	StateAbsent State = iota
	StateExisting
	StateCreated
	StateFormatted
	StateMounted
	StateUnmounted
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateExisting:
		return "existing"
	case StateCreated:
		return "created"
	case StateFormatted:
		return "formatted"
	case StateMounted:
		return "mounted"
	case StateUnmounted:
		return "unmounted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Lifecycle drives one image file through create, format, mount and unmount.
// A Lifecycle is not safe for concurrent use and assumes nobody else
// touches the image or mount point while it runs.
type Lifecycle struct {
	fs     afero.Fs
	tools  Tools
	logger *ui.Logger

	path       string
	mountPoint string
	size       int64
	state      State
}

// NewLifecycle inspects path and returns a lifecycle in the absent or existing state
func NewLifecycle(fsys afero.Fs, tools Tools, logger *ui.Logger, path string) (*Lifecycle, error) {
	l := &Lifecycle{
		fs:     fsys,
		tools:  tools,
		logger: logger,
		path:   path,
		state:  StateAbsent,
	}

	info, err := fsys.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, system.NewError(system.KindIO, "stat", path, err)
	case info.IsDir():
		return nil, system.NewError(system.KindIO, "open image", path, ErrImageIsDir)
	default:
		l.state = StateExisting
		l.size = info.Size()
	}

	return l, nil
}

// Path returns the image file path
func (l *Lifecycle) Path() string { return l.path }

// MountPoint returns where the image is or was last mounted
func (l *Lifecycle) MountPoint() string { return l.mountPoint }

// Size returns the image size in bytes
func (l *Lifecycle) Size() int64 { return l.size }

// State returns the current lifecycle state
func (l *Lifecycle) State() State { return l.state }

func (l *Lifecycle) require(op string, allowed ...State) error {
	for _, s := range allowed {
		if l.state == s {
			return nil
		}
	}
	names := make([]string, len(allowed))
	for i, s := range allowed {
		names[i] = s.String()
	}
	return system.NewError(system.KindState, op, l.path,
		fmt.Errorf("%w: image is %s, needs %s", ErrInvalidState, l.state, strings.Join(names, " or ")))
}

func (l *Lifecycle) requireFile(op string) error {
	if _, err := l.fs.Stat(l.path); err != nil {
		return system.NewError(system.KindIO, op, l.path, err)
	}
	return nil
}

// Create creates or truncates the image file to exactly sizeBytes.
// The file is sparse, no data blocks are written.
func (l *Lifecycle) Create(sizeBytes int64) error {
	if err := l.require("create", StateAbsent, StateExisting, StateUnmounted); err != nil {
		return err
	}
	if sizeBytes <= 0 {
		return system.NewError(system.KindIO, "create", l.path, ErrInvalidSize)
	}

	l.logger.Info("Creating %s image file %s...", system.FormatSize(uint64(sizeBytes)), l.path)
	if _, ok := l.fs.(*afero.OsFs); ok {
		l.warnLowSpace(sizeBytes)
	}

	file, err := l.fs.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return system.NewError(system.KindIO, "create", l.path, err)
	}

	if err := file.Truncate(sizeBytes); err != nil {
		file.Close()
		return system.NewError(system.KindIO, "truncate", l.path, err)
	}
	if err := file.Close(); err != nil {
		return system.NewError(system.KindIO, "create", l.path, err)
	}

	l.size = sizeBytes
	l.state = StateCreated
	l.logger.Success("Image created at %s", l.path)
	return nil
}

// the image is sparse, so running short only shows up once data is copied in
func (l *Lifecycle) warnLowSpace(sizeBytes int64) {
	avail, err := system.GetAvailableSpace(l.path)
	if err != nil {
		l.logger.Debug("Skipping free space check: %v", err)
		return
	}
	if avail < uint64(sizeBytes) {
		l.logger.Warning("Only %s free next to %s, image may fill up before the copy finishes",
			system.FormatSize(avail), l.path)
	}
}

// Format writes a fresh filesystem over the whole image.
// On failure the image stays in the created state and cannot be mounted.
func (l *Lifecycle) Format() error {
	if err := l.require("format", StateCreated); err != nil {
		return err
	}
	if err := l.requireFile("format"); err != nil {
		return err
	}

	l.logger.Info("Formatting %s as %s...", l.path, Filesystem)
	if err := l.tools.Format(l.path); err != nil {
		return system.NewError(system.KindFormat, "format", l.path, err)
	}

	l.state = StateFormatted
	l.logger.Success("Image %s formatted as %s", l.path, Filesystem)
	return nil
}

// Mount loop-mounts the image at mountPoint, creating the directory first.
// A freshly formatted image or an existing one can be mounted.
func (l *Lifecycle) Mount(mountPoint string) error {
	if l.state == StateAbsent {
		return system.NewError(system.KindIO, "mount", l.path, os.ErrNotExist)
	}
	if err := l.require("mount", StateFormatted, StateExisting, StateUnmounted); err != nil {
		return err
	}
	if mountPoint == "" {
		return system.NewError(system.KindUsage, "mount", l.path, ErrEmptyMountPoint)
	}
	if err := l.requireFile("mount"); err != nil {
		return err
	}

	if err := l.fs.MkdirAll(mountPoint, 0755); err != nil {
		return system.NewError(system.KindIO, "create mount point", mountPoint, err)
	}

	if checker, ok := l.tools.(MountChecker); ok {
		mounted, err := checker.IsMountPoint(mountPoint)
		if err != nil {
			return system.NewError(system.KindMount, "mount", mountPoint, err)
		}
		if mounted {
			return system.NewError(system.KindMount, "mount", mountPoint, ErrAlreadyMounted)
		}
	}

	l.logger.Info("Mounting %s at %s...", l.path, mountPoint)
	if err := l.tools.Mount(l.path, mountPoint); err != nil {
		return system.NewError(system.KindMount, "mount", mountPoint, err)
	}

	l.mountPoint = mountPoint
	l.state = StateMounted
	l.logger.Success("Image mounted at %s", mountPoint)
	return nil
}

// Unmount detaches the filesystem. Busy mounts are reported, never forced.
func (l *Lifecycle) Unmount() error {
	if l.state != StateMounted {
		return system.NewError(system.KindUnmount, "unmount", l.path,
			fmt.Errorf("%w (state %s)", ErrNotMounted, l.state))
	}

	l.logger.Info("Unmounting %s...", l.mountPoint)
	if err := l.tools.Unmount(l.mountPoint); err != nil {
		return system.NewError(system.KindUnmount, "unmount", l.mountPoint, err)
	}

	l.state = StateUnmounted
	l.logger.Success("Image unmounted from %s", l.mountPoint)
	return nil
}
