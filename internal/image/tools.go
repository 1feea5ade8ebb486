package image

import (
	"fmt"
	"os"

	"github.com/nace/vaultgen/internal/system"
	mount "k8s.io/mount-utils"
)

// Tools performs the privileged operations on an image.
// Implementations report a nonzero tool exit status as an error.
type Tools interface {
	Format(imagePath string) error
	Mount(imagePath, mountPoint string) error
	Unmount(mountPoint string) error
}

// MountChecker is implemented by Tools that can tell whether a directory
// already has a filesystem mounted on it
type MountChecker interface {
	IsMountPoint(path string) (bool, error)
}

// ShellTools runs mkfs, mount and umount through the executor
type ShellTools struct {
	executor *system.Executor
	mounter  mount.Interface
}

// NewShellTools creates tools backed by the system utilities
func NewShellTools(executor *system.Executor) *ShellTools {
	return &ShellTools{
		executor: executor,
		mounter:  mount.New(""),
	}
}

// Dependencies lists the commands ShellTools needs in PATH
func (t *ShellTools) Dependencies() []string {
	deps := []string{"mkfs." + Filesystem, "mount", "umount"}
	if !system.IsRoot() {
		deps = append(deps, "sudo")
	}
	return deps
}

// Format creates the filesystem, forcing mkfs to accept a regular file
func (t *ShellTools) Format(imagePath string) error {
	args := formatArgs(imagePath, system.IsRoot(), os.Getuid(), os.Getgid())
	return t.executor.Run("mkfs."+Filesystem, args...)
}

// formatArgs builds the mkfs arguments. Without root the filesystem's root
// directory is owned by the caller so it can copy into the sudo-mounted image.
func formatArgs(imagePath string, root bool, uid, gid int) []string {
	args := []string{"-F", "-q"}
	if !root {
		args = append(args, "-E", fmt.Sprintf("root_owner=%d:%d", uid, gid))
	}
	return append(args, imagePath)
}

// Mount loop-mounts imagePath on mountPoint
func (t *ShellTools) Mount(imagePath, mountPoint string) error {
	name, args := system.Privileged("mount", "-o", "loop", imagePath, mountPoint)
	return t.executor.Run(name, args...)
}

// Unmount unmounts mountPoint; the loop device is released by the kernel
func (t *ShellTools) Unmount(mountPoint string) error {
	name, args := system.Privileged("umount", mountPoint)
	return t.executor.Run(name, args...)
}

// IsMountPoint reports whether path is a mount point
func (t *ShellTools) IsMountPoint(path string) (bool, error) {
	notMnt, err := t.mounter.IsLikelyNotMountPoint(path)
	if err != nil {
		return false, err
	}
	return !notMnt, nil
}
