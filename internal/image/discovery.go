package image

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nace/vaultgen/internal/system"
	"github.com/tidwall/gjson"
)

// Attached describes an image file currently bound to a loop device
type Attached struct {
	Path       string `json:"path"`
	LoopDevice string `json:"loop_device"`
	MountPoint string `json:"mount_point,omitempty"`
	Filesystem string `json:"filesystem,omitempty"`
	Size       uint64 `json:"size,omitempty"`
	Used       uint64 `json:"used,omitempty"`
}

// Mounted reports whether the image's loop device is mounted anywhere
func (a Attached) Mounted() bool {
	return a.MountPoint != ""
}

// Discovery finds attached images by querying losetup and /proc/mounts
type Discovery struct {
	executor   *system.Executor
	mountsFile string
}

// NewDiscovery creates a new discovery instance
func NewDiscovery(executor *system.Executor) *Discovery {
	return &Discovery{
		executor:   executor,
		mountsFile: "/proc/mounts",
	}
}

// DiscoverAttached lists every loop device with a backing file
func (d *Discovery) DiscoverAttached() ([]Attached, error) {
	output, err := d.executor.RunOutput("losetup", "-l", "-J")
	if err != nil {
		return nil, fmt.Errorf("failed to list loop devices: %w", err)
	}
	loops, err := ParseLosetupJSON(output)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(d.mountsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read mounts: %w", err)
	}
	mounts := make(map[string]system.MountEntry)
	for _, m := range system.ParseProcMounts(string(data)) {
		if strings.HasPrefix(m.Device, "/dev/loop") {
			mounts[m.Device] = m
		}
	}

	attached := make([]Attached, 0, len(loops))
	for _, loop := range loops {
		a := loop
		if m, ok := mounts[a.LoopDevice]; ok {
			a.MountPoint = m.MountPoint
			a.Filesystem = m.Filesystem
			if size, used, err := d.diskUsage(m.MountPoint); err == nil {
				a.Size = size
				a.Used = used
			}
		}
		attached = append(attached, a)
	}
	return attached, nil
}

// FindByPath finds an attached image by its file path
func (d *Discovery) FindByPath(path string) (*Attached, error) {
	attached, err := d.DiscoverAttached()
	if err != nil {
		return nil, err
	}

	return matchAttached(attached, path), nil
}

// matchAttached compares canonical paths, losetup reports back files with
// symlinks resolved
func matchAttached(attached []Attached, path string) *Attached {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil
	}
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		absPath = resolved
	}
	for i := range attached {
		if attached[i].Path == absPath {
			return &attached[i]
		}
	}
	return nil
}

func (d *Discovery) diskUsage(mountPoint string) (uint64, uint64, error) {
	output, err := d.executor.RunOutput("df", "--block-size=1", mountPoint)
	if err != nil {
		return 0, 0, err
	}
	return system.ParseDfUsage(output)
}

// ParseLosetupJSON extracts loop devices and backing files from `losetup -l -J`.
// losetup prints nothing at all when no loop devices exist.
func ParseLosetupJSON(output string) ([]Attached, error) {
	if strings.TrimSpace(output) == "" {
		return nil, nil
	}
	if !gjson.Valid(output) {
		return nil, fmt.Errorf("failed to parse losetup output")
	}

	var loops []Attached
	gjson.Get(output, "loopdevices").ForEach(func(_, dev gjson.Result) bool {
		back := strings.TrimSuffix(dev.Get("back-file").String(), " (deleted)")
		if back != "" {
			loops = append(loops, Attached{
				Path:       back,
				LoopDevice: dev.Get("name").String(),
			})
		}
		return true
	})
	return loops, nil
}
