package system

import (
	"bufio"
	"fmt"
	"strings"
)

// MiB is one mebibyte in bytes
const MiB = 1024 * 1024

// FormatSize converts bytes to human-readable format
func FormatSize(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGT"[exp])
}

// ParseDfUsage extracts total and used bytes from `df --block-size=1` output
// Header: Filesystem     1B-blocks      Used Available Use% Mounted on
// Data:   /dev/loop0     1234567890  123456  ...
func ParseDfUsage(output string) (size uint64, used uint64, err error) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) < 2 {
		return 0, 0, fmt.Errorf("invalid df output")
	}

	fields := strings.Fields(lines[1])
	if len(fields) < 3 {
		return 0, 0, fmt.Errorf("invalid df output format")
	}

	if _, err := fmt.Sscanf(fields[1], "%d", &size); err != nil {
		return 0, 0, fmt.Errorf("invalid df size %q: %w", fields[1], err)
	}
	if _, err := fmt.Sscanf(fields[2], "%d", &used); err != nil {
		return 0, 0, fmt.Errorf("invalid df used %q: %w", fields[2], err)
	}
	return size, used, nil
}

// MountEntry is one line of /proc/mounts
type MountEntry struct {
	Device     string
	MountPoint string
	Filesystem string
}

// ParseProcMounts parses the contents of /proc/mounts
func ParseProcMounts(data string) []MountEntry {
	var entries []MountEntry
	scanner := bufio.NewScanner(strings.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		entries = append(entries, MountEntry{
			Device:     fields[0],
			MountPoint: unescapeMountField(fields[1]),
			Filesystem: fields[2],
		})
	}
	return entries
}

// the kernel octal-escapes space, tab, newline and backslash in mount paths
func unescapeMountField(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	r := strings.NewReplacer(`\040`, " ", `\011`, "\t", `\012`, "\n", `\134`, `\`)
	return r.Replace(s)
}
