package system

import (
	"os"
)

// IsRoot checks if running as root
func IsRoot() bool {
	return os.Geteuid() == 0
}

// Privileged returns the command line for a tool that needs root,
// going through sudo when the current user is not root.
func Privileged(name string, args ...string) (string, []string) {
	if IsRoot() {
		return name, args
	}
	return "sudo", append([]string{name}, args...)
}
