package image

import (
	"strings"
	"testing"
)

func TestFormatArgs(t *testing.T) {
	tests := []struct {
		name string
		root bool
		want string
	}{
		{"root", true, "-F -q /srv/vault.img"},
		{"unprivileged", false, "-F -q -E root_owner=1000:1001 /srv/vault.img"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.Join(formatArgs("/srv/vault.img", tt.root, 1000, 1001), " ")
			if got != tt.want {
				t.Errorf("formatArgs = %q, want %q", got, tt.want)
			}
		})
	}
}
