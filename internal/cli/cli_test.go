package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/nace/vaultgen/internal/backup"
	"github.com/nace/vaultgen/internal/image/imagetest"
	"github.com/nace/vaultgen/internal/system"
	"github.com/nace/vaultgen/internal/ui"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newTestContext() (*GlobalContext, *imagetest.Tools, *bytes.Buffer) {
	fsys := afero.NewMemMapFs()
	tools := imagetest.New(fsys)
	var logs bytes.Buffer
	return &GlobalContext{
		Executor: system.NewExecutor(false),
		Logger:   ui.NewLoggerTo(&logs, false, false, true),
		Fs:       fsys,
		Tools:    tools,
	}, tools, &logs
}

func execute(cmd *cobra.Command, args ...string) error {
	cmd.SetArgs(args)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	return cmd.Execute()
}

func TestMissingFlagsAreUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		cmd  func(*GlobalContext) *cobra.Command
		args []string
		want string
	}{
		{"backup without image", NewBackupCommand, []string{"--folder", "/src"}, "--image (output)"},
		{"backup without folder", NewBackupCommand, []string{"--image", "/disk.img"}, "--folder (source)"},
		{"extract without image", NewExtractCommand, []string{"--folder", "/out"}, "--image (input)"},
		{"extract without folder", NewExtractCommand, []string{"-i", "/disk.img"}, "--folder (destination)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, tools, _ := newTestContext()
			if err := afero.WriteFile(ctx.Fs, "/src/a", []byte("x"), 0o644); err != nil {
				t.Fatal(err)
			}

			err := execute(tt.cmd(ctx), tt.args...)
			if system.KindOf(err) != system.KindUsage {
				t.Fatalf("expected usage error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
			if len(tools.Calls()) != 0 {
				t.Errorf("no tool may run, got %v", tools.Calls())
			}
			if ok, _ := afero.Exists(ctx.Fs, "/disk.img"); ok {
				t.Error("no image may be created")
			}
			if ok, _ := afero.Exists(ctx.Fs, backup.DefaultMountPoint); ok {
				t.Error("no mount point may be created")
			}
		})
	}
}

func TestBackupAndExtractCommands(t *testing.T) {
	ctx, tools, logs := newTestContext()
	files := map[string]string{
		"/data/a.txt":     "0123456789",
		"/data/sub/b.txt": "01234567890123456789",
	}
	for path, content := range files {
		if err := afero.WriteFile(ctx.Fs, path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if err := execute(NewBackupCommand(ctx), "--folder", "/data", "--image", "/vault.img", "--mount", "/mnt/one"); err != nil {
		t.Fatalf("backup: %v\n%s", err, logs)
	}
	if err := execute(NewExtractCommand(ctx), "-f", "/restored", "-i", "/vault.img", "-m", "/mnt/two"); err != nil {
		t.Fatalf("extract: %v\n%s", err, logs)
	}

	for path, want := range files {
		restored := "/restored" + strings.TrimPrefix(path, "/data")
		got, err := afero.ReadFile(ctx.Fs, restored)
		if err != nil {
			t.Fatalf("read %s: %v", restored, err)
		}
		if string(got) != want {
			t.Errorf("%s = %q, want %q", restored, got, want)
		}
	}

	wantCalls := []string{
		"format /vault.img",
		"mount /vault.img /mnt/one",
		"unmount /mnt/one",
		"mount /vault.img /mnt/two",
		"unmount /mnt/two",
	}
	calls := tools.Calls()
	if strings.Join(calls, "\n") != strings.Join(wantCalls, "\n") {
		t.Errorf("calls = %v, want %v", calls, wantCalls)
	}
	if !strings.Contains(logs.String(), "Backup completed to /vault.img") {
		t.Errorf("missing completion log:\n%s", logs)
	}
}

func TestBackupCommandReportsFailingStep(t *testing.T) {
	ctx, tools, _ := newTestContext()
	tools.FormatErr = errors.New("mkfs.ext4 failed: exit status 1")
	if err := afero.WriteFile(ctx.Fs, "/data/a", []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := execute(NewBackupCommand(ctx), "--folder", "/data", "--image", "/vault.img")
	var stepErr *backup.StepError
	if !errors.As(err, &stepErr) || stepErr.Step != backup.StepFormat {
		t.Fatalf("expected format step error, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "format failed: ") {
		t.Errorf("message should name the failing step: %q", err)
	}
	if tools.Called("mount") != 0 {
		t.Error("mount must not run after a failed format")
	}
}

func TestBackupRejectsPositionalArgs(t *testing.T) {
	ctx, tools, _ := newTestContext()
	if err := execute(NewBackupCommand(ctx), "extra"); err == nil {
		t.Fatal("expected error for positional argument")
	}
	if len(tools.Calls()) != 0 {
		t.Errorf("no tool may run, got %v", tools.Calls())
	}
}
