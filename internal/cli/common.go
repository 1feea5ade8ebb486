package cli

import (
	"fmt"

	"github.com/nace/vaultgen/internal/backup"
	"github.com/nace/vaultgen/internal/image"
	"github.com/nace/vaultgen/internal/system"
	"github.com/nace/vaultgen/internal/tree"
	"github.com/nace/vaultgen/internal/ui"
	"github.com/spf13/afero"
)

// GlobalContext holds shared resources for all commands
type GlobalContext struct {
	Executor  *system.Executor
	Logger    *ui.Logger
	Fs        afero.Fs
	Tools     image.Tools
	Discovery *image.Discovery
	Progress  backup.ProgressFactory
}

// NewGlobalContext creates a new global context
func NewGlobalContext(verbose, quiet, noColor, debug bool) *GlobalContext {
	executor := system.NewExecutor(debug)
	logger := ui.NewLogger(verbose, quiet, noColor)

	ctx := &GlobalContext{
		Executor:  executor,
		Logger:    logger,
		Fs:        afero.NewOsFs(),
		Tools:     image.NewShellTools(executor),
		Discovery: image.NewDiscovery(executor),
	}
	if !quiet {
		ctx.Progress = func(label string) tree.Progress {
			return ui.NewProgress(label)
		}
	}
	return ctx
}

// Orchestrator builds a workflow runner from the context
func (ctx *GlobalContext) Orchestrator() *backup.Orchestrator {
	return backup.NewOrchestrator(ctx.Fs, ctx.Tools, ctx.Logger, ctx.Progress)
}

// CheckDependencies checks for the system commands the image tools need
func (ctx *GlobalContext) CheckDependencies() error {
	deps, ok := ctx.Tools.(interface{ Dependencies() []string })
	if !ok {
		return nil
	}
	return ctx.Executor.CheckDependencies(deps.Dependencies())
}

// CheckNotAttached refuses an image that is still bound to a loop device,
// usually left behind by an interrupted run
func (ctx *GlobalContext) CheckNotAttached(imagePath string) error {
	if ctx.Discovery == nil || !ctx.Executor.CommandExists("losetup") {
		return nil
	}
	attached, err := ctx.Discovery.FindByPath(imagePath)
	if err != nil {
		ctx.Logger.Debug("Skipping attached image check: %v", err)
		return nil
	}
	if attached == nil {
		return nil
	}
	where := attached.LoopDevice
	if attached.Mounted() {
		where = attached.MountPoint
	}
	return system.NewError(system.KindState, "check", imagePath,
		fmt.Errorf("image is still attached at %s, unmount it first (see 'vaultgen status')", where))
}

// usageError marks a command line problem; nothing has been attempted yet
func usageError(err error) error {
	return system.NewError(system.KindUsage, "validate", "", err)
}
