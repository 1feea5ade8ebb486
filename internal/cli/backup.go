package cli

import (
	"fmt"

	"github.com/nace/vaultgen/internal/backup"
	"github.com/nace/vaultgen/internal/system"
	"github.com/spf13/cobra"
)

// BackupCommand handles backing a folder up into a new image
type BackupCommand struct {
	ctx    *GlobalContext
	folder string
	image  string
	mount  string
}

// NewBackupCommand creates the backup command
func NewBackupCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &BackupCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "backup --folder <source> --image <image-file>",
		Short: "Back up a folder into a new disk image",
		Long: `Measure the source folder, create a sparse ext4 image sized for it
(plus 50 MiB for filesystem overhead), loop-mount it and copy the folder in.

The image file is overwritten if it already exists.`,
		Args: cobra.NoArgs,
		RunE: cmd.Run,
	}

	cobraCmd.Flags().StringVarP(&cmd.folder, "folder", "f", "", "Folder to back up")
	cobraCmd.Flags().StringVarP(&cmd.image, "image", "i", "", "Disk image file to create")
	cobraCmd.Flags().StringVarP(&cmd.mount, "mount", "m", backup.DefaultMountPoint, "Mount point for the disk image")

	return cobraCmd
}

// Run executes the backup command
func (c *BackupCommand) Run(cmd *cobra.Command, args []string) error {
	req := backup.BackupRequest{
		Source:     c.folder,
		Image:      c.image,
		MountPoint: c.mount,
	}
	if err := req.Validate(); err != nil {
		return usageError(fmt.Errorf("you must specify both --folder (source) and --image (output) for backup: %w", err))
	}

	if err := system.AbsPaths(&req.Source, &req.Image, &req.MountPoint); err != nil {
		return usageError(err)
	}

	if err := c.ctx.CheckDependencies(); err != nil {
		return err
	}
	if err := c.ctx.CheckNotAttached(req.Image); err != nil {
		return err
	}

	c.ctx.Logger.Debug("Backing up %s to %s via %s", req.Source, req.Image, req.MountPoint)
	report, err := c.ctx.Orchestrator().Backup(req)
	if err != nil {
		return err
	}

	c.ctx.Logger.Info("Image size: %d MiB, content: %s",
		report.ImageMiB, system.FormatSize(uint64(report.SizeBytes)))
	return nil
}
