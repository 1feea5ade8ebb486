package cli

import (
	"fmt"

	"github.com/nace/vaultgen/internal/backup"
	"github.com/nace/vaultgen/internal/system"
	"github.com/spf13/cobra"
)

// ExtractCommand handles restoring an image's contents into a folder
type ExtractCommand struct {
	ctx    *GlobalContext
	folder string
	image  string
	mount  string
}

// NewExtractCommand creates the extract command
func NewExtractCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &ExtractCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "extract --folder <destination> --image <image-file>",
		Short: "Extract a disk image into a folder",
		Long: `Loop-mount an existing image and copy its contents into the destination
folder. Files already in the destination are kept unless the image has a file
at the same path, which then overwrites it.`,
		Args: cobra.NoArgs,
		RunE: cmd.Run,
	}

	cobraCmd.Flags().StringVarP(&cmd.folder, "folder", "f", "", "Destination folder")
	cobraCmd.Flags().StringVarP(&cmd.image, "image", "i", "", "Disk image file to read")
	cobraCmd.Flags().StringVarP(&cmd.mount, "mount", "m", backup.DefaultMountPoint, "Mount point for the disk image")

	return cobraCmd
}

// Run executes the extract command
func (c *ExtractCommand) Run(cmd *cobra.Command, args []string) error {
	req := backup.ExtractRequest{
		Image:       c.image,
		MountPoint:  c.mount,
		Destination: c.folder,
	}
	if err := req.Validate(); err != nil {
		return usageError(fmt.Errorf("you must specify both --folder (destination) and --image (input) for extraction: %w", err))
	}

	if err := system.AbsPaths(&req.Image, &req.MountPoint, &req.Destination); err != nil {
		return usageError(err)
	}

	if err := c.ctx.CheckDependencies(); err != nil {
		return err
	}
	if err := c.ctx.CheckNotAttached(req.Image); err != nil {
		return err
	}

	c.ctx.Logger.Debug("Extracting %s to %s via %s", req.Image, req.Destination, req.MountPoint)
	_, err := c.ctx.Orchestrator().Extract(req)
	return err
}
