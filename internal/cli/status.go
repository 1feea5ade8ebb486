package cli

import (
	"fmt"
	"io"

	"github.com/nace/vaultgen/internal/image"
	"github.com/nace/vaultgen/internal/system"
	"github.com/nace/vaultgen/internal/ui"
	"github.com/spf13/cobra"
)

// StatusCommand lists images currently attached to loop devices
type StatusCommand struct {
	ctx     *GlobalContext
	verbose bool
	json    bool
}

// NewStatusCommand creates the status command
func NewStatusCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &StatusCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:     "status",
		Aliases: []string{"list"},
		Short:   "List attached disk images",
		Long: `List image files attached to loop devices and where they are mounted.
Useful after an interrupted backup or extract, which leaves the image mounted.`,
		Args: cobra.NoArgs,
		RunE: cmd.Run,
	}

	cobraCmd.Flags().BoolVarP(&cmd.verbose, "long", "l", false, "Show one block per image")
	cobraCmd.Flags().BoolVarP(&cmd.json, "json", "j", false, "JSON output")

	return cobraCmd
}

// Run executes the status command
func (c *StatusCommand) Run(cmd *cobra.Command, args []string) error {
	if err := c.ctx.Executor.CheckDependencies([]string{"losetup", "df"}); err != nil {
		return err
	}

	attached, err := c.ctx.Discovery.DiscoverAttached()
	if err != nil {
		return fmt.Errorf("failed to discover images: %w", err)
	}

	out := cmd.OutOrStdout()
	if c.json {
		return ui.PrintJSON(out, attached)
	}

	if len(attached) == 0 {
		fmt.Fprintln(out, "No attached images found")
		return nil
	}

	if c.verbose {
		printVerbose(out, attached)
	} else {
		printTable(out, attached)
	}
	return nil
}

func printTable(w io.Writer, attached []image.Attached) {
	table := ui.NewTable("IMAGE", "LOOP", "MOUNT POINT", "SIZE", "USED")

	for _, a := range attached {
		size, used, mountPoint := "-", "-", "-"
		if a.Size > 0 {
			size = system.FormatSize(a.Size)
			used = system.FormatSize(a.Used)
		}
		if a.Mounted() {
			mountPoint = a.MountPoint
		}
		table.AddRow(a.Path, a.LoopDevice, mountPoint, size, used)
	}

	table.Print(w)
}

func printVerbose(w io.Writer, attached []image.Attached) {
	for i, a := range attached {
		if i > 0 {
			fmt.Fprintln(w)
		}

		fmt.Fprintf(w, "Image: %s\n", a.Path)
		fmt.Fprintf(w, "  Loop Device: %s\n", a.LoopDevice)

		if !a.Mounted() {
			fmt.Fprintln(w, "  Mounted: no")
			continue
		}
		fmt.Fprintf(w, "  Mount Point: %s\n", a.MountPoint)
		if a.Filesystem != "" {
			fmt.Fprintf(w, "  Filesystem: %s\n", a.Filesystem)
		}

		if a.Size > 0 {
			percentage := float64(a.Used) / float64(a.Size) * 100
			fmt.Fprintf(w, "  Size: %s\n", system.FormatSize(a.Size))
			fmt.Fprintf(w, "  Used: %s (%.1f%%)\n", system.FormatSize(a.Used), percentage)
			if a.Size > a.Used {
				fmt.Fprintf(w, "  Available: %s\n", system.FormatSize(a.Size-a.Used))
			}
		}
	}
}
