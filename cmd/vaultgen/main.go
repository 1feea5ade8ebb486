package main

import (
	"os"
	"sync"

	"github.com/nace/vaultgen/internal/cli"
	"github.com/spf13/cobra"
)

var (
	verbose bool
	quiet   bool
	noColor bool
	debug   bool

	ctx  *cli.GlobalContext
	once sync.Once
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		ctx.Logger.Error("%v", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vaultgen",
	Short: "VaultGen - folder backups in loopback disk images",
	Long: `VaultGen backs a folder up into an ext4 disk image and extracts it again.

The image is a sparse file formatted with mkfs.ext4 and loop-mounted with
mount(8); mounting and unmounting go through sudo when not run as root.
A failed run is never rolled back: use "vaultgen status" to find an image
that was left mounted.`,
	Version:       "0.1.0",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Rebuild context components with parsed flag values
		once.Do(func() {
			*ctx = *cli.NewGlobalContext(verbose, quiet, noColor, debug)
		})
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet mode (suppress non-error output)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable color output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Debug mode (show commands)")

	// Commands share the pointer, PersistentPreRun fills it in after flag parsing
	ctx = cli.NewGlobalContext(false, false, false, false)

	rootCmd.AddCommand(cli.NewBackupCommand(ctx))
	rootCmd.AddCommand(cli.NewExtractCommand(ctx))
	rootCmd.AddCommand(cli.NewStatusCommand(ctx))

	rootCmd.SetHelpCommand(&cobra.Command{
		Use:    "no-help",
		Hidden: true,
	})

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
