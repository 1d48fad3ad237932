// Package cli implements the graft command line client. Commands talk to
// graftd over its unix socket; they do not touch the module store or the
// mount table themselves.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	jsonOutput bool
	configPath string
	socketPath string
)

// rootCmd is the root command for graft.
var rootCmd = &cobra.Command{
	Use:     "graft",
	Version: "dev",
	Short:   "Overlay modules onto read-only system partitions",
	Long: `graft manages modules that overlay files onto read-only system
partitions through bind and tmpfs mounts, without touching the
partitions themselves.

Modules are installed from zip archives or OCI images and realized as a
single mount pass by the graftd daemon.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

func SetVersion(v string) {
	if v == "" {
		return
	}
	rootCmd.Version = v
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to graft config file")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "Path to the graftd socket")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the graft CLI version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(os.Stdout, rootCmd.Version)
		},
	}
	rootCmd.AddCommand(versionCmd)

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(unmountCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(trustCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(modulesCmd)
	rootCmd.AddCommand(gcCmd)
}

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}
