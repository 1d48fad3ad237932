package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var mountCmd = &cobra.Command{
	Use:   "mount",
	Short: "Realize the active modules as mounts",
	Long: `Prune removed modules, build the graft tree for the active module
set, and realize it on the partitions in a single mount pass.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()

		run, mountErr := client.Mount(ctx)
		if run != nil && jsonOutput {
			if err := outputJSON(run); err != nil {
				return err
			}
			return mountErr
		}
		if mountErr != nil {
			if run != nil {
				PrintWarning(fmt.Sprintf("run %d realized with failures; 'graft unmount' reverts what did mount", run.ID))
			}
			return mountErr
		}

		PrintSuccess(fmt.Sprintf("graft mounted: run %d, %d modules (%s), %d mounts",
			run.ID, len(run.Modules), strings.Join(run.Modules, ", "), len(run.Journal())))
		return nil
	},
}

var unmountCmd = &cobra.Command{
	Use:   "unmount",
	Short: "Revert the live graft",
	Long:  `Unwind the live graft's mounts in reverse order, restoring the bare partitions.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		if err := client.Unmount(context.Background()); err != nil {
			return err
		}
		PrintSuccess("graft unmounted")
		return nil
	},
}
