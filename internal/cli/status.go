package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and graft state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()

		st, err := client.Status(ctx)
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(st)
		}

		mounted := "no"
		if st.Mounted {
			mounted = fmt.Sprintf("yes (run %d, %d mounts)", st.RunID, st.Mounts)
		}
		PrintLabelValue("Daemon", st.Version)
		PrintLabelValue("Mounted", mounted)
		PrintLabelValue("Modules", fmt.Sprintf("%d installed, %d active", st.Modules, st.Active))
		PrintLabelValue("Partitions", strings.Join(st.Partitions, ", "))
		if st.Stale {
			PrintWarning("module set changed since the last mount; run 'graft mount' after 'graft unmount' to apply")
		}
		return nil
	},
}
