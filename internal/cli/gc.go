package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Prune retained archives and cached images",
	Long: `Remove retained archives and cached image content that no installed
module references. The daemon also runs this on its gc_schedule.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		res, err := client.Sweep(context.Background())
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(res)
		}

		PrintSuccess(fmt.Sprintf("storage swept: %d referenced digests kept, %d stale records dropped",
			res.Referenced, res.SourcesDropped))
		return nil
	},
}
