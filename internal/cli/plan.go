package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the mounts the current module set would produce",
	Long: `Build the graft tree for the active modules and print the mount
operations a 'graft mount' would perform, without performing them.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()

		plan, err := client.Plan(ctx)
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(plan)
		}

		PrintLabelValue("Modules", strings.Join(plan.Modules, ", "))
		if len(plan.Requests) == 0 {
			PrintEmptyState("Nothing to mount")
			return nil
		}

		rows := make([][]string, 0, len(plan.Requests))
		for _, req := range plan.Requests {
			rows = append(rows, []string{req.Mode, req.Reason, req.Module, req.Target})
		}
		PrintTable([]string{"Mode", "Reason", "Module", "Target"}, rows)
		return nil
	},
}
