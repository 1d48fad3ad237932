package cli

import (
	"context"

	"github.com/spf13/cobra"
)

var modulesCmd = &cobra.Command{
	Use:     "modules",
	Aliases: []string{"mod"},
	Short:   "Manage installed modules",
}

var modulesLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List installed modules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		mods, err := client.Modules(context.Background())
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(mods)
		}

		if len(mods) == 0 {
			PrintEmptyState("No modules installed")
			return nil
		}

		rows := make([][]string, 0, len(mods))
		for _, m := range mods {
			state := "active"
			switch {
			case m.Remove:
				state = "removing"
			case m.Disabled:
				state = "disabled"
			case m.SkipMount:
				state = "skipped"
			case !m.HasContent:
				state = "empty"
			case m.Updated:
				state = "updated"
			}
			rows = append(rows, []string{m.ID, m.Version, state, m.Name})
		}
		PrintTable([]string{"ID", "Version", "State", "Name"}, rows)
		return nil
	},
}

func init() {
	modulesCmd.AddCommand(modulesLsCmd)
	modulesCmd.AddCommand(modulesEnableCmd)
	modulesCmd.AddCommand(modulesDisableCmd)
	modulesCmd.AddCommand(modulesRmCmd)
}
