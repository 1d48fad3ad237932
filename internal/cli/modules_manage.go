package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var modulesEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable a disabled module",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.Enable(context.Background(), args[0]); err != nil {
			return err
		}
		PrintSuccess(fmt.Sprintf("module %s enabled; takes effect at the next mount", args[0]))
		return nil
	},
}

var modulesDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a module without removing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.Disable(context.Background(), args[0]); err != nil {
			return err
		}
		PrintSuccess(fmt.Sprintf("module %s disabled; takes effect at the next mount", args[0]))
		return nil
	},
}

var modulesRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Flag a module for removal",
	Long: `Flag a module for removal. The module directory is deleted at the
start of the next mount, so a live graft keeps working until then.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.Remove(context.Background(), args[0]); err != nil {
			return err
		}
		PrintSuccess(fmt.Sprintf("module %s flagged for removal", args[0]))
		return nil
	},
}
