package cli

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"
)

var trustCmd = &cobra.Command{
	Use:   "trust [archive.zip]",
	Short: "Pin the signing certificate future installs must match",
	Long: `Pin the certificate that signed the given archive. Later archive
installs are rejected unless signed by the same certificate.

Without an argument, shows the currently pinned fingerprint.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		ctx := context.Background()

		if len(args) == 0 {
			fp, err := client.Trusted(ctx)
			if err != nil {
				return err
			}
			if fp == "" {
				PrintEmptyState("No certificate pinned; archive installs are unrestricted")
				return nil
			}
			PrintLabelValue("Fingerprint", fp)
			return nil
		}

		path := args[0]
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		fp, err := client.Trust(ctx, path)
		if err != nil {
			return err
		}
		PrintSuccess("certificate pinned")
		PrintLabelValue("Fingerprint", fp)
		return nil
	},
}
