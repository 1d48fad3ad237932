package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var installCmd = &cobra.Command{
	Use:   "install <archive.zip | image-ref>",
	Short: "Install a module from a zip archive or an OCI image",
	Long: `Install a module into the store. The source is either a local zip
archive or an OCI image reference such as ghcr.io/acme/mod:latest.

Archives are checked against the pinned signing certificate when one is
set with 'graft trust'. The new module takes effect at the next mount.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		source := args[0]
		if strings.HasSuffix(source, ".zip") {
			// The daemon resolves paths in its own working directory.
			if abs, err := filepath.Abs(source); err == nil {
				source = abs
			}
		}

		res, err := client.Install(context.Background(), source)
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(res)
		}

		action := "installed"
		if res.Replaced {
			action = "updated"
		}
		msg := fmt.Sprintf("module %s %s", res.Module.ID, action)
		if res.Module.Version != "" {
			msg += " (" + res.Module.Version + ")"
		}
		PrintSuccess(msg)
		if res.Digest != "" {
			PrintLabelValue("Digest", res.Digest)
		}
		return nil
	},
}
