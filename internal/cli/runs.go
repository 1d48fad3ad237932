package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/graftfs/graft/internal/client"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs [id]",
	Short: "List mount runs, or show one run's journal",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()

		if len(args) == 1 {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run id %q", args[0])
			}
			return showRun(ctx, c, id)
		}

		runs, err := c.Runs(ctx, runsLimit)
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(runs)
		}

		if len(runs) == 0 {
			PrintEmptyState("No runs recorded")
			return nil
		}

		rows := make([][]string, 0, len(runs))
		for _, run := range runs {
			rows = append(rows, []string{
				strconv.FormatInt(run.ID, 10),
				run.Status,
				strconv.Itoa(len(run.Modules)),
				humanize.Time(run.StartedAt),
			})
		}
		PrintTable([]string{"ID", "Status", "Modules", "Started"}, rows)
		return nil
	},
}

func showRun(ctx context.Context, c *client.Client, id int64) error {
	run, err := c.Run(ctx, id)
	if err != nil {
		return err
	}

	if jsonOutput {
		return outputJSON(run)
	}

	PrintLabelValue("Run", strconv.FormatInt(run.ID, 10))
	PrintLabelValue("Status", run.Status)
	PrintLabelValue("Modules", strings.Join(run.Modules, ", "))
	PrintLabelValue("Started", humanize.Time(run.StartedAt))
	if run.Error != "" {
		PrintError(run.Error)
	}

	journal := run.Journal()
	if len(journal) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(journal))
	for _, req := range journal {
		rows = append(rows, []string{req.Mode, req.Reason, req.Target})
	}
	PrintTable([]string{"Mode", "Reason", "Target"}, rows)
	return nil
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum runs to list")
}
