package commands

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/scripthost/pkg/stores"
)

func newHistoryCommand(a *app) *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent script runs of the workspace",
		Example: `  froyo history
  froyo history --limit 5 --json
  froyo history show 3f1c...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			wc, err := a.workspace(ctx)
			if err != nil {
				return err
			}
			runs, err := wc.Store.ListRuns(ctx, limit, offset)
			if err != nil {
				return err
			}

			return a.print(cmd.OutOrStdout(), runs, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tENGINE\tSTATUS\tSTARTED\tDURATION")
				for _, r := range runs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
						r.ID, r.EngineKind, r.Status, r.StartedAt.Local().Format(time.DateTime), runDuration(r))
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of runs to skip")

	cmd.AddCommand(&cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			wc, err := a.workspace(ctx)
			if err != nil {
				return err
			}
			run, err := wc.Store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}

			return a.print(cmd.OutOrStdout(), run, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintf(tw, "ID:\t%s\n", run.ID)
				fmt.Fprintf(tw, "Workspace:\t%s\n", run.Workspace)
				fmt.Fprintf(tw, "Engine:\t%s\n", run.EngineKind)
				fmt.Fprintf(tw, "Status:\t%s\n", run.Status)
				fmt.Fprintf(tw, "Started:\t%s\n", run.StartedAt.Local().Format(time.RFC3339))
				fmt.Fprintf(tw, "Duration:\t%s\n", runDuration(run))
				if run.Error != nil {
					fmt.Fprintf(tw, "Error:\t%s\n", *run.Error)
				}
				if run.Metadata != "" {
					fmt.Fprintf(tw, "Metadata:\t%s\n", run.Metadata)
				}
				return tw.Flush()
			})
		},
	})

	return cmd
}

func runDuration(r *stores.Run) string {
	if r.CompletedAt == nil {
		return "-"
	}
	return r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
}
