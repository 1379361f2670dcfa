package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfroyo/scripthost/pkg/value"
)

func newBackupCommand(a *app) *cobra.Command {
	var outFile string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export the workspace store as JSON",
		Long: `Write every key of the workspace store to a JSON object, which
"froyo restore" reads back into the same or another workspace.`,
		Example: `  # Export the active workspace store
  froyo backup --out store.json

  # Export another workspace to stdout
  froyo backup -w ops`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			wc, err := a.workspace(ctx)
			if err != nil {
				return err
			}

			keys, err := wc.Store.Keys(ctx)
			if err != nil {
				return err
			}
			obj := value.NewObject()
			for _, k := range keys {
				v, found, err := wc.Store.Get(ctx, k)
				if err != nil {
					return err
				}
				if found {
					obj.Set(k, v)
				}
			}
			data, err := value.FromObject(obj).MarshalJSON()
			if err != nil {
				return err
			}

			if outFile == "" || outFile == "-" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			}
			if err := os.WriteFile(outFile, append(data, '\n'), 0o600); err != nil {
				return fmt.Errorf("failed to write backup: %w", err)
			}
			a.logger.WithWorkspace(wc.Name).WithField("keys", obj.Len()).WithField("file", outFile).Info("Store exported")
			return nil
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "-", "backup output file")

	return cmd
}
