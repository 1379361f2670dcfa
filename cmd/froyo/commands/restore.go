package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfroyo/scripthost/pkg/hosterr"
	"github.com/openfroyo/scripthost/pkg/value"
)

func newRestoreCommand(a *app) *cobra.Command {
	var merge bool

	cmd := &cobra.Command{
		Use:   "restore <file>",
		Short: "Import a store backup into the workspace",
		Long: `Load a JSON object written by "froyo backup" into the workspace store.

The store is cleared first unless --merge is given, in which case keys from
the backup overwrite existing ones and other keys are kept.`,
		Example: `  # Replace the store contents
  froyo restore store.json

  # Merge into another workspace
  froyo restore store.json -w staging --merge`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			data, err := readBackup(cmd, args[0])
			if err != nil {
				return err
			}
			v, err := value.ParseJSON(data)
			if err != nil {
				return err
			}
			obj, ok := v.AsObject()
			if !ok {
				return hosterr.NewInvalidArgumentError(fmt.Sprintf("backup must be a JSON object, got %s", v.Kind()))
			}

			wc, err := a.workspace(ctx)
			if err != nil {
				return err
			}
			if !merge {
				if err := wc.Store.Clear(ctx); err != nil {
					return err
				}
			}
			var setErr error
			obj.Range(func(k string, item value.Value) bool {
				setErr = wc.Store.Set(ctx, k, item)
				return setErr == nil
			})
			if setErr != nil {
				return setErr
			}

			a.logger.WithWorkspace(wc.Name).WithField("keys", obj.Len()).Info("Store restored")
			return a.print(cmd.OutOrStdout(), map[string]int{"restored": obj.Len()}, func(w io.Writer) error {
				fmt.Fprintf(w, "Restored %d keys into %s\n", obj.Len(), wc.Name)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&merge, "merge", false, "keep keys missing from the backup")

	return cmd
}

func readBackup(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup: %w", err)
	}
	return data, nil
}
