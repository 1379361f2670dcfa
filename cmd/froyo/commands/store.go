package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/openfroyo/scripthost/pkg/hosterr"
	"github.com/openfroyo/scripthost/pkg/value"
)

func newStoreCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Inspect and edit the workspace store",
		Long: `Read and write the key-value store of the active workspace, the same
store scripts reach through the store capability.

Values are JSON. "froyo store set" falls back to a plain string when the
value does not parse as JSON.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored under key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			wc, err := a.workspace(ctx)
			if err != nil {
				return err
			}
			v, found, err := wc.Store.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if !found {
				return hosterr.NewNotFoundError(fmt.Sprintf("key %q not found", args[0]), nil).WithOp("store.get")
			}
			return printValue(cmd.OutOrStdout(), v)
		},
	})

	var raw bool
	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a value under key",
		Example: `  froyo store set retries 3
  froyo store set target '{"host": "web1", "port": 22}'
  froyo store set greeting hello --string`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			wc, err := a.workspace(ctx)
			if err != nil {
				return err
			}
			return wc.Store.Set(ctx, args[0], parseValue(args[1], raw))
		},
	}
	setCmd.Flags().BoolVar(&raw, "string", false, "store the value as a string without parsing JSON")
	cmd.AddCommand(setCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <key>",
		Short: "Remove key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			wc, err := a.workspace(ctx)
			if err != nil {
				return err
			}
			removed, err := wc.Store.Delete(ctx, args[0])
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), map[string]bool{"removed": removed}, func(w io.Writer) error {
				if !removed {
					fmt.Fprintf(w, "Key %q was not set\n", args[0])
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			wc, err := a.workspace(ctx)
			if err != nil {
				return err
			}
			return wc.Store.Clear(ctx)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "keys",
		Short: "List keys",
		Args:  cobra.NoArgs,
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
			return a.print(cmd.OutOrStdout(), keys, func(w io.Writer) error {
				for _, k := range keys {
					fmt.Fprintln(w, k)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "values",
		Short: "List values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			wc, err := a.workspace(ctx)
			if err != nil {
				return err
			}
			values, err := wc.Store.Values(ctx)
			if err != nil {
				return err
			}
			return printValue(cmd.OutOrStdout(), value.Array(values...))
		},
	})

	return cmd
}

// parseValue reads s as JSON, or as a plain string when raw is set or s is
// not JSON.
func parseValue(s string, raw bool) value.Value {
	if raw {
		return value.String(s)
	}
	v, err := value.ParseJSON([]byte(s))
	if err != nil {
		return value.String(s)
	}
	return v
}

func printValue(w io.Writer, v value.Value) error {
	data, err := v.MarshalJSON()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
