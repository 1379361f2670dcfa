package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newEnginesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "engines",
		Short: "List the available script engines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := a.supportedKinds()
			return a.print(cmd.OutOrStdout(), kinds, func(w io.Writer) error {
				for _, k := range kinds {
					marker := " "
					if k == a.settings.DefaultEngine {
						marker = "*"
					}
					fmt.Fprintf(w, "%s %s\n", marker, k)
				}
				return nil
			})
		},
	}
}

func (a *app) supportedKinds() []string {
	kinds := a.factory.SupportedKinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return names
}
