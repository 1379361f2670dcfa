package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/openfroyo/scripthost/pkg/engine"
	"github.com/openfroyo/scripthost/pkg/hosterr"
	"github.com/openfroyo/scripthost/pkg/orchestrator"
)

func newValidateCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [workspace...]",
		Short: "Validate workspace configurations",
		Long: `Validate workspace configurations without running anything.

This command checks, for each workspace:
  - the config file against its schema
  - that the configured engine is available
  - that the workspace and settings policies compile

With no arguments every workspace is validated.`,
		Example: `  # Validate every workspace
  froyo validate

  # Validate specific workspaces
  froyo validate ops staging`,
		RunE: func(cmd *cobra.Command, args []string) error {
			names := args
			if len(names) == 0 {
				var err error
				if names, err = a.manager.List(); err != nil {
					return err
				}
			}

			type report struct {
				Workspace string `json:"workspace"`
				Valid     bool   `json:"valid"`
				Error     string `json:"error,omitempty"`
			}
			reports := make([]report, 0, len(names))
			failed := 0
			for _, name := range names {
				r := report{Workspace: name, Valid: true}
				if err := a.validateWorkspace(cmd, name); err != nil {
					r.Valid, r.Error = false, err.Error()
					failed++
				}
				reports = append(reports, r)
			}

			if err := a.print(cmd.OutOrStdout(), reports, func(w io.Writer) error {
				for _, r := range reports {
					if r.Valid {
						fmt.Fprintf(w, "ok    %s\n", r.Workspace)
					} else {
						fmt.Fprintf(w, "FAIL  %s: %s\n", r.Workspace, r.Error)
					}
				}
				return nil
			}); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d workspaces invalid", failed, len(reports))
			}
			return nil
		},
	}

	return cmd
}

func (a *app) validateWorkspace(cmd *cobra.Command, name string) error {
	ctx := cmd.Context()
	wc, err := a.manager.Open(ctx, name)
	if err != nil {
		return err
	}
	if !a.factory.Supports(engine.Kind(wc.Config.Engine)) {
		return hosterr.NewUnsupportedKindError(wc.Config.Engine, a.supportedKinds())
	}
	_, err = orchestrator.LoadGate(ctx, a.logger.Zerolog(), wc, a.settings.PolicyDirs)
	return err
}
