package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/scripthost/pkg/orchestrator"
	"github.com/openfroyo/scripthost/pkg/value"
	"github.com/openfroyo/scripthost/pkg/workspace"
)

func newRunCommand(a *app) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "run <script>",
		Short: "Run a script in a workspace",
		Long: `Run a script file with the engine of the active workspace, or the
workspace given by --workspace. A script path of "-" reads standard input.

The script result is printed on success. Script errors, uncaught capability
errors and timeouts exit with status 1. Every run is recorded in the
workspace history.`,
		Example: `  # Run a script in the active workspace
  froyo run deploy.js

  # Run in another workspace and print the result as JSON
  froyo run -w ops check.star --json

  # Re-run whenever the workspace config changes
  froyo run poll.lua --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := readScript(cmd, args[0])
			if err != nil {
				return err
			}
			if watch {
				return a.runWatch(cmd, source)
			}

			wc, err := a.workspace(cmd.Context())
			if err != nil {
				return err
			}
			return a.runOnce(cmd, wc, source)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "re-run when the workspace config changes")

	return cmd
}

func newEvalCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "eval <source>",
		Short: "Evaluate inline script source",
		Example: `  froyo eval 'store.set("a", 1); store.get("a")'
  froyo eval -w lua-ws 'return store.keys()'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wc, err := a.workspace(cmd.Context())
			if err != nil {
				return err
			}
			return a.runOnce(cmd, wc, args[0])
		},
	}
}

func readScript(cmd *cobra.Command, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read script: %w", err)
	}
	return string(data), nil
}

func (a *app) runOnce(cmd *cobra.Command, wc *workspace.Context, source string) error {
	ctx := cmd.Context()
	o, err := a.orchestrator(ctx, wc)
	if err != nil {
		return err
	}
	res, err := o.Run(ctx, source)
	if err != nil {
		return err
	}
	return a.printResult(cmd.OutOrStdout(), wc, res)
}

// runWatch runs source, then again after every reload of the workspace
// config, until the command context ends.
func (a *app) runWatch(cmd *cobra.Command, source string) error {
	ctx := cmd.Context()
	wc, err := a.workspace(ctx)
	if err != nil {
		return err
	}
	if err := a.manager.Watch(ctx); err != nil {
		return err
	}

	o := orchestrator.New(orchestrator.Options{
		Telemetry:  a.tel,
		PolicyDirs: a.settings.PolicyDirs,
	})
	for {
		a.runWatched(ctx, cmd, o, wc, source)

		select {
		case <-ctx.Done():
			return nil
		case wc = <-a.reloads:
			a.logger.WithWorkspace(wc.Name).WithEngine(wc.Config.Engine).Info("Config changed, re-running")
		}
	}
}

func (a *app) runWatched(ctx context.Context, cmd *cobra.Command, o *orchestrator.Orchestrator, wc *workspace.Context, source string) {
	if err := o.Initialize(ctx, wc, a.factory); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		return
	}
	res, err := o.Run(ctx, source)
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		return
	}
	if err := a.printResult(cmd.OutOrStdout(), wc, res); err != nil {
		a.logger.WithError(err).Warn("Failed to print result")
	}
}

func (a *app) printResult(w io.Writer, wc *workspace.Context, res *orchestrator.Result) error {
	out := struct {
		RunID     string      `json:"run_id"`
		Workspace string      `json:"workspace"`
		Engine    string      `json:"engine"`
		Value     value.Value `json:"value"`
		Duration  string      `json:"duration"`
	}{
		RunID:     res.RunID,
		Workspace: wc.Name,
		Engine:    wc.Config.Engine,
		Value:     res.Value,
		Duration:  res.Duration.Round(time.Microsecond).String(),
	}
	return a.print(w, out, func(w io.Writer) error {
		if res.Value.IsNull() {
			return nil
		}
		_, err := fmt.Fprintln(w, res.Value.String())
		return err
	})
}
