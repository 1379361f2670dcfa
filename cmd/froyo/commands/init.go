package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/openfroyo/scripthost/pkg/config"
	"github.com/openfroyo/scripthost/pkg/hosterr"
	"github.com/openfroyo/scripthost/pkg/workspace"
)

const defaultSettings = `// froyo settings
default_engine: %q

log: {
	level:  "info"
	format: "console"
}

metrics: enabled: true

tracing: {
	enabled:  false
	exporter: "none"
}
`

func newInitCommand(a *app) *cobra.Command {
	var (
		name   string
		engine string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the froyo home directory",
		Long: `Initialize the froyo home directory with a settings file and a first
workspace, and make that workspace active.

Existing settings and workspaces are left untouched.`,
		Example: `  # Initialize with a JavaScript workspace named "default"
  froyo init

  # Initialize with a Starlark workspace
  froyo init --name ops --engine starlark`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			home := a.settings.Home
			if engine == "" {
				engine = a.settings.DefaultEngine
			}

			settingsPath := filepath.Join(home, config.SettingsFileName)
			wroteSettings := false
			if _, err := os.Stat(settingsPath); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(settingsPath, []byte(fmt.Sprintf(defaultSettings, engine)), 0o644); err != nil {
					return fmt.Errorf("failed to write settings: %w", err)
				}
				wroteSettings = true
			}

			created := false
			if _, err := a.manager.Get(name); hosterr.IsKind(err, hosterr.KindNotFound) {
				if _, err := a.manager.Create(ctx, workspace.Config{Name: name, Engine: engine}); err != nil {
					return err
				}
				created = true
			} else if err != nil {
				return err
			}
			wc, err := a.manager.SetActive(ctx, name)
			if err != nil {
				return err
			}

			a.logger.WithWorkspace(name).WithEngine(wc.Config.Engine).Info("Home initialized")

			result := map[string]interface{}{
				"home":              home,
				"settings":          settingsPath,
				"settings_created":  wroteSettings,
				"workspace":         wc.Name,
				"workspace_created": created,
				"engine":            wc.Config.Engine,
			}
			return a.print(cmd.OutOrStdout(), result, func(w io.Writer) error {
				if wroteSettings {
					fmt.Fprintf(w, "Created settings: %s\n", settingsPath)
				}
				if created {
					fmt.Fprintf(w, "Created workspace %q (%s)\n", wc.Name, wc.Config.Engine)
				}
				fmt.Fprintf(w, "Active workspace: %s\n", wc.Name)
				fmt.Fprintf(w, "\nNext steps:\n  froyo eval 'store.set(\"hello\", \"world\")'\n  froyo store keys\n")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "default", "name of the first workspace")
	cmd.Flags().StringVar(&engine, "engine", "", "engine of the first workspace (default from settings)")

	return cmd
}
