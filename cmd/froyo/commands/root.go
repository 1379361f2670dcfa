package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	home        string
	configFile  string
	logLevel    string
	logFormat   string
	metricsAddr string
	workspace   string
	jsonOutput  bool
}

// flagKeys binds persistent flags to settings keys.
var flagKeys = map[string]string{
	"home":         "home",
	"log-level":    "log.level",
	"log-format":   "log.format",
	"metrics-addr": "metrics.address",
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	a := &app{version: version}
	return a.execute(ctx, newRootCommand(a, commit, buildDate))
}

// execute runs rootCmd and releases what setup opened, also after a
// failed command.
func (a *app) execute(ctx context.Context, rootCmd *cobra.Command) error {
	err := rootCmd.ExecuteContext(ctx)
	if closeErr := a.close(ctx); closeErr != nil {
		return errors.Join(err, closeErr)
	}
	return err
}

func newRootCommand(a *app, commit, buildDate string) *cobra.Command {
	version := a.version

	rootCmd := &cobra.Command{
		Use:   "froyo",
		Short: "froyo - scripting host with pluggable engines",
		Long: `froyo runs automation scripts written in JavaScript, Starlark, Lua or
expr against one capability surface:

  - store:   persistent key-value storage scoped to the workspace
  - http:    HTTP requests with workspace default headers
  - fs:      file access relative to the workspace directory
  - process: command execution
  - package: system package management

Each workspace selects its engine and owns its own store. Capability calls
pass through OPA policies before they run.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	// Persistent flags available to all commands
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.flags.home, "home", "", "froyo home directory (default $FROYO_HOME or ~/.froyo)")
	pf.StringVarP(&a.flags.configFile, "config", "c", "", "settings file (default <home>/config.cue)")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&a.flags.logFormat, "log-format", "", "log format (json, console)")
	pf.StringVar(&a.flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	pf.StringVarP(&a.flags.workspace, "workspace", "w", "", "workspace to use instead of the active one")
	pf.BoolVar(&a.flags.jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newInitCommand(a))
	rootCmd.AddCommand(newWorkspaceCommand(a))
	rootCmd.AddCommand(newRunCommand(a))
	rootCmd.AddCommand(newEvalCommand(a))
	rootCmd.AddCommand(newStoreCommand(a))
	rootCmd.AddCommand(newBackupCommand(a))
	rootCmd.AddCommand(newRestoreCommand(a))
	rootCmd.AddCommand(newHistoryCommand(a))
	rootCmd.AddCommand(newValidateCommand(a))
	rootCmd.AddCommand(newPolicyCommand(a))
	rootCmd.AddCommand(newEnginesCommand(a))

	return rootCmd
}
