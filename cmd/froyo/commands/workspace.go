package commands

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/scripthost/pkg/engine"
	"github.com/openfroyo/scripthost/pkg/hosterr"
	"github.com/openfroyo/scripthost/pkg/workspace"
)

func newWorkspaceCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workspace",
		Aliases: []string{"ws"},
		Short:   "Manage workspaces",
		Long: `Workspaces select a script engine and own a private store, working
directory, default HTTP headers, process environment and policies.`,
	}

	cmd.AddCommand(newWorkspaceCreateCommand(a))
	cmd.AddCommand(newWorkspaceListCommand(a))
	cmd.AddCommand(newWorkspaceUseCommand(a))
	cmd.AddCommand(newWorkspaceShowCommand(a))

	return cmd
}

func newWorkspaceCreateCommand(a *app) *cobra.Command {
	var (
		cfg workspace.Config
		use bool
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a workspace",
		Example: `  # Create a Lua workspace and switch to it
  froyo workspace create ops --engine lua --use

  # Create a workspace calling an API with default headers
  froyo workspace create api --base-url https://api.example.com \
    --header Authorization="Bearer $TOKEN" --timeout 30s`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg.Name = args[0]
			if cfg.Engine == "" {
				cfg.Engine = a.settings.DefaultEngine
			}
			if !a.factory.Supports(engine.Kind(cfg.Engine)) {
				return hosterr.NewUnsupportedKindError(cfg.Engine, a.supportedKinds())
			}

			wc, err := a.manager.Create(ctx, cfg)
			if err != nil {
				return err
			}
			if use {
				if wc, err = a.manager.SetActive(ctx, wc.Name); err != nil {
					return err
				}
			}

			return a.print(cmd.OutOrStdout(), workspaceInfo(wc, use), func(w io.Writer) error {
				fmt.Fprintf(w, "Created workspace %q (%s) in %s\n", wc.Name, wc.Config.Engine, wc.Dir)
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringVarP(&cfg.Engine, "engine", "e", "", "script engine (default from settings)")
	f.StringVar(&cfg.BaseURL, "base-url", "", "base URL for relative http requests")
	f.StringToStringVar(&cfg.Headers, "header", nil, "default HTTP header (Name=value)")
	f.StringToStringVar(&cfg.Env, "env", nil, "environment variable for spawned processes (KEY=value)")
	f.StringVar(&cfg.Timeout, "timeout", "", "per-run timeout, e.g. 30s")
	f.StringVar(&cfg.Policy, "policy", "", "Rego policy file or directory")
	f.StringVar(&cfg.PackageManager, "package-manager", "", "package backend (apt, dnf, yum, zypper, apk, brew)")
	f.BoolVar(&use, "use", false, "make the new workspace active")

	return cmd
}

func newWorkspaceListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List workspaces",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := a.manager.List()
			if err != nil {
				return err
			}
			active, _ := a.manager.ActiveName()

			type entry struct {
				Name   string `json:"name"`
				Engine string `json:"engine"`
				Active bool   `json:"active"`
			}
			entries := make([]entry, 0, len(names))
			for _, name := range names {
				cfg, err := a.manager.Get(name)
				if err != nil {
					a.logger.WithWorkspace(name).WithError(err).Warn("Skipping unreadable workspace")
					continue
				}
				entries = append(entries, entry{Name: name, Engine: cfg.Engine, Active: name == active})
			}

			return a.print(cmd.OutOrStdout(), entries, func(w io.Writer) error {
				if len(entries) == 0 {
					fmt.Fprintln(w, "No workspaces; run 'froyo init' or 'froyo workspace create <name>'")
					return nil
				}
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				for _, e := range entries {
					marker := " "
					if e.Active {
						marker = "*"
					}
					fmt.Fprintf(tw, "%s %s\t%s\n", marker, e.Name, e.Engine)
				}
				return tw.Flush()
			})
		},
	}
}

func newWorkspaceUseCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "use <name>",
		Short: "Set the active workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wc, err := a.manager.SetActive(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), workspaceInfo(wc, true), func(w io.Writer) error {
				fmt.Fprintf(w, "Active workspace: %s (%s)\n", wc.Name, wc.Config.Engine)
				return nil
			})
		},
	}
}

func newWorkspaceShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show [name]",
		Short: "Show a workspace's configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := a.flags.workspace
			if len(args) > 0 {
				name = args[0]
			}
			wc, err := a.manager.Activate(cmd.Context(), name)
			if err != nil {
				return err
			}
			active, _ := a.manager.ActiveName()

			return a.print(cmd.OutOrStdout(), workspaceInfo(wc, wc.Name == active), func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintf(tw, "Name:\t%s\n", wc.Name)
				fmt.Fprintf(tw, "Engine:\t%s\n", wc.Config.Engine)
				fmt.Fprintf(tw, "Directory:\t%s\n", wc.Dir)
				if wc.Config.BaseURL != "" {
					fmt.Fprintf(tw, "Base URL:\t%s\n", wc.Config.BaseURL)
				}
				for _, h := range wc.SortedHeaders() {
					fmt.Fprintf(tw, "Header:\t%s\n", h)
				}
				for _, k := range sortedKeys(wc.Config.Env) {
					fmt.Fprintf(tw, "Env:\t%s=%s\n", k, wc.Config.Env[k])
				}
				if wc.Config.Timeout != "" {
					fmt.Fprintf(tw, "Timeout:\t%s\n", wc.Config.Timeout)
				}
				if wc.Config.Policy != "" {
					fmt.Fprintf(tw, "Policy:\t%s\n", wc.Config.Policy)
				}
				if wc.Config.PackageManager != "" {
					fmt.Fprintf(tw, "Package manager:\t%s\n", wc.Config.PackageManager)
				}
				return tw.Flush()
			})
		},
	}
}

func workspaceInfo(wc *workspace.Context, active bool) map[string]interface{} {
	return map[string]interface{}{
		"name":   wc.Name,
		"dir":    wc.Dir,
		"active": active,
		"config": wc.Config,
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
