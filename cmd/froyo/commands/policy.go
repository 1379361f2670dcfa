package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/scripthost/pkg/orchestrator"
	"github.com/openfroyo/scripthost/pkg/policy"
	"github.com/openfroyo/scripthost/pkg/value"
)

func newPolicyCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect the policies gating capability calls",
		Long: `Every capability call a script makes is evaluated against the built-in
policies, the policy directories from settings and the workspace's own
policy. Violations of error or critical severity deny the call; others are
logged as warnings.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the policies in effect for the workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			wc, err := a.workspace(ctx)
			if err != nil {
				return err
			}
			gate, err := orchestrator.LoadGate(ctx, a.logger.Zerolog(), wc, a.settings.PolicyDirs)
			if err != nil {
				return err
			}
			policies := gate.ListPolicies()
			for i := range policies {
				policies[i].Rego = ""
			}

			return a.print(cmd.OutOrStdout(), policies, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tSEVERITY\tENABLED\tDESCRIPTION")
				for _, p := range policies {
					fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", p.Name, p.Severity, p.Enabled, p.Description)
				}
				return tw.Flush()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check <object> <member> [arg...]",
		Short: "Evaluate a capability call without running it",
		Long: `Evaluate the policies for a capability call. Arguments are JSON, falling
back to plain strings. The command fails when the call would be denied.`,
		Example: `  froyo policy check process runCommand true null "rm -rf /"
  froyo policy check http get http://example.com '{"Authorization": "Basic x"}'`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			wc, err := a.workspace(ctx)
			if err != nil {
				return err
			}
			gate, err := orchestrator.LoadGate(ctx, a.logger.Zerolog(), wc, a.settings.PolicyDirs)
			if err != nil {
				return err
			}

			input := &policy.Input{
				Workspace: wc.Name,
				Object:    args[0],
				Member:    args[1],
				Op:        args[0] + "." + args[1],
				Args:      make([]interface{}, 0, len(args)-2),
			}
			for _, raw := range args[2:] {
				input.Args = append(input.Args, value.ToGo(parseValue(raw, false)))
			}

			decision, err := gate.Evaluate(ctx, input)
			if err != nil {
				return err
			}
			if err := a.print(cmd.OutOrStdout(), decision, func(w io.Writer) error {
				for _, v := range decision.Violations {
					fmt.Fprintf(w, "DENY  [%s] %s: %s\n", v.Severity, v.Policy, v.Message)
				}
				for _, v := range decision.Warnings {
					fmt.Fprintf(w, "WARN  [%s] %s: %s\n", v.Severity, v.Policy, v.Message)
				}
				if decision.Allowed {
					fmt.Fprintf(w, "%s allowed\n", input.Op)
				}
				return nil
			}); err != nil {
				return err
			}
			if !decision.Allowed {
				return fmt.Errorf("%s denied by policy", input.Op)
			}
			return nil
		},
	})

	return cmd
}
