package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/pulseguard/internal/alert"
	"github.com/pulseguard/internal/api/client"
	"github.com/pulseguard/internal/models"
	"github.com/spf13/cobra"
)

func NewRuleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rule",
		Short:   "Alert rule commands",
		Aliases: []string{"rules", "r"},
	}

	cmd.AddCommand(newRuleListCommand())
	cmd.AddCommand(newRuleStatusCommand())
	cmd.AddCommand(newRuleToggleCommand("enable", "Enable a rule", true))
	cmd.AddCommand(newRuleToggleCommand("disable", "Disable a rule", false))
	cmd.AddCommand(newRuleValidateCommand())
	cmd.AddCommand(newRuleTestCommand())

	return cmd
}

func newRuleListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List alert rules",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := client.NewClient().ListRules()
			if err != nil {
				return fmt.Errorf("failed to list rules: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tMETRIC\tCONDITION\tFOR\tSEVERITY\tENABLED")
			for _, r := range rules {
				fmt.Fprintf(w, "%s\t%s\t%s %g\t%s\t%s\t%t\n",
					r.ID,
					r.MetricName,
					r.Comparator,
					r.Threshold,
					r.SustainedFor,
					r.Severity,
					r.Enabled,
				)
			}
			return w.Flush()
		},
	}
}

func newRuleStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last evaluation outcome of every rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := client.NewClient().RuleStatuses()
			if err != nil {
				return fmt.Errorf("failed to get rule status: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "RULE\tSTATE\tSAMPLES\tMIN\tMAX\tEVALUATED\tDETAIL")
			for _, s := range statuses {
				fmt.Fprintf(w, "%s\t%s\t%d\t%.2f\t%.2f\t%s\t%s\n",
					s.RuleID,
					s.State,
					s.Window.Count,
					s.Window.Min,
					s.Window.Max,
					s.EvaluatedAt.Format(time.RFC3339),
					s.Detail,
				)
			}
			return w.Flush()
		},
	}
}

func newRuleToggleCommand(action, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   action + " [rule_id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := client.NewClient().SetRuleEnabled(args[0], enabled); err != nil {
				return fmt.Errorf("failed to %s rule: %w", action, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rule %s %sd\n", args[0], action)
			return nil
		},
	}
}

// newRuleValidateCommand checks a rules file locally, without the engine.
func newRuleValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a YAML or JSON rules file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := alert.ReadRuleSet(args[0])
			if err != nil {
				return err
			}
			if err := alert.NewRuleStore().Load(set); err != nil {
				return fmt.Errorf("invalid rules file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid: %d rules, %d policies, %d channels\n",
				args[0], len(set.Rules), len(set.Policies), len(set.Channels))
			return nil
		},
	}
}

func newRuleTestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Dry-run a rule read from stdin against the engine's current samples",
		RunE: func(cmd *cobra.Command, args []string) error {
			var rule models.AlertRule
			if err := json.NewDecoder(cmd.InOrStdin()).Decode(&rule); err != nil {
				return fmt.Errorf("invalid rule JSON: %w", err)
			}

			result, err := client.NewClient().DryRunRule(rule)
			if err != nil {
				return fmt.Errorf("failed to test rule: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "State: %s\n", result.Status.State)
			if result.Status.Detail != "" {
				fmt.Fprintf(out, "Detail: %s\n", result.Status.Detail)
			}
			if result.Event != nil {
				fmt.Fprintf(out, "Would emit: %s (value %.2f, severity %s)\n",
					result.Event.Kind, result.Event.ObservedValue, result.Event.Severity)
			}
			return nil
		},
	}
}
