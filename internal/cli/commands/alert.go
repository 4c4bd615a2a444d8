package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/pulseguard/internal/api/client"
	"github.com/spf13/cobra"
)

func NewAlertCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "alert",
		Short:   "Alert management commands",
		Aliases: []string{"alerts", "a"},
	}

	cmd.AddCommand(newAlertListCommand())
	cmd.AddCommand(newAlertAcknowledgeCommand())
	cmd.AddCommand(newAlertResolveCommand())

	return cmd
}

func newAlertListCommand() *cobra.Command {
	var (
		status   string
		severity string
	)

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List alerts",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			alerts, err := client.NewClient().ListAlerts(status, severity)
			if err != nil {
				return fmt.Errorf("failed to list alerts: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tRULE\tSEVERITY\tSTATUS\tVALUE\tCOUNT\tTRIGGERED")
			for _, a := range alerts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%d\t%s\n",
					a.ID,
					a.RuleID,
					a.Severity,
					a.Status,
					a.ObservedValue,
					a.Occurrences,
					a.TriggeredAt.Format(time.RFC3339),
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by alert status (active/acknowledged/resolved)")
	cmd.Flags().StringVar(&severity, "severity", "", "Filter by severity (critical/high/medium/low)")

	return cmd
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}

func newAlertAcknowledgeCommand() *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:     "acknowledge [alert_id]",
		Short:   "Acknowledge an alert",
		Aliases: []string{"ack"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := client.NewClient().AcknowledgeAlert(args[0], actor); err != nil {
				return fmt.Errorf("failed to acknowledge alert: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Alert %s acknowledged by %s\n", args[0], actor)
			return nil
		},
	}

	cmd.Flags().StringVar(&actor, "actor", defaultActor(), "Who is acknowledging the alert")
	return cmd
}

func newAlertResolveCommand() *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "resolve [alert_id]",
		Short: "Resolve an alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := client.NewClient().ResolveAlert(args[0], actor); err != nil {
				return fmt.Errorf("failed to resolve alert: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Alert %s resolved by %s\n", args[0], actor)
			return nil
		},
	}

	cmd.Flags().StringVar(&actor, "actor", defaultActor(), "Who is resolving the alert")
	return cmd
}
