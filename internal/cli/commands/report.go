package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pulseguard/internal/api/client"
	"github.com/spf13/cobra"
)

func NewReportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Alert and scaling reports",
	}

	cmd.AddCommand(newReportSummaryCommand())
	return cmd
}

func newReportSummaryCommand() *cobra.Command {
	var (
		since  time.Duration
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize alerts and scaling actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.NewClient()
			if asJSON {
				summary, err := c.ReportSummary(since)
				if err != nil {
					return fmt.Errorf("failed to get report: %w", err)
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}

			text, err := c.ReportText(since)
			if err != nil {
				return fmt.Errorf("failed to get report: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), text)
			return nil
		},
	}

	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "How far back the report reaches")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the summary as JSON")
	return cmd
}
