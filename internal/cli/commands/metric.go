package commands

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/pulseguard/internal/api/client"
	"github.com/pulseguard/internal/models"
	"github.com/spf13/cobra"
)

func NewMetricCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "metric",
		Short:   "Metric sample commands",
		Aliases: []string{"metrics", "m"},
	}

	cmd.AddCommand(newMetricPushCommand())
	cmd.AddCommand(newMetricWindowCommand())

	return cmd
}

func newMetricPushCommand() *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "push [name] [value]",
		Short: "Record one sample",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid value %q: %w", args[1], err)
			}
			ts := time.Now()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid time: %w", err)
				}
				ts = t
			}

			sample := models.MetricSample{MetricName: args[0], Value: value, Timestamp: ts}
			if _, err := client.NewClient().PushSamples(sample); err != nil {
				return fmt.Errorf("failed to push sample: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s=%g at %s\n", sample.MetricName, value, ts.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "Sample time (RFC3339 format, default now)")
	return cmd
}

func newMetricWindowCommand() *cobra.Command {
	var (
		duration time.Duration
		count    int
		watch    bool
	)

	cmd := &cobra.Command{
		Use:   "window [name]",
		Short: "Show the recent samples of a metric",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.NewClient()
			out := cmd.OutOrStdout()

			if watch {
				ticker := time.NewTicker(2 * time.Second)
				defer ticker.Stop()

				for {
					if err := displayWindow(out, c, args[0], duration, count); err != nil {
						return err
					}
					select {
					case <-cmd.Context().Done():
						return nil
					case <-ticker.C:
					}
					fmt.Fprint(out, "\033[H\033[2J") // Clear screen
				}
			}

			return displayWindow(out, c, args[0], duration, count)
		},
	}

	cmd.Flags().DurationVarP(&duration, "duration", "d", 5*time.Minute, "Window length")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Show the last N samples instead of a time window")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Refresh every two seconds")
	return cmd
}

func displayWindow(out io.Writer, c *client.Client, name string, duration time.Duration, count int) error {
	samples, err := c.MetricWindow(name, duration, count)
	if err != nil {
		return fmt.Errorf("failed to get metric window: %w", err)
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tVALUE")
	for _, s := range samples {
		fmt.Fprintf(w, "%s\t%.2f\n", s.Timestamp.Format(time.RFC3339), s.Value)
	}
	if len(samples) > 0 {
		stats := models.SummarizeWindow(samples)
		fmt.Fprintf(w, "\nsamples=%d\tmin=%.2f max=%.2f avg=%.2f\n", stats.Count, stats.Min, stats.Max, stats.Avg)
	}
	return w.Flush()
}
