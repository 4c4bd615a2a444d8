package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/pulseguard/internal/api/client"
	"github.com/pulseguard/internal/models"
	"github.com/spf13/cobra"
)

func NewScalingCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "scaling",
		Short:   "Scaling decision commands",
		Aliases: []string{"scale"},
	}

	cmd.AddCommand(newScalingStateCommand())
	return cmd
}

func newScalingStateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "state [policy]",
		Short: "Show the scaling state of every policy, or of one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.NewClient()

			var states []models.ScalingState
			if len(args) == 1 {
				state, err := c.ScalingState(args[0])
				if err != nil {
					return fmt.Errorf("failed to get scaling state: %w", err)
				}
				states = append(states, *state)
			} else {
				var err error
				if states, err = c.ScalingStates(); err != nil {
					return fmt.Errorf("failed to get scaling state: %w", err)
				}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "POLICY\tMETRIC\tINSTANCES\tLAST VALUE\tLAST DIRECTION\tLAST ACTION")
			for _, s := range states {
				fmt.Fprintf(w, "%s\t%s\t%d\t%.2f\t%s\t%s\n",
					s.Policy,
					s.MetricName,
					s.CurrentInstances,
					s.LastValue,
					s.LastDirection,
					formatTime(s.LastScaleActionAt),
				)
			}
			return w.Flush()
		},
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
