package main

import (
	"fmt"
	"os"

	"github.com/pulseguard/internal/cli/commands"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pulseguard-cli",
	Short: "PulseGuard CLI - alerts and scaling decisions from the command line",
	Long: `pulseguard-cli talks to a running PulseGuard engine over its HTTP API.
Set PULSEGUARD_API_URL to point it at an engine other than http://localhost:8080.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(commands.NewAlertCommand())
	rootCmd.AddCommand(commands.NewRuleCommand())
	rootCmd.AddCommand(commands.NewScalingCommand())
	rootCmd.AddCommand(commands.NewMetricCommand())
	rootCmd.AddCommand(commands.NewReportCommand())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
