package commands

import (
	"github.com/spf13/cobra"
)

var (
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "feed-sync",
	Short: "Synchronized multi-stream market data feed",
	Long: `A market data feed engine that merges any number of record streams
into a single time-ordered sequence of snapshots.

Features:
• Frontier-synchronized merge across symbols, kinds and resolutions
• Fill-forward densification bounded by exchange tradable hours
• Dynamic universe selection with membership dwell policies
• Backtest mode over day files or InfluxDB, live mode over NATS
• Status API with websocket slice streaming`,
	Version: "1.0.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
