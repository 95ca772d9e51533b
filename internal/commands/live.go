package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/feed-sync/internal/app"
	"github.com/feed-sync/pkg/config"
	"github.com/feed-sync/pkg/logger"
)

var (
	livePort     int
	liveHost     string
	liveLogLevel string
)

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Run the live synchronized feed",
	Long: `Start the live data feed.

This connects the full stack:
• NATS subscriptions for every active instrument
• Wall-clock barrier synchronization across all streams
• Redis latest-record cache and InfluxDB bar persistence
• Status API with websocket slice streaming

Examples:
  feed-sync live                    # Start with default settings
  feed-sync live --port 9090        # Status API on custom port
  feed-sync live --log-level debug  # Enable debug logging`,
	RunE: runLive,
}

func init() {
	rootCmd.AddCommand(liveCmd)

	liveCmd.Flags().IntVarP(&livePort, "port", "p", 0, "Status API port (overrides SERVER_PORT)")
	liveCmd.Flags().StringVarP(&liveHost, "host", "H", "", "Status API host (overrides SERVER_HOST)")
	liveCmd.Flags().StringVarP(&liveLogLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if livePort > 0 {
		cfg.Server.Port = livePort
	}
	if liveHost != "" {
		cfg.Server.Host = liveHost
	}
	if liveLogLevel != "" {
		cfg.Logging.Level = liveLogLevel
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a := app.New(cfg, log)
	defer a.Close()

	log.WithField("address", cfg.GetServerAddr()).Info("Starting live feed")

	return a.RunLive(ctx)
}
