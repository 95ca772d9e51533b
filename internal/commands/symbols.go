package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/feed-sync/internal/database"
	"github.com/feed-sync/internal/symbols"
	"github.com/feed-sync/pkg/config"
	"github.com/feed-sync/pkg/logger"
)

var symbolsCmd = &cobra.Command{
	Use:   "symbols",
	Short: "Manage the instrument master",
	Long:  "Commands for viewing and updating instruments in the master database",
}

var listSymbolsCmd = &cobra.Command{
	Use:   "list",
	Short: "List instruments",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, closeFn, err := openSymbolsManager()
		if err != nil {
			return err
		}
		defer closeFn()

		exchange, _ := cmd.Flags().GetString("exchange")
		pattern, _ := cmd.Flags().GetString("search")
		limit, _ := cmd.Flags().GetInt("limit")

		var list []string
		switch {
		case pattern != "":
			for _, info := range mgr.Search(pattern) {
				list = append(list, formatInstrument(info.Symbol, info.Exchange, info.IsActive))
			}
		case exchange != "":
			for _, info := range mgr.ByExchange(exchange) {
				list = append(list, formatInstrument(info.Symbol, info.Exchange, info.IsActive))
			}
		default:
			for symbol, info := range mgr.All() {
				list = append(list, formatInstrument(symbol, info.Exchange, info.IsActive))
			}
		}

		if limit > 0 && len(list) > limit {
			list = list[:limit]
		}

		fmt.Printf("%-16s %-12s %s\n", "SYMBOL", "EXCHANGE", "ACTIVE")
		fmt.Println(strings.Repeat("-", 40))
		for _, line := range list {
			fmt.Println(line)
		}
		fmt.Printf("\n%d instruments\n", len(list))
		return nil
	},
}

var activateSymbolCmd = &cobra.Command{
	Use:   "activate <symbol>",
	Short: "Mark an instrument active",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setSymbolActive(args[0], true)
	},
}

var deactivateSymbolCmd = &cobra.Command{
	Use:   "deactivate <symbol>",
	Short: "Mark an instrument inactive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setSymbolActive(args[0], false)
	},
}

func init() {
	rootCmd.AddCommand(symbolsCmd)
	symbolsCmd.AddCommand(listSymbolsCmd)
	symbolsCmd.AddCommand(activateSymbolCmd)
	symbolsCmd.AddCommand(deactivateSymbolCmd)

	listSymbolsCmd.Flags().String("exchange", "", "Filter by exchange")
	listSymbolsCmd.Flags().String("search", "", "Filter by symbol or name substring")
	listSymbolsCmd.Flags().Int("limit", 0, "Limit output rows")
}

func openSymbolsManager() (*symbols.Manager, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	mysqlClient, err := database.NewMySQLClient(&cfg.MySQL, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}

	mgr := symbols.NewManager(mysqlClient, log)
	if err := mgr.Initialize(context.Background()); err != nil {
		mysqlClient.Close()
		return nil, nil, fmt.Errorf("failed to initialize instruments: %w", err)
	}

	return mgr, func() { mysqlClient.Close() }, nil
}

func setSymbolActive(symbol string, active bool) error {
	mgr, closeFn, err := openSymbolsManager()
	if err != nil {
		return err
	}
	defer closeFn()

	if err := mgr.SetActive(context.Background(), symbol, active); err != nil {
		return err
	}
	fmt.Printf("%s active=%v\n", symbol, active)
	return nil
}

func formatInstrument(symbol, exchange string, active bool) string {
	return fmt.Sprintf("%-16s %-12s %v", symbol, exchange, active)
}
