package main

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cropprice/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "cropprice",
	Short: "Nearby market prices for a crop",
	Long:  "Finds the reference districts nearest a coordinate, fetches recent mandi prices for a crop from the open data portal and summarizes the top markets per kilogram.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func init() {
	// Prices render as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
