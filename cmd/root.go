package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/doorstep-labs/doorstep/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "doorstep",
	Short: "Property listing enrichment pipeline",
	Long:  "Enriches a real-estate listing URL into a unified report: coordinates, nearby stations, plot size from the land registry, local sold prices, attended schools, and an LLM summary.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A local .env feeds credentials into viper's env layer.
		_ = godotenv.Load()

		c, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if _, err := config.InitLogger(cfg); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./doorstep.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
