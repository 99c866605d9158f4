package main

import (
	"github.com/spf13/cobra"

	"autotrader-simv1/config"
)

var (
	strategiesFile string
	logLevel       string
)

var rootCmd = &cobra.Command{
	Use:   "simengine",
	Short: "Intraday strategy trading simulator",
	Long: `simengine evaluates user-authored strategies against a price feed and
simulates order placement, fills, positions, a margin wallet and risk limits.

Configuration comes from environment variables (see config/config.go);
flags override the strategy file and log level.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&strategiesFile, "strategies", "", "strategy YAML file (overrides STRATEGIES_FILE)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug|info|warn|error (overrides LOG_LEVEL)")
	rootCmd.AddCommand(runCmd, backtestCmd, reportCmd)
}

// loadConfig reads the environment and applies the persistent flags.
func loadConfig() *config.Config {
	cfg := config.Load()
	if strategiesFile != "" {
		cfg.StrategiesFile = strategiesFile
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg
}
