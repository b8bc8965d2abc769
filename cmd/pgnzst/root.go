package main

import "github.com/spf13/cobra"

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "pgnzst",
	Short:         "Bucket games from .pgn.zst archives into parquet files by rating",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(inspectCmd)

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error); overrides config")
}
