package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "aquabridge",
	Short: "Water quality telemetry pipeline - edge bridge and stream processor",
	Long: `Aquabridge ingests water-quality telemetry from embedded sensor nodes.
The bridge subcommand runs the edge-facing MQTT bridge that buffers and
batch-publishes readings to the cloud queue. The processor subcommand
runs the cloud stream processor that validates readings, persists
time-series state and raises deduplicated alerts.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(bridgeCmd)
	rootCmd.AddCommand(processorCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
