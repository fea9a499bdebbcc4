// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/fedlink/internal/config"
	"firestige.xyz/fedlink/internal/metrics"
)

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "fedlink",
	Short: "Fedlink - federation runtime protocol client and local RTI broker",
	Long: `Fedlink lets a single reactive program run as multiple independently
scheduled federates that behave as one logically consistent real-time program.

Each federate connects to a central coordinator (the RTI), negotiates a
common logical start time, and exchanges timed and untimed messages over a
fixed binary wire protocol while its local scheduler advances logical time.

Commands:
  run   join a federation as a federate and process inbound events
  rti   run a local RTI broker for a fixed-size federation`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/fedlink/config.yml",
		"config file path")
}

// metricsOptions maps the metrics config onto server options.
func metricsOptions(cfg *config.Config) metrics.ServerOptions {
	read, write, idle := cfg.Metrics.Timeouts()
	return metrics.ServerOptions{
		Addr:         cfg.Metrics.Listen,
		Path:         cfg.Metrics.Path,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}
}

// exitWithError prints error message and exits with the given code.
func exitWithError(code int, msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(code)
}
