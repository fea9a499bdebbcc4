package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/fedlink/internal/config"
	logpkg "firestige.xyz/fedlink/internal/log"
	"firestige.xyz/fedlink/internal/metrics"
	"firestige.xyz/fedlink/internal/rti"
)

var rtiCmd = &cobra.Command{
	Use:   "rti",
	Short: "Run a local RTI broker",
	Long: `
Run the runtime-infrastructure broker for a fixed-size federation: register
federates, assign the common logical start time, and relay messages between
federates.

The expected federation size comes from rti.federates in the config file.

Examples:
  fedlink rti -c config.yml       # serve the federation described by config.yml
`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configFile)
		if err != nil {
			exitWithError(exitConfig, "loading config", err)
		}
		if err := logpkg.Init(cfg.Log); err != nil {
			exitWithError(exitConfig, "initializing logging", err)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		if cfg.Metrics.Enabled {
			srv := metrics.NewServer(metricsOptions(cfg))
			if err := srv.Start(ctx); err != nil {
				exitWithError(exitConfig, "starting metrics server", err)
			}
			defer srv.Stop(context.Background())
		}

		broker := rti.NewBroker(cfg.RTI.Federates)
		if err := broker.Listen(cfg.RTIAddress()); err != nil {
			exitWithError(exitConfig, "binding broker address", err)
		}

		if err := broker.Run(ctx); err != nil && ctx.Err() == nil {
			exitWithError(exitProtocol, "broker stopped", err)
		}
		slog.Info("broker stopped")
	},
}

func init() {
	rootCmd.AddCommand(rtiCmd)
}
