package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/fedlink/internal/config"
	logpkg "firestige.xyz/fedlink/internal/log"
	"firestige.xyz/fedlink/internal/metrics"
	"firestige.xyz/fedlink/pkg/federate"
	"firestige.xyz/fedlink/pkg/scheduler"
)

// Exit codes for the distinct fatal classes of the protocol.
const (
	exitConfig   = 1 // configuration error or unresolvable RTI host
	exitRetry    = 2 // connect retries exhausted
	exitProtocol = 3 // wire protocol violation
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Join a federation as a federate",
	Long: `
Connect to the RTI, negotiate the federation start time, and process inbound
events as logical time reaches their tags.

Examples:
  fedlink run -c config.yml       # join the federation described by config.yml
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

		opts := federate.Options{
			FederateID:    uint16(cfg.Federate.ID),
			RTIAddress:    cfg.RTIAddress(),
			RetryInterval: cfg.RetryInterval(),
			MaxRetries:    cfg.RTI.MaxRetries,
		}
		if d, ok := cfg.RunDuration(); ok {
			opts.Duration = d
		}

		sched := scheduler.NewQueueScheduler()
		runtime, err := federate.New(sched, opts)
		if err != nil {
			exitWithError(exitConfig, "creating federate runtime", err)
		}

		if err := runtime.SynchronizeStart(ctx); err != nil {
			switch {
			case errors.Is(err, federate.ErrUnresolvedHost):
				exitWithError(exitConfig, "RTI host did not resolve", err)
			case errors.Is(err, federate.ErrRetryExhausted):
				exitWithError(exitRetry, "could not reach the RTI", err)
			case errors.Is(err, federate.ErrProtocol):
				exitWithError(exitProtocol, "RTI spoke an incompatible protocol", err)
			default:
				exitWithError(exitConfig, "start synchronization failed", err)
			}
		}

		slog.Info("federate started",
			"federate", cfg.Federate.ID,
			"start", runtime.StartTime().Time(),
		)

		// Bound the run when a duration is configured.
		if stop, ok := runtime.StopTime(); ok {
			var stopCancel context.CancelFunc
			ctx, stopCancel = context.WithDeadline(ctx, stop.Time())
			defer stopCancel()
		}

		runEventLoop(ctx, sched)

		runtime.Close()
		if err := runtime.Wait(); err != nil {
			if errors.Is(err, federate.ErrProtocol) {
				exitWithError(exitProtocol, "listener stopped", err)
			}
			exitWithError(exitConfig, "listener stopped", err)
		}
		slog.Info("federate stopped")
	},
}

// runEventLoop pops events as wall-clock time reaches their logical tags and
// logs each delivery. It returns when ctx is cancelled or the stop time cuts
// the queue off.
func runEventLoop(ctx context.Context, sched *scheduler.QueueScheduler) {
	for {
		tag, ok := sched.PeekTag()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-sched.Wake():
				continue
			}
		}

		// Align with physical time; an earlier event may still arrive while
		// we wait, so a wake re-examines the queue head.
		if d := time.Until(tag.Time()); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-sched.Wake():
				timer.Stop()
				continue
			case <-timer.C:
			}
		}

		evt, ok := sched.PopNext()
		if !ok {
			// The earliest event lies beyond the stop time.
			return
		}
		slog.Info("event fired",
			"trigger", evt.Trigger,
			"tag", evt.Tag.Time(),
			"bytes", len(evt.Payload),
		)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
}
