package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/yairfalse/snaptag/internal/daemon"
)

var (
	daemonInterval    time.Duration
	daemonMetricsAddr string
	daemonDryRun      bool
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run reconciliation on an interval",
	Long: `Run snaptag in daemon mode: one reconciliation pass at startup and one
per interval after that, with metrics served over HTTP.

Endpoints:
- /metrics  Prometheus metrics
- /healthz  liveness
- /readyz   ready once the first pass has finished
- /health   JSON status of the last pass`,
	Example: `  snaptag daemon                          # Interval from config (default 24h)
  snaptag daemon --interval 1h            # Hourly passes
  snaptag daemon --metrics-addr :2112     # Custom metrics address`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().DurationVar(&daemonInterval, "interval", 0, "Reconciliation interval (overrides daemon.interval)")
	daemonCmd.Flags().StringVar(&daemonMetricsAddr, "metrics-addr", "", "Metrics HTTP server address (overrides daemon.metrics_addr)")
	daemonCmd.Flags().BoolVar(&daemonDryRun, "dry-run", false, "Compute and log tag writes without applying them")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if daemonInterval > 0 {
		cfg.Daemon.Interval = daemonInterval
	}
	if daemonMetricsAddr != "" {
		cfg.Daemon.MetricsAddr = daemonMetricsAddr
	}

	a, err := newApp(ctx, cfg, appOptions{dryRun: daemonDryRun, prometheus: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	metrics, err := daemon.NewMetrics(a.telemetry.Meter())
	if err != nil {
		return fmt.Errorf("create daemon metrics: %w", err)
	}

	d, err := daemon.NewDaemon(daemon.Config{Interval: cfg.Daemon.Interval}, a.reconciler, metrics, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	var g run.Group
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return d.Start(ctx)
		}, func(error) {
			cancel()
		})
	}
	{
		srv := &http.Server{
			Addr:              cfg.Daemon.MetricsAddr,
			Handler:           newServeMux(d),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Add(func() error {
			a.logger.Info().Str("addr", srv.Addr).Msg("starting metrics server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	}
	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))

	a.logger.Info().
		Str("rule", cfg.RuleName).
		Dur("interval", cfg.Daemon.Interval).
		Bool("dry_run", daemonDryRun || cfg.Reconcile.DryRun).
		Msg("snaptag daemon starting")

	err = g.Run()

	var sigErr run.SignalError
	if errors.As(err, &sigErr) || errors.Is(err, context.Canceled) {
		a.logger.Info().Str("reason", err.Error()).Msg("shutting down")
		return nil
	}
	return err
}
