package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/yairfalse/snaptag/internal/audit"
	"github.com/yairfalse/snaptag/internal/aws"
	"github.com/yairfalse/snaptag/internal/config"
	"github.com/yairfalse/snaptag/internal/filter"
	"github.com/yairfalse/snaptag/internal/history"
	"github.com/yairfalse/snaptag/internal/policy"
	"github.com/yairfalse/snaptag/internal/reconciler"
	"github.com/yairfalse/snaptag/internal/tagging"
	"github.com/yairfalse/snaptag/internal/telemetry"
)

// appOptions are per-command overrides on top of the loaded config.
type appOptions struct {
	dryRun     bool
	prometheus bool
	// noStorage leaves the audit journal and run history closed, for
	// commands that never reconcile.
	noStorage bool
}

// app holds everything a reconciliation pass needs.
type app struct {
	cfg          *config.Config
	logger       *telemetry.Logger
	telemetry    *telemetry.Provider
	client       *aws.Client
	placeholders *tagging.Placeholders
	reconciler   *reconciler.Reconciler
	history      *history.Store
	journal      *audit.Journal
}

// loadConfig loads .env files, the YAML file and the environment.
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnvFiles(envFiles...); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath, os.Environ())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := applyLogLevel(cfg.Log.Level); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(w io.Writer) *telemetry.Logger {
	if debug {
		w = zerolog.ConsoleWriter{Out: w}
	}
	return telemetry.NewLoggerWithWriter("snaptag", w)
}

// newApp connects to AWS and wires the reconciler.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	logger := newLogger(os.Stderr)

	otelCfg := cfg.OTEL
	if opts.prometheus {
		otelCfg.Metrics.Prometheus = true
	}
	provider, err := telemetry.NewProvider(ctx, otelCfg)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	client, err := aws.New(ctx, aws.Config{
		Region:                cfg.AWS.Region,
		Profile:               cfg.AWS.Profile,
		ComplianceMaxAttempts: cfg.AWS.ComplianceMaxAttempts,
	})
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, fmt.Errorf("create aws client: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, telemetry: provider, client: client}
	if err := a.wire(ctx, opts); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

// wire builds the engine, the reconciler and its optional collaborators.
func (a *app) wire(ctx context.Context, opts appOptions) error {
	dryRun := a.cfg.Reconcile.DryRun || opts.dryRun

	a.placeholders = tagging.NewPlaceholders(a.cfg.CatchAllValue, a.cfg.Defaults)

	var store tagging.TagStore = a.client
	if dryRun {
		store = tagging.NewDryRunStore(a.client, a.logger)
	}
	engine := tagging.NewEngine(store, a.placeholders, a.logger).
		WithReadErrorsAsEmpty(a.cfg.Reconcile.ReadErrorsAsEmpty)

	a.reconciler = reconciler.New(reconciler.Options{
		RuleName:              a.cfg.RuleName,
		Workers:               a.cfg.Reconcile.Workers,
		DryRun:                dryRun,
		LookupErrorsAsMissing: a.cfg.Reconcile.LookupErrorsAsMissing,
	}, a.client, a.client, a.client, engine).
		WithLogger(a.logger)
	if a.telemetry != nil {
		a.reconciler.WithMetrics(a.telemetry)
	}

	if f := filter.New(a.cfg.Reconcile.ExcludeTypes, a.cfg.Reconcile.ExcludePrefixes); !f.IsEmpty() {
		a.reconciler.WithGuard(f)
	}

	if path := a.cfg.Reconcile.PolicyFile; path != "" {
		guard, err := policy.LoadFile(ctx, path, a.logger)
		if err != nil {
			return err
		}
		a.reconciler.WithGuard(guard)
	}

	if opts.noStorage {
		return nil
	}

	if dir := a.cfg.Storage.AuditDir; dir != "" {
		journal, err := audit.Open(dir)
		if err != nil {
			return fmt.Errorf("open audit journal: %w", err)
		}
		a.journal = journal
		a.reconciler.WithJournal(journal)

		stats, err := audit.Cleanup(dir, a.cfg.Storage.AuditRetention)
		if err != nil {
			a.logger.Warn().Err(err).Msg("audit journal cleanup failed")
		} else if stats.FilesRemoved > 0 {
			a.logger.Info().
				Int("files", stats.FilesRemoved).
				Int64("bytes", stats.BytesFreed).
				Msg("pruned old audit journals")
		}
	}

	if dir := a.cfg.Storage.HistoryDir; dir != "" {
		store, err := history.Open(dir)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		a.history = store
		a.reconciler.WithRecorder(store)
	}

	return nil
}

// Close flushes telemetry and closes local stores.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
	}
	if a.history != nil {
		errs = append(errs, a.history.Close())
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
