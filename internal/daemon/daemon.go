// Package daemon runs reconciliation passes on a fixed interval.
package daemon

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yairfalse/snaptag/internal/reconciler"
	"github.com/yairfalse/snaptag/internal/telemetry"
)

// Runner performs one reconciliation pass.
type Runner interface {
	Run(ctx context.Context) (*reconciler.Report, error)
}

// Config holds daemon configuration
type Config struct {
	Interval time.Duration
}

// Daemon manages continuous reconciliation
type Daemon struct {
	runner    Runner
	interval  time.Duration
	metrics   *Metrics
	logger    *telemetry.Logger
	startTime time.Time

	runCount   atomic.Int64
	errorCount atomic.Int64

	mu      sync.RWMutex
	last    *reconciler.Report
	lastErr error
}

// NewDaemon creates a new daemon instance
func NewDaemon(config Config, runner Runner, metrics *Metrics, logger *telemetry.Logger) (*Daemon, error) {
	if config.Interval <= 0 {
		return nil, errors.New("daemon interval must be positive")
	}
	if runner == nil {
		return nil, errors.New("daemon needs a runner")
	}
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &Daemon{
		runner:    runner,
		interval:  config.Interval,
		metrics:   metrics,
		logger:    logger,
		startTime: time.Now(),
	}, nil
}

// Start runs a pass immediately and then once per interval until ctx is
// cancelled. A failed pass is logged and retried on the next tick.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.WithContext(ctx).Info().
		Dur("interval", d.interval).
		Msg("daemon started")

	d.runReconciliation(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.WithContext(ctx).Info().Msg("daemon stopped")
			return nil
		case <-ticker.C:
			d.runReconciliation(ctx)
		}
	}
}

func (d *Daemon) runReconciliation(ctx context.Context) {
	start := time.Now()
	report, err := d.runner.Run(ctx)
	d.runCount.Add(1)

	status := "success"
	switch {
	case err != nil:
		status = "error"
		d.errorCount.Add(1)
		d.logger.WithContext(ctx).Error().
			Err(err).
			Msg("reconciliation run failed, retrying next interval")
	case report != nil:
		status = report.Status()
	}

	d.mu.Lock()
	if report != nil {
		d.last = report
	}
	d.lastErr = err
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.RecordTick(ctx, status, time.Since(start))
		if report != nil {
			d.metrics.RecordOutcomes(ctx, report)
		}
	}
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status    string    `json:"status"`
	Uptime    int64     `json:"uptime_seconds"`
	Runs      int64     `json:"runs"`
	Errors    int64     `json:"errors"`
	LastRunID string    `json:"last_run_id,omitempty"`
	LastRunAt time.Time `json:"last_run_at,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Health returns daemon health status. The daemon is "degraded" while its
// most recent pass failed outright.
func (d *Daemon) Health() HealthStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()

	h := HealthStatus{
		Status: "healthy",
		Uptime: int64(time.Since(d.startTime).Seconds()),
		Runs:   d.runCount.Load(),
		Errors: d.errorCount.Load(),
	}
	if d.last != nil {
		h.LastRunID = d.last.RunID
		h.LastRunAt = d.last.FinishedAt
	}
	if d.lastErr != nil {
		h.Status = "degraded"
		h.LastError = d.lastErr.Error()
	}
	return h
}

// ReconciliationCount returns total reconciliations run
func (d *Daemon) ReconciliationCount() int64 {
	return d.runCount.Load()
}

// LastReport returns the most recent successful report, if any.
func (d *Daemon) LastReport() *reconciler.Report {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.last
}
