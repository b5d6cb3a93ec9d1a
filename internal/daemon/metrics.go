package daemon

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/snaptag/internal/reconciler"
)

// Metrics holds daemon-level gauges and counters
type Metrics struct {
	ticks        metric.Int64Counter
	tickDuration metric.Float64Histogram
	lastOutcomes metric.Int64Gauge
	lastSuccess  metric.Int64Gauge
}

// NewMetrics registers the daemon instruments on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	ticks, err := meter.Int64Counter(
		"snaptag_daemon_ticks_total",
		metric.WithDescription("Number of scheduled reconciliation passes"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	tickDuration, err := meter.Float64Histogram(
		"snaptag_daemon_tick_duration_seconds",
		metric.WithDescription("Duration of scheduled reconciliation passes"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	lastOutcomes, err := meter.Int64Gauge(
		"snaptag_daemon_last_run_snapshots",
		metric.WithDescription("Snapshots per state in the most recent pass"),
		metric.WithUnit("{snapshot}"),
	)
	if err != nil {
		return nil, err
	}

	lastSuccess, err := meter.Int64Gauge(
		"snaptag_daemon_last_run_timestamp_seconds",
		metric.WithDescription("Unix time the most recent pass finished"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		ticks:        ticks,
		tickDuration: tickDuration,
		lastOutcomes: lastOutcomes,
		lastSuccess:  lastSuccess,
	}, nil
}

// RecordTick records a scheduled pass with its status
func (m *Metrics) RecordTick(ctx context.Context, status string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.ticks.Add(ctx, 1, attrs)
	m.tickDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordOutcomes records per-state snapshot counts of a finished pass
func (m *Metrics) RecordOutcomes(ctx context.Context, report *reconciler.Report) {
	counts := report.Counts()
	for _, state := range reconciler.States {
		m.lastOutcomes.Record(ctx, int64(counts[state]),
			metric.WithAttributes(attribute.String("state", string(state))))
	}
	m.lastSuccess.Record(ctx, report.FinishedAt.Unix())
}
