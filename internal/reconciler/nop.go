package reconciler

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/yairfalse/snaptag/internal/audit"
)

type nopJournal struct{}

func (nopJournal) Append(audit.EntryType, string, any) error { return nil }

func (nopJournal) AppendError(audit.EntryType, string, any, error) error { return nil }

var nopTracer = noop.NewTracerProvider().Tracer("")

type nopMetrics struct{}

func (nopMetrics) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return nopTracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (nopMetrics) RecordRun(context.Context, string, time.Duration) {}

func (nopMetrics) RecordSnapshot(context.Context, string) {}

func (nopMetrics) RecordTagWrite(context.Context, string, bool) {}

func (nopMetrics) RecordUnresolved(context.Context, int) {}

func (nopMetrics) RecordComplianceError(context.Context) {}
