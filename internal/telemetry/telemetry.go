// Package telemetry records sync engine metrics through the OpenTelemetry
// metric API.
//
// Nothing is exported off the device unless the host installs a
// MeterProvider with an exporter; the global provider is a no-op by default.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/kimhsiao/fieldsync/backend/internal/logging"
)

// meterName is the instrumentation scope name for sync metrics.
const meterName = "github.com/kimhsiao/fieldsync/backend/sync"

// Dispatch outcomes recorded on fieldsync.dispatch.total.
const (
	OutcomeSynced = "synced"
	OutcomeError  = "error"
	OutcomeFailed = "failed"
)

// Metrics holds the sync instruments. The zero value is not usable; use
// New or NewWithMeter. A nil *Metrics records nothing.
type Metrics struct {
	enqueued   metric.Int64Counter
	dispatched metric.Int64Counter
	sweeps     metric.Int64Counter
	duration   metric.Float64Histogram
	cleaned    metric.Int64Counter
}

// New creates Metrics on the global MeterProvider.
func New() *Metrics {
	return NewWithMeter(otel.Meter(meterName))
}

// NewWithMeter creates Metrics on meter. An instrument that fails to
// register is logged and replaced by a no-op.
func NewWithMeter(meter metric.Meter) *Metrics {
	return &Metrics{
		enqueued: int64Counter(meter, "fieldsync.queue.enqueued",
			metric.WithDescription("Mutations written to the local queue"),
			metric.WithUnit("{item}"),
		),
		dispatched: int64Counter(meter, "fieldsync.dispatch.total",
			metric.WithDescription("Remote dispatch attempts by outcome"),
			metric.WithUnit("{attempt}"),
		),
		sweeps: int64Counter(meter, "fieldsync.sweep.total",
			metric.WithDescription("Completed sweeps"),
			metric.WithUnit("{sweep}"),
		),
		duration: float64Histogram(meter, "fieldsync.sweep.duration",
			metric.WithDescription("Duration of a sweep in seconds"),
			metric.WithUnit("s"),
		),
		cleaned: int64Counter(meter, "fieldsync.queue.cleaned",
			metric.WithDescription("Synced items removed by retention cleanup"),
			metric.WithUnit("{item}"),
		),
	}
}

func int64Counter(meter metric.Meter, name string, opts ...metric.Int64CounterOption) metric.Int64Counter {
	c, err := meter.Int64Counter(name, opts...)
	if err != nil {
		instrumentFailed(name, err)
	}
	if c == nil {
		return noop.Int64Counter{}
	}
	return c
}

func float64Histogram(meter metric.Meter, name string, opts ...metric.Float64HistogramOption) metric.Float64Histogram {
	h, err := meter.Float64Histogram(name, opts...)
	if err != nil {
		instrumentFailed(name, err)
	}
	if h == nil {
		return noop.Float64Histogram{}
	}
	return h
}

func instrumentFailed(name string, err error) {
	logging.Warn("Metric instrument unavailable", map[string]interface{}{
		"instrument": name,
		"error":      err.Error(),
	})
}

// RecordEnqueue counts one enqueued mutation.
func (m *Metrics) RecordEnqueue(ctx context.Context, entityType, operation string) {
	if m == nil {
		return
	}
	m.enqueued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity_type", entityType),
		attribute.String("operation", operation),
	))
}

// RecordDispatch counts one dispatch attempt with its outcome.
func (m *Metrics) RecordDispatch(ctx context.Context, entityType, outcome string) {
	if m == nil {
		return
	}
	m.dispatched.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity_type", entityType),
		attribute.String("outcome", outcome),
	))
}

// RecordSweep records a finished sweep.
func (m *Metrics) RecordSweep(ctx context.Context, elapsed time.Duration, processed int, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("status", status),
		attribute.Bool("empty", processed == 0),
	)
	m.sweeps.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordCleanup counts items removed by retention cleanup.
func (m *Metrics) RecordCleanup(ctx context.Context, removed int64) {
	if m == nil || removed <= 0 {
		return
	}
	m.cleaned.Add(ctx, removed)
}
