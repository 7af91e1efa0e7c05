package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/coilworks/optserve"
)

// Metrics holds all the OpenTelemetry metric instruments.
type Metrics struct {
	// Job lifecycle metrics
	JobsStartedTotal   metric.Int64Counter
	JobsCompletedTotal metric.Int64Counter
	JobsFailedTotal    metric.Int64Counter
	JobsCancelledTotal metric.Int64Counter

	// TransitionsDiscardedTotal counts terminal transitions dropped
	// because another writer finalized the job first.
	TransitionsDiscardedTotal metric.Int64Counter

	// Compute client metrics
	ComputeCallsTotal      metric.Int64Counter
	ComputeCallErrorsTotal metric.Int64Counter
	ComputeRetriesTotal    metric.Int64Counter
	ComputeCallDuration    metric.Float64Histogram
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary.
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments.
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.JobsStartedTotal, _ = meter.Int64Counter(
		"optserve.jobs.started.total",
		metric.WithDescription("Total number of optimization jobs started"),
		metric.WithUnit("{job}"),
	)

	m.JobsCompletedTotal, _ = meter.Int64Counter(
		"optserve.jobs.completed.total",
		metric.WithDescription("Total number of jobs finished successfully"),
		metric.WithUnit("{job}"),
	)

	m.JobsFailedTotal, _ = meter.Int64Counter(
		"optserve.jobs.failed.total",
		metric.WithDescription("Total number of jobs that ended in failure"),
		metric.WithUnit("{job}"),
	)

	m.JobsCancelledTotal, _ = meter.Int64Counter(
		"optserve.jobs.cancelled.total",
		metric.WithDescription("Total number of jobs cancelled by their owner"),
		metric.WithUnit("{job}"),
	)

	m.TransitionsDiscardedTotal, _ = meter.Int64Counter(
		"optserve.jobs.transitions.discarded.total",
		metric.WithDescription("Terminal transitions discarded after losing the conditional update"),
		metric.WithUnit("{transition}"),
	)

	m.ComputeCallsTotal, _ = meter.Int64Counter(
		"optserve.compute.calls.total",
		metric.WithDescription("Total number of successful compute service calls"),
		metric.WithUnit("{call}"),
	)

	m.ComputeCallErrorsTotal, _ = meter.Int64Counter(
		"optserve.compute.call.errors.total",
		metric.WithDescription("Total number of failed compute service attempts"),
		metric.WithUnit("{error}"),
	)

	m.ComputeRetriesTotal, _ = meter.Int64Counter(
		"optserve.compute.retries.total",
		metric.WithDescription("Total number of compute service retries"),
		metric.WithUnit("{retry}"),
	)

	m.ComputeCallDuration, _ = meter.Float64Histogram(
		"optserve.compute.call.duration",
		metric.WithDescription("End-to-end duration of compute service calls including retries"),
		metric.WithUnit("ms"),
	)

	return m
}
