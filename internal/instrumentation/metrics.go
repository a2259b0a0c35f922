package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys - using constants for consistency and DRY
const (
	attrOperation = "operation"
	attrStatus    = "status"
	attrNamespace = "namespace"
	attrChart     = "chart"
)

// Metrics provides methods for recording observability metrics for the
// sandbox provider: Helm release lifecycle, pod-exec channel outcomes, and
// pod-op dispatcher occupancy.
type Metrics struct {
	// Helm release metrics
	helmOperationsTotal   metric.Int64Counter
	helmOperationDuration metric.Float64Histogram

	// Pod-op metrics (exec, read-file, write-file)
	podOperationsTotal   metric.Int64Counter
	podOperationDuration metric.Float64Histogram

	// Pod-op dispatcher occupancy
	podOpInFlight metric.Int64UpDownCounter

	// Configuration
	// detailedLabels controls whether high-cardinality labels (namespace, chart)
	// are included in operation metrics.
	detailedLabels bool
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The detailedLabels parameter controls whether high-cardinality labels are included.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{
		detailedLabels: detailedLabels,
	}

	var err error

	// Helm Release Metrics
	m.helmOperationsTotal, err = meter.Int64Counter(
		"helm_operations_total",
		metric.WithDescription("Total number of Helm release operations (install, uninstall)"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create helm_operations_total counter: %w", err)
	}

	m.helmOperationDuration, err = meter.Float64Histogram(
		"helm_operation_duration_seconds",
		metric.WithDescription("Helm release operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0, 300.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create helm_operation_duration_seconds histogram: %w", err)
	}

	// Pod Operation Metrics
	m.podOperationsTotal, err = meter.Int64Counter(
		"pod_operations_total",
		metric.WithDescription("Total number of pod operations (exec, read_file, write_file)"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pod_operations_total counter: %w", err)
	}

	m.podOperationDuration, err = meter.Float64Histogram(
		"pod_operation_duration_seconds",
		metric.WithDescription("Pod operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pod_operation_duration_seconds histogram: %w", err)
	}

	m.podOpInFlight, err = meter.Int64UpDownCounter(
		"pod_op_in_flight",
		metric.WithDescription("Number of pod operations currently occupying a dispatcher worker"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pod_op_in_flight gauge: %w", err)
	}

	return m, nil
}

// RecordHelmOperation records a Helm install/uninstall with chart, status, and duration.
//
// CARDINALITY NOTE: When detailedLabels is false (default), only operation and
// status labels are recorded. When detailedLabels is true, chart is also
// included; this is safe here because the chart set is small and operator
// controlled, unlike namespaces in a large multi-tenant cluster.
func (m *Metrics) RecordHelmOperation(ctx context.Context, operation, chart, status string, duration time.Duration) {
	if m.helmOperationsTotal == nil || m.helmOperationDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	}
	if m.detailedLabels {
		attrs = append(attrs, attribute.String(attrChart, chart))
	}

	m.helmOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.helmOperationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordPodOperation records an exec/read_file/write_file outcome with
// operation type, namespace, status, and duration.
//
// CARDINALITY NOTE: When detailedLabels is false (default), only operation and
// status labels are recorded to avoid cardinality explosion in clusters that
// run many concurrently-evaluated tasks. When detailedLabels is true,
// namespace is also included.
func (m *Metrics) RecordPodOperation(ctx context.Context, operation, namespace, status string, duration time.Duration) {
	if m.podOperationsTotal == nil || m.podOperationDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	}
	if m.detailedLabels {
		attrs = append(attrs, attribute.String(attrNamespace, namespace))
	}

	m.podOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.podOperationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// IncrementPodOpInFlight increments the dispatcher occupancy gauge when a
// worker goroutine picks up a pod operation.
func (m *Metrics) IncrementPodOpInFlight(ctx context.Context) {
	if m.podOpInFlight == nil {
		return // Instrumentation not initialized
	}

	m.podOpInFlight.Add(ctx, 1)
}

// DecrementPodOpInFlight decrements the dispatcher occupancy gauge when a
// worker goroutine finishes a pod operation.
func (m *Metrics) DecrementPodOpInFlight(ctx context.Context) {
	if m.podOpInFlight == nil {
		return // Instrumentation not initialized
	}

	m.podOpInFlight.Add(ctx, -1)
}

