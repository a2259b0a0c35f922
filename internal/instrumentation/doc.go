// Package instrumentation provides OpenTelemetry instrumentation for the
// sandbox provider.
//
// This package enables observability into the two activities that actually
// cost time and can fail in this system: Helm release lifecycle operations
// and pod operations (exec, read_file, write_file) dispatched over the
// pod-exec channel.
//
// # Metrics
//
// Helm Release Metrics:
//   - helm_operations_total: Counter of install/uninstall operations by operation, status
//   - helm_operation_duration_seconds: Histogram of Helm operation durations
//
// Pod Operation Metrics:
//   - pod_operations_total: Counter of exec/read_file/write_file operations by operation, status
//   - pod_operation_duration_seconds: Histogram of pod operation durations
//   - pod_op_in_flight: Up-down counter tracking dispatcher worker occupancy
//
// # Cardinality Considerations
//
// Namespace and chart labels are gated behind detailedLabels (default off):
// a task-eval cluster can have one namespace per concurrently running
// sample, so including it by default would make cardinality track sample
// count rather than staying bounded by operation type.
//
// # Tracing
//
// Spans are created for:
//   - Helm install/uninstall (helm.install, helm.uninstall)
//   - Pod exec and file transfer (pod.exec, pod.read_file, pod.write_file)
//
// # Configuration
//
// DefaultConfig reads the following environment variables into a Config.
// Nothing in this package builds exporters or providers from that Config or
// consults Enabled: spans go to the global OpenTelemetry tracer provider and
// metrics to the meter passed to NewMetrics.
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: false)
//   - METRICS_EXPORTER: Metrics exporter type (prometheus, otlp, stdout, default: prometheus)
//   - TRACING_EXPORTER: Tracing exporter type (otlp, stdout, none, default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces/metrics
//   - OTEL_TRACES_SAMPLER_ARG: Sampling rate (0.0 to 1.0, default: 0.1)
//   - OTEL_SERVICE_NAME: Service name (default: inspect-sandbox)
//
// # Example Usage
//
//	cfg := instrumentation.DefaultConfig()
//	meter := otel.GetMeterProvider().Meter(instrumentation.TracerName)
//	metrics, err := instrumentation.NewMetrics(meter, false)
//	if err != nil {
//		return err
//	}
//
//	ctx, span := instrumentation.StartHelmSpan(ctx, instrumentation.OperationInstall, release.Name, chart)
//	defer span.End()
//	metrics.RecordHelmOperation(ctx, instrumentation.OperationInstall, chart, instrumentation.StatusSuccess, time.Since(start))
package instrumentation
