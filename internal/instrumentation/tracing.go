package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the default tracer name for the sandbox provider.
const TracerName = "github.com/UKGovernmentBEIS/inspect_k8s_sandbox"

// Span attribute keys for sandbox operations.
const (
	// SpanAttrTask is the evaluation task name the sandbox belongs to.
	SpanAttrTask = "sandbox.task"

	// SpanAttrPod is the target pod name.
	SpanAttrPod = "sandbox.pod"

	// SpanAttrNamespace is the Kubernetes namespace.
	SpanAttrNamespace = "k8s.namespace"

	// SpanAttrContext is the kubeconfig context name.
	SpanAttrContext = "k8s.context"

	// SpanAttrRelease is the Helm release name.
	SpanAttrRelease = "helm.release"

	// SpanAttrChart is the Helm chart path or reference.
	SpanAttrChart = "helm.chart"

	// SpanAttrOperation is the operation type (install, uninstall, exec, read_file, write_file).
	SpanAttrOperation = "sandbox.operation"

	// SpanAttrTimeoutSeconds is the operation's configured timeout, if any.
	SpanAttrTimeoutSeconds = "sandbox.timeout_seconds"
)

// SpanAttributeBuilder helps construct OpenTelemetry span attributes
// with consistent naming.
type SpanAttributeBuilder struct {
	attrs []attribute.KeyValue
}

// NewSpanAttributeBuilder creates a new SpanAttributeBuilder.
func NewSpanAttributeBuilder() *SpanAttributeBuilder {
	return &SpanAttributeBuilder{
		attrs: make([]attribute.KeyValue, 0, 8),
	}
}

// WithTask adds the task name attribute.
func (b *SpanAttributeBuilder) WithTask(task string) *SpanAttributeBuilder {
	if task != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrTask, task))
	}
	return b
}

// WithPod adds the pod name and namespace attributes.
func (b *SpanAttributeBuilder) WithPod(podName, namespace string) *SpanAttributeBuilder {
	if podName != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrPod, podName))
	}
	if namespace != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrNamespace, namespace))
	}
	return b
}

// WithRelease adds the Helm release name and chart attributes.
func (b *SpanAttributeBuilder) WithRelease(releaseName, chart string) *SpanAttributeBuilder {
	if releaseName != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrRelease, releaseName))
	}
	if chart != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrChart, chart))
	}
	return b
}

// WithContext adds the kubeconfig context name attribute.
func (b *SpanAttributeBuilder) WithContext(contextName string) *SpanAttributeBuilder {
	if contextName != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrContext, contextName))
	}
	return b
}

// WithOperation adds the operation type attribute.
func (b *SpanAttributeBuilder) WithOperation(operation string) *SpanAttributeBuilder {
	b.attrs = append(b.attrs, attribute.String(SpanAttrOperation, operation))
	return b
}

// WithTimeout adds the configured timeout in seconds, if positive.
func (b *SpanAttributeBuilder) WithTimeout(seconds float64) *SpanAttributeBuilder {
	if seconds > 0 {
		b.attrs = append(b.attrs, attribute.Float64(SpanAttrTimeoutSeconds, seconds))
	}
	return b
}

// Build returns the constructed attributes.
func (b *SpanAttributeBuilder) Build() []attribute.KeyValue {
	return b.attrs
}

// StartSpan starts a new span with the given name and attributes.
// Returns the context with the span and the span itself.
// The caller is responsible for ending the span with defer span.End().
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartHelmSpan starts a span for a Helm release operation (install, upgrade,
// uninstall, list). Includes release and chart attributes and sets the
// client span kind since Helm is invoked as a subprocess that itself talks
// to the apiserver.
func StartHelmSpan(ctx context.Context, operation, releaseName, chart string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+3)
	allAttrs = append(allAttrs, attribute.String(SpanAttrOperation, operation))
	if releaseName != "" {
		allAttrs = append(allAttrs, attribute.String(SpanAttrRelease, releaseName))
	}
	if chart != "" {
		allAttrs = append(allAttrs, attribute.String(SpanAttrChart, chart))
	}
	allAttrs = append(allAttrs, attrs...)

	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, "helm."+operation,
		trace.WithAttributes(allAttrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// StartPodOpSpan starts a span for a pod operation (exec, read_file,
// write_file). Includes pod and namespace attributes.
func StartPodOpSpan(ctx context.Context, operation, podName, namespace string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+3)
	allAttrs = append(allAttrs, attribute.String(SpanAttrOperation, operation))
	if podName != "" {
		allAttrs = append(allAttrs, attribute.String(SpanAttrPod, podName))
	}
	if namespace != "" {
		allAttrs = append(allAttrs, attribute.String(SpanAttrNamespace, namespace))
	}
	allAttrs = append(allAttrs, attrs...)

	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, "pod."+operation,
		trace.WithAttributes(allAttrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// SetSpanError records an error on the span and sets the status to error.
func SetSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess sets the span status to OK.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddSpanEvent adds an event to the span with optional attributes.
func AddSpanEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// GetTraceID returns the trace ID from the current span in context.
// Returns empty string if no valid span is present.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

// GetSpanID returns the span ID from the current span in context.
// Returns empty string if no valid span is present.
func GetSpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().SpanID().String()
	}
	return ""
}

// SpanContextString returns a human-readable trace context string.
// Format: "trace_id=X span_id=Y" or empty string if no valid context.
func SpanContextString(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return "trace_id=" + span.SpanContext().TraceID().String() +
		" span_id=" + span.SpanContext().SpanID().String()
}
