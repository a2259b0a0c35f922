// Package sandbox is the facade the evaluation harness drives: it wires the
// Helm driver, Release Manager, Pod Op Dispatcher, and cluster access into
// the lifecycle the harness expects (task_init, sample_init, exec,
// read_file, write_file, sample_cleanup, task_cleanup, cli_cleanup).
package sandbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/cluster"
	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/dispatcher"
	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/execute"
	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/helmdriver"
	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/instrumentation"
	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/logging"
	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/pod"
	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/release"
	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/sberr"
)

// Facade is the single entry point the harness holds for the lifetime of a
// task run. It owns one Release Manager (scoped to the task) and shares the
// process-wide Helm driver and Pod Op Dispatcher.
type Facade struct {
	driver     *helmdriver.Driver
	dispatcher *dispatcher.Dispatcher
	clients    *cluster.ClientFactory
	manager    *release.Manager
	metrics    *instrumentation.Metrics
	logger     *slog.Logger
	taskName   string
}

// NewFacade constructs a Facade. metrics and logger may be nil/zero-value.
func NewFacade(metrics *instrumentation.Metrics, logger *slog.Logger) *Facade {
	if logger == nil {
		logger = slog.Default()
	}
	return &Facade{
		driver:     helmdriver.New(metrics),
		dispatcher: dispatcher.New(0, metrics),
		clients:    cluster.NewClientFactory(),
		metrics:    metrics,
		logger:     logger,
	}
}

// TaskInit validates prerequisites and constructs the task-scoped Release
// Manager. Must be called once, before any SampleInit.
func (f *Facade) TaskInit(ctx context.Context, taskName string) error {
	f.taskName = taskName
	if err := helmdriver.CheckPrerequisites(ctx); err != nil {
		return err
	}
	f.manager = release.NewManager()
	return nil
}

// Sandboxes is the outcome of a successful SampleInit: the installed
// release and the pods it produced, keyed by their `inspect/service` label.
type Sandboxes struct {
	Release *release.Release
	Pods    map[string]*pod.Pod
	// Order lists the service names with "default" moved first, if present.
	Order []string
}

// SampleInit resolves cfg, installs a fresh release via the task's Release
// Manager, and maps its pods to sandbox handles keyed by their
// `inspect/service` label.
func (f *Facade) SampleInit(ctx context.Context, cfg Config, metadata map[string]string) (*Sandboxes, error) {
	spanCtx, span := instrumentation.StartSpan(ctx, "sandbox.sample_init")
	defer span.End()

	resolved, err := ResolveReleaseConfig(cfg)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return nil, err
	}

	r, err := release.New(f.taskName, resolved.ChartPath, resolved.ValuesSource, resolved.Context)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return nil, err
	}

	if err := f.manager.Install(spanCtx, f.driver, r); err != nil {
		instrumentation.SetSpanError(span, err)
		return nil, err
	}

	client, err := f.clients.ClientFor(r.ContextName)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return nil, err
	}
	podMap, err := r.SandboxPods(spanCtx, client)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return nil, err
	}

	order := make([]string, 0, len(podMap))
	for name := range podMap {
		if name != "default" {
			order = append(order, name)
		}
	}
	if _, ok := podMap["default"]; ok {
		order = append([]string{"default"}, order...)
	}

	instrumentation.SetSpanSuccess(span)
	return &Sandboxes{Release: r, Pods: podMap, Order: order}, nil
}

// Exec runs opts in p, via the Pod Op Dispatcher, under a trace span carrying
// pod and task attributes. Expected error kinds propagate unchanged;
// anything else is logged at ERROR and rewrapped as ErrSandbox.
func (f *Facade) Exec(ctx context.Context, p *pod.Pod, opts execute.Options) (execute.Result, error) {
	spanCtx, span := instrumentation.StartPodOpSpan(ctx, "exec", p.Name(), p.Namespace(),
		instrumentation.NewSpanAttributeBuilder().WithTask(f.taskName).Build()...)
	defer span.End()

	result, err := p.Exec(spanCtx, f.dispatcher, opts)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return result, f.classify(err, p)
	}
	instrumentation.SetSpanSuccess(span)
	return result, nil
}

// ReadFile streams src from p into dst, via the Pod Op Dispatcher.
func (f *Facade) ReadFile(ctx context.Context, p *pod.Pod, src string, dst io.Writer) error {
	spanCtx, span := instrumentation.StartPodOpSpan(ctx, "read_file", p.Name(), p.Namespace())
	defer span.End()

	err := p.ReadFile(spanCtx, f.dispatcher, src, dst)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return f.classify(err, p)
	}
	instrumentation.SetSpanSuccess(span)
	return nil
}

// WriteFile streams src into dst inside p, via the Pod Op Dispatcher.
func (f *Facade) WriteFile(ctx context.Context, p *pod.Pod, src io.ReadSeeker, dst string) error {
	spanCtx, span := instrumentation.StartPodOpSpan(ctx, "write_file", p.Name(), p.Namespace())
	defer span.End()

	err := p.WriteFile(spanCtx, f.dispatcher, src, dst)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return f.classify(err, p)
	}
	instrumentation.SetSpanSuccess(span)
	return nil
}

// classify leaves expected error kinds unchanged and rewraps anything else
// as ErrSandbox, logged at ERROR with pod/task context.
func (f *Facade) classify(err error, p *pod.Pod) error {
	for _, kind := range expectedKinds {
		if sberr.Is(err, kind) {
			return err
		}
	}
	f.logger.Error("unexpected sandbox error",
		logging.Pod(p.Name()), logging.Namespace(p.Namespace()), logging.Task(f.taskName), logging.Err(err))
	return sberr.Wrap(sberr.ErrSandbox, err, fmt.Sprintf("unexpected error operating on pod %q", p.Name())).
		WithContext("pod", p.Name()).WithContext("task", f.taskName)
}

var expectedKinds = []sberr.Kind{
	sberr.ErrCommandTimeout,
	sberr.ErrOutputLimitExceeded,
	sberr.ErrPermissionDenied,
	sberr.ErrNotFound,
	sberr.ErrIsADirectory,
	sberr.ErrDecoding,
	sberr.ErrExecutableNotFound,
	sberr.ErrPodError,
	sberr.ErrReturncodeUnavailable,
	sberr.ErrInvalidConfiguration,
}

// SampleCleanup uninstalls r's release quietly, unless interrupted is set,
// in which case cleanup is deferred to TaskCleanup so that a single batched
// teardown shows progress once rather than once per interrupted sample.
func (f *Facade) SampleCleanup(ctx context.Context, r *release.Release, interrupted bool) error {
	if interrupted {
		return nil
	}
	return f.manager.Uninstall(ctx, f.driver, r, true)
}

// TaskCleanup tears down every release still tracked by the task's Release
// Manager. If cleanup is false, it instead prints manual cleanup
// instructions and leaves the tracked releases untouched.
func (f *Facade) TaskCleanup(ctx context.Context, cleanup bool) []error {
	return f.manager.UninstallAll(ctx, f.driver, !cleanup)
}

// CliCleanupOne uninstalls a single release by name in the given namespace
// and context, for `cleanup k8s <id>`.
func (f *Facade) CliCleanupOne(ctx context.Context, releaseName, namespace, contextName string) error {
	return f.driver.Uninstall(ctx, releaseName, namespace, contextName, false)
}

// CliCleanupAll enumerates every inspectSandbox=true release in namespace
// and uninstalls them concurrently, for `cleanup k8s` with no id. confirm is
// invoked with the discovered release names before any uninstall runs; if it
// returns false, no releases are touched.
func (f *Facade) CliCleanupAll(ctx context.Context, namespace, contextName string, confirm func([]string) bool) ([]error, error) {
	names, err := f.driver.ListReleases(ctx, namespace, contextName)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}
	if confirm != nil && !confirm(names) {
		return nil, nil
	}

	errs := make([]error, len(names))
	done := make(chan struct{}, len(names))
	for i, name := range names {
		go func(i int, name string) {
			errs[i] = f.driver.Uninstall(ctx, name, namespace, contextName, false)
			done <- struct{}{}
		}(i, name)
	}
	for range names {
		<-done
	}

	var failures []error
	for _, e := range errs {
		if e != nil {
			failures = append(failures, e)
		}
	}
	return failures, nil
}
