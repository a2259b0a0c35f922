// Package helmdriver drives the helm(1) CLI as a subprocess to install,
// uninstall, and enumerate the Helm releases that back sandbox pods.
package helmdriver

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/instrumentation"
	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/logging"
	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/sberr"
	"golang.org/x/sync/semaphore"
)

const (
	envHelmTimeout        = "INSPECT_HELM_TIMEOUT"
	envMaxHelmInstall     = "INSPECT_MAX_HELM_INSTALL"
	envMaxHelmUninstall   = "INSPECT_MAX_HELM_UNINSTALL"
	defaultHelmTimeout    = 600
	defaultHelmInstallCap = 8
	defaultHelmUninstall  = 8
	minHelmVersion        = "3.13.0"
	maxInstallAttempts    = 3
	retryDelay            = 5 * time.Second

	labelSandbox     = "inspectSandbox=true"
	annotationTask   = "annotations.inspectTaskName"
)

var resourceQuotaConflictPattern = regexp.MustCompile(
	`Operation cannot be fulfilled on resourcequotas.*the object has been modified; please apply your changes to the latest version and try again`)

// Driver drives the helm CLI subprocess and bounds install/uninstall
// concurrency with two independent semaphores so that a saturated install
// pool can never block an uninstall from being scheduled.
type Driver struct {
	installSem   *semaphore.Weighted
	uninstallSem *semaphore.Weighted
	timeout      time.Duration
	metrics      *instrumentation.Metrics
}

// New creates a Driver. metrics may be nil.
func New(metrics *instrumentation.Metrics) *Driver {
	return &Driver{
		installSem:   semaphore.NewWeighted(int64(resolveIntEnv(envMaxHelmInstall, defaultHelmInstallCap))),
		uninstallSem: semaphore.NewWeighted(int64(resolveIntEnv(envMaxHelmUninstall, defaultHelmUninstall))),
		timeout:      time.Duration(resolveIntEnv(envHelmTimeout, defaultHelmTimeout)) * time.Second,
		metrics:      metrics,
	}
}

func resolveIntEnv(name string, fallback int) int {
	if raw := os.Getenv(name); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// CheckPrerequisites verifies the helm binary is on PATH and at least
// minHelmVersion.
func CheckPrerequisites(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "helm", "version", "--short")
	out, err := cmd.Output()
	if err != nil {
		return sberr.Wrap(sberr.ErrPrerequisite, err, "helm binary not found on PATH")
	}
	versionStr := strings.TrimSpace(string(out))
	versionStr = strings.TrimPrefix(versionStr, "v")
	if idx := strings.Index(versionStr, "+"); idx >= 0 {
		versionStr = versionStr[:idx]
	}
	// helm version --short reports e.g. "3.14.2" possibly followed by other
	// whitespace-separated fields; take the first token.
	if fields := strings.Fields(versionStr); len(fields) > 0 {
		versionStr = strings.TrimPrefix(fields[0], "v")
	}

	current, err := semver.NewVersion(versionStr)
	if err != nil {
		return sberr.Wrap(sberr.ErrPrerequisite, err, fmt.Sprintf("could not parse helm version %q", versionStr))
	}
	minimum := semver.MustParse(minHelmVersion)
	if current.LessThan(minimum) {
		return sberr.New(sberr.ErrPrerequisite, fmt.Sprintf(
			"helm %s is installed but %s or later is required", current, minimum))
	}
	return nil
}

// InstallOptions configures a single install/upgrade invocation.
type InstallOptions struct {
	Release     string
	Chart       string
	Namespace   string
	ValuesPath  string
	Context     string
	TaskName    string
	Upgrade     bool
}

// Install runs `helm install` (or `helm upgrade --install` when
// opts.Upgrade is set), making up to maxInstallAttempts attempts in total on
// a resource-quota conflict; every retry uses upgrade --install so partial
// state from a prior attempt is reconciled.
func (d *Driver) Install(ctx context.Context, opts InstallOptions) error {
	if err := d.installSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer d.installSem.Release(1)

	var lastErr error
	for attempt := 1; attempt <= maxInstallAttempts; attempt++ {
		useUpgrade := opts.Upgrade || attempt > 1
		spanCtx, span := instrumentation.StartHelmSpan(ctx, "install", opts.Release, opts.Chart)
		start := time.Now()
		err := d.runInstall(spanCtx, opts, useUpgrade)
		instrumentation.SetSpanError(span, err)
		span.End()
		if d.metrics != nil {
			status := logging.StatusSuccess
			if err != nil {
				status = logging.StatusError
			}
			d.metrics.RecordHelmOperation(ctx, "install", opts.Chart, status, time.Since(start))
		}
		if err == nil {
			return nil
		}
		lastErr = err
		if !sberr.Is(err, sberr.ErrResourceQuotaConflict) || attempt == maxInstallAttempts {
			return err
		}
		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func (d *Driver) runInstall(ctx context.Context, opts InstallOptions, upgrade bool) error {
	args := []string{}
	if upgrade {
		args = append(args, "upgrade", opts.Release, opts.Chart, "--install")
	} else {
		args = append(args, "install", opts.Release, opts.Chart)
	}
	args = append(args,
		"--namespace", opts.Namespace,
		"--wait",
		"--timeout", fmt.Sprintf("%ds", int(d.timeout.Seconds())),
		"--set", fmt.Sprintf("%s=%s", annotationTask, opts.TaskName),
		"--labels", labelSandbox,
	)
	if opts.ValuesPath != "" {
		args = append(args, "--values", opts.ValuesPath)
	}
	if opts.Context != "" {
		args = append(args, "--kube-context", opts.Context)
	}

	cmd := exec.Command("helm", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := runWithCancelCompensation(ctx, cmd, func() {
		_ = d.uninstallQuiet(context.WithoutCancel(ctx), opts.Release, opts.Namespace, opts.Context)
	})
	if runErr == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return classifyInstallError(stderr.String())
}

// runWithCancelCompensation starts cmd and awaits its real exit even if ctx
// is cancelled mid-run, since Helm may be mid-transaction: it never kills the
// subprocess. cmd must be built with exec.Command, not exec.CommandContext,
// since the latter's default Cancel behavior is an immediate
// cmd.Process.Kill() the instant ctx is done, racing this function's own
// cancellation handling. On ctx cancellation this instead sends SIGTERM
// (mirroring the original's proc.terminate()) and waits for the process to
// actually exit before onCancel (a synchronous compensating uninstall) runs
// and the cancellation error propagates.
func runWithCancelCompensation(ctx context.Context, cmd *exec.Cmd, onCancel func()) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = cmd.Process.Signal(syscall.SIGTERM)
		<-done
		onCancel()
		return ctx.Err()
	}
}

func classifyInstallError(stderr string) error {
	if resourceQuotaConflictPattern.MatchString(stderr) {
		return sberr.New(sberr.ErrResourceQuotaConflict, stderr)
	}
	if strings.Contains(stderr, "INSTALLATION FAILED: context deadline exceeded") {
		return sberr.New(sberr.ErrInstallTimeout, stderr)
	}
	return sberr.New(sberr.ErrInstallFailed, stderr)
}

// Uninstall runs `helm uninstall`, optionally mirroring captured output to
// the process's own stdout/stderr when quiet is false.
func (d *Driver) Uninstall(ctx context.Context, release, namespace, kubeContext string, quiet bool) error {
	if err := d.uninstallSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer d.uninstallSem.Release(1)

	start := time.Now()
	spanCtx, span := instrumentation.StartHelmSpan(ctx, "uninstall", release, "")
	err := d.runUninstall(spanCtx, release, namespace, kubeContext, quiet)
	instrumentation.SetSpanError(span, err)
	span.End()
	if d.metrics != nil {
		status := logging.StatusSuccess
		if err != nil {
			status = logging.StatusError
		}
		d.metrics.RecordHelmOperation(ctx, "uninstall", "", status, time.Since(start))
	}
	return err
}

// uninstallQuiet is the compensating-cleanup entry point used after a
// cancelled install; it never mirrors output and ignores the release
// already being absent.
func (d *Driver) uninstallQuiet(ctx context.Context, release, namespace, kubeContext string) error {
	return d.Uninstall(ctx, release, namespace, kubeContext, true)
}

func (d *Driver) runUninstall(ctx context.Context, release, namespace, kubeContext string, quiet bool) error {
	args := []string{"uninstall", release,
		"--namespace", namespace,
		"--wait",
		"--timeout", fmt.Sprintf("%ds", int(d.timeout.Seconds())),
		"--ignore-not-found",
	}
	if kubeContext != "" {
		args = append(args, "--kube-context", kubeContext)
	}

	cmd := exec.Command("helm", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if !quiet {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	if err := runWithCancelCompensation(ctx, cmd, func() {}); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return sberr.New(sberr.ErrUninstallFailed, stderr.String())
	}
	return nil
}

// ListReleases returns the set of release names labelled inspectSandbox=true
// in the given namespace.
func (d *Driver) ListReleases(ctx context.Context, namespace, kubeContext string) ([]string, error) {
	args := []string{"list", "-q", "--selector", labelSandbox, "--max", "0", "--namespace", namespace}
	if kubeContext != "" {
		args = append(args, "--kube-context", kubeContext)
	}
	cmd := exec.CommandContext(ctx, "helm", args...)
	out, err := cmd.Output()
	if err != nil {
		return nil, sberr.Wrap(sberr.ErrPodError, err, "helm list failed")
	}
	var releases []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line != "" {
			releases = append(releases, line)
		}
	}
	return releases, nil
}
