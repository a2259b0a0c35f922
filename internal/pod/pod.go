// Package pod provides a handle onto a single sandboxed pod, exposing exec
// and file-transfer operations that run on the shared Pod Op Dispatcher
// rather than blocking the caller's own goroutine.
package pod

import (
	"context"
	"io"

	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/cluster"
	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/dispatcher"
	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/execute"
	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/fileio"
)

// Info identifies a pod and the container within it that operations target
// by default.
type Info struct {
	Name                 string
	Namespace            string
	ContextName          string
	DefaultContainerName string
}

// Pod is a handle onto a single sandboxed pod.
type Pod struct {
	info Info
}

// New wraps Info in a Pod handle.
func New(info Info) *Pod {
	return &Pod{info: info}
}

// Name returns the pod's name.
func (p *Pod) Name() string { return p.info.Name }

// Namespace returns the pod's namespace.
func (p *Pod) Namespace() string { return p.info.Namespace }

// Exec runs opts in the pod's default container on d's worker pool.
func (p *Pod) Exec(ctx context.Context, d *dispatcher.Dispatcher, opts execute.Options) (execute.Result, error) {
	return dispatcher.Submit(ctx, d, func(jobCtx context.Context) (execute.Result, error) {
		restConfig, err := cluster.RestConfigFor(p.info.ContextName)
		if err != nil {
			return execute.Result{}, err
		}
		return execute.Run(jobCtx, restConfig, p.info.Namespace, p.info.Name, p.info.DefaultContainerName, opts)
	})
}

// ReadFile streams src from the pod into dst on d's worker pool.
func (p *Pod) ReadFile(ctx context.Context, d *dispatcher.Dispatcher, src string, dst io.Writer) error {
	_, err := dispatcher.Submit(ctx, d, func(jobCtx context.Context) (struct{}, error) {
		restConfig, err := cluster.RestConfigFor(p.info.ContextName)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, fileio.ReadFile(jobCtx, restConfig, p.info.Namespace, p.info.Name, p.info.DefaultContainerName, src, dst)
	})
	return err
}

// WriteFile streams src into dst inside the pod on d's worker pool.
func (p *Pod) WriteFile(ctx context.Context, d *dispatcher.Dispatcher, src io.ReadSeeker, dst string) error {
	_, err := dispatcher.Submit(ctx, d, func(jobCtx context.Context) (struct{}, error) {
		restConfig, err := cluster.RestConfigFor(p.info.ContextName)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, fileio.WriteFile(jobCtx, restConfig, p.info.Namespace, p.info.Name, p.info.DefaultContainerName, src, dst)
	})
	return err
}
