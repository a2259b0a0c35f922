// Package dispatcher runs blocking pod operations (exec, read-file,
// write-file) on a bounded worker pool so that a flood of concurrent sample
// evaluations cannot open unbounded numbers of pod-exec connections at once.
package dispatcher

import (
	"context"
	"os"
	"runtime"
	"strconv"

	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/instrumentation"
)

const envMaxPodOps = "INSPECT_MAX_POD_OPS"

// ResolvePoolSize returns INSPECT_MAX_POD_OPS if set to a positive integer,
// otherwise 4x the logical CPU count.
func ResolvePoolSize() int {
	if raw := os.Getenv(envMaxPodOps); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return 4 * runtime.NumCPU()
}

type job struct {
	ctx context.Context
	run func(context.Context)
}

// Dispatcher is a process-wide bounded worker pool. Its public surface is a
// single generic Submit call; callers never interact with the worker
// goroutines directly.
type Dispatcher struct {
	jobs    chan job
	metrics *instrumentation.Metrics
}

// New starts size worker goroutines reading from a shared, unbuffered job
// queue. metrics may be nil, in which case occupancy is not reported.
func New(size int, metrics *instrumentation.Metrics) *Dispatcher {
	if size <= 0 {
		size = ResolvePoolSize()
	}
	d := &Dispatcher{
		jobs:    make(chan job),
		metrics: metrics,
	}
	for i := 0; i < size; i++ {
		go d.worker()
	}
	return d
}

func (d *Dispatcher) worker() {
	for j := range d.jobs {
		if d.metrics != nil {
			d.metrics.IncrementPodOpInFlight(j.ctx)
		}
		j.run(j.ctx)
		if d.metrics != nil {
			d.metrics.DecrementPodOpInFlight(j.ctx)
		}
	}
}

// Submit runs fn on a worker goroutine and returns its result, or the
// context's error if ctx is cancelled before a worker picks up the job.
func Submit[T any](ctx context.Context, d *Dispatcher, fn func(context.Context) (T, error)) (T, error) {
	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)

	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}

	select {
	case d.jobs <- job{ctx: ctx, run: func(jobCtx context.Context) {
		value, err := fn(jobCtx)
		done <- outcome{value, err}
	}}:
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}

	select {
	case o := <-done:
		return o.value, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
