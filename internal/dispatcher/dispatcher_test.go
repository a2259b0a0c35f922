package dispatcher_test

import (
	"context"
	"errors"
	"os"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/dispatcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePoolSize_DefaultsToFourTimesNumCPU(t *testing.T) {
	os.Unsetenv("INSPECT_MAX_POD_OPS")
	size := dispatcher.ResolvePoolSize()
	assert.Equal(t, 4*runtime.NumCPU(), size)
}

func TestResolvePoolSize_RespectsEnvOverride(t *testing.T) {
	t.Setenv("INSPECT_MAX_POD_OPS", "3")
	assert.Equal(t, 3, dispatcher.ResolvePoolSize())
}

func TestResolvePoolSize_IgnoresNonPositiveOverride(t *testing.T) {
	t.Setenv("INSPECT_MAX_POD_OPS", "0")
	assert.Greater(t, dispatcher.ResolvePoolSize(), 0)
}

func TestSubmit_ReturnsValueAndError(t *testing.T) {
	d := dispatcher.New(2, nil)
	value, err := dispatcher.Submit(context.Background(), d, func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", value)

	_, err = dispatcher.Submit(context.Background(), d, func(ctx context.Context) (string, error) {
		return "", errors.New("boom")
	})
	assert.Error(t, err)
}

func TestSubmit_BoundsConcurrency(t *testing.T) {
	d := dispatcher.New(2, nil)
	var concurrent int32
	var maxConcurrent int32

	run := func() {
		n := atomic.AddInt32(&concurrent, 1)
		for {
			old := atomic.LoadInt32(&maxConcurrent)
			if n <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
	}

	done := make(chan struct{}, 5)
	for i := 0; i < 5; i++ {
		go func() {
			_, _ = dispatcher.Submit(context.Background(), d, func(ctx context.Context) (struct{}, error) {
				run()
				return struct{}{}, nil
			})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}

	assert.LessOrEqual(t, int(atomic.LoadInt32(&maxConcurrent)), 2)
}

func TestSubmit_RespectsContextCancellation(t *testing.T) {
	d := dispatcher.New(1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := dispatcher.Submit(ctx, d, func(ctx context.Context) (int, error) {
		return 0, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
