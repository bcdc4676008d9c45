package bulk

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestWithTimeout_ReportsTimeout(t *testing.T) {
	slow := ProcessorFunc(func(ctx context.Context, item Item) Outcome {
		<-ctx.Done()
		return FailedWithError(item, ctx.Err())
	})

	proc := Chain(slow, WithTimeout(10*time.Millisecond))
	out := proc.Process(context.Background(), Item{Row: 1, Identifier: "a"})

	assert.False(t, out.Success)
	assert.Equal(t, FailureTimeout, out.FailureReason)
}

func TestWithTimeout_ZeroDisables(t *testing.T) {
	assert.Nil(t, WithTimeout(0))
}

func TestWithRetry_RetriesRetryableOnly(t *testing.T) {
	var calls int32
	flaky := ProcessorFunc(func(ctx context.Context, item Item) Outcome {
		if atomic.AddInt32(&calls, 1) < 3 {
			return Failed(item, FailureNetwork, "connection reset")
		}
		return Succeeded(item, "ok", nil)
	})

	out := Chain(flaky, WithRetry(3, time.Millisecond)).Process(context.Background(), Item{Identifier: "a"})
	assert.True(t, out.Success)
	assert.Equal(t, 3, out.Attempts)

	atomic.StoreInt32(&calls, 0)
	rejected := ProcessorFunc(func(ctx context.Context, item Item) Outcome {
		atomic.AddInt32(&calls, 1)
		return Failed(item, FailureValidation, "missing email")
	})
	out = Chain(rejected, WithRetry(3, time.Millisecond)).Process(context.Background(), Item{Identifier: "b"})
	assert.False(t, out.Success)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestWithRetry_GivesUpAfterMax(t *testing.T) {
	var calls int32
	down := ProcessorFunc(func(ctx context.Context, item Item) Outcome {
		atomic.AddInt32(&calls, 1)
		return Failed(item, FailureServer, "503")
	})

	out := Chain(down, WithRetry(2, time.Millisecond)).Process(context.Background(), Item{Identifier: "a"})
	assert.False(t, out.Success)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestWithRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	down := ProcessorFunc(func(ctx context.Context, item Item) Outcome {
		cancel()
		return Failed(item, FailureNetwork, "reset")
	})

	out := Chain(down, WithRetry(5, time.Hour)).Process(ctx, Item{Identifier: "a"})
	assert.Equal(t, 1, out.Attempts)
}

func TestWithRateLimit(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(20*time.Millisecond), 1)
	ok := ProcessorFunc(func(ctx context.Context, item Item) Outcome { return Succeeded(item, "", nil) })
	proc := Chain(ok, WithRateLimit(limiter))

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.True(t, proc.Process(context.Background(), Item{Identifier: "x"}).Success)
	}
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := proc.Process(ctx, Item{Identifier: "y"})
	assert.False(t, out.Success)
	assert.Equal(t, FailureCancelled, out.FailureReason)
}

func TestPerMinute(t *testing.T) {
	assert.Nil(t, PerMinute(0))
	l := PerMinute(120)
	require.NotNil(t, l)
	assert.InDelta(t, 2.0, float64(l.Limit()), 0.001)
}

func TestChain_FirstIsOutermost(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next Processor) Processor {
			return ProcessorFunc(func(ctx context.Context, item Item) Outcome {
				order = append(order, name)
				return next.Process(ctx, item)
			})
		}
	}
	base := ProcessorFunc(func(ctx context.Context, item Item) Outcome {
		order = append(order, "base")
		return Succeeded(item, "", nil)
	})

	Chain(base, tag("outer"), nil, tag("inner")).Process(context.Background(), Item{})
	assert.Equal(t, []string{"outer", "inner", "base"}, order)
}
