package bulk

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Middleware wraps a Processor with cross-cutting call policy
type Middleware func(Processor) Processor

// Chain applies middlewares so the first one listed is the outermost
func Chain(p Processor, mws ...Middleware) Processor {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			p = mws[i](p)
		}
	}
	return p
}

// WithTimeout bounds each call. A failure after the deadline is reported as
// FailureTimeout whatever the processor said.
func WithTimeout(d time.Duration) Middleware {
	if d <= 0 {
		return nil
	}
	return func(next Processor) Processor {
		return ProcessorFunc(func(ctx context.Context, item Item) Outcome {
			callCtx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			out := next.Process(callCtx, item)
			if !out.Success && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
				out.FailureReason = FailureTimeout
				if out.Details == "" {
					out.Details = "timed out after " + d.String()
				}
			}
			return out
		})
	}
}

// WithRetry retries retryable failures up to maxRetries times with
// exponential backoff starting at backoff. Attempts is set on the result.
func WithRetry(maxRetries int, backoff time.Duration) Middleware {
	if maxRetries <= 0 {
		return nil
	}
	return func(next Processor) Processor {
		return ProcessorFunc(func(ctx context.Context, item Item) Outcome {
			wait := backoff
			var out Outcome
			for attempt := 1; ; attempt++ {
				out = next.Process(ctx, item)
				out.Attempts = attempt
				if out.Success || !out.FailureReason.Retryable() || attempt > maxRetries {
					return out
				}

				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return out
				}
				wait *= 2
			}
		})
	}
}

// WithRateLimit waits on limiter before each call
func WithRateLimit(limiter *rate.Limiter) Middleware {
	if limiter == nil {
		return nil
	}
	return func(next Processor) Processor {
		return ProcessorFunc(func(ctx context.Context, item Item) Outcome {
			if err := limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return FailedWithError(item, ctx.Err())
				}
				// the wait would outlive the context deadline
				return FailedWithError(item, WithReason(err, FailureRateLimited))
			}
			return next.Process(ctx, item)
		})
	}
}

// PerMinute converts a requests-per-minute budget into a limiter.
// Zero or negative means unlimited and returns nil.
func PerMinute(rpm int) *rate.Limiter {
	if rpm <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1)
}
