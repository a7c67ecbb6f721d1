// Package retry runs an operation under an api.RetryPolicy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/petrijr/taskdispatch/pkg/api"
)

// ErrExhausted is returned (wrapped together with the last failure) once every
// attempt of a policy has failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Func is one attempt. attempt starts at 1.
type Func func(ctx context.Context, attempt int) error

// Do calls fn until it succeeds or the policy's attempts are used up. The
// delay between attempts follows p.Delay; no delay follows the last attempt.
// A cancelled ctx stops the loop before the next attempt or during a delay
// and returns ctx.Err() wrapped with the last failure.
func Do(ctx context.Context, p api.RetryPolicy, fn Func) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return wrapCancel(err, lastErr)
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}

		if err := Sleep(ctx, p.Delay(attempt)); err != nil {
			return wrapCancel(err, lastErr)
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, maxAttempts, lastErr)
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func wrapCancel(ctxErr, lastErr error) error {
	if lastErr == nil {
		return ctxErr
	}
	return fmt.Errorf("%w (last error: %v)", ctxErr, lastErr)
}
