package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/taskdispatch/pkg/api"
)

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), api.FixedRetry(5, time.Millisecond), func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	boom := errors.New("boom")
	var attempts []int
	err := Do(context.Background(), api.FixedRetry(4, 0), func(ctx context.Context, attempt int) error {
		attempts = append(attempts, attempt)
		return boom
	})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []int{1, 2, 3, 4}, attempts)
}

func TestDo_NoDelayAfterLastAttempt(t *testing.T) {
	start := time.Now()
	err := Do(context.Background(), api.FixedRetry(1, time.Hour), func(ctx context.Context, attempt int) error {
		return errors.New("boom")
	})
	require.ErrorIs(t, err, ErrExhausted)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDo_CancelDuringCooldown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, api.FixedRetry(10, time.Hour), func(ctx context.Context, attempt int) error {
			calls++
			return errors.New("engine down")
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		assert.False(t, errors.Is(err, ErrExhausted))
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatalf("Do did not observe cancellation")
	}
}

func TestSleep(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	require.ErrorIs(t, Sleep(ctx, 0), context.Canceled)
}
