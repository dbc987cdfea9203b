package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordSleeps collects the delays instead of waiting.
func recordSleeps(delays *[]time.Duration) Option {
	return WithSleep(func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	})
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	var delays []time.Duration
	calls := 0
	err := New(WithJitter(0), recordSleeps(&delays)).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("dial tcp: refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, delays)
}

func TestDo_BackoffIsCapped(t *testing.T) {
	var delays []time.Duration
	r := New(
		WithMaxAttempts(5),
		WithInitialDelay(time.Second),
		WithMaxDelay(3*time.Second),
		WithMultiplier(2),
		WithJitter(0),
		recordSleeps(&delays),
	)

	err := r.Do(context.Background(), func(context.Context) error { return errors.New("down") })
	assert.EqualError(t, err, "down")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}, delays)
}

func TestDo_JitterStaysInBounds(t *testing.T) {
	r := New(WithInitialDelay(time.Second), WithJitter(0.5))
	for i := 0; i < 100; i++ {
		d := r.backoff(1)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
}

func TestDo_StopsOnPermanent(t *testing.T) {
	base := errors.New("bad password")
	calls := 0

	err := New(WithSleep(func(context.Context, time.Duration) error { return nil })).Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(base)
	})

	assert.Same(t, base, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsPermanent(fmt.Errorf("connect: %w", Permanent(base))))
	assert.Nil(t, Permanent(nil))
}

func TestDo_ContextErrorsNotRetried(t *testing.T) {
	calls := 0
	err := New().Do(context.Background(), func(context.Context) error {
		calls++
		return fmt.Errorf("query: %w", context.DeadlineExceeded)
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := New().Do(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestDo_CancelDuringSleepReturnsLastError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	opErr := errors.New("connection refused")

	err := New(WithInitialDelay(time.Hour), WithOnRetry(func(int, error, time.Duration) { cancel() })).
		Do(ctx, func(context.Context) error { return opErr })

	assert.Same(t, opErr, err)
}

func TestDatabaseRetrier_RetriesEverythingAndReports(t *testing.T) {
	var attempts []int
	r := DatabaseRetrier(
		func(attempt int, _ error, _ time.Duration) { attempts = append(attempts, attempt) },
		WithSleep(func(context.Context, time.Duration) error { return nil }),
	)

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("connection refused")
	})

	assert.Error(t, err)
	assert.Equal(t, 5, calls)
	assert.Equal(t, []int{1, 2, 3, 4}, attempts)
}

func TestDatabaseRetrier_ExtraOptionsOverridePreset(t *testing.T) {
	r := DatabaseRetrier(nil, WithMaxAttempts(2), WithInitialDelay(time.Millisecond), WithJitter(0))

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("connection refused")
	})

	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestConflictRetrier_OnlyRetriesConflicts(t *testing.T) {
	errStale := errors.New("version stale")
	isStale := func(err error) bool { return errors.Is(err, errStale) }
	var retried []error

	r := ConflictRetrier(isStale, func(_ int, err error, _ time.Duration) { retried = append(retried, err) })

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return fmt.Errorf("upsert: %w", errStale)
		}
		return errors.New("disk full")
	})

	assert.EqualError(t, err, "disk full")
	assert.Equal(t, 2, calls)
	require.Len(t, retried, 1)
	assert.ErrorIs(t, retried[0], errStale)
}

func TestConflictRetrier_GivesUpWithConflict(t *testing.T) {
	errStale := errors.New("version stale")
	r := ConflictRetrier(func(err error) bool { return errors.Is(err, errStale) }, nil)

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return errStale
	})

	assert.Same(t, errStale, err)
	assert.Equal(t, 4, calls)
}
