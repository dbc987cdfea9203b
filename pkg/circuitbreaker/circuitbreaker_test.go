package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRedisDown = errors.New("redis: connection refused")

func fail(context.Context) error { return errRedisDown }
func ok(context.Context) error   { return nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var transitions []State

	cb := New("test",
		WithFailureThreshold(2),
		WithTimeout(time.Minute),
		WithNow(func() time.Time { return now }),
		WithOnStateChange(func(_ string, _, to State) { transitions = append(transitions, to) }),
	)
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, fail), errRedisDown)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, fail), errRedisDown)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	now = now.Add(time.Minute)
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateHalfOpen, cb.State())

	// A finished trial frees its slot for the next one.
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := New("test", WithFailureThreshold(1), WithTimeout(time.Second), WithNow(func() time.Time { return now }))
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	require.Equal(t, StateOpen, cb.State())

	now = now.Add(2 * time.Second)
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, now.Add(time.Second), cb.Stats().RetryAt, "cool-down restarts from the failed trial")
}

func TestBreaker_HalfOpenLimitsConcurrentTrials(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := New("test", WithFailureThreshold(1), WithTimeout(time.Second), WithNow(func() time.Time { return now }))
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	now = now.Add(time.Second)

	var inner error
	err := cb.Execute(ctx, func(ctx context.Context) error {
		inner = cb.Execute(ctx, ok)
		return nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, inner, ErrTooManyRequests)
	assert.True(t, IsUnavailable(inner))
}

func TestBreaker_CancelledCallerIsNotAFailure(t *testing.T) {
	cb := New("test", WithFailureThreshold(1))
	ctx := context.Background()

	err := cb.Execute(ctx, func(context.Context) error {
		return fmt.Errorf("get snapshot: %w", context.Canceled)
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())

	_ = cb.Execute(ctx, func(context.Context) error { return context.DeadlineExceeded })
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_CustomIsFailure(t *testing.T) {
	errMiss := errors.New("cache miss")
	cb := New("test", WithFailureThreshold(1), WithIsFailure(func(err error) bool { return !errors.Is(err, errMiss) }))

	_ = cb.Execute(context.Background(), func(context.Context) error { return errMiss })
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_Stats(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := New("catalog", WithFailureThreshold(2), WithTimeout(time.Minute), WithNow(func() time.Time { return now }))
	ctx := context.Background()

	_ = cb.Execute(ctx, ok)
	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, ok)

	assert.Equal(t, Stats{
		Name:                "catalog",
		State:               StateOpen,
		Requests:            3,
		Failures:            2,
		Rejected:            1,
		ConsecutiveFailures: 2,
		RetryAt:             now.Add(time.Minute),
	}, cb.Stats())
}

func TestBreaker_Fallback(t *testing.T) {
	cb := GameStateBreaker(nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}

	fallbackErr := errors.New("skipped")
	err := cb.ExecuteWithFallback(ctx, ok, func(err error) error {
		assert.ErrorIs(t, err, ErrCircuitOpen)
		return fallbackErr
	})
	assert.ErrorIs(t, err, fallbackErr)

	// Errors from the call itself bypass the fallback.
	cb = GameStateBreaker(nil)
	err = cb.ExecuteWithFallback(ctx, fail, func(error) error { return fallbackErr })
	assert.ErrorIs(t, err, errRedisDown)
}
