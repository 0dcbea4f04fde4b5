package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func failingOp(calls *atomic.Int32) Operation {
	return func(ctx context.Context) error {
		calls.Add(1)
		return errBoom
	}
}

func TestBreakerOpensAfterErrorThreshold(t *testing.T) {
	b := NewBreaker("test", BreakerOptions{
		VolumeThreshold: 4,
		ResetTimeout:    time.Hour,
	})

	var calls atomic.Int32
	for i := 0; i < 4; i++ {
		err := b.Execute(context.Background(), failingOp(&calls))
		require.ErrorIs(t, err, errBoom)
	}
	require.Equal(t, StateOpen, b.State())

	// Open circuit fails fast without invoking the operation.
	before := calls.Load()
	err := b.Execute(context.Background(), failingOp(&calls))
	require.ErrorIs(t, err, ErrServiceUnavailable)
	require.Equal(t, before, calls.Load())
}

func TestBreakerStaysClosedBelowVolumeThreshold(t *testing.T) {
	b := NewBreaker("test", BreakerOptions{VolumeThreshold: 10})

	var calls atomic.Int32
	for i := 0; i < 9; i++ {
		_ = b.Execute(context.Background(), failingOp(&calls))
	}
	require.Equal(t, StateClosed, b.State())
}

func TestBreakerStaysClosedBelowErrorPercentage(t *testing.T) {
	b := NewBreaker("test", BreakerOptions{
		VolumeThreshold:          4,
		ErrorThresholdPercentage: 50,
	})

	ok := func(ctx context.Context) error { return nil }
	var calls atomic.Int32
	for i := 0; i < 7; i++ {
		require.NoError(t, b.Execute(context.Background(), ok))
	}
	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), failingOp(&calls))
	}
	require.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenAllowsSingleTrial(t *testing.T) {
	b := NewBreaker("test", BreakerOptions{
		VolumeThreshold: 2,
		ResetTimeout:    30 * time.Millisecond,
	})

	var calls atomic.Int32
	_ = b.Execute(context.Background(), failingOp(&calls))
	_ = b.Execute(context.Background(), failingOp(&calls))
	require.Equal(t, StateOpen, b.State())

	time.Sleep(40 * time.Millisecond)

	// The trial call is admitted; a concurrent call during the trial is not.
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	require.Equal(t, StateHalfOpen, b.State())
	err := b.Execute(context.Background(), failingOp(&calls))
	require.ErrorIs(t, err, ErrServiceUnavailable)

	close(release)
	require.NoError(t, <-done)
	require.Equal(t, StateClosed, b.State())
}

func TestBreakerReopensOnFailedTrial(t *testing.T) {
	b := NewBreaker("test", BreakerOptions{
		VolumeThreshold: 2,
		ResetTimeout:    20 * time.Millisecond,
	})

	var calls atomic.Int32
	_ = b.Execute(context.Background(), failingOp(&calls))
	_ = b.Execute(context.Background(), failingOp(&calls))
	require.Equal(t, StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)

	err := b.Execute(context.Background(), failingOp(&calls))
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, StateOpen, b.State())

	// The reset timer restarts after a failed trial.
	err = b.Execute(context.Background(), failingOp(&calls))
	require.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestBreakerTimeoutCountsAsFailure(t *testing.T) {
	b := NewBreaker("test", BreakerOptions{
		Timeout:         10 * time.Millisecond,
		VolumeThreshold: 100,
	})

	err := b.Execute(context.Background(), func(ctx context.Context) error {
		select {
		case <-time.After(200 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	require.ErrorIs(t, err, ErrTimeout)
}

func TestBreakerNotifiesStateChanges(t *testing.T) {
	b := NewBreaker("payments", BreakerOptions{
		VolumeThreshold: 2,
		ResetTimeout:    time.Hour,
	})

	type change struct{ from, to State }
	var changes []change
	b.OnStateChange(func(name string, from, to State) {
		require.Equal(t, "payments", name)
		changes = append(changes, change{from, to})
	})

	var calls atomic.Int32
	_ = b.Execute(context.Background(), failingOp(&calls))
	_ = b.Execute(context.Background(), failingOp(&calls))

	require.Equal(t, []change{{StateClosed, StateOpen}}, changes)
}
