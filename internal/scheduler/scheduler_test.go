package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Interval: 5 * time.Minute, AlignToStart: true}, clockwork.NewFakeClock(), zerolog.Nop())

	now := time.Date(2024, 11, 15, 8, 2, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 11, 15, 8, 5, 0, 0, time.UTC), s.nextTick(now))

	onBoundary := time.Date(2024, 11, 15, 8, 5, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 11, 15, 8, 10, 0, 0, time.UTC), s.nextTick(onBoundary))
}

func TestNextTickUnaligned(t *testing.T) {
	s := New(Options{Interval: 5 * time.Minute}, clockwork.NewFakeClock(), zerolog.Nop())

	now := time.Date(2024, 11, 15, 8, 2, 30, 0, time.UTC)
	assert.Equal(t, now.Add(5*time.Minute), s.nextTick(now))
	assert.Equal(t, now, s.tickTime(now))
}

func TestRunFiresOnBoundaries(t *testing.T) {
	start := time.Date(2024, 11, 15, 8, 2, 30, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(start)
	s := New(Options{Interval: 5 * time.Minute, AlignToStart: true}, clock, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks := make(chan time.Time, 4)
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(_ context.Context, at time.Time) error {
			ticks <- at
			return errors.New("tick errors do not stop the loop")
		})
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()

	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	clock.Advance(150 * time.Second)
	assert.Equal(t, time.Date(2024, 11, 15, 8, 5, 0, 0, time.UTC), receive(t, ticks))

	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	clock.Advance(5 * time.Minute)
	assert.Equal(t, time.Date(2024, 11, 15, 8, 10, 0, 0, time.UTC), receive(t, ticks))

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRunStartupDelayHonoursCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(Options{Interval: time.Minute, StartupDelay: time.Hour}, clock, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error {
			t.Error("tick must not run before the startup delay elapses")
			return nil
		})
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func receive(t *testing.T, ch <-chan time.Time) time.Time {
	t.Helper()
	select {
	case at := <-ch:
		return at
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
		return time.Time{}
	}
}
