package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFakeClock(t *testing.T) {
	require := require.New(t)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFake(start)

	ch1 := c.After(100 * time.Millisecond)
	ch2 := c.After(time.Second)
	require.Equal(2, c.Waiters())

	c.Advance(150 * time.Millisecond)
	select {
	case fired := <-ch1:
		require.Equal(start.Add(150*time.Millisecond), fired)
	default:
		t.Fatal("first waiter should have fired")
	}
	select {
	case <-ch2:
		t.Fatal("second waiter fired too early")
	default:
	}

	c.Advance(time.Second)
	<-ch2
	require.Zero(c.Waiters())
}

func TestFakeClockSleep(t *testing.T) {
	require := require.New(t)
	c := NewFake(time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Sleep(ctx, time.Minute) }()

	require.NoError(c.BlockUntil(ctx, 1))
	c.Advance(time.Minute)
	require.NoError(<-done)

	cctx, ccancel := context.WithCancel(context.Background())
	ccancel()
	require.ErrorIs(c.Sleep(cctx, time.Minute), context.Canceled)
}

func TestRealClockSleep(t *testing.T) {
	require := require.New(t)
	c := Real()

	start := time.Now()
	require.NoError(c.Sleep(context.Background(), 10*time.Millisecond))
	require.GreaterOrEqual(time.Since(start), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(c.Sleep(ctx, time.Second), context.Canceled)
}
