package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBusOrderedDelivery(t *testing.T) {
	require := require.New(t)

	bus := NewBus[int](context.Background(), "test", nil)
	defer func() {
		bus.Close()
		bus.Wait()
	}()

	var mu sync.Mutex
	var got []int
	unsubscribe := bus.Subscribe(func(v int) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})
	require.Equal(1, bus.HandlerCount())

	for i := 0; i < 100; i++ {
		bus.Publish(i)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(bus.Flush(ctx))

	mu.Lock()
	require.Len(got, 100)
	for i, v := range got {
		require.Equal(i, v)
	}
	mu.Unlock()

	unsubscribe()
	unsubscribe()
	require.Zero(bus.HandlerCount())
}

func TestBusPublishDoesNotBlock(t *testing.T) {
	require := require.New(t)

	bus := NewBus[string](context.Background(), "slow", nil)

	release := make(chan struct{})
	bus.Subscribe(func(string) { <-release })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish("event")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow handler")
	}

	close(release)
	bus.Close()
	bus.Wait()
	require.Equal(1, bus.HandlerCount())
}

func TestBusHandlerPanic(t *testing.T) {
	require := require.New(t)

	bus := NewBus[int](context.Background(), "panic", nil)
	defer func() {
		bus.Close()
		bus.Wait()
	}()

	var mu sync.Mutex
	var got []int
	bus.Subscribe(func(v int) {
		if v == 1 {
			panic("boom")
		}
	})
	bus.Subscribe(func(v int) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})

	bus.Publish(1)
	bus.Publish(2)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(bus.Flush(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Equal([]int{1, 2}, got)
}

func TestBusClosedDropsEvents(t *testing.T) {
	require := require.New(t)

	bus := NewBus[int](context.Background(), "closed", nil)
	var count int
	var mu sync.Mutex
	bus.Subscribe(func(int) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Close()
	bus.Close()
	bus.Publish(1)
	bus.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Zero(count)
}
