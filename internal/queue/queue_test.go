package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueues(t *testing.T) {
	impls := map[string]func() Queue[string]{
		"slice":     func() Queue[string] { return NewSliceQueue[string](1) },
		"lock-free": func() Queue[string] { return NewLockFreeQueue[string]() },
	}

	for name, newQueue := range impls {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			q := newQueue()

			assert.True(q.IsEmpty())
			_, ok := q.Dequeue()
			assert.False(ok)
			_, ok = q.Peek()
			assert.False(ok)

			q.Enqueue("a")
			q.Enqueue("b")
			assert.Equal(2, q.Length())

			head, ok := q.Peek()
			assert.True(ok)
			assert.Equal("a", head)
			assert.Equal(2, q.Length())

			v, _ := q.Dequeue()
			assert.Equal("a", v)
			v, _ = q.Dequeue()
			assert.Equal("b", v)
			assert.True(q.IsEmpty())

			q.Enqueue("c")
			q.Reset()
			assert.True(q.IsEmpty())
			_, ok = q.Dequeue()
			assert.False(ok)
		})
	}
}

func TestLockFreeQueueConcurrentEnqueue(t *testing.T) {
	require := require.New(t)

	q := NewLockFreeQueue[int]()
	const producers, perProducer = 8, 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(base*perProducer + i)
			}
		}(p)
	}
	wg.Wait()

	require.Equal(producers*perProducer, q.Length())

	// items of one producer keep their relative order
	last := make(map[int]int)
	for {
		v, ok := q.Dequeue()
		if !ok {
			break
		}
		producer := v / perProducer
		if prev, seen := last[producer]; seen {
			require.Greater(v, prev)
		}
		last[producer] = v
	}
	require.Len(last, producers)
}
