package idgen

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSequentialGenerator(t *testing.T) {
	require := require.New(t)

	g := NewSequential()
	require.Equal(uint32(1), g.Next())
	require.Equal(uint32(2), g.Next())
}

func TestGeneratorSkipsZero(t *testing.T) {
	g := &Generator{}
	g.id.Store(^uint32(0))
	require.Equal(t, uint32(1), g.Next())
}

func TestGeneratorConcurrentUnique(t *testing.T) {
	require := require.New(t)

	g := New()
	const workers, perWorker = 8, 1000

	var mu sync.Mutex
	seen := make(map[uint32]struct{}, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]uint32, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				local = append(local, g.Next())
			}
			mu.Lock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(seen, workers*perWorker)
}
