package sequence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequencer(t *testing.T) {
	s := New(0)
	assert.Equal(t, uint64(1), s.Next())
	assert.Equal(t, uint64(2), s.Next())
	assert.Equal(t, uint64(2), s.Current())

	require.NoError(t, s.Resume(10))
	assert.Equal(t, uint64(11), s.Next())
	assert.Error(t, s.Resume(3))
	assert.Equal(t, uint64(11), s.Current())
}

func TestSequencerConcurrentNextIsUnique(t *testing.T) {
	s := New(0)
	var (
		mu   sync.Mutex
		seen = make(map[uint64]struct{})
		wg   sync.WaitGroup
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				v := s.Next()
				mu.Lock()
				seen[v] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 8000)
	assert.Equal(t, uint64(8000), s.Current())
}
