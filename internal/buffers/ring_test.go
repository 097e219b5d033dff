package buffers

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingEvictsOldestFirst(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}

	assert.Equal(t, []int{3, 4, 5}, r.Snapshot())
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, uint64(5), r.Total())
}

func TestRingSnapshotBeforeFull(t *testing.T) {
	r := NewRing[string](4)
	assert.Nil(t, r.Snapshot())

	r.Push("a")
	r.Push("b")
	assert.Equal(t, []string{"a", "b"}, r.Snapshot())
}

func TestRingLast(t *testing.T) {
	r := NewRing[int](4)
	for i := 0; i < 6; i++ {
		r.Push(i)
	}
	assert.Equal(t, []int{4, 5}, r.Last(2))
	assert.Equal(t, []int{2, 3, 4, 5}, r.Last(10))
	assert.Nil(t, r.Last(0))
}

func TestRingSnapshotIsACopy(t *testing.T) {
	r := NewRing[int](2)
	r.Push(1)
	snap := r.Snapshot()
	snap[0] = 99
	assert.Equal(t, []int{1}, r.Snapshot())
}

func TestRingReset(t *testing.T) {
	r := NewRing[int](2)
	r.Push(1)
	r.Push(2)
	r.Push(3)
	r.Reset()
	assert.Zero(t, r.Len())
	r.Push(4)
	assert.Equal(t, []int{4}, r.Snapshot())
}

func TestRingConcurrentWriters(t *testing.T) {
	r := NewRing[int](64)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				r.Push(i)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 64, r.Len())
	assert.Equal(t, uint64(4000), r.Total())
}
