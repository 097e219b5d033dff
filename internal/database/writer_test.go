package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu      sync.Mutex
	batches [][]int
	fail    bool
}

func (c *collector) flush(ctx context.Context, batch []int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, append([]int(nil), batch...))
	if c.fail {
		return errors.New("store unavailable")
	}
	return nil
}

func (c *collector) snapshot() [][]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]int(nil), c.batches...)
}

func (c *collector) total() int {
	n := 0
	for _, b := range c.snapshot() {
		n += len(b)
	}
	return n
}

func TestBatcherFlushesOnSize(t *testing.T) {
	c := &collector{}
	b := NewBatcher[int](3, time.Hour, c.flush, zerolog.Nop())
	b.Start()
	defer b.Close()

	for i := 0; i < 6; i++ {
		require.True(t, b.Add(i))
	}

	require.Eventually(t, func() bool { return c.total() == 6 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, [][]int{{0, 1, 2}, {3, 4, 5}}, c.snapshot())
}

func TestBatcherFlushesOnInterval(t *testing.T) {
	c := &collector{}
	b := NewBatcher[int](100, 20*time.Millisecond, c.flush, zerolog.Nop())
	b.Start()
	defer b.Close()

	b.Add(7)
	require.Eventually(t, func() bool { return c.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestBatcherCloseFlushesRemainder(t *testing.T) {
	c := &collector{}
	b := NewBatcher[int](100, time.Hour, c.flush, zerolog.Nop())
	b.Start()

	for i := 0; i < 5; i++ {
		b.Add(i)
	}
	b.Close()

	assert.Equal(t, 5, c.total())
	assert.False(t, b.Add(99))
	assert.Equal(t, uint64(1), b.Dropped())
}

func TestBatcherDropsWhenFull(t *testing.T) {
	c := &collector{}
	b := NewBatcher[int](2, time.Hour, c.flush, zerolog.Nop())

	// not started: the queue holds four items
	for i := 0; i < 4; i++ {
		require.True(t, b.Add(i))
	}
	assert.False(t, b.Add(4))
	assert.Equal(t, uint64(1), b.Dropped())

	b.Close()
	assert.Equal(t, 0, c.total())
}

func TestBatcherFlushErrorDiscardsBatch(t *testing.T) {
	c := &collector{fail: true}
	b := NewBatcher[int](2, time.Hour, c.flush, zerolog.Nop())
	b.Start()

	b.Add(1)
	b.Add(2)
	b.Add(3)
	b.Close()

	assert.Equal(t, [][]int{{1, 2}, {3}}, c.snapshot())
}
