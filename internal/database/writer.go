package database

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"tcu-diag/internal/models"
)

// TraceWriter archives trace entries
type TraceWriter interface {
	// Start begins processing and writing entries
	Start()

	// WriteEntry queues an entry for writing. It never blocks.
	WriteEntry(entry models.TraceEntry)

	// Close flushes what is queued and releases the connection
	Close() error
}

// SampleWriter archives decoded live-data samples
type SampleWriter interface {
	Start()
	WriteSample(name string, fields []string, sample models.LiveDataSample)
	Close() error
}

// FlushFunc writes one batch to the backing store
type FlushFunc[T any] func(ctx context.Context, batch []T) error

// Batcher collects items and hands them to a FlushFunc once size items
// are queued or the flush interval elapses, whichever comes first.
type Batcher[T any] struct {
	size     int
	interval time.Duration
	flushFn  FlushFunc[T]
	logger   zerolog.Logger

	items   chan T
	batch   []T
	dropped atomic.Uint64

	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	done      chan struct{}
}

// NewBatcher creates a batcher. The queue holds twice the batch size.
func NewBatcher[T any](size int, interval time.Duration, flush FlushFunc[T], logger zerolog.Logger) *Batcher[T] {
	if size <= 0 {
		size = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Batcher[T]{
		size:     size,
		interval: interval,
		flushFn:  flush,
		logger:   logger,
		items:    make(chan T, size*2),
		batch:    make([]T, 0, size),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start launches the write loop
func (b *Batcher[T]) Start() {
	b.startOnce.Do(func() { go b.writeLoop() })
}

// Add queues an item, dropping it when the queue is full
func (b *Batcher[T]) Add(item T) bool {
	if b.ctx.Err() != nil {
		b.dropped.Add(1)
		return false
	}

	select {
	case b.items <- item:
		return true
	default:
		if b.dropped.Add(1)%1000 == 1 {
			b.logger.Warn().Uint64("dropped", b.dropped.Load()).Msg("batch queue full, dropping")
		}
		return false
	}
}

// Dropped returns how many items were discarded on overflow or after Close
func (b *Batcher[T]) Dropped() uint64 {
	return b.dropped.Load()
}

// Close stops the write loop after a final flush of everything queued
func (b *Batcher[T]) Close() {
	b.startOnce.Do(func() { close(b.done) })
	b.cancel()
	<-b.done
}

func (b *Batcher[T]) writeLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			b.drain()
			return

		case item := <-b.items:
			b.batch = append(b.batch, item)
			if len(b.batch) >= b.size {
				b.flush(b.ctx)
			}

		case <-ticker.C:
			b.flush(b.ctx)
		}
	}
}

func (b *Batcher[T]) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		select {
		case item := <-b.items:
			b.batch = append(b.batch, item)
			if len(b.batch) >= b.size {
				b.flush(ctx)
			}
		default:
			b.flush(ctx)
			return
		}
	}
}

func (b *Batcher[T]) flush(ctx context.Context) {
	if len(b.batch) == 0 {
		return
	}

	if err := b.flushFn(ctx, b.batch); err != nil {
		b.logger.Error().Err(err).Int("count", len(b.batch)).Msg("failed to flush batch")
	} else {
		b.logger.Debug().Int("count", len(b.batch)).Msg("flushed batch")
	}
	b.batch = make([]T, 0, b.size)
}
