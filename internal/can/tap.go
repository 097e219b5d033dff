package can

import (
	"sync"
	"sync/atomic"
	"time"

	"tcu-diag/internal/models"
)

type tapEvent struct {
	dir  models.Direction
	data []byte
	ts   time.Time
}

// Tap wraps a Transport and mirrors every frame to passive observers.
// Observers run on the tap's own goroutine, so a slow observer can only
// cause tap events to be dropped, never stall Send or reception.
type Tap struct {
	inner     Transport
	observers []Observer
	out       chan models.Frame
	events    chan tapEvent
	dropped   atomic.Uint64
	now       func() time.Time

	mu     sync.RWMutex
	closed bool

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewTap starts forwarding inner's received frames through the tap
func NewTap(inner Transport, observers ...Observer) *Tap {
	t := &Tap{
		inner:     inner,
		observers: observers,
		out:       make(chan models.Frame, 256),
		events:    make(chan tapEvent, 1024),
		now:       func() time.Time { return time.Now().UTC() },
	}
	t.wg.Add(2)
	go t.forwardLoop()
	go t.observeLoop()
	return t
}

// Send transmits through the inner transport and reports the frame to observers
func (t *Tap) Send(frame []byte) error {
	if err := t.inner.Send(frame); err != nil {
		return err
	}
	data := make([]byte, len(frame))
	copy(data, frame)
	t.publish(tapEvent{dir: models.DirectionSent, data: data, ts: t.now()})
	return nil
}

// Frames returns the received frames after they have been observed
func (t *Tap) Frames() <-chan models.Frame {
	return t.out
}

// Dropped returns the number of tap events lost to a full observer queue
func (t *Tap) Dropped() uint64 {
	return t.dropped.Load()
}

// Close closes the inner transport and waits for the tap goroutines
func (t *Tap) Close() error {
	err := t.inner.Close()
	t.closeOnce.Do(func() {
		t.wg.Wait()
	})
	return err
}

func (t *Tap) publish(ev tapEvent) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.events <- ev:
	default:
		t.dropped.Add(1)
	}
}

// forwardLoop relays inner frames until the inner stream closes
func (t *Tap) forwardLoop() {
	defer t.wg.Done()
	defer t.closeEvents()
	defer close(t.out)

	for frame := range t.inner.Frames() {
		ts := frame.Timestamp
		if ts.IsZero() {
			ts = t.now()
			frame.Timestamp = ts
		}
		t.publish(tapEvent{dir: models.DirectionReceived, data: frame.Data, ts: ts})

		select {
		case t.out <- frame:
		default:
			t.dropped.Add(1)
		}
	}
}

func (t *Tap) closeEvents() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	close(t.events)
}

// observeLoop delivers events to observers; a panicking observer is contained
func (t *Tap) observeLoop() {
	defer t.wg.Done()
	for ev := range t.events {
		for _, o := range t.observers {
			safeObserve(o, ev)
		}
	}
}

func safeObserve(o Observer, ev tapEvent) {
	defer func() {
		_ = recover()
	}()
	o.Observe(ev.dir, ev.data, ev.ts)
}
