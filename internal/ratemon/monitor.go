// Package ratemon measures diagnostic traffic throughput per direction
// over a sliding window.
package ratemon

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tcu-diag/internal/can"
	"tcu-diag/internal/models"
	"tcu-diag/internal/observability"
)

// slots per window
const slotCount = 10

type slot struct {
	index int64 // absolute slot number, ts / slot width
	bytes uint64
}

// Monitor is a passive observer counting bytes per direction
type Monitor struct {
	window time.Duration
	width  time.Duration
	now    func() time.Time
	logger zerolog.Logger

	mu     sync.Mutex
	slots  [2][slotCount]slot
	totals [2]uint64
}

var _ can.Observer = (*Monitor)(nil)

// Rate is the throughput snapshot served to consumers
type Rate struct {
	InBytesPerSec  float64 `json:"in_bytes_per_sec"`
	OutBytesPerSec float64 `json:"out_bytes_per_sec"`
	InTotal        uint64  `json:"in_total_bytes"`
	OutTotal       uint64  `json:"out_total_bytes"`
	Window         string  `json:"window"`
}

// New creates a monitor averaging over window
func New(window time.Duration, logger zerolog.Logger) *Monitor {
	if window <= 0 {
		window = time.Second
	}
	width := window / slotCount
	if width <= 0 {
		width = 1
	}
	return &Monitor{
		window: window,
		width:  width,
		now:    time.Now,
		logger: logger.With().Str("component", "ratemon").Logger(),
	}
}

// Observe implements can.Observer
func (m *Monitor) Observe(dir models.Direction, data []byte, ts time.Time) {
	if dir > models.DirectionReceived {
		return
	}
	n := uint64(len(data))
	idx := ts.UnixNano() / int64(m.width)

	m.mu.Lock()
	s := &m.slots[dir][idx%slotCount]
	if s.index != idx {
		s.index = idx
		s.bytes = 0
	}
	s.bytes += n
	m.totals[dir] += n
	m.mu.Unlock()

	observability.RecordBusFrame(dir.String(), len(data))
}

// CurrentRate returns bytes per second received from and sent to the ECU
func (m *Monitor) CurrentRate() (in, out float64) {
	nowIdx := m.now().UnixNano() / int64(m.width)

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sumLocked(models.DirectionReceived, nowIdx), m.sumLocked(models.DirectionSent, nowIdx)
}

func (m *Monitor) sumLocked(dir models.Direction, nowIdx int64) float64 {
	var total uint64
	for _, s := range m.slots[dir] {
		if s.index > nowIdx-slotCount && s.index <= nowIdx {
			total += s.bytes
		}
	}
	return float64(total) / m.window.Seconds()
}

// Snapshot returns the current rates and lifetime totals
func (m *Monitor) Snapshot() Rate {
	in, out := m.CurrentRate()

	m.mu.Lock()
	defer m.mu.Unlock()
	return Rate{
		InBytesPerSec:  in,
		OutBytesPerSec: out,
		InTotal:        m.totals[models.DirectionReceived],
		OutTotal:       m.totals[models.DirectionSent],
		Window:         m.window.String(),
	}
}

// Run publishes the rates to metrics every interval until ctx ends
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			in, out := m.CurrentRate()
			observability.SetBusRate(models.DirectionReceived.String(), in)
			observability.SetBusRate(models.DirectionSent.String(), out)
			m.logger.Trace().Float64("in", in).Float64("out", out).Msg("bus rate")
		}
	}
}
