// Package livedata polls live-data identifiers through the executor,
// keeps a bounded history per identifier and resamples it for charting.
package livedata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tcu-diag/internal/buffers"
	"tcu-diag/internal/diag"
	"tcu-diag/internal/kwp"
	"tcu-diag/internal/models"
	"tcu-diag/internal/observability"
)

var ErrUnknownIdentifier = errors.New("livedata: unknown identifier")

// Poller is the part of the executor the manager needs
type Poller interface {
	Submit(req diag.Request) (*diag.Pending, error)
	Cancel(p *diag.Pending) bool
}

// SampleSink receives every decoded sample. WriteSample must not block.
type SampleSink interface {
	WriteSample(name string, fields []string, sample models.LiveDataSample)
}

// Handle identifies a subscription
type Handle uint64

type Config struct {
	Tick            time.Duration
	RingCapacity    int
	OutputRate      float64
	DefaultInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Tick:            10 * time.Millisecond,
		RingCapacity:    600,
		OutputRate:      60,
		DefaultInterval: 100 * time.Millisecond,
	}
}

type subscription struct {
	id       uint8
	interval time.Duration
}

// poll tracks the schedule of one identifier shared by all its subscriptions
type poll struct {
	id       uint8
	nextDue  time.Time
	inflight *diag.Pending
}

// Manager schedules polls and owns the per-identifier histories
type Manager struct {
	poller   Poller
	registry *Registry
	config   Config
	logger   zerolog.Logger

	mu         sync.Mutex
	sink       SampleSink
	subs       map[Handle]subscription
	polls      map[uint8]*poll
	rings      map[uint8]*buffers.Ring[models.LiveDataSample]
	nextHandle Handle
}

// NewManager creates a manager polling through poller
func NewManager(poller Poller, registry *Registry, config Config, logger zerolog.Logger) *Manager {
	d := DefaultConfig()
	if config.Tick <= 0 {
		config.Tick = d.Tick
	}
	if config.RingCapacity < 2 {
		config.RingCapacity = d.RingCapacity
	}
	if config.OutputRate <= 0 {
		config.OutputRate = d.OutputRate
	}
	if config.DefaultInterval <= 0 {
		config.DefaultInterval = d.DefaultInterval
	}

	return &Manager{
		poller:   poller,
		registry: registry,
		config:   config,
		logger:   logger.With().Str("component", "livedata").Logger(),
		subs:     make(map[Handle]subscription),
		polls:    make(map[uint8]*poll),
		rings:    make(map[uint8]*buffers.Ring[models.LiveDataSample]),
	}
}

// SetSink attaches an archival sink
func (m *Manager) SetSink(sink SampleSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
}

// Subscribe starts polling id every interval; zero uses the default interval.
// Several subscriptions to one identifier share a single poll at the
// shortest requested interval.
func (m *Manager) Subscribe(id uint8, interval time.Duration) (Handle, error) {
	if _, ok := m.registry.Lookup(id); !ok {
		return 0, fmt.Errorf("%w: 0x%02X", ErrUnknownIdentifier, id)
	}
	if interval <= 0 {
		interval = m.config.DefaultInterval
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextHandle++
	h := m.nextHandle
	m.subs[h] = subscription{id: id, interval: interval}
	if _, ok := m.polls[id]; !ok {
		m.polls[id] = &poll{id: id}
	}
	if _, ok := m.rings[id]; !ok {
		m.rings[id] = buffers.NewRing[models.LiveDataSample](m.config.RingCapacity)
	}

	m.logger.Info().Uint64("handle", uint64(h)).Uint8("id", id).Dur("interval", interval).Msg("subscribed")
	return h, nil
}

// Unsubscribe stops a subscription. Buffered samples stay readable.
func (m *Manager) Unsubscribe(h Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[h]
	if !ok {
		return false
	}
	delete(m.subs, h)

	for _, other := range m.subs {
		if other.id == sub.id {
			return true
		}
	}
	if p := m.polls[sub.id]; p != nil && p.inflight != nil {
		m.poller.Cancel(p.inflight)
	}
	delete(m.polls, sub.id)
	return true
}

// Subscriptions returns the active subscriptions by handle
func (m *Manager) Subscriptions() map[Handle]uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Handle]uint8, len(m.subs))
	for h, s := range m.subs {
		out[h] = s.id
	}
	return out
}

// Run drives the polling schedule until ctx ends
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.cancelInflight()
			return
		case now := <-ticker.C:
			m.tick(now)
		}
	}
}

func (m *Manager) tick(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	intervals := make(map[uint8]time.Duration, len(m.polls))
	for _, s := range m.subs {
		if cur, ok := intervals[s.id]; !ok || s.interval < cur {
			intervals[s.id] = s.interval
		}
	}

	ids := make([]int, 0, len(m.polls))
	for id := range m.polls {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	for _, raw := range ids {
		p := m.polls[uint8(raw)]

		if p.inflight != nil {
			select {
			case r := <-p.inflight.Done():
				p.inflight = nil
				m.handleResult(p.id, r)
			default:
				continue
			}
		}

		if now.Before(p.nextDue) {
			continue
		}
		p.nextDue = now.Add(intervals[p.id])

		req := diag.NewRequest(kwp.SIDReadDataByLocalIdentifier, []byte{p.id}, kwp.Expectation{Echo: 1})
		pending, err := m.poller.Submit(req)
		if err != nil {
			observability.RecordLiveSample(p.id, "skipped")
			m.logger.Trace().Err(err).Uint8("id", p.id).Msg("poll not submitted")
			continue
		}
		p.inflight = pending
	}
}

// handleResult decodes a completed poll; called with m.mu held
func (m *Manager) handleResult(id uint8, r diag.Result) {
	if r.Err != nil {
		observability.RecordLiveSample(id, "error")
		m.logger.Debug().Err(r.Err).Uint8("id", id).Msg("poll failed")
		return
	}

	layout, ok := m.registry.Lookup(id)
	if !ok {
		return
	}
	values, err := layout.Decode(r.Data[1:])
	if err != nil {
		observability.RecordLiveSample(id, "malformed")
		m.logger.Debug().Err(err).Uint8("id", id).Msg("poll payload rejected")
		return
	}

	sample := models.LiveDataSample{Identifier: id, Timestamp: r.ReceivedAt, Values: values}
	m.rings[id].Push(sample)
	observability.RecordLiveSample(id, "ok")

	if m.sink != nil {
		m.sink.WriteSample(layout.Name, layout.FieldNames(), sample)
	}
}

func (m *Manager) cancelInflight() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.polls {
		if p.inflight != nil {
			m.poller.Cancel(p.inflight)
			p.inflight = nil
		}
	}
}

// Samples returns the buffered samples for id, oldest first
func (m *Manager) Samples(id uint8) []models.LiveDataSample {
	m.mu.Lock()
	ring := m.rings[id]
	m.mu.Unlock()
	if ring == nil {
		return nil
	}
	return ring.Snapshot()
}

// ReadSeries resamples the window ending now at rate points per second;
// rate <= 0 uses the configured output rate.
func (m *Manager) ReadSeries(id uint8, rate float64, window time.Duration) (models.Series, error) {
	return m.ReadSeriesAt(id, rate, window, time.Now())
}

// ReadSeriesAt is ReadSeries for a window ending at end
func (m *Manager) ReadSeriesAt(id uint8, rate float64, window time.Duration, end time.Time) (models.Series, error) {
	layout, ok := m.registry.Lookup(id)
	if !ok {
		return models.Series{}, fmt.Errorf("%w: 0x%02X", ErrUnknownIdentifier, id)
	}
	if rate <= 0 {
		rate = m.config.OutputRate
	}

	series := models.Series{
		Identifier: id,
		Name:       layout.Name,
		Fields:     layout.FieldNames(),
		Units:      layout.Units(),
		Rate:       rate,
	}
	series.Points = Resample(m.Samples(id), SampleTimes(end, rate, window))
	return series, nil
}

// Layouts lists the layouts this manager can poll
func (m *Manager) Layouts() []*Layout {
	return m.registry.Layouts()
}
