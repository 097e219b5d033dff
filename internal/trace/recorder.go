// Package trace keeps a bounded history of diagnostic frames for offline
// inspection.
package trace

import (
	"sync/atomic"
	"time"

	"tcu-diag/internal/buffers"
	"tcu-diag/internal/can"
	"tcu-diag/internal/kwp"
	"tcu-diag/internal/models"
	"tcu-diag/internal/observability"
)

// Sink receives every recorded entry. WriteEntry must not block.
type Sink interface {
	WriteEntry(entry models.TraceEntry)
}

// Recorder is a passive observer fed from the tap's observer goroutine,
// so recording waits out a concurrent Snapshot instead of losing the frame.
type Recorder struct {
	ring *buffers.Ring[models.TraceEntry]
	seq  atomic.Uint64
	sink atomic.Pointer[sinkBox]
}

type sinkBox struct{ Sink }

var _ can.Observer = (*Recorder)(nil)

// NewRecorder creates a recorder keeping the newest capacity entries
func NewRecorder(capacity int) *Recorder {
	return &Recorder{ring: buffers.NewRing[models.TraceEntry](capacity)}
}

// SetSink attaches an archival sink; nil detaches it
func (r *Recorder) SetSink(s Sink) {
	if s == nil {
		r.sink.Store(nil)
		return
	}
	r.sink.Store(&sinkBox{s})
}

// Observe implements can.Observer
func (r *Recorder) Observe(dir models.Direction, data []byte, ts time.Time) {
	r.Record(dir, data, ts)
}

// Record appends one frame
func (r *Recorder) Record(dir models.Direction, data []byte, ts time.Time) {
	frame := make([]byte, len(data))
	copy(frame, data)

	entry := models.TraceEntry{
		Seq:        r.seq.Add(1),
		Timestamp:  ts,
		Direction:  dir,
		Data:       frame,
		Annotation: kwp.Annotate(frame),
	}

	r.ring.Push(entry)
	observability.RecordTraceEntry()

	if box := r.sink.Load(); box != nil {
		box.WriteEntry(entry)
	}
}

// Snapshot returns a copy of the buffered entries, oldest first
func (r *Recorder) Snapshot() []models.TraceEntry {
	return r.ring.Snapshot()
}

// Last returns the newest n entries, oldest first
func (r *Recorder) Last(n int) []models.TraceEntry {
	return r.ring.Last(n)
}

// Len returns the number of buffered entries
func (r *Recorder) Len() int {
	return r.ring.Len()
}

// Total returns how many entries were ever recorded, including evicted
// and cleared ones
func (r *Recorder) Total() uint64 {
	return r.ring.Total()
}

// Clear empties the buffer. Sequence numbers keep increasing.
func (r *Recorder) Clear() {
	r.ring.Reset()
}
