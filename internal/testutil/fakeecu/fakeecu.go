// Package fakeecu is an in-memory can.Transport driven by a scripted ECU.
package fakeecu

import (
	"sync"
	"sync/atomic"
	"time"

	"tcu-diag/internal/can"
	"tcu-diag/internal/models"
)

// Reply is one frame the ECU emits after Delay
type Reply struct {
	Delay time.Duration
	Data  []byte
}

// Responder maps a request frame to the replies the ECU sends
type Responder func(req []byte) []Reply

// ECU implements can.Transport
type ECU struct {
	mu      sync.Mutex
	respond Responder
	sent    [][]byte
	sendErr error
	closed  bool
	frames  chan models.Frame

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

var _ can.Transport = (*ECU)(nil)

// New creates a fake ECU answering with respond
func New(respond Responder) *ECU {
	return &ECU{
		respond: respond,
		frames:  make(chan models.Frame, 64),
	}
}

// SetResponder swaps the script
func (e *ECU) SetResponder(respond Responder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.respond = respond
}

// FailSends makes every subsequent Send return err; nil restores sending
func (e *ECU) FailSends(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sendErr = err
}

// Send records the request and schedules the scripted replies
func (e *ECU) Send(frame []byte) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return can.ErrClosed
	}
	if e.sendErr != nil {
		err := e.sendErr
		e.mu.Unlock()
		return err
	}
	req := append([]byte(nil), frame...)
	e.sent = append(e.sent, req)
	respond := e.respond
	e.mu.Unlock()

	var replies []Reply
	if respond != nil {
		replies = respond(req)
	}
	if len(replies) == 0 {
		return nil
	}

	n := e.inflight.Add(1)
	for {
		max := e.maxInflight.Load()
		if n <= max || e.maxInflight.CompareAndSwap(max, n) {
			break
		}
	}

	go func() {
		for i, r := range replies {
			if r.Delay > 0 {
				time.Sleep(r.Delay)
			}
			if i == len(replies)-1 {
				e.inflight.Add(-1)
			}
			e.deliver(r.Data)
		}
	}()
	return nil
}

// Inject pushes an unsolicited frame, as bus noise would
func (e *ECU) Inject(data []byte) {
	e.deliver(append([]byte(nil), data...))
}

func (e *ECU) deliver(data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.frames <- models.Frame{Data: data, Timestamp: time.Now().UTC()}:
	default:
	}
}

// Frames implements can.Transport
func (e *ECU) Frames() <-chan models.Frame {
	return e.frames
}

// Close stops delivery and closes the frame stream
func (e *ECU) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.frames)
	e.mu.Unlock()
	return nil
}

// Sent returns a copy of every request frame received so far
func (e *ECU) Sent() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]byte, len(e.sent))
	copy(out, e.sent)
	return out
}

// SentCount returns the number of requests received
func (e *ECU) SentCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sent)
}

// CountSent returns how many received requests start with prefix
func (e *ECU) CountSent(prefix ...byte) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, s := range e.sent {
		if hasPrefix(s, prefix) {
			n++
		}
	}
	return n
}

// MaxInflight returns the highest number of requests that were awaiting
// their final reply at the same time
func (e *ECU) MaxInflight() int {
	return int(e.maxInflight.Load())
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Positive builds the positive reply to req carrying data
func Positive(req []byte, data ...byte) []byte {
	out := []byte{req[0] + 0x40}
	return append(out, data...)
}

// Negative builds a negative reply to req with code
func Negative(req []byte, code byte) []byte {
	return []byte{0x7F, req[0], code}
}

// Pending builds a response-pending reply to req
func Pending(req []byte) []byte {
	return Negative(req, 0x78)
}

// Now wraps data in a zero-delay reply list
func Now(data []byte) []Reply {
	return []Reply{{Data: data}}
}

// Session answers StartDiagnosticSession, TesterPresent and StopDiagnosticSession
// positively and delegates everything else to next.
func Session(next Responder) Responder {
	return func(req []byte) []Reply {
		switch req[0] {
		case 0x10:
			return Now(Positive(req, req[1:]...))
		case 0x3E, 0x20:
			return Now(Positive(req))
		}
		if next == nil {
			return nil
		}
		return next(req)
	}
}
