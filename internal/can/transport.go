package can

import (
	"errors"
	"time"

	"tcu-diag/internal/models"
)

// ErrClosed is returned by Send after the transport has been closed
var ErrClosed = errors.New("can: transport closed")

// Transport sends and receives whole diagnostic frames
type Transport interface {
	// Send transmits one frame
	Send(frame []byte) error

	// Frames returns the stream of received frames
	Frames() <-chan models.Frame

	// Close releases the underlying device
	Close() error
}

// Observer is a passive consumer of traffic crossing a transport.
// Observe must return quickly and must not retain data beyond the call
// unless it copies it.
type Observer interface {
	Observe(dir models.Direction, data []byte, ts time.Time)
}
