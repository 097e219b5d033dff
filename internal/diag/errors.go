package diag

import (
	"errors"
	"fmt"

	"tcu-diag/internal/kwp"
)

var (
	// ErrNotConnected is returned for requests submitted or queued while
	// no session is established.
	ErrNotConnected = errors.New("diag: not connected")

	// ErrTimeout is returned when a request receives no final response
	// within its timeout after all retries, or exceeds the pending cap.
	ErrTimeout = errors.New("diag: timeout")

	// ErrMalformedResponse is returned when the ECU answers with a frame
	// that does not have the expected shape.
	ErrMalformedResponse = errors.New("diag: malformed response")

	// ErrFlashVerify is returned when the ECU rejects a written image
	ErrFlashVerify = errors.New("diag: flash verification failed")

	ErrQueueFull = errors.New("diag: request queue full")
	ErrClosed    = errors.New("diag: executor closed")
)

// NegativeResponseError carries the NRC the ECU refused a request with
type NegativeResponseError struct {
	Service uint8
	Code    kwp.NRC
}

func (e *NegativeResponseError) Error() string {
	return fmt.Sprintf("diag: ECU refused %s: %s", kwp.ServiceName(e.Service), e.Code)
}

// TransportError wraps a failure of the underlying bus transport.
// It always ends the session.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("diag: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func malformed(service uint8, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformedResponse, kwp.ServiceName(service), reason)
}

// outcome labels an error for metrics
func outcome(err error) string {
	var nrc *NegativeResponseError
	var terr *TransportError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &nrc):
		return "negative"
	case errors.As(err, &terr):
		return "transport"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	default:
		return "error"
	}
}
