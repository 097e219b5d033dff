package diag

import (
	"fmt"
	"time"

	"tcu-diag/internal/can"
	"tcu-diag/internal/kwp"
	"tcu-diag/internal/models"
	"tcu-diag/internal/observability"
)

// exchange sends p and waits for its final response. Only the worker calls it.
func (e *Executor) exchange(p *Pending) ([]byte, time.Time, error) {
	req := p.req
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.config.RequestTimeout
	}
	retries := req.MaxRetries
	if retries < 0 {
		retries = e.config.MaxRetries
	}
	service := kwp.ServiceName(req.Service)

	frames := e.transport.Frames()
	e.drain(frames)

	start := time.Now()
	if err := e.transport.Send(p.frame); err != nil {
		return nil, time.Time{}, &TransportError{Op: "send", Err: err}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// zero until the first response-pending
	var capAt time.Time

	for {
		select {
		case <-e.ctx.Done():
			return nil, time.Time{}, ErrClosed

		case f, ok := <-frames:
			if !ok {
				return nil, time.Time{}, &TransportError{Op: "receive", Err: can.ErrClosed}
			}

			resp := kwp.Decode(p.frame, f.Data, req.Expect)
			switch resp.Kind {
			case kwp.KindPositive:
				return resp.Data, f.Timestamp, nil

			case kwp.KindNegative:
				return nil, f.Timestamp, &NegativeResponseError{Service: req.Service, Code: resp.Code}

			case kwp.KindMalformed:
				return nil, f.Timestamp, malformed(req.Service, resp.Reason)

			case kwp.KindPending:
				if capAt.IsZero() {
					capAt = start.Add(e.config.PendingCap)
				}
				remaining := time.Until(capAt)
				if remaining <= 0 {
					return nil, time.Time{}, fmt.Errorf("%w: %s still pending after %s", ErrTimeout, service, e.config.PendingCap)
				}
				e.logger.Debug().Uint64("id", p.id).Str("service", service).Dur("remaining", remaining).Msg("response pending")
				timer.Reset(min(timeout, remaining))

			default:
				e.logger.Trace().Str("frame", f.Hex()).Msg("ignoring unrelated frame")
			}

		case <-timer.C:
			if !capAt.IsZero() {
				if time.Now().Before(capAt) {
					return nil, time.Time{}, fmt.Errorf("%w: %s no response after pending", ErrTimeout, service)
				}
				return nil, time.Time{}, fmt.Errorf("%w: %s still pending after %s", ErrTimeout, service, e.config.PendingCap)
			}
			if retries == 0 {
				return nil, time.Time{}, fmt.Errorf("%w: %s after %s", ErrTimeout, service, time.Since(start).Round(time.Millisecond))
			}

			retries--
			observability.RecordRetry(service)
			e.logger.Debug().Uint64("id", p.id).Str("service", service).Int("retries_left", retries).Msg("resending after timeout")
			if err := e.transport.Send(p.frame); err != nil {
				return nil, time.Time{}, &TransportError{Op: "send", Err: err}
			}
			timer.Reset(timeout)
		}
	}
}

// drain discards frames left over from earlier exchanges
func (e *Executor) drain(frames <-chan models.Frame) {
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return
			}
			e.logger.Trace().Str("frame", f.Hex()).Msg("discarding stale frame")
		default:
			return
		}
	}
}
