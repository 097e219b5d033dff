package diag

import (
	"context"
	"sync/atomic"
	"time"

	"tcu-diag/internal/kwp"
)

// Request is one diagnostic command
type Request struct {
	Service uint8
	Params  []byte
	Expect  kwp.Expectation

	// Timeout overrides Config.RequestTimeout when positive
	Timeout time.Duration
	// MaxRetries overrides Config.MaxRetries when non-negative
	MaxRetries int
}

// NewRequest builds a request using the executor's default timeout and retries
func NewRequest(service uint8, params []byte, expect kwp.Expectation) Request {
	return Request{Service: service, Params: params, Expect: expect, MaxRetries: -1}
}

// Result is the terminal outcome of a request
type Result struct {
	Data       []byte
	ReceivedAt time.Time
	Err        error
}

// Pending is the handle returned by Submit. It resolves exactly once.
type Pending struct {
	id      uint64
	req     Request
	frame   []byte
	done    chan Result
	discard atomic.Bool
	created time.Time
}

func newPending(id uint64, req Request) *Pending {
	return &Pending{
		id:      id,
		req:     req,
		frame:   kwp.Encode(req.Service, req.Params),
		done:    make(chan Result, 1),
		created: time.Now(),
	}
}

func (p *Pending) ID() uint64 {
	return p.id
}

// Done delivers the result. The channel is never closed; a cancelled
// request never delivers.
func (p *Pending) Done() <-chan Result {
	return p.done
}

// Wait blocks until the request resolves or ctx ends
func (p *Pending) Wait(ctx context.Context) ([]byte, error) {
	select {
	case r := <-p.done:
		return r.Data, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pending) resolve(r Result) {
	if p.discard.Load() {
		return
	}
	select {
	case p.done <- r:
	default:
	}
}
