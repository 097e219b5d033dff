package diag

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Backoff spaces reconnect attempts. The wait starts at Initial and
// doubles with each consecutive failure up to Max. Spread randomizes each
// wait by up to that fraction in either direction.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Spread  float64
}

// DefaultBackoff starts at 250ms and doubles up to 10s
func DefaultBackoff() Backoff {
	return Backoff{
		Initial: 250 * time.Millisecond,
		Max:     10 * time.Second,
		Spread:  0.2,
	}
}

// wait returns the pause after failures consecutive failed connects
func (b Backoff) wait(failures int, rng *rand.Rand) time.Duration {
	d := b.Initial
	for i := 1; i < failures && (b.Max <= 0 || d < b.Max); i++ {
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	if d > 0 && b.Spread > 0 && rng != nil {
		d += time.Duration((2*rng.Float64() - 1) * b.Spread * float64(d))
	}
	return d
}

// Maintain connects and then re-establishes the session each time it ends
// in Error, pausing per backoff between failed attempts. An explicit
// Disconnect or ECU reset is respected. Maintain holds its own StateChanges
// subscription and returns when ctx ends or the executor closes.
func (e *Executor) Maintain(ctx context.Context, backoff Backoff) {
	changes, unsubscribe := e.subscribe()
	defer unsubscribe()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	failures := 0
	retry := true

	for {
		if retry {
			err := e.Connect(ctx)
			if err == nil {
				failures = 0
				retry = false
				continue
			}
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return
			}

			failures++
			delay := backoff.wait(failures, rng)
			e.logger.Warn().Err(err).Int("attempt", failures).Dur("retry_in", delay).Msg("connect failed")

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			retry = e.State() == StateError
			continue
		}

		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			retry = change.To == StateError
		}
	}
}
