// Package diag runs the diagnostic session: a single worker owns the
// transport and services requests one at a time in submission order.
package diag

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tcu-diag/internal/can"
	"tcu-diag/internal/kwp"
	"tcu-diag/internal/observability"
)

// SessionState is a snapshot of the session
type SessionState struct {
	State  State
	Reason error
}

type controlKind int

const (
	opConnect controlKind = iota
	opDisconnect
	opSwitchSession
	opReset
)

type controlOp struct {
	kind    controlKind
	session uint8
	reply   chan error
}

// Executor serializes all traffic to one ECU
type Executor struct {
	transport can.Transport
	config    Config
	logger    zerolog.Logger

	mu           sync.Mutex
	state        State
	reason       error
	queue        []*Pending
	current      *Pending
	nextID       uint64
	lastActivity time.Time
	closed       bool
	// sessionType is the session the ECU is in, or re-entered on reconnect
	sessionType uint8
	subscribers []chan StateChange

	wake    chan struct{}
	control chan controlOp

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// New creates an executor that takes ownership of transport
func New(transport can.Transport, config Config, logger zerolog.Logger) *Executor {
	ctx, cancel := context.WithCancel(context.Background())
	config = config.withDefaults()
	return &Executor{
		transport:   transport,
		config:      config,
		logger:      logger.With().Str("component", "executor").Logger(),
		state:       StateDisconnected,
		sessionType: config.SessionType,
		wake:        make(chan struct{}, 1),
		control:     make(chan controlOp),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the worker
func (e *Executor) Start() {
	e.startOnce.Do(func() {
		e.wg.Add(1)
		go e.run()
	})
}

// Close stops the worker, fails everything still queued and closes the transport
func (e *Executor) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()

		e.cancel()
		e.wg.Wait()

		e.mu.Lock()
		flushed := e.takeQueueLocked()
		e.setStateLocked(StateDisconnected, ErrClosed)
		for _, ch := range e.subscribers {
			close(ch)
		}
		e.subscribers = nil
		e.mu.Unlock()
		resolveAll(flushed, ErrClosed)

		err = e.transport.Close()
	})
	return err
}

// Session returns the current session state
func (e *Executor) Session() SessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return SessionState{State: e.state, Reason: e.reason}
}

// State returns the current state
func (e *Executor) State() State {
	return e.Session().State
}

// SessionType returns the diagnostic session the ECU was last put in
func (e *Executor) SessionType() uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionType
}

// StateChanges returns a new subscription to session transitions made
// after the call. Every subscriber sees every transition. Transitions
// between Established and AwaitingResponse are not reported. Changes are
// dropped for a subscriber that falls behind. The channel is closed by Close.
func (e *Executor) StateChanges() <-chan StateChange {
	ch, _ := e.subscribe()
	return ch
}

func (e *Executor) subscribe() (<-chan StateChange, func()) {
	ch := make(chan StateChange, 16)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		close(ch)
		return ch, func() {}
	}
	e.subscribers = append(e.subscribers, ch)

	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, sub := range e.subscribers {
			if sub == ch {
				e.subscribers = append(e.subscribers[:i], e.subscribers[i+1:]...)
				close(ch)
				return
			}
		}
	}
}

// QueueLen returns the number of requests waiting to be dispatched
func (e *Executor) QueueLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Submit enqueues a request and returns immediately
func (e *Executor) Submit(req Request) (*Pending, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}
	if e.state == StateDisconnected || e.state == StateError {
		return nil, ErrNotConnected
	}
	if len(e.queue) >= e.config.QueueSize {
		return nil, ErrQueueFull
	}

	e.nextID++
	p := newPending(e.nextID, req)
	e.queue = append(e.queue, p)
	observability.SetQueueDepth(len(e.queue))

	select {
	case e.wake <- struct{}{}:
	default:
	}
	return p, nil
}

// Do submits req and waits for its result. If ctx ends first the request
// is cancelled.
func (e *Executor) Do(ctx context.Context, req Request) ([]byte, error) {
	p, err := e.Submit(req)
	if err != nil {
		return nil, err
	}
	data, err := p.Wait(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		e.Cancel(p)
	}
	return data, err
}

// Cancel removes a queued request, or marks an in-flight one so its
// result is dropped. It reports false if the request already resolved.
func (e *Executor) Cancel(p *Pending) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, q := range e.queue {
		if q == p {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			observability.SetQueueDepth(len(e.queue))
			p.discard.Store(true)
			return true
		}
	}
	if e.current == p {
		p.discard.Store(true)
		return true
	}
	return false
}

// Connect performs the session handshake. It is a no-op when already connected.
func (e *Executor) Connect(ctx context.Context) error {
	return e.do(ctx, controlOp{kind: opConnect})
}

// Disconnect ends the session and fails queued requests with ErrNotConnected.
// The next Connect enters the configured session type again.
func (e *Executor) Disconnect(ctx context.Context) error {
	return e.do(ctx, controlOp{kind: opDisconnect})
}

// SwitchSession moves an established session to another session type.
// Keep-alives continue in the new session and a reconnect after an error
// re-enters it. A refusal leaves the current session in place.
func (e *Executor) SwitchSession(ctx context.Context, sessionType uint8) error {
	return e.do(ctx, controlOp{kind: opSwitchSession, session: sessionType})
}

// ResetECU requests a power-on reset. Once acknowledged the session is
// over: queued requests fail with ErrNotConnected and the state becomes
// Disconnected.
func (e *Executor) ResetECU(ctx context.Context) error {
	return e.do(ctx, controlOp{kind: opReset})
}

func (e *Executor) do(ctx context.Context, op controlOp) error {
	op.reply = make(chan error, 1)

	select {
	case e.control <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return ErrClosed
	}

	select {
	case err := <-op.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return ErrClosed
	}
}

func (e *Executor) run() {
	defer e.wg.Done()

	idle := time.NewTimer(e.config.TesterPresentInterval)
	defer idle.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case op := <-e.control:
			e.handleControl(op)
			continue
		default:
		}

		if p := e.dequeue(); p != nil {
			e.execute(p)
			continue
		}

		idle.Reset(e.idleWait())
		select {
		case <-e.ctx.Done():
			return
		case op := <-e.control:
			e.handleControl(op)
		case <-e.wake:
		case <-idle.C:
			e.keepAlive()
		}
	}
}

func (e *Executor) handleControl(op controlOp) {
	switch op.kind {
	case opConnect:
		op.reply <- e.connect()
	case opDisconnect:
		e.disconnect()
		op.reply <- nil
	case opSwitchSession:
		op.reply <- e.switchSession(op.session)
	case opReset:
		op.reply <- e.reset()
	}
}

func (e *Executor) dequeue() *Pending {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return nil
	}
	p := e.queue[0]
	e.queue[0] = nil
	e.queue = e.queue[1:]
	e.current = p
	observability.SetQueueDepth(len(e.queue))
	return p
}

func (e *Executor) idleWait() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateEstablished {
		return e.config.TesterPresentInterval
	}
	wait := e.config.TesterPresentInterval - time.Since(e.lastActivity)
	if wait < 0 {
		return 0
	}
	return wait
}

// execute runs the request dequeue made current to completion
func (e *Executor) execute(p *Pending) {
	e.mu.Lock()
	if !e.state.connected() {
		e.current = nil
		e.mu.Unlock()
		p.resolve(Result{Err: ErrNotConnected})
		return
	}
	e.setStateLocked(StateAwaitingResponse, nil)
	e.mu.Unlock()

	start := time.Now()
	data, at, err := e.exchange(p)
	observability.RecordRequest(kwp.ServiceName(p.req.Service), outcome(err), time.Since(start))

	e.mu.Lock()
	e.current = nil
	e.lastActivity = time.Now()
	if e.state == StateAwaitingResponse {
		e.setStateLocked(StateEstablished, nil)
	}
	e.mu.Unlock()

	var terr *TransportError
	if errors.As(err, &terr) {
		e.failSession(err)
	}

	if err != nil {
		e.logger.Debug().Err(err).Uint64("id", p.id).Str("service", kwp.ServiceName(p.req.Service)).Msg("request failed")
	}
	p.resolve(Result{Data: data, ReceivedAt: at, Err: err})
}

// critical runs a session-critical exchange; any failure ends the session
func (e *Executor) critical(req Request) error {
	p := newPending(0, req)
	start := time.Now()
	_, _, err := e.exchange(p)
	observability.RecordRequest(kwp.ServiceName(req.Service), outcome(err), time.Since(start))
	if err != nil {
		e.failSession(err)
		return err
	}

	e.mu.Lock()
	e.lastActivity = time.Now()
	e.mu.Unlock()
	return nil
}

func (e *Executor) connect() error {
	e.mu.Lock()
	if e.state.connected() {
		e.mu.Unlock()
		return nil
	}
	e.setStateLocked(StateConnecting, nil)
	e.mu.Unlock()

	e.mu.Lock()
	sessionType := e.sessionType
	e.mu.Unlock()
	e.logger.Info().Uint8("session_type", sessionType).Msg("starting diagnostic session")

	req := NewRequest(kwp.SIDStartDiagnosticSession, []byte{sessionType}, kwp.Expectation{Echo: 1})
	if err := e.critical(req); err != nil {
		return err
	}

	e.mu.Lock()
	if e.state == StateConnecting {
		e.setStateLocked(StateEstablished, nil)
	}
	e.mu.Unlock()
	return nil
}

func (e *Executor) disconnect() {
	e.mu.Lock()
	wasConnected := e.state.connected()
	e.mu.Unlock()

	if wasConnected {
		req := Request{Service: kwp.SIDStopDiagnosticSession, Timeout: e.config.RequestTimeout, MaxRetries: 0}
		if _, _, err := e.exchange(newPending(0, req)); err != nil {
			e.logger.Debug().Err(err).Msg("stop diagnostic session not acknowledged")
		}
	}

	e.endSession()
}

// endSession fails the queue and returns to Disconnected in the configured session type
func (e *Executor) endSession() {
	e.mu.Lock()
	flushed := e.takeQueueLocked()
	e.sessionType = e.config.SessionType
	e.setStateLocked(StateDisconnected, nil)
	e.mu.Unlock()
	resolveAll(flushed, ErrNotConnected)
}

func (e *Executor) switchSession(sessionType uint8) error {
	e.mu.Lock()
	connected := e.state.connected()
	from := e.sessionType
	e.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	e.logger.Info().Uint8("from", from).Uint8("to", sessionType).Msg("switching diagnostic session")
	req := NewRequest(kwp.SIDStartDiagnosticSession, []byte{sessionType}, kwp.Expectation{Echo: 1})
	if err := e.command(req); err != nil {
		return err
	}

	e.mu.Lock()
	e.sessionType = sessionType
	e.mu.Unlock()
	return nil
}

func (e *Executor) reset() error {
	if !e.State().connected() {
		return ErrNotConnected
	}

	e.logger.Warn().Msg("resetting ECU")
	req := NewRequest(kwp.SIDECUReset, []byte{kwp.ResetPowerOn}, kwp.Expectation{})
	if err := e.command(req); err != nil {
		return err
	}
	e.endSession()
	return nil
}

func (e *Executor) keepAlive() {
	e.mu.Lock()
	due := e.state == StateEstablished &&
		len(e.queue) == 0 &&
		time.Since(e.lastActivity) >= e.config.TesterPresentInterval
	e.mu.Unlock()
	if !due {
		return
	}

	e.logger.Trace().Msg("tester present")
	req := NewRequest(kwp.SIDTesterPresent, []byte{kwp.TesterPresentResponseRequired}, kwp.Expectation{})
	_ = e.critical(req)
}

// command runs an exchange for a control op. Unlike critical, only a
// transport failure ends the session.
func (e *Executor) command(req Request) error {
	start := time.Now()
	_, _, err := e.exchange(newPending(0, req))
	observability.RecordRequest(kwp.ServiceName(req.Service), outcome(err), time.Since(start))

	var terr *TransportError
	if errors.As(err, &terr) {
		e.failSession(err)
		return err
	}
	if err == nil {
		e.mu.Lock()
		e.lastActivity = time.Now()
		e.mu.Unlock()
	}
	return err
}

// failSession moves to Error and fails everything queued with ErrNotConnected
func (e *Executor) failSession(cause error) {
	e.mu.Lock()
	flushed := e.takeQueueLocked()
	e.setStateLocked(StateError, cause)
	e.mu.Unlock()

	e.logger.Error().Err(cause).Int("flushed", len(flushed)).Msg("diagnostic session lost")
	resolveAll(flushed, ErrNotConnected)
}

func (e *Executor) takeQueueLocked() []*Pending {
	flushed := e.queue
	e.queue = nil
	observability.SetQueueDepth(0)
	return flushed
}

func (e *Executor) setStateLocked(to State, reason error) {
	from := e.state
	if from == to {
		return
	}
	e.state = to
	e.reason = reason
	observability.SetSessionState(int(to))

	if (from == StateEstablished && to == StateAwaitingResponse) ||
		(from == StateAwaitingResponse && to == StateEstablished) {
		return
	}
	e.logger.Info().Stringer("from", from).Stringer("to", to).Msg("session state")
	change := StateChange{From: from, To: to, Cause: reason}
	for _, ch := range e.subscribers {
		select {
		case ch <- change:
		default:
		}
	}
}

func resolveAll(ps []*Pending, err error) {
	for _, p := range ps {
		p.resolve(Result{Err: err})
	}
}
