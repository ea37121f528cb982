// Package dispatch multiplexes requests and pushes over one LOCO connection.
//
// A Dispatcher owns the inbound side of its stream: exactly one reader goroutine
// re-assembles frames, correlates responses to pending requests by packet id and
// forwards everything else as events. When the stream ends every pending request is
// failed, so no ticket is left unresolved.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/floegence/loco-go/locoerr"
	"github.com/floegence/loco-go/observability"
	"github.com/floegence/loco-go/packet"
	"github.com/floegence/loco-go/stream"
)

var (
	// ErrClosed is the cause carried by requests failed because the connection ended.
	ErrClosed = errors.New("connection closed")
	// ErrPacketIDCollision is returned when the id counter wraps onto a pending request.
	ErrPacketIDCollision = errors.New("packet id collides with a pending request")
	// ErrSingleShot is returned by Send after a keepAlive=false dispatcher issued its request.
	ErrSingleShot = errors.New("single-shot connection already used")
)

// Dispatcher correlates requests and responses on one stream.
type Dispatcher struct {
	s    stream.Stream
	reg  *packet.Registry
	opts options
	log  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  uint32
	pending map[uint32]*Ticket
	sent    bool
	closed  bool
	err     error

	events   chan Event
	done     chan struct{}
	stopOnce sync.Once
}

// New starts a dispatcher on s. The reader goroutine runs until the stream fails,
// the peer closes it, or Close is called.
func New(s stream.Stream, reg *packet.Registry, opts ...Option) *Dispatcher {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		s:       s,
		reg:     reg,
		opts:    o,
		log:     o.logger,
		ctx:     ctx,
		cancel:  cancel,
		nextID:  1,
		pending: make(map[uint32]*Ticket),
		events:  make(chan Event, o.eventBuffer),
		done:    make(chan struct{}),
	}
	go d.readLoop()
	return d
}

// Events returns the event channel. It is closed after EventDisconnected.
//
// The reader goroutine blocks while the channel is full, so callers must drain it.
// Events still queued when Close is called may be dropped.
func (d *Dispatcher) Events() <-chan Event { return d.events }

// Done is closed once the connection has terminated and every pending request failed.
// It may close before EventDisconnected is delivered.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

// Err returns the terminal cause after Done is closed. It is nil for a local Close
// and for a completed single-shot exchange.
func (d *Dispatcher) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Pending returns the number of requests awaiting a response.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Send writes a request and returns its ticket.
//
// Frames are written in Send call order. ctx bounds the write only; use Ticket.Wait
// to bound the response.
func (d *Dispatcher) Send(ctx context.Context, method string, payload any) (*Ticket, error) {
	if method == "" {
		return nil, locoerr.Wrap(locoerr.KindState, locoerr.StageValidate, locoerr.CodeInvalidInput, packet.ErrEmptyMethod)
	}
	if err := packet.ValidateMethod(method); err != nil {
		return nil, locoerr.Wrap(locoerr.KindState, locoerr.StageValidate, locoerr.CodeInvalidInput, err)
	}
	body, err := packet.EncodeBody(payload)
	if err != nil {
		return nil, locoerr.Wrap(locoerr.KindState, locoerr.StageValidate, locoerr.CodeInvalidInput, err)
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	t, err := d.reserve(method)
	if err != nil {
		if errors.Is(err, ErrPacketIDCollision) {
			d.stop(err)
		}
		return nil, err
	}
	frame, err := packet.EncodeFrame(packet.Header{ID: t.id, Method: method, BodyType: packet.BodyTypeBSON}, body)
	if err != nil {
		d.release(t.id)
		return nil, locoerr.Wrap(locoerr.KindState, locoerr.StageValidate, locoerr.CodeInvalidInput, err)
	}
	if err := d.s.WriteChunk(ctx, frame); err != nil {
		d.opts.observer.FrameError(observability.FrameErrorWrite)
		werr := locoerr.Transport(locoerr.StageDispatch, locoerr.ClassifyWriteCode(err), err)
		d.release(t.id)
		d.stop(werr)
		return nil, werr
	}
	d.log.Debug().Str("method", method).Uint32("packet_id", t.id).Int("body_size", len(body)).Msg("request sent")
	return t, nil
}

// Call sends a request and waits for its outcome.
func (d *Dispatcher) Call(ctx context.Context, method string, payload any) (*Response, error) {
	t, err := d.Send(ctx, method, payload)
	if err != nil {
		return nil, err
	}
	return t.Wait(ctx)
}

// Close closes the stream and waits until every pending request has failed.
// Undelivered events are dropped from then on.
func (d *Dispatcher) Close() error {
	d.stop(nil)
	d.cancel()
	<-d.done
	return nil
}

func (d *Dispatcher) reserve(method string) (*Ticket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, locoerr.State(locoerr.StageDispatch, locoerr.CodeNotConnected, ErrClosed)
	}
	if !d.opts.keepAlive && d.sent {
		return nil, locoerr.State(locoerr.StageDispatch, locoerr.CodeBusy, ErrSingleShot)
	}
	id := d.nextID
	d.nextID++
	if d.nextID == 0 {
		d.nextID = 1
	}
	if _, ok := d.pending[id]; ok {
		return nil, locoerr.Protocol(locoerr.StageDispatch, locoerr.CodePacketIDExhausted,
			fmt.Errorf("%w: %d", ErrPacketIDCollision, id))
	}
	t := newTicket(id, method)
	d.pending[id] = t
	d.sent = true
	d.opts.observer.Pending(len(d.pending))
	return t, nil
}

func (d *Dispatcher) release(id uint32) {
	d.mu.Lock()
	delete(d.pending, id)
	d.opts.observer.Pending(len(d.pending))
	d.mu.Unlock()
}

func (d *Dispatcher) take(id uint32) *Ticket {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.pending[id]
	if !ok {
		return nil
	}
	delete(d.pending, id)
	d.opts.observer.Pending(len(d.pending))
	return t
}

// stop records the terminal cause and closes the stream; the reader goroutine
// observes the failed read and finishes the shutdown.
func (d *Dispatcher) stop(cause error) {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.err = cause
		d.mu.Unlock()
		if cause == nil {
			d.cancel()
		}
		_ = d.s.Close()
	})
}

func (d *Dispatcher) readLoop() {
	defer d.finish()
	acc := packet.NewAccumulator(d.opts.maxBodyBytes)
	for {
		chunk, err := d.s.ReadChunk(d.ctx)
		if err != nil {
			d.stop(readError(err))
			return
		}
		acc.Write(chunk)
		for {
			f, ok, err := acc.Next()
			if err != nil {
				d.stop(err)
				return
			}
			if !ok {
				break
			}
			if d.handle(f) && !d.opts.keepAlive {
				d.log.Debug().Uint32("packet_id", f.Header.ID).Msg("single-shot response delivered")
				d.stop(nil)
				return
			}
		}
	}
}

func readError(err error) error {
	if locoerr.KindOf(err) != "" {
		return err
	}
	return locoerr.Transport(locoerr.StageDispatch, locoerr.ClassifyReadCode(err), err)
}

// handle processes one frame and reports whether it resolved a request.
func (d *Dispatcher) handle(f packet.Frame) bool {
	h := f.Header
	payload, doc, err := d.reg.Decode(f)
	t := d.take(h.ID)
	if err != nil {
		d.log.Warn().Err(err).Str("method", h.Method).Uint32("packet_id", h.ID).Int8("body_type", h.BodyType).Msg("dropping frame")
		if locoerr.CodeOf(err) == locoerr.CodeUnknownPacket {
			d.opts.observer.FrameError(observability.FrameErrorUnknownPacket)
		} else {
			d.opts.observer.FrameError(observability.FrameErrorMalformedBody)
		}
		if t != nil {
			d.opts.observer.Call(t.method, observability.CallResultProtocolError, time.Since(t.issuedAt))
			t.resolve(nil, err)
		}
		d.emit(Event{Kind: EventError, Request: t, Err: err})
		return t != nil
	}

	resp := newResponse(f, payload, doc)
	if t == nil {
		d.log.Debug().Str("method", h.Method).Uint32("packet_id", h.ID).Msg("push received")
		d.opts.observer.Push(h.Method)
		d.emit(Event{Kind: EventPush, Response: resp})
		return false
	}
	result := observability.CallResultOK
	if resp.Status != 0 {
		result = observability.CallResultStatus
	}
	d.log.Debug().Str("method", h.Method).Uint32("packet_id", h.ID).Int64("status", resp.Status).Msg("response received")
	d.opts.observer.Call(t.method, result, time.Since(t.issuedAt))
	t.resolve(resp, nil)
	d.emit(Event{Kind: EventResponse, Request: t, Response: resp})
	return true
}

func (d *Dispatcher) emit(ev Event) {
	select {
	case d.events <- ev:
		return
	default:
	}
	select {
	case d.events <- ev:
	case <-d.ctx.Done():
	}
}

func (d *Dispatcher) finish() {
	d.mu.Lock()
	d.closed = true
	cause := d.err
	pending := d.pending
	d.pending = make(map[uint32]*Ticket)
	d.mu.Unlock()
	d.opts.observer.Pending(0)

	failure := fmt.Errorf("%w", ErrClosed)
	if cause != nil {
		failure = fmt.Errorf("%w: %w", ErrClosed, cause)
	}
	for _, t := range pending {
		d.opts.observer.Call(t.method, observability.CallResultConnectionError, time.Since(t.issuedAt))
		t.resolve(nil, locoerr.Transport(locoerr.StageDispatch, locoerr.CodeConnectionClosed, failure))
	}

	reason := disconnectReason(cause, d.opts.keepAlive)
	d.opts.observer.Disconnect(reason)
	ev := d.log.Info()
	if cause != nil && reason != observability.DisconnectReasonPeerClosed {
		ev = d.log.Warn().Err(cause)
	}
	ev.Str("reason", string(reason)).Int("failed_requests", len(pending)).Msg("connection closed")

	close(d.done)
	d.emit(Event{Kind: EventDisconnected, Err: cause})
	close(d.events)
	d.cancel()
}

func disconnectReason(cause error, keepAlive bool) observability.DisconnectReason {
	switch {
	case cause == nil && !keepAlive:
		return observability.DisconnectReasonSingleShot
	case cause == nil:
		return observability.DisconnectReasonLocal
	case errors.Is(cause, io.EOF):
		return observability.DisconnectReasonPeerClosed
	}
	switch locoerr.KindOf(cause) {
	case locoerr.KindCrypto:
		return observability.DisconnectReasonCrypto
	case locoerr.KindProtocol:
		return observability.DisconnectReasonProtocol
	default:
		return observability.DisconnectReasonTransport
	}
}
