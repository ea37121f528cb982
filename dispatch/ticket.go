package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/floegence/loco-go/internal/contextutil"
	"github.com/floegence/loco-go/locoerr"
	"github.com/floegence/loco-go/packet"
)

// ErrTimeout is returned by Ticket.WaitTimeout when the response does not arrive in time.
// The request stays outstanding on the wire.
var ErrTimeout = errors.New("request timed out")

// Response is a decoded inbound frame: a response to a request or a push.
type Response struct {
	Header packet.Header
	// Payload is the value decoded through the registry shape.
	Payload any
	// Doc is the raw BSON body.
	Doc bson.Raw
	// Status is the body status when present, otherwise the header status.
	Status int64
}

// Method returns the method name carried by the frame header.
func (r *Response) Method() string { return r.Header.Method }

// StatusErr returns a *locoerr.StatusError for a non-zero status, nil otherwise.
func (r *Response) StatusErr() error {
	if r == nil || r.Status == 0 {
		return nil
	}
	return &locoerr.StatusError{Method: r.Header.Method, Status: r.Status}
}

func newResponse(f packet.Frame, payload any, doc bson.Raw) *Response {
	r := &Response{Header: f.Header, Payload: payload, Doc: doc, Status: int64(f.Header.Status)}
	if st, ok := packet.BodyStatus(doc); ok {
		r.Status = st
	}
	return r
}

// Ticket is the handle of one outstanding request.
//
// A ticket resolves exactly once: with the matching response, with a protocol error
// when the response could not be decoded, or with a connection error.
type Ticket struct {
	id       uint32
	method   string
	issuedAt time.Time

	done chan struct{}
	resp *Response
	err  error
}

func newTicket(id uint32, method string) *Ticket {
	return &Ticket{id: id, method: method, issuedAt: time.Now(), done: make(chan struct{})}
}

// ID returns the packet id assigned to the request.
func (t *Ticket) ID() uint32 { return t.id }

// Method returns the request method name.
func (t *Ticket) Method() string { return t.method }

// IssuedAt returns when the request was registered.
func (t *Ticket) IssuedAt() time.Time { return t.issuedAt }

// Done is closed once the ticket has resolved.
func (t *Ticket) Done() <-chan struct{} { return t.done }

func (t *Ticket) resolve(resp *Response, err error) {
	t.resp, t.err = resp, err
	close(t.done)
}

// Result returns the outcome of a resolved ticket. It must only be called after Done is closed.
func (t *Ticket) Result() (*Response, error) {
	<-t.done
	return t.resp, t.err
}

// Wait blocks until the ticket resolves or ctx is done. Abandoning the wait does not
// cancel the request.
func (t *Ticket) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-t.done:
		return t.resp, t.err
	default:
	}
	select {
	case <-t.done:
		return t.resp, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WaitTimeout is Wait bounded by d. A non-positive d waits without a bound.
func (t *Ticket) WaitTimeout(ctx context.Context, d time.Duration) (*Response, error) {
	wctx, cancel := contextutil.WithTimeout(ctx, d)
	defer cancel()
	resp, err := t.Wait(wctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, fmt.Errorf("%w: %s#%d after %s", ErrTimeout, t.method, t.id, d)
	}
	return resp, err
}
