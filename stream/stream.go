// Package stream defines the raw byte channel the client runs on and the adapters that
// provide it: TCP, TLS, websocket and an in-memory pipe.
package stream

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync/atomic"
	"time"
)

// Stream is an ordered, reliable, bidirectional byte channel.
//
// Chunk boundaries carry no meaning: a chunk returned by ReadChunk may hold part of a
// protocol frame, one frame or many. ReadChunk returns io.EOF when the peer ends the
// stream gracefully. Only one goroutine may call ReadChunk at a time.
type Stream interface {
	// ReadChunk returns the next inbound bytes, honoring the context deadline and cancellation.
	ReadChunk(ctx context.Context) ([]byte, error)
	// WriteChunk writes b in full, honoring the context deadline and cancellation.
	WriteChunk(ctx context.Context, b []byte) error
	// Close closes the stream and unblocks pending reads and writes.
	Close() error
}

// Endpoint is a host/port pair plus the transport security to use when dialing it.
type Endpoint struct {
	Host string
	Port int
	// TLS dials the endpoint with crypto/tls instead of plain TCP.
	TLS bool
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	if e.TLS {
		return "tls://" + e.Address()
	}
	return "tcp://" + e.Address()
}

// Valid reports whether the endpoint has a host and a port in range.
func (e Endpoint) Valid() bool {
	return e.Host != "" && e.Port > 0 && e.Port <= 65535
}

// Dialer opens streams to endpoints.
type Dialer interface {
	Dial(ctx context.Context, ep Endpoint) (Stream, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, ep Endpoint) (Stream, error)

func (f DialerFunc) Dial(ctx context.Context, ep Endpoint) (Stream, error) { return f(ctx, ep) }

// bindDeadline applies the context deadline through set and forces an in-flight
// operation to wake up when ctx is canceled. The returned stop func must be called
// once the operation returns.
func bindDeadline(ctx context.Context, set func(time.Time) error) (hasDeadline bool, deadline time.Time, stop func()) {
	deadline, hasDeadline = ctx.Deadline()
	if hasDeadline {
		_ = set(deadline)
	} else {
		_ = set(time.Time{})
	}
	if ctx.Done() == nil {
		return hasDeadline, deadline, func() {}
	}
	var active atomic.Bool
	active.Store(true)
	cancel := context.AfterFunc(ctx, func() {
		if !active.Load() {
			return
		}
		_ = set(time.Now())
	})
	return hasDeadline, deadline, func() {
		active.Store(false)
		cancel()
	}
}

// mapTimeout prefers ctx.Err() over an I/O timeout caused by bindDeadline.
func mapTimeout(ctx context.Context, err error, hasDeadline bool, deadline time.Time) error {
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		return err
	}
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	// The socket deadline can fire slightly before the context timer.
	if hasDeadline && !time.Now().Before(deadline) {
		return context.DeadlineExceeded
	}
	return err
}
