package packet

import (
	"errors"
	"fmt"

	"github.com/floegence/loco-go/locoerr"
)

// DefaultMaxBodyBytes bounds the declared body size of one inbound frame.
const DefaultMaxBodyBytes = 16 << 20

// ErrBodyTooLarge is returned when a header declares a body above the accumulator limit.
var ErrBodyTooLarge = errors.New("packet body too large")

// Frame is one complete packet as it arrived on the wire.
type Frame struct {
	Header Header
	Body   []byte
}

// Accumulator buffers plaintext chunks and yields complete frames in arrival order.
//
// An Accumulator is not safe for concurrent use; it belongs to the single reader loop.
type Accumulator struct {
	max int
	buf []byte
	err error
}

// NewAccumulator returns an accumulator. maxBodyBytes <= 0 selects DefaultMaxBodyBytes.
func NewAccumulator(maxBodyBytes int) *Accumulator {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &Accumulator{max: maxBodyBytes}
}

// Write appends a plaintext chunk.
func (a *Accumulator) Write(chunk []byte) {
	a.buf = append(a.buf, chunk...)
}

// Buffered returns the number of bytes waiting for a complete frame.
func (a *Accumulator) Buffered() int { return len(a.buf) }

// Next returns the next complete frame. ok is false when more bytes are needed.
//
// An oversized body leaves the stream unframeable, so the error is sticky.
func (a *Accumulator) Next() (f Frame, ok bool, err error) {
	if a.err != nil {
		return Frame{}, false, a.err
	}
	h, n, ok := DecodeHeader(a.buf, 0)
	if !ok {
		return Frame{}, false, nil
	}
	if uint64(h.BodySize) > uint64(a.max) {
		a.err = locoerr.Protocol(locoerr.StageCodec, locoerr.CodeFrameTooLarge,
			fmt.Errorf("%w: %s declares %d bytes", ErrBodyTooLarge, h.Method, h.BodySize))
		return Frame{}, false, a.err
	}
	body, ok := DecodeBody(h, a.buf[n:])
	if !ok {
		return Frame{}, false, nil
	}
	f = Frame{Header: h, Body: append([]byte(nil), body...)}

	total := n + len(body)
	rest := len(a.buf) - total
	copy(a.buf, a.buf[total:])
	a.buf = a.buf[:rest]
	return f, true, nil
}
