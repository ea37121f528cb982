// Package packet implements the LOCO packet codec: the fixed 22-byte header, the BSON
// body, the frame accumulator that re-assembles frames from a byte stream, and the
// registry that maps method names to payload shapes.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderSize is the fixed size of an encoded packet header.
	HeaderSize = 22
	// MaxMethodLen is the width of the NUL-padded method field.
	MaxMethodLen = 11

	offID       = 0
	offStatus   = 4
	offMethod   = 6
	offBodyType = offMethod + MaxMethodLen
	offBodySize = offBodyType + 1
)

var (
	// ErrMethodTooLong is returned when a method name does not fit the header field.
	ErrMethodTooLong = errors.New("method name longer than 11 bytes")
	// ErrMethodNotASCII is returned when a method name contains non-ASCII or NUL bytes.
	ErrMethodNotASCII = errors.New("method name is not printable ascii")
	// ErrEmptyMethod is returned when a request or registry entry has no method name.
	// The codec itself accepts an empty name, as the decoder does.
	ErrEmptyMethod = errors.New("method name is empty")
)

// Header is the fixed part of every packet.
type Header struct {
	ID       uint32
	Status   int16
	Method   string
	BodyType int8
	BodySize uint32
}

func (h Header) String() string {
	return fmt.Sprintf("%s#%d(status=%d type=%d size=%d)", h.Method, h.ID, h.Status, h.BodyType, h.BodySize)
}

// ValidateMethod checks that name fits the method field. An empty name fits.
func ValidateMethod(name string) error {
	if len(name) > MaxMethodLen {
		return fmt.Errorf("%w: %q", ErrMethodTooLong, name)
	}
	for i := 0; i < len(name); i++ {
		if c := name[i]; c < 0x20 || c > 0x7e {
			return fmt.Errorf("%w: %q", ErrMethodNotASCII, name)
		}
	}
	return nil
}

// PutHeader writes h into dst, which must hold at least HeaderSize bytes.
func PutHeader(dst []byte, h Header) error {
	if err := ValidateMethod(h.Method); err != nil {
		return err
	}
	_ = dst[HeaderSize-1]
	binary.LittleEndian.PutUint32(dst[offID:], h.ID)
	binary.LittleEndian.PutUint16(dst[offStatus:], uint16(h.Status))
	clear(dst[offMethod:offBodyType])
	copy(dst[offMethod:offBodyType], h.Method)
	dst[offBodyType] = byte(h.BodyType)
	binary.LittleEndian.PutUint32(dst[offBodySize:], h.BodySize)
	return nil
}

// EncodeFrame returns the header followed by body. BodySize is taken from len(body).
func EncodeFrame(h Header, body []byte) ([]byte, error) {
	h.BodySize = uint32(len(body))
	out := make([]byte, HeaderSize+len(body))
	if err := PutHeader(out, h); err != nil {
		return nil, err
	}
	copy(out[HeaderSize:], body)
	return out, nil
}

// DecodeHeader parses the header starting at buf[off]. ok is false when fewer than
// HeaderSize bytes are available; consumed is always HeaderSize on success.
func DecodeHeader(buf []byte, off int) (h Header, consumed int, ok bool) {
	if off < 0 || len(buf)-off < HeaderSize {
		return Header{}, 0, false
	}
	b := buf[off : off+HeaderSize]
	h.ID = binary.LittleEndian.Uint32(b[offID:])
	h.Status = int16(binary.LittleEndian.Uint16(b[offStatus:]))
	m := b[offMethod:offBodyType]
	n := 0
	for n < len(m) && m[n] != 0 {
		n++
	}
	h.Method = string(m[:n])
	h.BodyType = int8(b[offBodyType])
	h.BodySize = binary.LittleEndian.Uint32(b[offBodySize:])
	return h, HeaderSize, true
}

// DecodeBody returns the body bytes for h from buf. ok is false until exactly
// h.BodySize bytes are available.
func DecodeBody(h Header, buf []byte) (body []byte, ok bool) {
	if uint64(len(buf)) < uint64(h.BodySize) {
		return nil, false
	}
	return buf[:h.BodySize], true
}
