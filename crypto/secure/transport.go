package secure

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/floegence/loco-go/locoerr"
	"github.com/floegence/loco-go/stream"
)

// Options tunes a Transport.
type Options struct {
	// MaxFrameBytes bounds the declared length of one inbound frame; 0 selects the default.
	MaxFrameBytes int
}

// Transport layers the encrypted framing over a byte stream.
//
// Every WriteChunk becomes exactly one encrypted frame; every ReadChunk returns the
// plaintext of exactly one inbound frame. Transport itself satisfies stream.Stream so
// the layers above do not care whether the connection is secured.
type Transport struct {
	s    stream.Stream
	sess *Session

	writeMu   sync.Mutex
	handshake bool

	readMu  sync.Mutex
	reader  *FrameReader
	readErr error

	closeOnce sync.Once
	closeErr  error
}

var _ stream.Stream = (*Transport)(nil)

// NewTransport wraps s without sending the handshake.
func NewTransport(s stream.Stream, sess *Session, opts Options) *Transport {
	return &Transport{
		s:      s,
		sess:   sess,
		reader: NewFrameReader(sess, opts.MaxFrameBytes),
	}
}

// Client wraps s and performs the handshake. The stream is closed on failure.
func Client(ctx context.Context, s stream.Stream, sess *Session, opts Options) (*Transport, error) {
	t := NewTransport(s, sess, opts)
	if err := t.Handshake(ctx); err != nil {
		_ = t.Close()
		return nil, err
	}
	return t, nil
}

// Handshake sends the wrapped session key. A second call fails without writing.
func (t *Transport) Handshake(ctx context.Context) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.handshake {
		return locoerr.State(locoerr.StageHandshake, locoerr.CodeHandshakeFailed, ErrHandshakeRepeated)
	}
	if err := WriteHandshake(ctx, t.s, t.sess); err != nil {
		return err
	}
	t.handshake = true
	return nil
}

// WriteChunk encrypts b into a single frame. Frames are written in call order.
func (t *Transport) WriteChunk(ctx context.Context, b []byte) error {
	frame, err := EncodeFrame(t.sess, b)
	if err != nil {
		return locoerr.Crypto(locoerr.StageSecure, locoerr.CodeWriteFailed, err)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if !t.handshake {
		return locoerr.State(locoerr.StageSecure, locoerr.CodeHandshakeFailed, ErrHandshakeRequired)
	}
	return t.s.WriteChunk(ctx, frame)
}

// ReadChunk returns the plaintext of the next complete inbound frame.
//
// Partial frames are carried over between reads. Crypto failures are sticky and close
// the underlying stream; a clean end of stream between frames yields io.EOF.
func (t *Transport) ReadChunk(ctx context.Context) ([]byte, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()
	if t.readErr != nil {
		return nil, t.readErr
	}
	for {
		plain, ok, err := t.reader.Next()
		if err != nil {
			return nil, t.failRead(err)
		}
		if ok {
			return plain, nil
		}
		chunk, err := t.s.ReadChunk(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) && t.reader.Buffered() > 0 {
				return nil, t.failRead(locoerr.Crypto(locoerr.StageSecure, locoerr.CodeFrameTruncated, ErrFrameTruncated))
			}
			return nil, err
		}
		t.reader.Write(chunk)
	}
}

func (t *Transport) failRead(err error) error {
	t.readErr = err
	_ = t.Close()
	return err
}

// Close closes the underlying stream once.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.s.Close()
	})
	return t.closeErr
}
