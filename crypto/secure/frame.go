package secure

import (
	"encoding/binary"
	"errors"

	"github.com/floegence/loco-go/locoerr"
)

var (
	// ErrFrameTooLarge signals a declared frame length above the configured maximum.
	ErrFrameTooLarge = errors.New("encrypted frame too large")
	// ErrFrameTooShort signals a declared frame length smaller than the IV.
	ErrFrameTooShort = errors.New("encrypted frame shorter than iv")
	// ErrFrameTruncated signals that the stream ended in the middle of a frame.
	ErrFrameTruncated = errors.New("encrypted frame truncated")
	// ErrFrameLength signals a frame whose byte count disagrees with its length prefix.
	ErrFrameLength = errors.New("encrypted frame length mismatch")
)

// EncodeFrame encrypts plaintext under a fresh IV and returns
// u32-LE(len(ciphertext)+16) || iv || ciphertext.
func EncodeFrame(s *Session, plaintext []byte) ([]byte, error) {
	iv, err := s.NewIV()
	if err != nil {
		return nil, err
	}
	return encodeFrameWithIV(s, plaintext, iv), nil
}

func encodeFrameWithIV(s *Session, plaintext []byte, iv [IVSize]byte) []byte {
	out := make([]byte, lengthPrefixLen+IVSize, lengthPrefixLen+IVSize+len(plaintext))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(plaintext)+IVSize))
	copy(out[4:4+IVSize], iv[:])
	return append(out, s.Encrypt(plaintext, iv)...)
}

// DecodeFrame decrypts exactly one complete encrypted frame.
func DecodeFrame(s *Session, frame []byte) ([]byte, error) {
	if len(frame) < lengthPrefixLen+IVSize {
		return nil, locoerr.Crypto(locoerr.StageSecure, locoerr.CodeDecryptFailed, ErrFrameTooShort)
	}
	n := int(binary.LittleEndian.Uint32(frame[:4]))
	if n < IVSize {
		return nil, locoerr.Crypto(locoerr.StageSecure, locoerr.CodeDecryptFailed, ErrFrameTooShort)
	}
	if lengthPrefixLen+n != len(frame) {
		return nil, locoerr.Crypto(locoerr.StageSecure, locoerr.CodeDecryptFailed, ErrFrameLength)
	}
	var iv [IVSize]byte
	copy(iv[:], frame[4:4+IVSize])
	return s.Decrypt(frame[4+IVSize:], iv), nil
}

// FrameReader re-chunks an arbitrarily split encrypted byte stream into whole
// plaintext chunks, one per encrypted frame, in arrival order.
//
// FrameReader is not safe for concurrent use.
type FrameReader struct {
	s   *Session
	max int
	buf []byte
}

// NewFrameReader returns a reader decrypting with s. maxFrameBytes <= 0 selects DefaultMaxFrameBytes.
func NewFrameReader(s *Session, maxFrameBytes int) *FrameReader {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	return &FrameReader{s: s, max: maxFrameBytes}
}

// Write appends bytes read from the stream.
func (r *FrameReader) Write(chunk []byte) {
	r.buf = append(r.buf, chunk...)
}

// Buffered returns the number of bytes held for an incomplete frame.
func (r *FrameReader) Buffered() int { return len(r.buf) }

// Next returns the next complete plaintext chunk. ok is false when more bytes are needed.
// A non-nil error is fatal: the stream can no longer be framed.
func (r *FrameReader) Next() (plaintext []byte, ok bool, err error) {
	if len(r.buf) < lengthPrefixLen {
		return nil, false, nil
	}
	n := int(binary.LittleEndian.Uint32(r.buf[:4]))
	if n < IVSize {
		return nil, false, locoerr.Crypto(locoerr.StageSecure, locoerr.CodeDecryptFailed, ErrFrameTooShort)
	}
	if n > r.max {
		return nil, false, locoerr.Crypto(locoerr.StageSecure, locoerr.CodeFrameTooLarge, ErrFrameTooLarge)
	}
	total := lengthPrefixLen + n
	if len(r.buf) < total {
		return nil, false, nil
	}
	var iv [IVSize]byte
	copy(iv[:], r.buf[4:4+IVSize])
	plaintext = r.s.Decrypt(r.buf[4+IVSize:total], iv)

	rest := len(r.buf) - total
	copy(r.buf, r.buf[total:])
	r.buf = r.buf[:rest]
	return plaintext, true, nil
}
