package secure

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/floegence/loco-go/locoerr"
	"github.com/floegence/loco-go/stream"
)

var (
	// ErrHandshakeRepeated is returned when a handshake is attempted twice on one transport.
	ErrHandshakeRepeated = errors.New("handshake already sent")
	// ErrHandshakeRequired is returned when frames are written before the handshake.
	ErrHandshakeRequired = errors.New("handshake not sent")
	// ErrHandshakeLength signals an encrypted key length that does not fit the input.
	ErrHandshakeLength = errors.New("invalid handshake length")
)

// EncodeHandshake returns u32-LE(len(encryptedKey)) || encryptedKey.
func EncodeHandshake(encryptedKey []byte) []byte {
	out := make([]byte, lengthPrefixLen+len(encryptedKey))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(encryptedKey)))
	copy(out[4:], encryptedKey)
	return out
}

// DecodeHandshake parses a handshake at the start of buf. ok is false when more bytes
// are needed; consumed is the number of bytes the handshake occupies.
func DecodeHandshake(buf []byte, maxKeyBytes int) (encryptedKey []byte, consumed int, ok bool, err error) {
	if len(buf) < lengthPrefixLen {
		return nil, 0, false, nil
	}
	n := int(binary.LittleEndian.Uint32(buf[:4]))
	if n <= 0 || (maxKeyBytes > 0 && n > maxKeyBytes) {
		return nil, 0, false, ErrHandshakeLength
	}
	if len(buf) < lengthPrefixLen+n {
		return nil, 0, false, nil
	}
	key := make([]byte, n)
	copy(key, buf[4:4+n])
	return key, lengthPrefixLen + n, true, nil
}

// WriteHandshake wraps the session key and writes it as the first bytes on s.
//
// It must be called exactly once per connection; Transport enforces that.
func WriteHandshake(ctx context.Context, s stream.Stream, sess *Session) error {
	ek, err := sess.EncryptKey()
	if err != nil {
		return locoerr.Crypto(locoerr.StageHandshake, locoerr.CodeHandshakeFailed, err)
	}
	if err := s.WriteChunk(ctx, EncodeHandshake(ek)); err != nil {
		return locoerr.Transport(locoerr.StageHandshake, locoerr.ClassifyHandshakeCode(err), err)
	}
	return nil
}
