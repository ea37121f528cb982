package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrMissingPublicKey is returned when a session is created without a server key.
	ErrMissingPublicKey = errors.New("missing server public key")
	// ErrInvalidKeySize is returned when a symmetric key is not KeySize bytes.
	ErrInvalidKeySize = errors.New("invalid session key size")
	// ErrInvalidPublicKey is returned when PEM input does not hold an RSA public key.
	ErrInvalidPublicKey = errors.New("invalid rsa public key")
)

// Session owns the symmetric key of one physical connection.
//
// A Session is immutable after creation and safe for concurrent use.
type Session struct {
	key   [KeySize]byte
	pub   *rsa.PublicKey
	block cipher.Block
	rand  io.Reader
}

// NewSession generates a random 16-byte key for a connection to the server owning pub.
func NewSession(pub *rsa.PublicKey) (*Session, error) {
	if pub == nil {
		return nil, ErrMissingPublicKey
	}
	var key [KeySize]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	return newSession(pub, key)
}

// NewSessionWithKey builds a session around a known key. pub may be nil on the
// receiving side, which never wraps the key.
func NewSessionWithKey(pub *rsa.PublicKey, key []byte) (*Session, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	var k [KeySize]byte
	copy(k[:], key)
	return newSession(pub, k)
}

func newSession(pub *rsa.PublicKey, key [KeySize]byte) (*Session, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return &Session{key: key, pub: pub, block: block, rand: rand.Reader}, nil
}

// Key returns a copy of the symmetric key.
func (s *Session) Key() []byte {
	out := make([]byte, KeySize)
	copy(out, s.key[:])
	return out
}

// EncryptKey wraps the symmetric key with RSA-OAEP (SHA-1) under the server public key.
func (s *Session) EncryptKey() ([]byte, error) {
	if s.pub == nil {
		return nil, ErrMissingPublicKey
	}
	return rsa.EncryptOAEP(sha1.New(), s.rand, s.pub, s.key[:], nil)
}

// NewIV returns a fresh random IV. IVs are never reused across frames.
func (s *Session) NewIV() ([IVSize]byte, error) {
	var iv [IVSize]byte
	if _, err := io.ReadFull(s.rand, iv[:]); err != nil {
		return iv, fmt.Errorf("generate iv: %w", err)
	}
	return iv, nil
}

// Encrypt encrypts plaintext with AES-CFB under the session key and iv.
func (s *Session) Encrypt(plaintext []byte, iv [IVSize]byte) []byte {
	out := make([]byte, len(plaintext))
	cipher.NewCFBEncrypter(s.block, iv[:]).XORKeyStream(out, plaintext)
	return out
}

// Decrypt reverses Encrypt.
func (s *Session) Decrypt(ciphertext []byte, iv [IVSize]byte) []byte {
	out := make([]byte, len(ciphertext))
	cipher.NewCFBDecrypter(s.block, iv[:]).XORKeyStream(out, ciphertext)
	return out
}

// ParsePublicKeyPEM parses a PKCS#1 ("RSA PUBLIC KEY") or PKIX ("PUBLIC KEY") PEM block.
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrInvalidPublicKey
	}
	switch block.Type {
	case "RSA PUBLIC KEY":
		pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
		}
		return pub, nil
	case "PUBLIC KEY":
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
		}
		pub, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, ErrInvalidPublicKey
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("%w: unexpected pem type %q", ErrInvalidPublicKey, block.Type)
	}
}

// DecryptKey unwraps a handshake key with the server private key. Used by servers and tests.
func DecryptKey(priv *rsa.PrivateKey, encryptedKey []byte) ([]byte, error) {
	key, err := rsa.DecryptOAEP(sha1.New(), nil, priv, encryptedKey, nil)
	if err != nil {
		return nil, err
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	return key, nil
}
