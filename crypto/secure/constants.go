// Package secure implements the protocol's own transport security: an RSA-wrapped
// AES session key sent once at connection start, followed by length-prefixed frames
// each encrypted under a fresh IV.
package secure

const (
	// KeySize is the AES-128 session key length.
	KeySize = 16
	// IVSize is the per-frame initialization vector length.
	IVSize = 16
	// lengthPrefixLen is the u32-LE length in front of handshake and encrypted frames.
	lengthPrefixLen = 4
	// DefaultMaxFrameBytes bounds the declared length of one encrypted frame.
	DefaultMaxFrameBytes = 16 * 1024 * 1024
)
