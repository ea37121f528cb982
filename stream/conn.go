package stream

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"time"
)

// DefaultChunkSize is the read buffer size used when ConnOptions.ChunkSize is unset.
const DefaultChunkSize = 32 * 1024

// ConnOptions tunes a net.Conn backed stream.
type ConnOptions struct {
	// ChunkSize is the maximum number of bytes returned by one ReadChunk call.
	ChunkSize int
}

// NetConn adapts a net.Conn (plain TCP or *tls.Conn) to Stream.
type NetConn struct {
	c       net.Conn
	chunk   int
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// Conn wraps c as a Stream.
func Conn(c net.Conn, opts ConnOptions) *NetConn {
	n := opts.ChunkSize
	if n <= 0 {
		n = DefaultChunkSize
	}
	return &NetConn{c: c, chunk: n}
}

// ReadChunk reads whatever the socket has available, up to the chunk size.
func (s *NetConn) ReadChunk(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hasDeadline, deadline, stop := bindDeadline(ctx, s.c.SetReadDeadline)
	defer stop()
	buf := make([]byte, s.chunk)
	n, err := s.c.Read(buf)
	if n > 0 {
		// Data read alongside an error is delivered first; the error resurfaces on the next call.
		return buf[:n], nil
	}
	if err != nil {
		return nil, mapTimeout(ctx, err, hasDeadline, deadline)
	}
	return buf[:0], nil
}

// WriteChunk writes b in full. Concurrent writers are serialized.
func (s *NetConn) WriteChunk(ctx context.Context, b []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	hasDeadline, deadline, stop := bindDeadline(ctx, s.c.SetWriteDeadline)
	defer stop()
	for len(b) > 0 {
		n, err := s.c.Write(b)
		if err != nil {
			return mapTimeout(ctx, err, hasDeadline, deadline)
		}
		b = b[n:]
	}
	return nil
}

// Close closes the underlying connection once.
func (s *NetConn) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.c.Close()
	})
	return s.closeErr
}

// RemoteAddr returns the peer address of the underlying connection.
func (s *NetConn) RemoteAddr() net.Addr { return s.c.RemoteAddr() }

// NetDialer dials TCP or TLS endpoints.
type NetDialer struct {
	// Timeout bounds the TCP connect and the TLS handshake; 0 relies on ctx only.
	Timeout time.Duration
	// TLSConfig is cloned for TLS endpoints. ServerName defaults to the endpoint host.
	TLSConfig *tls.Config
	// ChunkSize is forwarded to ConnOptions.
	ChunkSize int
}

// ErrInvalidEndpoint is returned when dialing an endpoint without host or port.
var ErrInvalidEndpoint = errors.New("invalid endpoint")

// Dial connects to ep and returns a Stream.
func (d NetDialer) Dial(ctx context.Context, ep Endpoint) (Stream, error) {
	if !ep.Valid() {
		return nil, ErrInvalidEndpoint
	}
	nd := net.Dialer{Timeout: d.Timeout}
	raw, err := nd.DialContext(ctx, "tcp", ep.Address())
	if err != nil {
		return nil, err
	}
	if !ep.TLS {
		return Conn(raw, ConnOptions{ChunkSize: d.ChunkSize}), nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if d.TLSConfig != nil {
		cfg = d.TLSConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = ep.Host
	}
	tc := tls.Client(raw, cfg)
	hsCtx := ctx
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		hsCtx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	if err := tc.HandshakeContext(hsCtx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return Conn(tc, ConnOptions{ChunkSize: d.ChunkSize}), nil
}

// Pipe returns two connected in-memory streams.
func Pipe() (*NetConn, *NetConn) {
	a, b := net.Pipe()
	return Conn(a, ConnOptions{}), Conn(b, ConnOptions{})
}
