// Package locotest runs an in-process LOCO server for tests. Connections are served
// over in-memory pipes handed out by Server.Dialer.
package locotest

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"sync"

	"github.com/floegence/loco-go/crypto/secure"
	"github.com/floegence/loco-go/packet"
	"github.com/floegence/loco-go/stream"
)

// Handler answers one request. A nil return sends no response.
type Handler func(c *Conn, f packet.Frame) any

// Server dispatches requests to handlers by method name.
//
// Endpoints with TLS set are served as plaintext packet streams, the way booking is;
// every other endpoint expects the secure handshake first.
type Server struct {
	key *rsa.PrivateKey

	mu       sync.Mutex
	handlers map[string]Handler
	counts   map[string]int
	dials    []stream.Endpoint
	conns    []*Conn
	connCh   chan *Conn
	refuse   map[string]error
}

// GenerateKey returns a small RSA key suitable for tests.
func GenerateKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, 1024)
}

// NewServer returns a server that unwraps session keys with key.
func NewServer(key *rsa.PrivateKey) *Server {
	return &Server{
		key:      key,
		handlers: make(map[string]Handler),
		counts:   make(map[string]int),
		connCh:   make(chan *Conn, 16),
		refuse:   make(map[string]error),
	}
}

// PublicKey returns the key clients must wrap their session key with.
func (s *Server) PublicKey() *rsa.PublicKey { return &s.key.PublicKey }

// Handle registers h for method, replacing any previous handler.
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	s.handlers[method] = h
	s.mu.Unlock()
}

// Refuse makes dials to addr fail with err. A nil err clears the rule.
func (s *Server) Refuse(addr string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.refuse, addr)
		return
	}
	s.refuse[addr] = err
}

// Count returns how many requests for method were received.
func (s *Server) Count(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[method]
}

// Dials returns every endpoint dialed so far, in order.
func (s *Server) Dials() []stream.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stream.Endpoint(nil), s.dials...)
}

// NextConn waits for the next accepted connection.
func (s *Server) NextConn(ctx context.Context) (*Conn, error) {
	select {
	case c := <-s.connCh:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dialer returns a dialer connecting to this server.
func (s *Server) Dialer() stream.Dialer {
	return stream.DialerFunc(func(ctx context.Context, ep stream.Endpoint) (stream.Stream, error) {
		s.mu.Lock()
		s.dials = append(s.dials, ep)
		err := s.refuse[ep.Address()]
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}
		cli, srv := stream.Pipe()
		c := &Conn{srv: s, ep: ep, s: srv, done: make(chan struct{})}
		s.mu.Lock()
		s.conns = append(s.conns, c)
		s.mu.Unlock()
		select {
		case s.connCh <- c:
		default:
		}
		go c.serve(!ep.TLS)
		return cli, nil
	})
}

// Close closes every connection.
func (s *Server) Close() {
	s.mu.Lock()
	conns := append([]*Conn(nil), s.conns...)
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (s *Server) handler(method string) Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[method]++
	return s.handlers[method]
}

// Conn is the server side of one client connection.
type Conn struct {
	srv *Server
	ep  stream.Endpoint
	s   stream.Stream

	writeMu sync.Mutex
	sess    *secure.Session

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// Endpoint returns the endpoint the client dialed.
func (c *Conn) Endpoint() stream.Endpoint { return c.ep }

// Done is closed when the connection ends.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns why the connection ended.
func (c *Conn) Err() error {
	<-c.done
	return c.err
}

// Push sends an unsolicited frame with packet id 0.
func (c *Conn) Push(ctx context.Context, method string, payload any) error {
	return c.Reply(ctx, packet.Header{Method: method}, payload)
}

// Reply writes a frame with header h and payload as body.
func (c *Conn) Reply(ctx context.Context, h packet.Header, payload any) error {
	body, err := packet.EncodeBody(payload)
	if err != nil {
		return err
	}
	frame, err := packet.EncodeFrame(h, body)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.sess != nil {
		if frame, err = secure.EncodeFrame(c.sess, frame); err != nil {
			return err
		}
	}
	return c.s.WriteChunk(ctx, frame)
}

// Close ends the connection from the server side.
func (c *Conn) Close() error { return c.s.Close() }

var errHandshake = errors.New("locotest: bad handshake")

func (c *Conn) serve(secured bool) {
	defer c.closeOnce.Do(func() { close(c.done) })
	defer c.s.Close()
	ctx := context.Background()

	var buf []byte
	var frames *secure.FrameReader
	if secured {
		for {
			chunk, err := c.s.ReadChunk(ctx)
			if err != nil {
				c.err = err
				return
			}
			buf = append(buf, chunk...)
			ek, n, ok, err := secure.DecodeHandshake(buf, 1024)
			if err != nil {
				c.err = errors.Join(errHandshake, err)
				return
			}
			if !ok {
				continue
			}
			key, err := secure.DecryptKey(c.srv.key, ek)
			if err != nil {
				c.err = errors.Join(errHandshake, err)
				return
			}
			sess, err := secure.NewSessionWithKey(nil, key)
			if err != nil {
				c.err = err
				return
			}
			c.writeMu.Lock()
			c.sess = sess
			c.writeMu.Unlock()
			frames = secure.NewFrameReader(sess, 0)
			buf = buf[n:]
			break
		}
	}

	acc := packet.NewAccumulator(0)
	feed := func(b []byte) error {
		if frames == nil {
			acc.Write(b)
			return nil
		}
		frames.Write(b)
		for {
			plain, ok, err := frames.Next()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			acc.Write(plain)
		}
	}
	if err := feed(buf); err != nil {
		c.err = err
		return
	}
	for {
		for {
			f, ok, err := acc.Next()
			if err != nil {
				c.err = err
				return
			}
			if !ok {
				break
			}
			c.dispatch(ctx, f)
		}
		chunk, err := c.s.ReadChunk(ctx)
		if err != nil {
			c.err = err
			return
		}
		if err := feed(chunk); err != nil {
			c.err = err
			return
		}
	}
}

func (c *Conn) dispatch(ctx context.Context, f packet.Frame) {
	h := c.srv.handler(f.Header.Method)
	if h == nil {
		return
	}
	resp := h(c, f)
	if resp == nil {
		return
	}
	// Respond off the read loop so handlers may push without blocking reads.
	go func() {
		_ = c.Reply(ctx, packet.Header{ID: f.Header.ID, Method: f.Header.Method}, resp)
	}()
}
