package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrTextMessage is returned when a websocket peer sends a text frame.
var ErrTextMessage = errors.New("unexpected ws text message")

// WebSocketConn carries the byte stream as binary websocket messages.
//
// Each WriteChunk becomes one binary message; each binary message read becomes one chunk.
type WebSocketConn struct {
	c       *websocket.Conn
	writeMu sync.Mutex
}

// WebSocket wraps an established gorilla/websocket connection.
func WebSocket(c *websocket.Conn) *WebSocketConn {
	return &WebSocketConn{c: c}
}

// WebSocketDialOptions configures DialWebSocket.
type WebSocketDialOptions struct {
	Header http.Header
	Dialer *websocket.Dialer
}

// DialWebSocket dials urlStr with a handshake bounded by the context deadline.
func DialWebSocket(ctx context.Context, urlStr string, opts WebSocketDialOptions) (*WebSocketConn, error) {
	var d websocket.Dialer
	if opts.Dialer != nil {
		d = *opts.Dialer
	}
	if deadline, ok := ctx.Deadline(); ok {
		dl := time.Until(deadline)
		if d.HandshakeTimeout == 0 || d.HandshakeTimeout > dl {
			d.HandshakeTimeout = dl
		}
	}
	c, resp, err := d.DialContext(ctx, urlStr, opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return WebSocket(c), nil
}

// RelayDialer reaches endpoints through a websocket relay. Each dial opens URL with the
// target endpoint in the query as host, port and tls.
type RelayDialer struct {
	URL     string
	Options WebSocketDialOptions
}

// Dial implements Dialer.
func (d RelayDialer) Dial(ctx context.Context, ep Endpoint) (Stream, error) {
	if !ep.Valid() {
		return nil, ErrInvalidEndpoint
	}
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("host", ep.Host)
	q.Set("port", strconv.Itoa(ep.Port))
	q.Set("tls", strconv.FormatBool(ep.TLS))
	u.RawQuery = q.Encode()
	return DialWebSocket(ctx, u.String(), d.Options)
}

// ReadChunk returns the payload of the next binary message.
func (s *WebSocketConn) ReadChunk(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hasDeadline, deadline, stop := bindDeadline(ctx, s.c.SetReadDeadline)
	defer stop()
	for {
		mt, b, err := s.c.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure {
				return nil, io.EOF
			}
			return nil, mapTimeout(ctx, err, hasDeadline, deadline)
		}
		switch mt {
		case websocket.BinaryMessage:
			return b, nil
		case websocket.TextMessage:
			return nil, ErrTextMessage
		default:
			continue
		}
	}
}

// WriteChunk sends b as a single binary message.
func (s *WebSocketConn) WriteChunk(ctx context.Context, b []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	hasDeadline, deadline, stop := bindDeadline(ctx, s.c.SetWriteDeadline)
	defer stop()
	if err := s.c.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return mapTimeout(ctx, err, hasDeadline, deadline)
	}
	return nil
}

// Close sends a normal close frame and closes the connection. It does not wait for a
// pending WriteChunk; that write fails once the connection is closed.
func (s *WebSocketConn) Close() error {
	_ = s.c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return s.c.Close()
}
