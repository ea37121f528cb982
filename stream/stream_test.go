package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestPipeRoundTrip(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- a.WriteChunk(ctx, []byte("hello loco")) }()

	var got []byte
	for len(got) < len("hello loco") {
		chunk, err := b.ReadChunk(ctx)
		if err != nil {
			t.Fatalf("ReadChunk failed: %v", err)
		}
		got = append(got, chunk...)
	}
	if string(got) != "hello loco" {
		t.Fatalf("unexpected payload: %q", got)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("WriteChunk failed: %v", err)
	}
}

func TestNetConnReadHonorsContextCancel(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := a.ReadChunk(ctx)
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ReadChunk did not return after cancellation")
	}
}

func TestNetConnReadDeadline(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := a.ReadChunk(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestNetConnReadEOF(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	s := Conn(clientConn, ConnOptions{ChunkSize: 4})
	_ = serverConn.Close()
	if _, err := s.ReadChunk(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestNetConnChunkSizeLimit(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	s := Conn(b, ConnOptions{ChunkSize: 3})
	defer s.Close()

	go func() { _, _ = a.Write([]byte("abcdefg")) }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	chunk, err := s.ReadChunk(ctx)
	if err != nil {
		t.Fatalf("ReadChunk failed: %v", err)
	}
	if len(chunk) > 3 {
		t.Fatalf("chunk exceeds size limit: %d", len(chunk))
	}
}

func TestEndpoint(t *testing.T) {
	ep := Endpoint{Host: "ticket-loco.example", Port: 443, TLS: true}
	if ep.Address() != "ticket-loco.example:443" {
		t.Fatalf("unexpected address %q", ep.Address())
	}
	if ep.String() != "tls://ticket-loco.example:443" {
		t.Fatalf("unexpected string %q", ep.String())
	}
	if (Endpoint{Host: "h"}).Valid() {
		t.Fatalf("expected endpoint without port to be invalid")
	}
	if _, err := (NetDialer{}).Dial(context.Background(), Endpoint{}); !errors.Is(err, ErrInvalidEndpoint) {
		t.Fatalf("expected ErrInvalidEndpoint, got %v", err)
	}
}

func TestNetDialerTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		_, _ = io.Copy(c, c)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := NetDialer{Timeout: time.Second}.Dial(ctx, Endpoint{Host: "127.0.0.1", Port: addr.Port})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer s.Close()
	if err := s.WriteChunk(ctx, []byte("echo")); err != nil {
		t.Fatalf("WriteChunk failed: %v", err)
	}
	var got []byte
	for len(got) < 4 {
		chunk, err := s.ReadChunk(ctx)
		if err != nil {
			t.Fatalf("ReadChunk failed: %v", err)
		}
		got = append(got, chunk...)
	}
	if string(got) != "echo" {
		t.Fatalf("unexpected echo %q", got)
	}
}

func newEchoWSServer(t *testing.T, text bool) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				return
			}
			mt := websocket.BinaryMessage
			if text {
				mt = websocket.TextMessage
			}
			if err := conn.WriteMessage(mt, b); err != nil {
				return
			}
		}
	}))
}

func TestWebSocketRoundTrip(t *testing.T) {
	srv := newEchoWSServer(t, false)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := DialWebSocket(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), WebSocketDialOptions{})
	if err != nil {
		t.Fatalf("DialWebSocket failed: %v", err)
	}
	defer s.Close()

	payload := []byte{0x05, 0x00, 0x00, 0x00}
	if err := s.WriteChunk(ctx, payload); err != nil {
		t.Fatalf("WriteChunk failed: %v", err)
	}
	got, err := s.ReadChunk(ctx)
	if err != nil {
		t.Fatalf("ReadChunk failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("unexpected chunk %x", got)
	}
}

func TestWebSocketRejectsTextMessages(t *testing.T) {
	srv := newEchoWSServer(t, true)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := DialWebSocket(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), WebSocketDialOptions{})
	if err != nil {
		t.Fatalf("DialWebSocket failed: %v", err)
	}
	defer s.Close()

	if err := s.WriteChunk(ctx, []byte("x")); err != nil {
		t.Fatalf("WriteChunk failed: %v", err)
	}
	if _, err := s.ReadChunk(ctx); !errors.Is(err, ErrTextMessage) {
		t.Fatalf("expected ErrTextMessage, got %v", err)
	}
}

func TestRelayDialerPassesTarget(t *testing.T) {
	targets := make(chan string, 1)
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		targets <- r.URL.RawQuery
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d := RelayDialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/relay?token=x"}
	s, err := d.Dial(ctx, Endpoint{Host: "booking.test", Port: 443, TLS: true})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer s.Close()

	if got, want := <-targets, "host=booking.test&port=443&tls=true&token=x"; got != want {
		t.Fatalf("unexpected relay query %q, want %q", got, want)
	}
	if _, err := d.Dial(ctx, Endpoint{}); !errors.Is(err, ErrInvalidEndpoint) {
		t.Fatalf("expected ErrInvalidEndpoint, got %v", err)
	}
}

func TestWebSocketCloseUnblocksStalledWrite(t *testing.T) {
	release := make(chan struct{})
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := DialWebSocket(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), WebSocketDialOptions{})
	if err != nil {
		t.Fatalf("DialWebSocket failed: %v", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- s.WriteChunk(context.Background(), make([]byte, 64<<20))
	}()
	time.Sleep(200 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		_ = s.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatalf("Close blocked behind a stalled WriteChunk")
	}
	select {
	case err := <-writeErr:
		if err == nil {
			t.Fatalf("expected the stalled write to fail")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("stalled WriteChunk was not unblocked by Close")
	}
}
