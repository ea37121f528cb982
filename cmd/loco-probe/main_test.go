package main

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/floegence/loco-go/client"
	"github.com/floegence/loco-go/internal/config"
	"github.com/floegence/loco-go/internal/locotest"
	"github.com/floegence/loco-go/packet"
	"github.com/floegence/loco-go/stream"
)

func TestVersionFlag(t *testing.T) {
	oldV, oldC, oldD := version, commit, date
	version, commit, date = "v1.2.3", "abc", "2020-01-01T00:00:00Z"
	t.Cleanup(func() { version, commit, date = oldV, oldC, oldD })

	var stdout, stderr bytes.Buffer
	code := run([]string{"--version"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("unexpected exit code: %d (stderr=%q)", code, stderr.String())
	}
	got := strings.TrimSpace(stdout.String())
	want := "v1.2.3 (abc) 2020-01-01T00:00:00Z"
	if got != want {
		t.Fatalf("unexpected version output: got %q, want %q", got, want)
	}
}

func TestMissingRequiredInput(t *testing.T) {
	t.Setenv("LOCO_PUBLIC_KEY_FILE", "")
	t.Setenv("LOCO_ACCESS_TOKEN", "")
	var stdout, stderr bytes.Buffer
	if code := run(nil, &stdout, &stderr); code != 2 {
		t.Fatalf("unexpected exit code: %d", code)
	}
	if !strings.Contains(stderr.String(), "missing public key file") {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}

	stderr.Reset()
	args := []string{"--public-key-file", "k.pem", "--access-token", "t", "--log-level", "loud"}
	if code := run(args, &stdout, &stderr); code != 2 {
		t.Fatalf("unexpected exit code for a bad log level: %d", code)
	}
}

func TestProbeReconnectsOnServerSwitch(t *testing.T) {
	key, err := locotest.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	keyFile := filepath.Join(t.TempDir(), "server.pem")
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}

	srv := locotest.NewServer(key)
	t.Cleanup(srv.Close)
	srv.Handle(client.MethodGetConf, func(_ *locotest.Conn, _ packet.Frame) any {
		return bson.M{"status": int32(0), "ticket": bson.M{"lsl": []string{"checkin.test"}}, "wifi": bson.M{"ports": []int32{5223}}}
	})
	srv.Handle(client.MethodCheckin, func(_ *locotest.Conn, _ packet.Frame) any {
		return bson.M{"status": int32(0), "host": "main.test", "port": int32(9282), "cacheExpire": int32(600)}
	})
	srv.Handle(client.MethodLogin, func(_ *locotest.Conn, _ packet.Frame) any {
		return bson.M{"status": int32(0), "userId": int64(42)}
	})

	cfg := config.Default()
	cfg.Booking = stream.Endpoint{Host: "booking.test", Port: 443, TLS: true}
	cfg.PublicKeyFile = keyFile
	cfg.AccessToken = "token"
	cfg.Device.UUID = "device"
	cfg.KeepaliveInterval = -1

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out bytes.Buffer
	logins := 0
	p := probe{
		cfg:       cfg,
		dialer:    srv.Dialer(),
		log:       zerolog.Nop(),
		out:       &out,
		reconnect: true,
		onLoggedOn: func(*client.LoginResult) {
			logins++
			if logins == 2 {
				cancel()
				return
			}
			go func() {
				for {
					c, err := srv.NextConn(ctx)
					if err != nil {
						return
					}
					if c.Endpoint().Port == 9282 {
						_ = c.Push(ctx, client.MethodChangeServer, nil)
						return
					}
				}
			}()
		},
	}
	if err := p.run(ctx); err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if logins != 2 || srv.Count(client.MethodLogin) != 2 || srv.Count(client.MethodCheckin) != 2 {
		t.Fatalf("unexpected counts logins=%d login=%d checkin=%d", logins, srv.Count(client.MethodLogin), srv.Count(client.MethodCheckin))
	}
	if !strings.Contains(out.String(), "server_switch CHANGESVR") {
		t.Fatalf("server switch not reported:\n%s", out.String())
	}
}
