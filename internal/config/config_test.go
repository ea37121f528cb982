package config

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/floegence/loco-go/client"
	"github.com/floegence/loco-go/stream"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, "probe.toml", `
public_key_file = " key.pem "
user_id = 7
access_token = "token"
keepalive_interval = "30s"
metrics_listen = "127.0.0.1:9100"

[booking]
host = "booking.test"
port = 8443

[device]
uuid = "abc"
os = "android"
net_type = 3
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := Default()
	want.Booking = stream.Endpoint{Host: "booking.test", Port: 8443, TLS: true}
	want.PublicKeyFile = "key.pem"
	want.UserID = 7
	want.AccessToken = "token"
	want.KeepaliveInterval = 30 * time.Second
	want.MetricsListen = "127.0.0.1:9100"
	want.Device.UUID = "abc"
	want.Device.OS = "android"
	want.Device.NetType = 3
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("unexpected config (-want +got):\n%s", diff)
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"duration": `request_timeout = "soon"`,
		"unknown":  `bogus = 1`,
		"syntax":   `user_id = `,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeFile(t, "probe.toml", body)); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("unexpected config (-want +got):\n%s", diff)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("LOCO_BOOKING_HOST", "env.test")
	t.Setenv("LOCO_BOOKING_TLS", "false")
	t.Setenv("LOCO_USER_ID", "9000000000")
	t.Setenv("LOCO_ACCESS_TOKEN", "env-token")
	t.Setenv("LOCO_KEEPALIVE_INTERVAL", "5s")
	t.Setenv("LOCO_LOG_LEVEL", "debug")

	cfg := Default()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}
	if cfg.Booking.Host != "env.test" || cfg.Booking.TLS || cfg.Booking.Port != 443 {
		t.Fatalf("unexpected booking %+v", cfg.Booking)
	}
	if cfg.UserID != 9000000000 || cfg.AccessToken != "env-token" {
		t.Fatalf("unexpected identity %d %q", cfg.UserID, cfg.AccessToken)
	}
	if cfg.KeepaliveInterval != 5*time.Second || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected timing/log %v %q", cfg.KeepaliveInterval, cfg.LogLevel)
	}

	t.Setenv("LOCO_BOOKING_PORT", "https")
	if err := cfg.ApplyEnv(); err == nil {
		t.Fatalf("expected a parse error")
	}
}

func TestEnsureDeviceUUID(t *testing.T) {
	cfg := Default()
	if !cfg.EnsureDeviceUUID() {
		t.Fatalf("expected a generated uuid")
	}
	if _, err := uuid.Parse(cfg.Device.UUID); err != nil {
		t.Fatalf("generated uuid is invalid: %v", err)
	}
	before := cfg.Device.UUID
	if cfg.EnsureDeviceUUID() || cfg.Device.UUID != before {
		t.Fatalf("configured uuid must be kept")
	}
}

func TestValidate(t *testing.T) {
	ok := Default()
	ok.PublicKeyFile = "key.pem"
	ok.AccessToken = "token"
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	noKey := ok
	noKey.PublicKeyFile = ""
	if err := noKey.Validate(); !errors.Is(err, ErrMissingPublicKey) {
		t.Fatalf("expected ErrMissingPublicKey, got %v", err)
	}
	noToken := ok
	noToken.AccessToken = ""
	if err := noToken.Validate(); !errors.Is(err, ErrMissingAccessToken) {
		t.Fatalf("expected ErrMissingAccessToken, got %v", err)
	}
	badPort := ok
	badPort.Booking.Port = 0
	if err := badPort.Validate(); err == nil {
		t.Fatalf("expected invalid booking endpoint")
	}
}

func TestPublicKeyAndClientConfig(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	cfg := Default()
	cfg.PublicKeyFile = writeFile(t, "key.pem", string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})))
	cfg.Device.UUID = "abc"

	pub, err := cfg.PublicKey()
	if err != nil {
		t.Fatalf("PublicKey failed: %v", err)
	}
	if !pub.Equal(&key.PublicKey) {
		t.Fatalf("parsed key does not match")
	}

	cc := cfg.ClientConfig(pub)
	if _, err := client.New(cc); err != nil {
		t.Fatalf("client config rejected: %v", err)
	}

	cfg.PublicKeyFile = writeFile(t, "bad.pem", "not a key")
	if _, err := cfg.PublicKey(); err == nil {
		t.Fatalf("expected a parse error")
	}
}
