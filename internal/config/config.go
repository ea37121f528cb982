// Package config loads the loco-probe configuration: a TOML file, then LOCO_* environment
// overrides. Command line flags are applied by the caller.
package config

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/floegence/loco-go/client"
	"github.com/floegence/loco-go/crypto/secure"
	"github.com/floegence/loco-go/internal/cmdutil"
	"github.com/floegence/loco-go/internal/defaults"
	"github.com/floegence/loco-go/stream"
)

var (
	ErrMissingPublicKey   = errors.New("missing public key file")
	ErrMissingAccessToken = errors.New("missing access token")
)

// Probe is the resolved probe configuration.
type Probe struct {
	Booking       stream.Endpoint
	PublicKeyFile string
	UserID        int64
	AccessToken   string
	Device        client.DeviceInfo

	KeepaliveInterval time.Duration
	RequestTimeout    time.Duration
	// RelayURL, when set, dials every endpoint through a websocket relay.
	RelayURL      string
	MetricsListen string
	LogLevel      string
}

// Default returns the configuration used when nothing is set.
func Default() Probe {
	return Probe{
		Booking: stream.Endpoint{Host: "booking-loco.kakao.com", Port: 443, TLS: true},
		Device: client.DeviceInfo{
			OS:         "win32",
			Language:   "en",
			CountryISO: "KR",
			MCCMNC:     "999",
			AppVersion: "3.4.2",
			NetType:    0,
		},
		KeepaliveInterval: defaults.PingInterval,
		RequestTimeout:    defaults.RequestTimeout,
		LogLevel:          "info",
	}
}

type fileConfig struct {
	Booking struct {
		Host string `toml:"host"`
		Port int    `toml:"port"`
		TLS  bool   `toml:"tls"`
	} `toml:"booking"`
	PublicKeyFile string `toml:"public_key_file"`
	UserID        int64  `toml:"user_id"`
	AccessToken   string `toml:"access_token"`
	Device        struct {
		UUID       string `toml:"uuid"`
		OS         string `toml:"os"`
		Model      string `toml:"model"`
		AppVersion string `toml:"app_version"`
		Language   string `toml:"language"`
		CountryISO string `toml:"country_iso"`
		MCCMNC     string `toml:"mccmnc"`
		NetType    int    `toml:"net_type"`
		DeviceType int    `toml:"device_type"`
	} `toml:"device"`
	KeepaliveInterval string `toml:"keepalive_interval"`
	RequestTimeout    string `toml:"request_timeout"`
	RelayURL          string `toml:"relay_url"`
	MetricsListen     string `toml:"metrics_listen"`
	LogLevel          string `toml:"log_level"`
}

// Load reads path over the defaults. Keys absent from the file keep their default.
// An empty path returns the defaults.
func Load(path string) (Probe, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Probe{}, fmt.Errorf("load probe config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Probe{}, fmt.Errorf("load probe config: unknown key %q", undecoded[0].String())
	}

	setString := func(key string, dst *string, v string) {
		if meta.IsDefined(strings.Split(key, ".")...) {
			*dst = strings.TrimSpace(v)
		}
	}
	setString("booking.host", &cfg.Booking.Host, raw.Booking.Host)
	if meta.IsDefined("booking", "port") {
		cfg.Booking.Port = raw.Booking.Port
	}
	if meta.IsDefined("booking", "tls") {
		cfg.Booking.TLS = raw.Booking.TLS
	}
	setString("public_key_file", &cfg.PublicKeyFile, raw.PublicKeyFile)
	if meta.IsDefined("user_id") {
		cfg.UserID = raw.UserID
	}
	setString("access_token", &cfg.AccessToken, raw.AccessToken)

	setString("device.uuid", &cfg.Device.UUID, raw.Device.UUID)
	setString("device.os", &cfg.Device.OS, raw.Device.OS)
	setString("device.model", &cfg.Device.Model, raw.Device.Model)
	setString("device.app_version", &cfg.Device.AppVersion, raw.Device.AppVersion)
	setString("device.language", &cfg.Device.Language, raw.Device.Language)
	setString("device.country_iso", &cfg.Device.CountryISO, raw.Device.CountryISO)
	setString("device.mccmnc", &cfg.Device.MCCMNC, raw.Device.MCCMNC)
	if meta.IsDefined("device", "net_type") {
		cfg.Device.NetType = raw.Device.NetType
	}
	if meta.IsDefined("device", "device_type") {
		cfg.Device.DeviceType = raw.Device.DeviceType
	}

	if meta.IsDefined("keepalive_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.KeepaliveInterval))
		if err != nil {
			return Probe{}, fmt.Errorf("parse keepalive_interval: %w", err)
		}
		cfg.KeepaliveInterval = d
	}
	if meta.IsDefined("request_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.RequestTimeout))
		if err != nil {
			return Probe{}, fmt.Errorf("parse request_timeout: %w", err)
		}
		cfg.RequestTimeout = d
	}
	setString("relay_url", &cfg.RelayURL, raw.RelayURL)
	setString("metrics_listen", &cfg.MetricsListen, raw.MetricsListen)
	setString("log_level", &cfg.LogLevel, raw.LogLevel)
	return cfg, nil
}

// ApplyEnv overrides cfg with any LOCO_* variables that are set.
func (p *Probe) ApplyEnv() error {
	var err error
	p.Booking.Host = cmdutil.EnvString("LOCO_BOOKING_HOST", p.Booking.Host)
	if p.Booking.Port, err = cmdutil.EnvInt("LOCO_BOOKING_PORT", p.Booking.Port); err != nil {
		return err
	}
	if p.Booking.TLS, err = cmdutil.EnvBool("LOCO_BOOKING_TLS", p.Booking.TLS); err != nil {
		return err
	}
	p.PublicKeyFile = cmdutil.EnvString("LOCO_PUBLIC_KEY_FILE", p.PublicKeyFile)
	if p.UserID, err = cmdutil.EnvInt64("LOCO_USER_ID", p.UserID); err != nil {
		return err
	}
	p.AccessToken = cmdutil.EnvString("LOCO_ACCESS_TOKEN", p.AccessToken)
	p.Device.UUID = cmdutil.EnvString("LOCO_DEVICE_UUID", p.Device.UUID)
	p.Device.OS = cmdutil.EnvString("LOCO_DEVICE_OS", p.Device.OS)
	p.Device.AppVersion = cmdutil.EnvString("LOCO_APP_VERSION", p.Device.AppVersion)
	p.Device.Language = cmdutil.EnvString("LOCO_LANGUAGE", p.Device.Language)
	if p.KeepaliveInterval, err = cmdutil.EnvDuration("LOCO_KEEPALIVE_INTERVAL", p.KeepaliveInterval); err != nil {
		return err
	}
	if p.RequestTimeout, err = cmdutil.EnvDuration("LOCO_REQUEST_TIMEOUT", p.RequestTimeout); err != nil {
		return err
	}
	p.RelayURL = cmdutil.EnvString("LOCO_RELAY_URL", p.RelayURL)
	p.MetricsListen = cmdutil.EnvString("LOCO_METRICS_LISTEN", p.MetricsListen)
	p.LogLevel = cmdutil.EnvString("LOCO_LOG_LEVEL", p.LogLevel)
	return nil
}

// EnsureDeviceUUID fills in a random device uuid when none is configured and reports
// whether it did.
func (p *Probe) EnsureDeviceUUID() bool {
	if p.Device.UUID != "" {
		return false
	}
	p.Device.UUID = uuid.NewString()
	return true
}

// Validate checks the fields the probe cannot run without.
func (p Probe) Validate() error {
	switch {
	case !p.Booking.Valid():
		return fmt.Errorf("invalid booking endpoint %q", p.Booking.Address())
	case p.PublicKeyFile == "":
		return ErrMissingPublicKey
	case p.AccessToken == "":
		return ErrMissingAccessToken
	case p.RequestTimeout < 0:
		return fmt.Errorf("request_timeout must be >= 0")
	}
	return nil
}

// PublicKey reads and parses PublicKeyFile.
func (p Probe) PublicKey() (*rsa.PublicKey, error) {
	data, err := os.ReadFile(p.PublicKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	pub, err := secure.ParsePublicKeyPEM(data)
	if err != nil {
		return nil, fmt.Errorf("parse public key %s: %w", p.PublicKeyFile, err)
	}
	return pub, nil
}

// ClientConfig returns the session configuration for pub.
func (p Probe) ClientConfig(pub *rsa.PublicKey) client.Config {
	return client.Config{
		Booking:   p.Booking,
		PublicKey: pub,
		UserID:    p.UserID,
		Device:    p.Device,
	}
}
