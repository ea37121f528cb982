package client

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/floegence/loco-go/internal/defaults"
	"github.com/floegence/loco-go/observability"
	"github.com/floegence/loco-go/packet"
	"github.com/floegence/loco-go/stream"
)

// Option configures a Session.
//
// Omit an option to use the library default.
type Option func(*options) error

type options struct {
	dialer   stream.Dialer
	clock    func() time.Time
	logger   zerolog.Logger
	observer observability.SessionObserver
	dispatch observability.DispatchObserver
	shapes   packet.RegistryConfig

	requestTimeout    time.Duration
	handshakeTimeout  time.Duration
	keepaliveInterval time.Duration
	pingTimeout       time.Duration
	maxFrameBytes     int
	maxBodyBytes      int
	eventBuffer       int
}

func defaultOptions() options {
	return options{
		dialer:            stream.NetDialer{Timeout: defaults.ConnectTimeout},
		clock:             time.Now,
		logger:            zerolog.Nop(),
		observer:          observability.NoopSessionObserver,
		dispatch:          observability.NoopDispatchObserver,
		requestTimeout:    defaults.RequestTimeout,
		handshakeTimeout:  defaults.HandshakeTimeout,
		keepaliveInterval: defaults.PingInterval,
		pingTimeout:       defaults.PingTimeout,
		maxFrameBytes:     defaults.MaxFrameBytes,
		maxBodyBytes:      defaults.MaxBodyBytes,
		eventBuffer:       defaults.EventBuffer,
	}
}

func applyOptions(opts []Option) (options, error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return options{}, err
		}
	}
	return cfg, nil
}

// WithDialer sets how endpoints are dialed.
func WithDialer(d stream.Dialer) Option {
	return func(cfg *options) error {
		if d == nil {
			return fmt.Errorf("dialer must not be nil")
		}
		cfg.dialer = d
		return nil
	}
}

// WithClock sets the time source used for check-in cache expiry.
func WithClock(now func() time.Time) Option {
	return func(cfg *options) error {
		if now == nil {
			return fmt.Errorf("clock must not be nil")
		}
		cfg.clock = now
		return nil
	}
}

// WithLogger sets the logger for the session and its dispatchers.
func WithLogger(l zerolog.Logger) Option {
	return func(cfg *options) error {
		cfg.logger = l
		return nil
	}
}

// WithObservers sets the lifecycle and dispatcher metric observers. nil keeps the no-op default.
func WithObservers(session observability.SessionObserver, dispatch observability.DispatchObserver) Option {
	return func(cfg *options) error {
		if session != nil {
			cfg.observer = session
		}
		if dispatch != nil {
			cfg.dispatch = dispatch
		}
		return nil
	}
}

// WithShapes registers payload shapes for application packets on the logged-on connection.
// Entries override the lifecycle defaults.
func WithShapes(shapes packet.RegistryConfig) Option {
	return func(cfg *options) error {
		cfg.shapes = shapes
		return nil
	}
}

// WithRequestTimeout bounds each booking, check-in and login request; 0 disables the timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *options) error {
		if d < 0 {
			return fmt.Errorf("request timeout must be >= 0")
		}
		cfg.requestTimeout = d
		return nil
	}
}

// WithHandshakeTimeout bounds writing the secure handshake; 0 disables the timeout.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(cfg *options) error {
		if d < 0 {
			return fmt.Errorf("handshake timeout must be >= 0")
		}
		cfg.handshakeTimeout = d
		return nil
	}
}

// WithKeepaliveInterval sets the ping period while logged on. 0 selects the default
// and a negative value disables keep-alive.
func WithKeepaliveInterval(d time.Duration) Option {
	return func(cfg *options) error {
		cfg.keepaliveInterval = defaults.KeepaliveInterval(d)
		return nil
	}
}

// WithPingTimeout bounds each keep-alive round trip; 0 disables the timeout.
func WithPingTimeout(d time.Duration) Option {
	return func(cfg *options) error {
		if d < 0 {
			return fmt.Errorf("ping timeout must be >= 0")
		}
		cfg.pingTimeout = d
		return nil
	}
}

// WithMaxFrameBytes bounds one inbound encrypted frame.
func WithMaxFrameBytes(n int) Option {
	return func(cfg *options) error {
		if n <= 0 {
			return fmt.Errorf("max frame bytes must be > 0")
		}
		cfg.maxFrameBytes = n
		return nil
	}
}

// WithMaxBodyBytes bounds one inbound packet body.
func WithMaxBodyBytes(n int) Option {
	return func(cfg *options) error {
		if n <= 0 {
			return fmt.Errorf("max body bytes must be > 0")
		}
		cfg.maxBodyBytes = n
		return nil
	}
}

// WithEventBuffer sets the capacity of the session event channel.
func WithEventBuffer(n int) Option {
	return func(cfg *options) error {
		if n < 0 {
			return fmt.Errorf("event buffer must be >= 0")
		}
		cfg.eventBuffer = n
		return nil
	}
}
