package dispatch

import (
	"github.com/rs/zerolog"

	"github.com/floegence/loco-go/internal/defaults"
	"github.com/floegence/loco-go/observability"
)

type options struct {
	logger       zerolog.Logger
	observer     observability.DispatchObserver
	keepAlive    bool
	maxBodyBytes int
	eventBuffer  int
}

func defaultOptions() options {
	return options{
		logger:       zerolog.Nop(),
		observer:     observability.NoopDispatchObserver,
		keepAlive:    true,
		maxBodyBytes: defaults.MaxBodyBytes,
		eventBuffer:  defaults.EventBuffer,
	}
}

// Option configures a Dispatcher.
type Option func(*options)

// WithLogger sets the logger used for frame and lifecycle records.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithObserver sets the metrics observer. nil selects the no-op observer.
func WithObserver(obs observability.DispatchObserver) Option {
	return func(o *options) {
		if obs == nil {
			obs = observability.NoopDispatchObserver
		}
		o.observer = obs
	}
}

// WithKeepAlive controls whether the connection stays open after the first response.
// With keepAlive=false the dispatcher closes the stream right after delivering it.
func WithKeepAlive(keepAlive bool) Option {
	return func(o *options) { o.keepAlive = keepAlive }
}

// WithMaxBodyBytes bounds the declared body size of inbound frames.
func WithMaxBodyBytes(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBodyBytes = n
		}
	}
}

// WithEventBuffer sets the capacity of the event channel.
func WithEventBuffer(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.eventBuffer = n
		}
	}
}
