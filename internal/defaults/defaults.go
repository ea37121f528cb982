// Package defaults holds the default timeouts, intervals and limits of the client.
package defaults

import "time"

const (
	// ConnectTimeout bounds dialing one endpoint, including TLS.
	ConnectTimeout = 10 * time.Second
	// HandshakeTimeout bounds writing the secure handshake.
	HandshakeTimeout = 10 * time.Second
	// RequestTimeout bounds each booking, check-in and login request.
	RequestTimeout = 15 * time.Second
	// PingInterval is the keep-alive period while logged on.
	PingInterval = 60 * time.Second
	// PingTimeout bounds one keep-alive round trip.
	PingTimeout = 20 * time.Second

	// MaxFrameBytes bounds one encrypted frame.
	MaxFrameBytes = 16 << 20
	// MaxBodyBytes bounds one packet body.
	MaxBodyBytes = 16 << 20
	// EventBuffer is the capacity of event channels.
	EventBuffer = 64
)

const minPingInterval = 100 * time.Millisecond

// KeepaliveInterval normalizes a configured ping interval: zero selects PingInterval and
// positive values are clamped to a 100ms minimum. Negative values disable keep-alive.
func KeepaliveInterval(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return PingInterval
	case d < 0:
		return 0
	case d < minPingInterval:
		return minPingInterval
	default:
		return d
	}
}
