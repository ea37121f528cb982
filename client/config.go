package client

import (
	"crypto/rsa"
	"time"

	"github.com/floegence/loco-go/stream"
)

// DeviceInfo describes the client device to the server. Every field is sent as-is.
type DeviceInfo struct {
	UUID       string
	OS         string
	Model      string
	AppVersion string
	Language   string
	CountryISO string
	MCCMNC     string
	NetType    int
	DeviceType int
}

// Config is the fixed input of a Session.
type Config struct {
	// Booking is the bootstrap endpoint. It is normally dialed with TLS.
	Booking stream.Endpoint
	// PublicKey wraps the per-connection session key.
	PublicKey *rsa.PublicKey
	// UserID is sent with check-in; 0 before the first login.
	UserID int64
	Device DeviceInfo
}

// Credential authenticates Login.
type Credential struct {
	AccessToken string
	Revision    int
	LastTokenID int64
	ChatIDs     []int64
	MaxIDs      []int64
}

// BookingInfo is the cached booking answer. It does not expire.
type BookingInfo struct {
	Endpoints []stream.Endpoint
	// Selected is the check-in endpoint in use: the first entry of Endpoints.
	Selected  stream.Endpoint
	FetchedAt time.Time
}

// CheckinInfo is the cached check-in answer.
type CheckinInfo struct {
	Endpoint  stream.Endpoint
	FetchedAt time.Time
	ExpiresAt time.Time
	Response  CheckinResponse
}

// Expired reports whether the answer must be refreshed at now.
func (c *CheckinInfo) Expired(now time.Time) bool {
	return c == nil || now.After(c.ExpiresAt)
}

// LoginResult is the outcome of a successful Login.
type LoginResult struct {
	UserID   int64
	Revision int
	Endpoint stream.Endpoint
}

func bookingEndpoints(r GetConfResponse) []stream.Endpoint {
	var out []stream.Endpoint
	for _, host := range r.Ticket.LSL {
		for _, port := range r.Wifi.Ports {
			ep := stream.Endpoint{Host: host, Port: port}
			if ep.Valid() {
				out = append(out, ep)
			}
		}
	}
	return out
}
