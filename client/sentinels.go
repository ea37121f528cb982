package client

import "errors"

var (
	ErrMissingBookingEndpoint = errors.New("missing booking endpoint")
	ErrMissingPublicKey       = errors.New("missing server public key")
	ErrMissingDeviceUUID      = errors.New("missing device uuid")
	ErrMissingAccessToken     = errors.New("missing access token")
	ErrNotConnected           = errors.New("session is not logged on")
	ErrAlreadyLoggedOn        = errors.New("session is already logged on")
	ErrConnecting             = errors.New("session is connecting")
	ErrNotBooked              = errors.New("booking has not completed")
	ErrNotCheckedIn           = errors.New("check-in has not completed")
	ErrNoEndpoint             = errors.New("server returned no usable endpoint")
	ErrSessionClosed          = errors.New("session is closed")
	ErrDisconnected           = errors.New("session disconnected during login")
)
