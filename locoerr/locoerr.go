// Package locoerr defines the error taxonomy shared by every layer of the client.
//
// Errors carry a Kind (how the failure must be handled), a Stage (which step of the
// connection failed) and a stable Code for programmatic inspection.
package locoerr

import (
	"errors"
	"fmt"
)

// Kind decides the recovery policy for an error.
type Kind string

const (
	// KindTransport is an I/O failure on the byte stream. Fatal to the connection.
	KindTransport Kind = "transport"
	// KindCrypto is a handshake or decrypt failure. Fatal, recovered like KindTransport.
	KindCrypto Kind = "crypto"
	// KindProtocol is a malformed or unresolvable frame. Reported, the frame is dropped.
	KindProtocol Kind = "protocol"
	// KindApplication is a non-success status inside a decoded response body.
	KindApplication Kind = "application"
	// KindState is a call made in the wrong connection state. Rejected at the call site.
	KindState Kind = "state"
)

// Stage identifies which step of the stack failed.
type Stage string

const (
	StageValidate  Stage = "validate"
	StageHandshake Stage = "handshake"
	StageSecure    Stage = "secure"
	StageCodec     Stage = "codec"
	StageDispatch  Stage = "dispatch"
	StageBooking   Stage = "booking"
	StageCheckin   Stage = "checkin"
	StageLogin     Stage = "login"
	StageKeepalive Stage = "keepalive"
)

// Code is a stable, programmatic error identifier.
type Code string

const (
	CodeTimeout           Code = "timeout"
	CodeCanceled          Code = "canceled"
	CodeInvalidInput      Code = "invalid_input"
	CodeInvalidOption     Code = "invalid_option"
	CodeDialFailed        Code = "dial_failed"
	CodeHandshakeFailed   Code = "handshake_failed"
	CodeWriteFailed       Code = "write_failed"
	CodeReadFailed        Code = "read_failed"
	CodeFrameTooLarge     Code = "frame_too_large"
	CodeFrameTruncated    Code = "frame_truncated"
	CodeDecryptFailed     Code = "decrypt_failed"
	CodeMalformedHeader   Code = "malformed_header"
	CodeMalformedBody     Code = "malformed_body"
	CodeUnknownPacket     Code = "unknown_packet"
	CodePacketIDExhausted Code = "packet_id_exhausted"
	CodeConnectionClosed  Code = "connection_closed"
	CodeNotConnected      Code = "not_connected"
	CodeAlreadyLoggedOn   Code = "already_logged_on"
	CodeNotBooked         Code = "not_booked"
	CodeNotCheckedIn      Code = "not_checked_in"
	CodeBusy              Code = "busy"
	CodeNoEndpoint        Code = "no_endpoint"
	CodeStatus            Code = "status"
	CodePingFailed        Code = "ping_failed"
)

// Error is a structured, programmatically identifiable error.
type Error struct {
	Kind  Kind
	Stage Stage
	Code  Code
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s (%s): %v", e.Kind, e.Stage, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s (%s)", e.Kind, e.Stage, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap builds an *Error. A nil err still produces an error value.
func Wrap(kind Kind, stage Stage, code Code, err error) error {
	return &Error{Kind: kind, Stage: stage, Code: code, Err: err}
}

// Transport wraps err as a KindTransport error.
func Transport(stage Stage, code Code, err error) error {
	return Wrap(KindTransport, stage, code, err)
}

// Crypto wraps err as a KindCrypto error.
func Crypto(stage Stage, code Code, err error) error {
	return Wrap(KindCrypto, stage, code, err)
}

// Protocol wraps err as a KindProtocol error.
func Protocol(stage Stage, code Code, err error) error {
	return Wrap(KindProtocol, stage, code, err)
}

// State wraps err as a KindState error.
func State(stage Stage, code Code, err error) error {
	return Wrap(KindState, stage, code, err)
}

// As returns the outermost *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of the outermost *Error in err's chain, or "" when there is none.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	var se *StatusError
	if errors.As(err, &se) {
		return KindApplication
	}
	return ""
}

// CodeOf returns the Code of the outermost *Error in err's chain, or "" when there is none.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}

// IsFatal reports whether err must tear down the connection.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindTransport, KindCrypto:
		return true
	default:
		return false
	}
}

// StatusError is an application-level result code carried in a response body.
//
// It is never returned by the dispatcher on its own; callers obtain it from a resolved
// response when they want to treat a non-zero status as a Go error.
type StatusError struct {
	Method string
	Status int64
}

func (e *StatusError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: status %d", e.Method, e.Status)
}
