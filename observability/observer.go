// Package observability defines the metric hooks emitted by the dispatcher and the
// connection session. Exporters implement the observer interfaces; the defaults are no-ops.
package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

type CallResult string

const (
	CallResultOK              CallResult = "ok"
	CallResultStatus          CallResult = "status"
	CallResultProtocolError   CallResult = "protocol_error"
	CallResultConnectionError CallResult = "connection_error"
)

type FrameError string

const (
	FrameErrorUnknownPacket FrameError = "unknown_packet"
	FrameErrorMalformedBody FrameError = "malformed_body"
	FrameErrorWrite         FrameError = "write"
)

type DisconnectReason string

const (
	DisconnectReasonPeerClosed DisconnectReason = "peer_closed"
	DisconnectReasonLocal      DisconnectReason = "local"
	DisconnectReasonTransport  DisconnectReason = "transport_error"
	DisconnectReasonCrypto     DisconnectReason = "crypto_error"
	DisconnectReasonProtocol   DisconnectReason = "protocol_error"
	DisconnectReasonSingleShot DisconnectReason = "single_shot"
)

type StepResult string

const (
	StepResultOK     StepResult = "ok"
	StepResultCached StepResult = "cached"
	StepResultFail   StepResult = "fail"
)

type Step string

const (
	StepBooking   Step = "booking"
	StepCheckin   Step = "checkin"
	StepLogin     Step = "login"
	StepKeepalive Step = "keepalive"
)

// DispatchObserver receives per-connection packet events.
type DispatchObserver interface {
	Pending(n int)
	Call(method string, result CallResult, d time.Duration)
	Push(method string)
	FrameError(kind FrameError)
	Disconnect(reason DisconnectReason)
}

// SessionObserver receives lifecycle events.
type SessionObserver interface {
	State(state string)
	Step(step Step, result StepResult, d time.Duration)
	ServerSwitch()
}

type noopDispatchObserver struct{}

func (noopDispatchObserver) Pending(int)                            {}
func (noopDispatchObserver) Call(string, CallResult, time.Duration) {}
func (noopDispatchObserver) Push(string)                            {}
func (noopDispatchObserver) FrameError(FrameError)                  {}
func (noopDispatchObserver) Disconnect(DisconnectReason)            {}

type noopSessionObserver struct{}

func (noopSessionObserver) State(string)                         {}
func (noopSessionObserver) Step(Step, StepResult, time.Duration) {}
func (noopSessionObserver) ServerSwitch()                        {}

// NoopDispatchObserver is a zero-cost observer used when metrics are disabled.
var NoopDispatchObserver DispatchObserver = noopDispatchObserver{}

// NoopSessionObserver is a zero-cost observer used when metrics are disabled.
var NoopSessionObserver SessionObserver = noopSessionObserver{}

// AtomicDispatchObserver swaps its delegate at runtime.
type AtomicDispatchObserver struct {
	once sync.Once
	v    atomic.Value
}

type dispatchObserverHolder struct {
	obs DispatchObserver
}

// NewAtomicDispatchObserver returns an initialized atomic observer.
func NewAtomicDispatchObserver() *AtomicDispatchObserver {
	a := &AtomicDispatchObserver{}
	a.init()
	return a
}

func (a *AtomicDispatchObserver) init() {
	a.once.Do(func() { a.v.Store(&dispatchObserverHolder{obs: NoopDispatchObserver}) })
}

// Set replaces the delegate, falling back to the no-op observer on nil.
func (a *AtomicDispatchObserver) Set(obs DispatchObserver) {
	if obs == nil {
		obs = NoopDispatchObserver
	}
	a.init()
	a.v.Store(&dispatchObserverHolder{obs: obs})
}

func (a *AtomicDispatchObserver) load() DispatchObserver {
	a.init()
	return a.v.Load().(*dispatchObserverHolder).obs
}

func (a *AtomicDispatchObserver) Pending(n int) { a.load().Pending(n) }
func (a *AtomicDispatchObserver) Call(method string, result CallResult, d time.Duration) {
	a.load().Call(method, result, d)
}
func (a *AtomicDispatchObserver) Push(method string)                 { a.load().Push(method) }
func (a *AtomicDispatchObserver) FrameError(kind FrameError)         { a.load().FrameError(kind) }
func (a *AtomicDispatchObserver) Disconnect(reason DisconnectReason) { a.load().Disconnect(reason) }

// AtomicSessionObserver swaps its delegate at runtime.
type AtomicSessionObserver struct {
	once sync.Once
	v    atomic.Value
}

type sessionObserverHolder struct {
	obs SessionObserver
}

// NewAtomicSessionObserver returns an initialized atomic observer.
func NewAtomicSessionObserver() *AtomicSessionObserver {
	a := &AtomicSessionObserver{}
	a.init()
	return a
}

func (a *AtomicSessionObserver) init() {
	a.once.Do(func() { a.v.Store(&sessionObserverHolder{obs: NoopSessionObserver}) })
}

// Set replaces the delegate, falling back to the no-op observer on nil.
func (a *AtomicSessionObserver) Set(obs SessionObserver) {
	if obs == nil {
		obs = NoopSessionObserver
	}
	a.init()
	a.v.Store(&sessionObserverHolder{obs: obs})
}

func (a *AtomicSessionObserver) load() SessionObserver {
	a.init()
	return a.v.Load().(*sessionObserverHolder).obs
}

func (a *AtomicSessionObserver) State(state string) { a.load().State(state) }
func (a *AtomicSessionObserver) Step(step Step, result StepResult, d time.Duration) {
	a.load().Step(step, result, d)
}
func (a *AtomicSessionObserver) ServerSwitch() { a.load().ServerSwitch() }
