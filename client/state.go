package client

// State is the connection state of a Session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	// StateReady is connected and secured but not yet logged on.
	StateReady
	StateLoggedOn
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateLoggedOn:
		return "logged_on"
	default:
		return "unknown"
	}
}

// StateNames lists every state name, for metric exporters.
func StateNames() []string {
	return []string{
		StateDisconnected.String(),
		StateConnecting.String(),
		StateHandshaking.String(),
		StateReady.String(),
		StateLoggedOn.String(),
	}
}

// EventKind tags an Event.
type EventKind int

const (
	// EventPush carries a server push, including KICKOUT.
	EventPush EventKind = iota + 1
	// EventError reports a dropped frame or a failed keep-alive ping.
	EventError
	// EventDisconnected reports the end of the logged-on connection. Err is nil for a
	// local Disconnect.
	EventDisconnected
	// EventServerSwitch reports that the server will soon drop the connection. The
	// caller should run Reconnect; the connection itself is still up.
	EventServerSwitch
	// EventStateChanged reports a state transition.
	EventStateChanged
)

func (k EventKind) String() string {
	switch k {
	case EventPush:
		return "push"
	case EventError:
		return "error"
	case EventDisconnected:
		return "disconnected"
	case EventServerSwitch:
		return "server_switch"
	case EventStateChanged:
		return "state_changed"
	default:
		return "unknown"
	}
}

// Event is one notification from a Session.
type Event struct {
	Kind EventKind
	// Method and Payload are set for pushes and server switches.
	Method  string
	Payload any
	// State is the new state for EventStateChanged.
	State State
	Err   error
}
