package dispatch

// EventKind tags an Event.
type EventKind int

const (
	// EventResponse pairs a resolved request with its response.
	EventResponse EventKind = iota + 1
	// EventPush carries a frame not correlated with any pending request.
	EventPush
	// EventError reports a frame that could not be decoded. The frame was dropped.
	EventError
	// EventDisconnected is the last event; Err holds the cause, nil on a local close.
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventResponse:
		return "response"
	case EventPush:
		return "push"
	case EventError:
		return "error"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is one notification from the dispatcher.
type Event struct {
	Kind EventKind
	// Request is set for EventResponse and for EventError frames correlated to a request.
	Request *Ticket
	// Response is set for EventResponse and EventPush.
	Response *Response
	Err      error
}
