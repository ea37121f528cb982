package client

import (
	"sync"

	"github.com/rs/zerolog"
)

// retained reports whether ev must reach the caller even when the consumer lags.
func (ev Event) retained() bool {
	switch ev.Kind {
	case EventServerSwitch, EventDisconnected, EventError:
		return true
	case EventPush:
		return ev.Method == MethodKickout
	default:
		return false
	}
}

// eventQueue feeds the session event channel in order without blocking producers.
//
// Retained events are always queued. Other events are dropped once limit of them are
// waiting behind a full channel.
type eventQueue struct {
	log   zerolog.Logger
	limit int
	out   chan Event

	mu     sync.Mutex
	items  []Event
	closed bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

func newEventQueue(buffer int, log zerolog.Logger) *eventQueue {
	q := &eventQueue{
		log:   log,
		limit: max(buffer, 1),
		out:   make(chan Event, buffer),
		wake:  make(chan struct{}, 1),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if !ev.retained() && len(q.items) >= q.limit {
		q.mu.Unlock()
		q.log.Warn().Str("event", ev.Kind.String()).Str("method", ev.Method).Msg("event backlog full; dropping event")
		return
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *eventQueue) run() {
	defer close(q.done)
	defer close(q.out)
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			select {
			case <-q.wake:
				continue
			case <-q.quit:
				return
			}
		}
		ev := q.items[0]
		q.items[0] = Event{}
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case q.out <- ev:
		case <-q.quit:
			return
		}
	}
}

// close stops delivery and closes the channel. Undelivered events are discarded.
func (q *eventQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	close(q.quit)
	<-q.done
}
