package client

import (
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestEventQueueKeepsOrderAndRetainedEvents(t *testing.T) {
	q := newEventQueue(1, zerolog.Nop())
	defer q.close()

	for i := 0; i < 20; i++ {
		q.push(Event{Kind: EventPush, Method: strconv.Itoa(i)})
	}
	q.push(Event{Kind: EventServerSwitch, Method: MethodChangeServer})
	q.push(Event{Kind: EventDisconnected})

	last := -1
	var kinds []EventKind
	timeout := time.After(2 * time.Second)
	for len(kinds) == 0 || kinds[len(kinds)-1] != EventDisconnected {
		select {
		case ev := <-q.out:
			kinds = append(kinds, ev.Kind)
			if ev.Kind != EventPush {
				continue
			}
			n, _ := strconv.Atoi(ev.Method)
			if n <= last {
				t.Fatalf("push %d delivered after %d", n, last)
			}
			last = n
		case <-timeout:
			t.Fatalf("retained events not delivered, got %v", kinds)
		}
	}
	if len(kinds) < 2 || kinds[len(kinds)-2] != EventServerSwitch {
		t.Fatalf("expected server switch before disconnect, got %v", kinds)
	}
	if pushes := len(kinds) - 2; pushes >= 20 {
		t.Fatalf("expected plain pushes to be shed, got %d", pushes)
	}
}

func TestEventQueueClose(t *testing.T) {
	q := newEventQueue(4, zerolog.Nop())
	q.push(Event{Kind: EventError})
	q.close()
	q.close()
	q.push(Event{Kind: EventDisconnected})
	for range q.out {
	}
}

func TestRetainedEvents(t *testing.T) {
	cases := []struct {
		ev   Event
		want bool
	}{
		{Event{Kind: EventServerSwitch}, true},
		{Event{Kind: EventDisconnected}, true},
		{Event{Kind: EventError}, true},
		{Event{Kind: EventPush, Method: MethodKickout}, true},
		{Event{Kind: EventPush, Method: "MSG"}, false},
		{Event{Kind: EventStateChanged, State: StateReady}, false},
	}
	for _, tc := range cases {
		if got := tc.ev.retained(); got != tc.want {
			t.Fatalf("%v %q: retained=%v, want %v", tc.ev.Kind, tc.ev.Method, got, tc.want)
		}
	}
}
