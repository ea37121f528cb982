package client

import (
	"context"
	"time"

	"github.com/floegence/loco-go/dispatch"
	"github.com/floegence/loco-go/locoerr"
	"github.com/floegence/loco-go/observability"
)

// setStateLocked moves to next. Leaving StateLoggedOn stops keep-alive. s.mu must be held.
func (s *Session) setStateLocked(next State) {
	prev := s.state
	if prev == next {
		return
	}
	s.state = next
	if prev == StateLoggedOn && s.stopKeepalive != nil {
		s.stopKeepalive()
		s.stopKeepalive = nil
	}
	s.opts.observer.State(next.String())
	s.log.Debug().Str("from", prev.String()).Str("state", next.String()).Msg("state changed")
	s.emit(Event{Kind: EventStateChanged, State: next})
}

// transition moves to next only while attempt is current.
func (s *Session) transition(attempt uint64, next State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt != attempt {
		return false
	}
	s.setStateLocked(next)
	return true
}

// abandon rolls back a failed login attempt.
func (s *Session) abandon(attempt uint64, d *dispatch.Dispatcher) {
	s.mu.Lock()
	if s.attempt == attempt {
		s.attempt++
		s.conn = nil
		s.setStateLocked(StateDisconnected)
	}
	s.mu.Unlock()
	if d != nil {
		_ = d.Close()
	}
}

func (s *Session) disconnect() {
	s.mu.Lock()
	d := s.conn
	wasLoggedOn := s.state == StateLoggedOn
	s.attempt++
	s.conn = nil
	s.setStateLocked(StateDisconnected)
	s.mu.Unlock()
	if d == nil {
		return
	}
	_ = d.Close()
	if wasLoggedOn {
		s.log.Info().Msg("disconnected")
		s.emit(Event{Kind: EventDisconnected})
	}
}

// watch forwards the connection's pushes and errors and handles its termination.
func (s *Session) watch(attempt uint64, d *dispatch.Dispatcher) {
	for ev := range d.Events() {
		switch ev.Kind {
		case dispatch.EventPush:
			s.handlePush(ev.Response)
		case dispatch.EventError:
			s.emit(Event{Kind: EventError, Err: ev.Err})
		}
	}
	<-d.Done()

	s.mu.Lock()
	if s.attempt != attempt || s.conn != d {
		s.mu.Unlock()
		return
	}
	wasLoggedOn := s.state == StateLoggedOn
	s.attempt++
	s.conn = nil
	s.setStateLocked(StateDisconnected)
	s.mu.Unlock()

	cause := d.Err()
	s.log.Warn().Err(cause).Bool("was_logged_on", wasLoggedOn).Msg("connection lost")
	if wasLoggedOn {
		s.emit(Event{Kind: EventDisconnected, Err: cause})
	}
}

func (s *Session) handlePush(resp *dispatch.Response) {
	method := resp.Method()
	switch {
	case method == MethodChangeServer && s.State() == StateLoggedOn:
		s.opts.observer.ServerSwitch()
		s.log.Info().Msg("server switch requested")
		s.emit(Event{Kind: EventServerSwitch, Method: method, Payload: resp.Payload})
	case method == MethodKickout:
		k, _ := resp.Payload.(Kickout)
		s.log.Warn().Int("reason", k.Reason).Msg("kicked out by server")
		s.emit(Event{Kind: EventPush, Method: method, Payload: resp.Payload})
	default:
		s.emit(Event{Kind: EventPush, Method: method, Payload: resp.Payload})
	}
}

func (s *Session) keepalive(ctx context.Context, d *dispatch.Dispatcher, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.Done():
			return
		case <-t.C:
		}
		start := time.Now()
		tk, err := d.Send(ctx, MethodPing, nil)
		if err == nil {
			_, err = tk.WaitTimeout(ctx, s.opts.pingTimeout)
		}
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.opts.observer.Step(observability.StepKeepalive, observability.StepResultFail, time.Since(start))
			s.log.Warn().Err(err).Msg("keep-alive ping failed")
			kind := locoerr.KindOf(err)
			if kind == "" {
				kind = locoerr.KindTransport
			}
			perr := locoerr.Wrap(kind, locoerr.StageKeepalive, locoerr.CodePingFailed, err)
			s.emit(Event{Kind: EventError, Err: perr})
			continue
		}
		s.opts.observer.Step(observability.StepKeepalive, observability.StepResultOK, time.Since(start))
		s.log.Debug().Dur("rtt", time.Since(start)).Msg("keep-alive ping")
	}
}

func (s *Session) emit(ev Event) {
	s.events.push(ev)
}
