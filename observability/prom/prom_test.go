package prom

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/floegence/loco-go/observability"
)

func TestObserversExport(t *testing.T) {
	reg := NewRegistry()
	d := NewDispatchObserver(reg)
	s := NewSessionObserver(reg, "disconnected", "logged_on")

	d.Pending(2)
	d.Call("PING", observability.CallResultOK, 5*time.Millisecond)
	d.Push("MSG")
	d.FrameError(observability.FrameErrorUnknownPacket)
	d.Disconnect(observability.DisconnectReasonPeerClosed)
	s.State("logged_on")
	s.Step(observability.StepCheckin, observability.StepResultCached, 0)
	s.ServerSwitch()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	body := string(b)
	for _, want := range []string{
		`loco_dispatch_pending_requests 2`,
		`loco_dispatch_calls_total{method="PING",result="ok"} 1`,
		`loco_dispatch_pushes_total{method="MSG"} 1`,
		`loco_dispatch_frame_errors_total{kind="unknown_packet"} 1`,
		`loco_dispatch_disconnects_total{reason="peer_closed"} 1`,
		`loco_session_state{state="logged_on"} 1`,
		`loco_session_state{state="disconnected"} 0`,
		`loco_session_steps_total{result="cached",step="checkin"} 1`,
		`loco_session_server_switch_total 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in scrape:\n%s", want, body)
		}
	}
}
