// Package prom exports client observers as Prometheus metrics.
package prom

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/floegence/loco-go/observability"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// DispatchObserver exports dispatcher metrics to Prometheus.
type DispatchObserver struct {
	pending     prometheus.Gauge
	calls       *prometheus.CounterVec
	callLatency *prometheus.HistogramVec
	pushes      *prometheus.CounterVec
	frameErrors *prometheus.CounterVec
	disconnects *prometheus.CounterVec
}

var _ observability.DispatchObserver = (*DispatchObserver)(nil)

// NewDispatchObserver registers dispatcher metrics on the registry.
func NewDispatchObserver(reg *prometheus.Registry) *DispatchObserver {
	o := &DispatchObserver{
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loco_dispatch_pending_requests",
			Help: "Requests awaiting a response on the current connection.",
		}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loco_dispatch_calls_total",
			Help: "Request outcomes by method and result.",
		}, []string{"method", "result"}),
		callLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loco_dispatch_call_latency_seconds",
			Help:    "Latency from request write to response dispatch.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loco_dispatch_pushes_total",
			Help: "Server pushes received by method.",
		}, []string{"method"}),
		frameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loco_dispatch_frame_errors_total",
			Help: "Dropped or failed frames by kind.",
		}, []string{"kind"}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loco_dispatch_disconnects_total",
			Help: "Connection terminations by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(o.pending, o.calls, o.callLatency, o.pushes, o.frameErrors, o.disconnects)
	return o
}

func (o *DispatchObserver) Pending(n int) {
	o.pending.Set(float64(n))
}

func (o *DispatchObserver) Call(method string, result observability.CallResult, d time.Duration) {
	o.calls.WithLabelValues(method, string(result)).Inc()
	o.callLatency.WithLabelValues(method).Observe(d.Seconds())
}

func (o *DispatchObserver) Push(method string) {
	o.pushes.WithLabelValues(method).Inc()
}

func (o *DispatchObserver) FrameError(kind observability.FrameError) {
	o.frameErrors.WithLabelValues(string(kind)).Inc()
}

func (o *DispatchObserver) Disconnect(reason observability.DisconnectReason) {
	o.disconnects.WithLabelValues(string(reason)).Inc()
}

// SessionObserver exports lifecycle metrics to Prometheus.
type SessionObserver struct {
	state        *prometheus.GaugeVec
	steps        *prometheus.CounterVec
	stepLatency  *prometheus.HistogramVec
	serverSwitch prometheus.Counter
	states       []string
}

var _ observability.SessionObserver = (*SessionObserver)(nil)

// NewSessionObserver registers lifecycle metrics on the registry. states lists every
// state name so the gauge can be reset on transitions.
func NewSessionObserver(reg *prometheus.Registry, states ...string) *SessionObserver {
	o := &SessionObserver{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "loco_session_state",
			Help: "1 for the current connection state, 0 otherwise.",
		}, []string{"state"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loco_session_steps_total",
			Help: "Booking, check-in, login and keep-alive outcomes.",
		}, []string{"step", "result"}),
		stepLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loco_session_step_latency_seconds",
			Help:    "Latency of lifecycle steps that hit the network.",
			Buckets: prometheus.DefBuckets,
		}, []string{"step"}),
		serverSwitch: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loco_session_server_switch_total",
			Help: "Server switch notifications received.",
		}),
		states: states,
	}
	reg.MustRegister(o.state, o.steps, o.stepLatency, o.serverSwitch)
	return o
}

func (o *SessionObserver) State(state string) {
	for _, s := range o.states {
		o.state.WithLabelValues(s).Set(0)
	}
	o.state.WithLabelValues(state).Set(1)
}

func (o *SessionObserver) Step(step observability.Step, result observability.StepResult, d time.Duration) {
	o.steps.WithLabelValues(string(step), string(result)).Inc()
	if result != observability.StepResultCached {
		o.stepLatency.WithLabelValues(string(step)).Observe(d.Seconds())
	}
}

func (o *SessionObserver) ServerSwitch() {
	o.serverSwitch.Inc()
}
