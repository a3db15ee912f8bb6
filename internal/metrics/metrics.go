// Package metrics holds the Prometheus instruments for the pulse server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every instrument the server records. A nil *Metrics is
// valid and records nothing, so call sites never need a guard.
type Metrics struct {
	registry *prometheus.Registry

	Logins          *prometheus.CounterVec
	Rotations       *prometheus.CounterVec
	ReuseDetections prometheus.Counter
	GuardDenials    *prometheus.CounterVec
	WSConnects      prometheus.Counter
	WSActive        prometheus.Gauge
	Broadcasts      prometheus.Counter
	DroppedFrames   prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_logins_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		Rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_refresh_rotations_total",
			Help: "Refresh rotations by outcome.",
		}, []string{"outcome"}),
		ReuseDetections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_refresh_reuse_detected_total",
			Help: "Refresh tokens replayed after rotation.",
		}),
		GuardDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_guard_denials_total",
			Help: "Guard denials by reason.",
		}, []string{"reason"}),
		WSConnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_ws_connections_total",
			Help: "Accepted websocket connections.",
		}),
		WSActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_ws_active_connections",
			Help: "Currently open websocket connections.",
		}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_broadcasts_total",
			Help: "Messages published to realtime channels.",
		}),
		DroppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_ws_dropped_frames_total",
			Help: "Frames dropped because a subscriber queue was full.",
		}),
	}
	reg.MustRegister(
		m.Logins, m.Rotations, m.ReuseDetections, m.GuardDenials,
		m.WSConnects, m.WSActive, m.Broadcasts, m.DroppedFrames,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) LoginOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RotationOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Rotations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ReuseDetected() {
	if m == nil {
		return
	}
	m.ReuseDetections.Inc()
}

func (m *Metrics) GuardDenied(reason string) {
	if m == nil {
		return
	}
	m.GuardDenials.WithLabelValues(reason).Inc()
}

func (m *Metrics) WSConnected() {
	if m == nil {
		return
	}
	m.WSConnects.Inc()
	m.WSActive.Inc()
}

func (m *Metrics) WSDisconnected() {
	if m == nil {
		return
	}
	m.WSActive.Dec()
}

func (m *Metrics) BroadcastSent() {
	if m == nil {
		return
	}
	m.Broadcasts.Inc()
}

func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.DroppedFrames.Inc()
}
