package hub

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics observes connection lifecycle and frame handling. All methods are
// safe on a nil receiver so the hub can run without a registry in tests.
type Metrics struct {
	activeConnections prometheus.Gauge
	connectionsTotal  prometheus.Counter
	supersessions     prometheus.Counter
	framesTotal       *prometheus.CounterVec
	frameErrors       *prometheus.CounterVec
	frameLatency      *prometheus.HistogramVec
	delivered         prometheus.Counter
	skippedOffline    prometheus.Counter
	backpressureDrops prometheus.Counter
}

// NewMetrics registers the hub collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatrelay_connections_active",
			Help: "Current number of live user connections.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_connections_total",
			Help: "Total connections accepted since start.",
		}),
		supersessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_supersessions_total",
			Help: "Connections superseded by a newer handshake for the same user.",
		}),
		framesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_frames_total",
			Help: "Inbound frames accepted, by frame type.",
		}, []string{"type"}),
		frameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_frame_errors_total",
			Help: "Inbound frame failures, by protocol_error reason.",
		}, []string{"reason"}),
		frameLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatrelay_frame_latency_seconds",
			Help:    "Latency for handling inbound frames.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"op"}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_messages_delivered_total",
			Help: "new_message frames queued to recipients.",
		}),
		skippedOffline: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_messages_skipped_offline_total",
			Help: "Deliveries skipped because the participant had no live connection.",
		}),
		backpressureDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_backpressure_drops_total",
			Help: "Sessions dropped because their send buffer filled up.",
		}),
	}

	reg.MustRegister(
		m.activeConnections,
		m.connectionsTotal,
		m.supersessions,
		m.framesTotal,
		m.frameErrors,
		m.frameLatency,
		m.delivered,
		m.skippedOffline,
		m.backpressureDrops,
	)
	return m
}

func (m *Metrics) incConnection() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
	m.connectionsTotal.Inc()
}

func (m *Metrics) decConnection() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

func (m *Metrics) recordSupersession() {
	if m == nil {
		return
	}
	m.supersessions.Inc()
}

func (m *Metrics) recordFrame(frameType string) {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues(frameType).Inc()
}

func (m *Metrics) recordFrameError(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.frameErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) observeLatency(op string, dur time.Duration) {
	if m == nil || op == "" {
		return
	}
	m.frameLatency.WithLabelValues(op).Observe(dur.Seconds())
}

func (m *Metrics) recordDelivered() {
	if m == nil {
		return
	}
	m.delivered.Inc()
}

func (m *Metrics) recordSkippedOffline() {
	if m == nil {
		return
	}
	m.skippedOffline.Inc()
}

func (m *Metrics) recordBackpressure() {
	if m == nil {
		return
	}
	m.backpressureDrops.Inc()
}
