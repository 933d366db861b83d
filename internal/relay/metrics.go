package relay

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type relayMetrics struct {
	activeSessions    prometheus.Gauge
	activeRooms       prometheus.Gauge
	sessionTotal      prometheus.Counter
	messagesRelayed   prometheus.Counter
	deliveriesDropped *prometheus.CounterVec
	frameErrors       *prometheus.CounterVec
	frameLatency      *prometheus.HistogramVec
	sessionsExpired   prometheus.Counter
}

// NewMetrics registers the relay metric set on the provided registerer.
func NewMetrics(reg prometheus.Registerer) *relayMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &relayMetrics{
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shadow_sessions_active",
			Help: "Current number of connected participant sessions.",
		}),
		activeRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shadow_rooms_active",
			Help: "Current number of non-empty rooms.",
		}),
		sessionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shadow_sessions_total",
			Help: "Total number of sessions handled since start.",
		}),
		messagesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shadow_messages_relayed_total",
			Help: "Envelopes accepted for fan-out.",
		}),
		deliveriesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shadow_deliveries_dropped_total",
			Help: "Per-recipient deliveries dropped, by reason.",
		}, []string{"reason"}),
		frameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shadow_frame_errors_total",
			Help: "Frame validation or routing errors.",
		}, []string{"code"}),
		frameLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shadow_frame_latency_seconds",
			Help:    "Latency for handling inbound frames.",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"op"}),
		sessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shadow_sessions_expired_total",
			Help: "Sessions disconnected by the idle sweep.",
		}),
	}

	reg.MustRegister(
		m.activeSessions,
		m.activeRooms,
		m.sessionTotal,
		m.messagesRelayed,
		m.deliveriesDropped,
		m.frameErrors,
		m.frameLatency,
		m.sessionsExpired,
	)
	return m
}

func (m *relayMetrics) incSession() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
	m.sessionTotal.Inc()
}

func (m *relayMetrics) decSession() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *relayMetrics) setRooms(n int) {
	if m == nil {
		return
	}
	m.activeRooms.Set(float64(n))
}

func (m *relayMetrics) recordRelayed() {
	if m == nil {
		return
	}
	m.messagesRelayed.Inc()
}

func (m *relayMetrics) recordDropped(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.deliveriesDropped.WithLabelValues(reason).Inc()
}

func (m *relayMetrics) recordError(code string) {
	if m == nil {
		return
	}
	m.frameErrors.WithLabelValues(code).Inc()
}

func (m *relayMetrics) observeLatency(op string, dur time.Duration) {
	if m == nil || op == "" {
		return
	}
	m.frameLatency.WithLabelValues(op).Observe(dur.Seconds())
}

func (m *relayMetrics) recordSessionExpiry() {
	if m == nil {
		return
	}
	m.sessionsExpired.Inc()
}
