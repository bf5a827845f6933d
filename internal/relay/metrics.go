package relay

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type relayMetrics struct {
	activeConnections prometheus.Gauge
	connectionsTotal  prometheus.Counter
	frameErrors       *prometheus.CounterVec
	frameLatency      *prometheus.HistogramVec
	messagesPersisted prometheus.Counter
	persistFailures   prometheus.Counter
	fanoutDeliveries  prometheus.Counter
	droppedSubmits    prometheus.Counter
}

// NewMetrics registers relay instrumentation on the given registerer.
func NewMetrics(reg prometheus.Registerer) *relayMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &relayMetrics{
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_connections_active",
			Help: "Current number of open relay connections.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_connections_total",
			Help: "Total number of relay connections handled since start.",
		}),
		frameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_frame_errors_total",
			Help: "Frame validation or routing errors.",
		}, []string{"code"}),
		frameLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chat_frame_latency_seconds",
			Help:    "Latency for handling relay frames.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"event"}),
		messagesPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_persisted_total",
			Help: "Messages accepted by the persistence gateway.",
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_message_persist_failures_total",
			Help: "Messages dropped because the persistence write failed.",
		}),
		fanoutDeliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_fanout_deliveries_total",
			Help: "Per-connection deliveries of persisted records.",
		}),
		droppedSubmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_submits_rejected_total",
			Help: "Submissions rejected before the persistence write.",
		}),
	}

	reg.MustRegister(
		m.activeConnections,
		m.connectionsTotal,
		m.frameErrors,
		m.frameLatency,
		m.messagesPersisted,
		m.persistFailures,
		m.fanoutDeliveries,
		m.droppedSubmits,
	)
	return m
}

func (m *relayMetrics) incConnection() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
	m.connectionsTotal.Inc()
}

func (m *relayMetrics) decConnection() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

func (m *relayMetrics) recordError(code string) {
	if m == nil {
		return
	}
	m.frameErrors.WithLabelValues(code).Inc()
}

func (m *relayMetrics) observeLatency(event string, dur time.Duration) {
	if m == nil || event == "" {
		return
	}
	m.frameLatency.WithLabelValues(event).Observe(dur.Seconds())
}

func (m *relayMetrics) recordPersisted() {
	if m == nil {
		return
	}
	m.messagesPersisted.Inc()
}

func (m *relayMetrics) recordPersistFailure() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

func (m *relayMetrics) recordFanout(deliveries int) {
	if m == nil || deliveries <= 0 {
		return
	}
	m.fanoutDeliveries.Add(float64(deliveries))
}

func (m *relayMetrics) recordDroppedSubmit() {
	if m == nil {
		return
	}
	m.droppedSubmits.Inc()
}
