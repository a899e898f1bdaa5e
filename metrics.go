package msgsock

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "msgsock"

// metrics holds the Prometheus collectors of one server or client.
// A nil *metrics records nothing.
type metrics struct {
	connectionsOpened  prometheus.Counter
	connectionsDropped prometheus.Counter
	activeConnections  prometheus.Gauge
	messagesReceived   prometheus.Counter
	bytesReceived      prometheus.Counter
	messagesSent       prometheus.Counter
	bytesSent          prometheus.Counter
	sendErrors         *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer, subsystem string) *metrics {
	if reg == nil {
		return nil
	}
	factory := promauto.With(reg)

	return &metrics{
		connectionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "connections_opened_total",
			Help:      "Total number of connections accepted or dialed",
		}),
		connectionsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "connections_dropped_total",
			Help:      "Total number of connections dropped after a receive failure",
		}),
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "active_connections",
			Help:      "Number of registered connections",
		}),
		messagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "messages_received_total",
			Help:      "Total number of complete messages received",
		}),
		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "payload_bytes_received_total",
			Help:      "Total payload bytes of complete messages received",
		}),
		messagesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "messages_sent_total",
			Help:      "Total number of frames sent",
		}),
		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "payload_bytes_sent_total",
			Help:      "Total payload bytes of frames sent",
		}),
		sendErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "send_errors_total",
			Help:      "Total number of failed sends by reason",
		}, []string{"reason"}),
	}
}

func (m *metrics) connected() {
	if m == nil {
		return
	}
	m.connectionsOpened.Inc()
	m.activeConnections.Inc()
}

func (m *metrics) dropped(n int) {
	if m == nil || n == 0 {
		return
	}
	m.connectionsDropped.Add(float64(n))
	m.activeConnections.Sub(float64(n))
}

func (m *metrics) closed(n int) {
	if m == nil || n == 0 {
		return
	}
	m.activeConnections.Sub(float64(n))
}

func (m *metrics) received(size int) {
	if m == nil {
		return
	}
	m.messagesReceived.Inc()
	m.bytesReceived.Add(float64(size))
}

func (m *metrics) sent(size int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.sendErrors.WithLabelValues(sendErrorReason(err)).Inc()
		return
	}
	m.messagesSent.Inc()
	m.bytesSent.Add(float64(size))
}
