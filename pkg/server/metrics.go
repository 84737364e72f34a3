package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the server
type Metrics struct {
	// Session metrics
	activeSessions       prometheus.Gauge
	registeredUsers      prometheus.Gauge
	sessionsCreated      prometheus.Counter
	sessionsDisconnected prometheus.Counter

	// Message type metrics
	messagesReceived *prometheus.CounterVec // by message type
	messagesRejected *prometheus.CounterVec // by reason

	// Broadcast metrics
	broadcastFanout   *prometheus.HistogramVec
	messagesBroadcast *prometheus.CounterVec
	deliveriesDropped prometheus.Counter
}

// NewMetrics registers the server metrics on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ripplechat_active_sessions",
				Help: "Current number of open WebSocket sessions",
			},
		),
		registeredUsers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ripplechat_registered_users",
				Help: "Current number of sessions that registered a username",
			},
		),
		sessionsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ripplechat_sessions_created_total",
				Help: "Total number of sessions created",
			},
		),
		sessionsDisconnected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ripplechat_sessions_disconnected_total",
				Help: "Total number of sessions disconnected",
			},
		),
		messagesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ripplechat_messages_received_total",
				Help: "Total number of envelopes received from clients by type",
			},
			[]string{"type"},
		),
		messagesRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ripplechat_messages_rejected_total",
				Help: "Total number of client frames rejected by reason",
			},
			[]string{"reason"},
		),
		broadcastFanout: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ripplechat_broadcast_fanout",
				Help:    "Number of clients that received each broadcast",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
			[]string{"type"}, // "users" or "message"
		),
		messagesBroadcast: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ripplechat_messages_broadcast_total",
				Help: "Total number of envelopes broadcast (unique, not deliveries)",
			},
			[]string{"type"},
		),
		deliveriesDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ripplechat_deliveries_dropped_total",
				Help: "Deliveries dropped because a client's send queue was full",
			},
		),
	}
}

// RecordSessionCreated increments the session creation counter
func (m *Metrics) RecordSessionCreated() {
	m.sessionsCreated.Inc()
	m.activeSessions.Inc()
}

// RecordSessionDisconnected increments the session disconnection counter
func (m *Metrics) RecordSessionDisconnected() {
	m.sessionsDisconnected.Inc()
	m.activeSessions.Dec()
}

// RecordRegisteredUsers updates the registered user count
func (m *Metrics) RecordRegisteredUsers(count int) {
	m.registeredUsers.Set(float64(count))
}

// RecordMessageReceived increments the message received counter for a type
func (m *Metrics) RecordMessageReceived(messageType string) {
	m.messagesReceived.WithLabelValues(messageType).Inc()
}

// RecordMessageRejected increments the rejection counter for a reason
func (m *Metrics) RecordMessageRejected(reason string) {
	m.messagesRejected.WithLabelValues(reason).Inc()
}

// RecordBroadcast records one broadcast and how many clients received it
func (m *Metrics) RecordBroadcast(messageType string, recipients int) {
	m.messagesBroadcast.WithLabelValues(messageType).Inc()
	m.broadcastFanout.WithLabelValues(messageType).Observe(float64(recipients))
}

// RecordDeliveryDropped increments the dropped delivery counter
func (m *Metrics) RecordDeliveryDropped() {
	m.deliveriesDropped.Inc()
}
