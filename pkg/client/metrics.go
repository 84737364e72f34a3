package client

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aeolun/ripplechat/pkg/protocol"
	"github.com/aeolun/ripplechat/pkg/session"
)

// Metrics holds the client's Prometheus metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	framesSent     prometheus.Counter
	framesReceived prometheus.Counter
	bytesSent      prometheus.Counter
	bytesReceived  prometheus.Counter

	sendFailures     *prometheus.CounterVec // by reason
	stateTransitions *prometheus.CounterVec // by target state
	sessionErrors    *prometheus.CounterVec // by kind
}

// NewMetrics registers the client metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		framesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "ripplechat_client_frames_sent_total",
			Help: "Total number of frames written to the server",
		}),
		framesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "ripplechat_client_frames_received_total",
			Help: "Total number of frames received from the server",
		}),
		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "ripplechat_client_bytes_sent_total",
			Help: "Total payload bytes written to the server",
		}),
		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "ripplechat_client_bytes_received_total",
			Help: "Total payload bytes received from the server",
		}),
		sendFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ripplechat_client_send_failures_total",
				Help: "Frames rejected by Send",
			},
			[]string{"reason"}, // "closed" or "queue_full"
		),
		stateTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ripplechat_client_state_transitions_total",
				Help: "Connection state transitions by target state",
			},
			[]string{"state"},
		),
		sessionErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ripplechat_client_session_errors_total",
				Help: "Errors reported while reducing server frames",
			},
			[]string{"kind"},
		),
	}
}

func (m *Metrics) frameSent(n int) {
	if m == nil {
		return
	}
	m.framesSent.Inc()
	m.bytesSent.Add(float64(n))
}

func (m *Metrics) frameReceived(n int) {
	if m == nil {
		return
	}
	m.framesReceived.Inc()
	m.bytesReceived.Add(float64(n))
}

func (m *Metrics) sendFailed(err error) {
	if m == nil {
		return
	}
	reason := "other"
	switch {
	case errors.Is(err, ErrClosed):
		reason = "closed"
	case errors.Is(err, ErrQueueFull):
		reason = "queue_full"
	}
	m.sendFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) stateChanged(s State) {
	if m == nil {
		return
	}
	m.stateTransitions.WithLabelValues(s.String()).Inc()
}

// ObserveSessionError counts an error reported by the session reducer,
// labelled by its protocol or lookup kind.
func (m *Metrics) ObserveSessionError(err error) {
	if m == nil || err == nil {
		return
	}
	m.sessionErrors.WithLabelValues(ErrorKind(err)).Inc()
}

// ErrorKind returns a short stable label for err.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, protocol.ErrMalformed):
		return "malformed"
	case errors.Is(err, protocol.ErrUnknownVariant):
		return "unknown_variant"
	case errors.Is(err, protocol.ErrSchemaViolation):
		return "schema_violation"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.Is(err, ErrQueueFull):
		return "queue_full"
	case errors.Is(err, session.ErrUnknownSender):
		return "unknown_sender"
	default:
		return "other"
	}
}
