package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the server.
// A nil *Metrics is valid and records nothing, which keeps call sites clean
// in tests.
type Metrics struct {
	activeSessions  prometheus.Gauge
	sessionsCreated prometheus.Counter
	sessionsClosed  prometheus.Counter

	envelopesReceived *prometheus.CounterVec // by envelope type
	messagesRouted    *prometheus.CounterVec // by outcome: delivered / queued
	flushedPerLogin   prometheus.Histogram
	presenceTimeouts  prometheus.Counter
}

// New creates a metrics instance registered on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relaychat_active_sessions",
			Help: "Current number of active sessions",
		}),
		sessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "relaychat_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		sessionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "relaychat_sessions_closed_total",
			Help: "Total number of sessions closed",
		}),
		envelopesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaychat_envelopes_received_total",
				Help: "Total number of inbound envelopes by type",
			},
			[]string{"type"},
		),
		messagesRouted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaychat_messages_routed_total",
				Help: "Total number of routed messages by outcome",
			},
			[]string{"outcome"},
		),
		flushedPerLogin: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relaychat_mailbox_flushed_per_login",
			Help:    "Queued messages delivered when a user came online",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		}),
		presenceTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "relaychat_presence_timeouts_total",
			Help: "Total number of users forced offline by the presence sweep",
		}),
	}
}

// SessionOpened records a new active session.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
	m.sessionsCreated.Inc()
}

// SessionClosed records a finished session.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.sessionsClosed.Inc()
}

// EnvelopeReceived counts one inbound envelope of the given type.
func (m *Metrics) EnvelopeReceived(envType string) {
	if m == nil {
		return
	}
	m.envelopesReceived.WithLabelValues(envType).Inc()
}

// MessageRouted counts one routing outcome ("delivered" or "queued").
func (m *Metrics) MessageRouted(outcome string) {
	if m == nil {
		return
	}
	m.messagesRouted.WithLabelValues(outcome).Inc()
}

// MailboxFlushed records how many queued messages a login flushed.
func (m *Metrics) MailboxFlushed(count int) {
	if m == nil {
		return
	}
	m.flushedPerLogin.Observe(float64(count))
}

// PresenceTimeout counts one forced-offline sweep hit.
func (m *Metrics) PresenceTimeout() {
	if m == nil {
		return
	}
	m.presenceTimeouts.Inc()
}
