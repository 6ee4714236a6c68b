package notifications

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons for events that never reached a peer.
const (
	dropOffline     = "offline"
	dropWriteFailed = "write_failed"
	dropClosed      = "closed"
)

var (
	activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "casedesk",
		Subsystem: "notifications",
		Name:      "active_sessions",
		Help:      "Number of push sessions currently open.",
	})

	sessionsOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "casedesk",
		Subsystem: "notifications",
		Name:      "sessions_opened_total",
		Help:      "Number of push sessions that completed the handshake.",
	})

	sessionsClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "casedesk",
		Subsystem: "notifications",
		Name:      "sessions_closed_total",
		Help:      "Number of push sessions torn down, by reason.",
	}, []string{"reason"})

	eventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "casedesk",
		Subsystem: "notifications",
		Name:      "events_published_total",
		Help:      "Number of events handed to the publisher, by kind.",
	}, []string{"kind"})

	eventsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "casedesk",
		Subsystem: "notifications",
		Name:      "events_delivered_total",
		Help:      "Number of events written to a live session, by kind.",
	}, []string{"kind"})

	eventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "casedesk",
		Subsystem: "notifications",
		Name:      "events_dropped_total",
		Help:      "Number of events not delivered, by reason.",
	}, []string{"reason"})

	admissionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "casedesk",
		Subsystem: "notifications",
		Name:      "admission_rejected_total",
		Help:      "Number of subscription attempts rejected before a session was opened.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(
		activeSessions,
		sessionsOpened,
		sessionsClosed,
		eventsPublished,
		eventsDelivered,
		eventsDropped,
		admissionsRejected,
	)
}

func recordPublished(kind Kind) {
	eventsPublished.WithLabelValues(string(kind)).Inc()
}

func recordDelivered(kind Kind) {
	eventsDelivered.WithLabelValues(string(kind)).Inc()
}

func recordDropped(reason string) {
	eventsDropped.WithLabelValues(reason).Inc()
}

func recordRejected(reason string) {
	admissionsRejected.WithLabelValues(reason).Inc()
}
