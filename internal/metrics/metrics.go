package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	storeReads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "schedboard",
			Name:      "store_reads_total",
			Help:      "Count of document reads against the store by collection.",
		},
		[]string{"collection"},
	)

	snapshotsApplied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "schedboard",
			Name:      "snapshots_applied_total",
			Help:      "Count of live snapshots ingested into the week cache.",
		},
	)

	reconnectAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "schedboard",
			Name:      "subscription_reconnect_attempts_total",
			Help:      "Count of automatic subscription reconnect attempts.",
		},
	)

	eventsSaved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "schedboard",
			Name:      "events_saved_total",
			Help:      "Count of events persisted by type.",
		},
		[]string{"type"},
	)

	eventsDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "schedboard",
			Name:      "events_deleted_total",
			Help:      "Count of events deleted, series fan-outs included.",
		},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "schedboard",
			Name:      "notifications_total",
			Help:      "Count of user-visible notifications by severity.",
		},
		[]string{"severity"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(storeReads, snapshotsApplied, reconnectAttempts,
			eventsSaved, eventsDeleted, notifications)
	})
}

func IncStoreRead(collection string) {
	storeReads.WithLabelValues(collection).Inc()
}

func IncSnapshotApplied() {
	snapshotsApplied.Inc()
}

func IncReconnectAttempt() {
	reconnectAttempts.Inc()
}

func IncEventSaved(eventType string) {
	eventsSaved.WithLabelValues(eventType).Inc()
}

func AddEventsDeleted(n int) {
	eventsDeleted.Add(float64(n))
}

func IncNotification(severity string) {
	notifications.WithLabelValues(severity).Inc()
}
