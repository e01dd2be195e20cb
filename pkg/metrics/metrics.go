package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RemindersDispatched counts reminder deliveries by recipient kind (organizer|invitee)
	// and result (sent|failed|skipped).
	RemindersDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncmeet_reminders_total",
			Help: "Total number of reminder delivery attempts",
		},
		[]string{"recipient", "result"},
	)

	// MeetingsArchived counts meetings flipped to archived by the sweeper or list-time checks.
	MeetingsArchived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "syncmeet_meetings_archived_total",
			Help: "Total number of meetings archived after they elapsed",
		},
	)

	// BookingConflicts counts create/update/accept attempts rejected for overlapping commitments.
	BookingConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "syncmeet_booking_conflicts_total",
			Help: "Total number of bookings rejected by the conflict checker",
		},
	)

	// CalendarSyncOperations counts external calendar operations by pass (push|pull|manual)
	// and result (created|updated|imported|skipped|failed).
	CalendarSyncOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncmeet_calendar_sync_operations_total",
			Help: "External calendar reconciliation operations",
		},
		[]string{"pass", "result"},
	)

	// JobDuration measures background job latency.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "syncmeet_job_duration_seconds",
			Help:    "Background job run time",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job", "status"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "syncmeet_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
