package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "campusride"

var (
	// BookingTransitions counts state machine calls by action and outcome kind.
	BookingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ledger_transitions_total", Help: "Ledger operations by action and outcome"},
		[]string{"action", "outcome"},
	)

	SweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "sweep_runs_total", Help: "Cleanup sweep runs by result"},
		[]string{"result"},
	)
	SweepExpired = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "sweep_rides_expired_total", Help: "Rides marked expired by the sweep"})
	SweepDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "sweep_rows_deleted_total", Help: "Rows hard-deleted by the sweep"},
		[]string{"table"},
	)
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "sweep_duration_seconds", Help: "Cleanup sweep latency seconds"})

	NotificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notifications_total", Help: "Notification deliveries by channel and result"},
		[]string{"channel", "result"},
	)

	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "websocket_clients", Help: "Connected websocket clients"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
