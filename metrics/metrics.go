package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "minichat_sessions_active",
			Help: "Currently connected websocket sessions",
		},
	)

	MessagesPosted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "minichat_messages_posted_total",
			Help: "Total messages accepted into the store",
		},
	)

	MessagesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "minichat_messages_deleted_total",
			Help: "Total owner-delete removals",
		},
	)

	AdminClears = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "minichat_admin_clears_total",
			Help: "Total accepted admin clear-all requests",
		},
	)

	AuthRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "minichat_auth_rejected_total",
			Help: "Handshakes rejected by the entry secret gate",
		},
	)

	StoreFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "minichat_store_failures_total",
			Help: "Message store persistence failures",
		},
	)

	PushDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "minichat_push_delivered_total",
			Help: "Push notifications delivered",
		},
	)

	PushPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "minichat_push_pruned_total",
			Help: "Push subscriptions pruned after delivery failure",
		},
	)
)
