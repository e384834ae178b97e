package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campus_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "campus_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "campus_rate_limit_hits_total",
			Help: "Requests rejected by the rate limiter",
		},
	)

	// Messaging metrics
	MessagesPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "campus_messages_persisted_total",
			Help: "Messages durably written to the store",
		},
	)

	MessagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campus_messages_rejected_total",
			Help: "Send attempts rejected before persistence",
		},
		[]string{"code"},
	)

	// result is "local", "remote" or "offline"
	Relays = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campus_relays_total",
			Help: "Best-effort relays by event type and outcome",
		},
		[]string{"event", "result"},
	)

	ReadReceipts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "campus_messages_marked_read_total",
			Help: "Messages flipped to read",
		},
	)

	// Presence metrics
	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "campus_online_users",
			Help: "Users with an authoritative live connection on this instance",
		},
	)

	Connections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "campus_ws_connections",
			Help: "Open websocket connections on this instance",
		},
	)

	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "campus_store_latency_seconds",
			Help:    "Message store operation latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25},
		},
		[]string{"op"},
	)
)
