package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thomas_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "thomas_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	UsersProvisioned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thomas_users_provisioned_total",
			Help: "Webhook user provisioning events",
		},
		[]string{"event"}, // "created", "updated", "deleted"
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thomas_messages_sent_total",
			Help: "Total messages sent",
		},
		[]string{"kind"}, // "direct" or "server"
	)

	FriendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thomas_friend_requests_total",
			Help: "Friend request actions",
		},
		[]string{"action"}, // "add", "accept", "deny", "unfriend"
	)

	PresenceTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thomas_presence_transitions_total",
			Help: "Presence status changes",
		},
		[]string{"status", "source"},
	)

	// Realtime metrics
	RealtimeTriggers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thomas_realtime_triggers_total",
			Help: "Realtime events triggered",
		},
		[]string{"backend", "result"},
	)

	RealtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "thomas_realtime_connections",
			Help: "Open realtime WebSocket connections",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thomas_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thomas_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "thomas_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	DirectoryLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "thomas_directory_latency_seconds",
			Help:    "User directory query latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
	)
)
