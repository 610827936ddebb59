package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WebSocket metrics
	WebSocketSubscriptionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "websocket_subscriptions_active",
			Help: "Number of websocket clients watching a room",
		},
		[]string{"room"},
	)

	WebSocketWindowsPushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_windows_pushed_total",
			Help: "Total number of message windows pushed to websocket clients",
		},
		[]string{"room"},
	)

	// Polling metrics
	PollRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_poll_runs_total",
			Help: "Total number of fetch-parse-filter-reconcile runs",
		},
		[]string{"result"},
	)

	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_poll_duration_seconds",
			Help:    "Latency of one polling pipeline run in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	WindowSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_window_messages",
			Help: "Messages held in the most recently polled window per room",
		},
		[]string{"room"},
	)

	MalformedRowsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_malformed_rows_total",
			Help: "Total number of rows skipped by the row parser",
		},
	)

	// Write path metrics
	MessagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Total number of send attempts by outcome",
		},
		[]string{"result"},
	)

	RoomEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_room_events_total",
			Help: "Total number of room notification events",
		},
		[]string{"direction", "backend"},
	)

	// Streams RPC metrics
	RPCCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streams_rpc_call_duration_seconds",
			Help:    "Streams JSON-RPC call latency in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "result"},
	)

	// Ledger metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5},
		},
		[]string{"operation", "table"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_open",
			Help: "Number of open database connections",
		},
	)
)
