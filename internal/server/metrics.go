package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rakescan_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rakescan_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Inspections started over HTTP
	inspectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rakescan_server_inspections_total",
			Help: "Total number of inspections started over HTTP",
		},
		[]string{"status"}, // status: completed, failed, rejected
	)

	inspectionsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rakescan_server_inspections_running",
			Help: "Number of inspections currently running",
		},
	)

	inspectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rakescan_server_inspection_duration_seconds",
			Help:    "Wall time of inspections started over HTTP",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rakescan_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rakescan_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received, dropped
	)
)
