package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediscan_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediscan_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Scan processing metrics
	scanRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediscan_scan_requests_total",
			Help: "Total number of scan requests",
		},
		[]string{"status"}, // status: success, error
	)

	scanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mediscan_scan_duration_seconds",
			Help:    "Scan processing duration in seconds",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 25, 50, 100},
		},
	)

	recordConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mediscan_record_confidence",
			Help:    "Overall confidence of produced records",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	// File upload metrics
	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mediscan_upload_size_bytes",
			Help:    "Size of uploaded images in bytes",
			Buckets: []float64{10 * 1024, 100 * 1024, 1024 * 1024, 5 * 1024 * 1024, 10 * 1024 * 1024, 20 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediscan_websocket_connections",
			Help: "Number of active WebSocket connections",
		},
	)
)
