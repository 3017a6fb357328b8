package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Enrollments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceattend",
		Name:      "enrollments_total",
		Help:      "Enrollment attempts by result code",
	}, []string{"result"})

	Scans = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceattend",
		Name:      "scans_total",
		Help:      "Attendance scans by outcome code",
	}, []string{"outcome"})

	MatchConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "faceattend",
		Name:      "match_confidence",
		Help:      "Confidence of accepted face matches",
		Buckets:   prometheus.LinearBuckets(0.5, 0.05, 10),
	})

	AttendanceMarked = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceattend",
		Name:      "attendance_marked_total",
		Help:      "Attendance records created, by method",
	}, []string{"method"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "faceattend",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "faceattend",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter",
	})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "faceattend",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})

	FeedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceattend",
		Name:      "feed_events_total",
		Help:      "Queue events consumed by the feed, by type",
	}, []string{"type"})
)
