package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "watchpost",
		Name:      "frames_captured_total",
		Help:      "Total number of frames read from the stream",
	})

	FramesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "watchpost",
		Name:      "frames_processed_total",
		Help:      "Total number of frames run through person detection",
	})

	FramesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "watchpost",
		Name:      "frames_skipped_total",
		Help:      "Sampled frames replaced before detection could pick them up",
	})

	PersonsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchpost",
		Name:      "persons_detected_total",
		Help:      "Total number of person detections by identity status",
	}, []string{"status"})

	EventsAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "watchpost",
		Name:      "events_admitted_total",
		Help:      "Detections admitted by the cooldown gate",
	})

	EventsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "watchpost",
		Name:      "events_suppressed_total",
		Help:      "Detections dropped by the cooldown gate",
	})

	NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "watchpost",
		Name:      "notifications_sent_total",
		Help:      "Alerts delivered to the chat channel",
	})

	NotificationsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "watchpost",
		Name:      "notifications_failed_total",
		Help:      "Alerts that could not be delivered",
	})

	FeedbackApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "watchpost",
		Name:      "feedback_applied_total",
		Help:      "Operator labels added to the gallery",
	})

	FeedbackFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "watchpost",
		Name:      "feedback_failed_total",
		Help:      "Operator labels that could not be applied",
	})

	EventsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "watchpost",
		Name:      "events_pruned_total",
		Help:      "Events removed by the retention sweep",
	})

	PendingFeedback = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "watchpost",
		Name:      "pending_feedback",
		Help:      "Alerts waiting for an operator label",
	})

	GallerySize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "watchpost",
		Name:      "gallery_identities",
		Help:      "Identities currently loaded in the face gallery",
	})

	PerceptionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "watchpost",
		Name:      "perception_duration_seconds",
		Help:      "Duration of perception stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "watchpost",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "watchpost",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
