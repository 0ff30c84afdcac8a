package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Crop monitoring service metrics for production monitoring
var (
	// Model lifecycle metrics
	ModelTrainingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsense_model_trainings_total",
			Help: "Total number of model training runs",
		},
		[]string{"sensor_type", "status"},
	)

	ModelTrainingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fieldsense_model_training_duration_seconds",
			Help:    "Model training duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"sensor_type"},
	)

	ModelLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsense_model_loads_total",
			Help: "Total number of persisted model loads",
		},
		[]string{"sensor_type", "status"}, // status: success/missing/corrupt
	)

	// Detection metrics
	WindowsScoredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsense_windows_scored_total",
			Help: "Total number of feature windows scored",
		},
		[]string{"sensor_type"},
	)

	AnomaliesDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsense_anomalies_detected_total",
			Help: "Total number of anomalous windows detected",
		},
		[]string{"sensor_type", "severity"},
	)

	// Recommendation metrics
	RecommendationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsense_recommendations_total",
			Help: "Total number of recommendations created",
		},
		[]string{"rule", "urgency"},
	)

	RuleErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsense_rule_errors_total",
			Help: "Total number of rule evaluations that failed and were skipped",
		},
		[]string{"rule"},
	)

	BatchRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsense_batch_runs_total",
			Help: "Total number of recommendation catch-up batches",
		},
		[]string{"status"},
	)

	BatchItemsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldsense_batch_items_failed_total",
			Help: "Total number of anomalies a batch failed to process",
		},
	)

	// Ingestion metrics
	ReadingsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsense_readings_ingested_total",
			Help: "Total number of sensor readings ingested",
		},
		[]string{"source", "status"}, // source: http/mqtt
	)

	// Notification metrics
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsense_notifications_total",
			Help: "Total number of recommendation notifications sent",
		},
		[]string{"channel", "status"},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fieldsense_websocket_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	WebSocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsense_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: inbound/outbound
	)

	// HTTP metrics
	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsense_rate_limited_requests_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
		[]string{"route"},
	)
)
