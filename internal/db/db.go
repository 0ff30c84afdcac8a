package db

import (
	"context"
	"errors"
	"time"

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/models"
)

// Store is the main persistence interface for the crop monitoring service.
type Store interface {
	ReadingStore
	AnomalyStore
	RecommendationStore
	ModelBlobStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ErrRecommendationExists is returned by CreateRecommendation when the anomaly
// already has a recommendation.
var ErrRecommendationExists = errors.New("recommendation already exists for anomaly")

// ─── Reading store ───────────────────────────────────────────────────────────

// ReadingStore persists raw sensor readings. Readings are append-only.
type ReadingStore interface {
	// InsertReading appends a reading and sets its ID.
	InsertReading(ctx context.Context, r *models.SensorReading) error

	// RecentReadings returns at most limit readings with timestamp >= since,
	// the most recent ones, ordered oldest first.
	RecentReadings(ctx context.Context, plotID int64, sensorType models.SensorType, since time.Time, limit int) ([]models.SensorReading, error)

	// LatestReadings returns the last count readings, ordered oldest first.
	LatestReadings(ctx context.Context, plotID int64, sensorType models.SensorType, count int) ([]models.SensorReading, error)

	// ListPlots returns every plot that has reported a reading.
	ListPlots(ctx context.Context) ([]int64, error)
}

// ─── Anomaly store ───────────────────────────────────────────────────────────

// AnomalyStore persists detected anomaly events.
type AnomalyStore interface {
	// CreateAnomaly inserts an event and sets its ID. It returns false without
	// error when an event already exists for the same (reading_id, sensor_type).
	CreateAnomaly(ctx context.Context, e *models.AnomalyEvent) (bool, error)

	// GetAnomaly returns models.ErrNotFound when the event does not exist.
	GetAnomaly(ctx context.Context, id int64) (*models.AnomalyEvent, error)

	// ListUnrecommendedAnomalies returns events without a recommendation, oldest first.
	// limit <= 0 means no limit.
	ListUnrecommendedAnomalies(ctx context.Context, limit int) ([]*models.AnomalyEvent, error)

	// ListPlotAnomalies returns a plot's events since the given time, oldest first.
	ListPlotAnomalies(ctx context.Context, plotID int64, since time.Time) ([]*models.AnomalyEvent, error)
}

// ─── Recommendation store ────────────────────────────────────────────────────

// RecommendationStore persists explained recommendations, at most one per anomaly.
type RecommendationStore interface {
	// GetRecommendationByAnomaly returns models.ErrNotFound when none exists.
	GetRecommendationByAnomaly(ctx context.Context, anomalyID int64) (*models.Recommendation, error)

	// CreateRecommendation inserts rec. It returns ErrRecommendationExists when
	// the anomaly already has one.
	CreateRecommendation(ctx context.Context, rec *models.Recommendation) error

	// DeleteRecommendationByAnomaly removes the anomaly's recommendation, if any.
	DeleteRecommendationByAnomaly(ctx context.Context, anomalyID int64) error

	// ListPlotRecommendations returns a plot's recommendations since the given time, newest first.
	ListPlotRecommendations(ctx context.Context, plotID int64, since time.Time) ([]*models.Recommendation, error)

	// ListRecommendationsAbove returns recommendations with confidence >= minConfidence,
	// most confident first. limit <= 0 means no limit.
	ListRecommendationsAbove(ctx context.Context, minConfidence float64, limit int) ([]*models.Recommendation, error)
}

// ─── Model blob store ────────────────────────────────────────────────────────

// ModelBlobRecord is a persisted scorer blob with its metadata.
type ModelBlobRecord struct {
	SensorType    string    `json:"sensor_type"`
	Blob          []byte    `json:"-"`
	Contamination float64   `json:"contamination"`
	RandomSeed    int64     `json:"random_seed"`
	SampleCount   int       `json:"sample_count"`
	FeatureCount  int       `json:"feature_count"`
	TrainedAt     time.Time `json:"trained_at"`
}

// ModelBlobStore persists one model blob per sensor type.
type ModelBlobStore interface {
	// SaveModelBlob writes (or overwrites) the sensor type's blob.
	SaveModelBlob(ctx context.Context, rec *ModelBlobRecord) error

	// GetModelBlob returns the record including the blob, or models.ErrNotFound.
	GetModelBlob(ctx context.Context, sensorType string) (*ModelBlobRecord, error)

	// StatModelBlob returns the record without the blob, or models.ErrNotFound.
	StatModelBlob(ctx context.Context, sensorType string) (*ModelBlobRecord, error)
}
