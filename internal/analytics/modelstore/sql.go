package modelstore

import (
	"context"
	"errors"

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/analytics/ml"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/db"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/models"
)

// SQLStore persists model blobs in the service database (model_blobs table).
type SQLStore struct {
	store db.ModelBlobStore
}

// NewSQLStore adapts a database store to BlobStore.
func NewSQLStore(store db.ModelBlobStore) *SQLStore {
	return &SQLStore{store: store}
}

func (s *SQLStore) Put(ctx context.Context, sensorType models.SensorType, blob []byte, meta ml.Metadata) error {
	return s.store.SaveModelBlob(ctx, &db.ModelBlobRecord{
		SensorType:    string(sensorType),
		Blob:          blob,
		Contamination: meta.Contamination,
		RandomSeed:    meta.RandomSeed,
		SampleCount:   meta.SampleCount,
		FeatureCount:  meta.FeatureCount,
		TrainedAt:     meta.TrainedAt,
	})
}

func (s *SQLStore) Get(ctx context.Context, sensorType models.SensorType) ([]byte, error) {
	rec, err := s.store.GetModelBlob(ctx, string(sensorType))
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec.Blob, nil
}

func (s *SQLStore) Stat(ctx context.Context, sensorType models.SensorType) (*ml.Metadata, error) {
	rec, err := s.store.StatModelBlob(ctx, string(sensorType))
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ml.Metadata{
		Contamination: rec.Contamination,
		RandomSeed:    rec.RandomSeed,
		SampleCount:   rec.SampleCount,
		FeatureCount:  rec.FeatureCount,
		TrainedAt:     rec.TrainedAt,
	}, nil
}
