package modelstore

import (
	"context"
	"errors"
	"sync"

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/analytics/ml"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/models"
)

// Package modelstore keeps trained scorers per sensor type.
//
// Responsibilities:
//   - Durable blob persistence behind BlobStore (file, memory, SQL, Redis, S3)
//   - An explicit in-process Registry that caches loaded scorers
//   - Serialising training per sensor type while scoring reads run concurrently
//   - Lazy loading of persisted models on first use

// ErrBlobNotFound is returned when no blob is stored for a sensor type.
var ErrBlobNotFound = errors.New("model blob not found")

// BlobStore persists opaque model blobs keyed by sensor type.
type BlobStore interface {
	// Put writes (or overwrites) the blob and its metadata.
	Put(ctx context.Context, sensorType models.SensorType, blob []byte, meta ml.Metadata) error

	// Get returns the blob. Returns ErrBlobNotFound when absent.
	Get(ctx context.Context, sensorType models.SensorType) ([]byte, error)

	// Stat returns the stored metadata. Returns ErrBlobNotFound when absent.
	Stat(ctx context.Context, sensorType models.SensorType) (*ml.Metadata, error)
}

// MemoryStore is an in-process BlobStore, used in tests and when persistence is disabled.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[models.SensorType][]byte
	metas map[models.SensorType]ml.Metadata
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs: make(map[models.SensorType][]byte),
		metas: make(map[models.SensorType]ml.Metadata),
	}
}

func (m *MemoryStore) Put(_ context.Context, sensorType models.SensorType, blob []byte, meta ml.Metadata) error {
	cp := make([]byte, len(blob))
	copy(cp, blob)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[sensorType] = cp
	m.metas[sensorType] = meta
	return nil
}

func (m *MemoryStore) Get(_ context.Context, sensorType models.SensorType) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	blob, ok := m.blobs[sensorType]
	if !ok {
		return nil, ErrBlobNotFound
	}
	cp := make([]byte, len(blob))
	copy(cp, blob)
	return cp, nil
}

func (m *MemoryStore) Stat(_ context.Context, sensorType models.SensorType) (*ml.Metadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.metas[sensorType]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return &meta, nil
}
