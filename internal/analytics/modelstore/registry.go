package modelstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/analytics/ml"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/metrics"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/models"
)

// Status describes the model state for one sensor type.
type Status struct {
	SensorType   models.SensorType `json:"sensor_type"`
	Trained      bool              `json:"trained"`
	Loaded       bool              `json:"loaded"`
	Persisted    bool              `json:"persisted"`
	SampleCount  int               `json:"sample_count"`
	FeatureCount int               `json:"feature_count"`
	TrainedAt    *time.Time        `json:"trained_at,omitempty"`
}

// Registry caches trained scorers per sensor type, mirrored to a BlobStore.
// Train and lazy Load are serialised per sensor type; Get of a cached scorer
// only takes a read lock.
type Registry struct {
	store  BlobStore
	cfg    ml.Config
	logger *zap.Logger

	mu      sync.RWMutex
	scorers map[models.SensorType]*ml.Scorer

	locksMu sync.Mutex
	locks   map[models.SensorType]*sync.Mutex

	onLoad LoadHook
}

// LoadHook is called after a scorer is loaded from the store into the cache.
type LoadHook func(ctx context.Context, st models.SensorType)

// NewRegistry creates a Registry over store.
func NewRegistry(store BlobStore, cfg ml.Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		scorers: make(map[models.SensorType]*ml.Scorer),
		locks:   make(map[models.SensorType]*sync.Mutex),
	}
}

func (r *Registry) sensorLock(st models.SensorType) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.locks[st]
	if !ok {
		l = &sync.Mutex{}
		r.locks[st] = l
	}
	return l
}

func (r *Registry) cached(st models.SensorType) (*ml.Scorer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scorers[st]
	return s, ok
}

// OnLoad registers fn to run after every successful lazy load. It must be
// set before the registry is used concurrently.
func (r *Registry) OnLoad(fn LoadHook) {
	r.onLoad = fn
}

// Get returns the scorer for st, loading it from the store on first use.
// A missing or corrupt blob yields *models.ModelLoadError; a missing blob
// also matches errors.Is(err, ErrBlobNotFound).
func (r *Registry) Get(ctx context.Context, st models.SensorType) (*ml.Scorer, error) {
	if s, ok := r.cached(st); ok {
		return s, nil
	}

	lock := r.sensorLock(st)
	lock.Lock()
	defer lock.Unlock()

	// Another caller may have loaded or trained while we waited.
	if s, ok := r.cached(st); ok {
		return s, nil
	}

	s, err := r.load(ctx, st)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.scorers[st] = s
	r.mu.Unlock()
	if r.onLoad != nil {
		r.onLoad(ctx, st)
	}
	return s, nil
}

func (r *Registry) load(ctx context.Context, st models.SensorType) (*ml.Scorer, error) {
	blob, err := r.store.Get(ctx, st)
	if err != nil {
		status := "error"
		if errors.Is(err, ErrBlobNotFound) {
			status = "missing"
		}
		metrics.ModelLoadsTotal.WithLabelValues(string(st), status).Inc()
		return nil, &models.ModelLoadError{SensorType: st, Err: err}
	}

	s, err := ml.Load(blob)
	if err != nil {
		metrics.ModelLoadsTotal.WithLabelValues(string(st), "corrupt").Inc()
		var mle *models.ModelLoadError
		if errors.As(err, &mle) {
			mle.SensorType = st
			return nil, mle
		}
		return nil, &models.ModelLoadError{SensorType: st, Err: err}
	}

	metrics.ModelLoadsTotal.WithLabelValues(string(st), "success").Inc()
	r.logger.Info("model loaded",
		zap.String("sensor_type", string(st)),
		zap.Int("sample_count", s.Metadata().SampleCount),
		zap.Time("trained_at", s.Metadata().TrainedAt),
	)
	return s, nil
}

// Train fits a fresh scorer for st, persists it, then swaps it into the cache.
// The previous model stays active if training or persistence fails.
func (r *Registry) Train(ctx context.Context, st models.SensorType, matrix [][]float64) (*ml.TrainingStats, error) {
	lock := r.sensorLock(st)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	scorer := ml.NewScorer(r.cfg)
	stats, err := scorer.Train(matrix)
	if err != nil {
		metrics.ModelTrainingsTotal.WithLabelValues(string(st), "failed").Inc()
		return nil, err
	}

	blob, err := scorer.Save()
	if err != nil {
		metrics.ModelTrainingsTotal.WithLabelValues(string(st), "failed").Inc()
		return nil, fmt.Errorf("serialize model %s: %w", st, err)
	}
	if err := r.store.Put(ctx, st, blob, scorer.Metadata()); err != nil {
		metrics.ModelTrainingsTotal.WithLabelValues(string(st), "failed").Inc()
		return nil, fmt.Errorf("persist model %s: %w", st, err)
	}

	r.mu.Lock()
	r.scorers[st] = scorer
	r.mu.Unlock()

	metrics.ModelTrainingsTotal.WithLabelValues(string(st), "success").Inc()
	metrics.ModelTrainingDuration.WithLabelValues(string(st)).Observe(time.Since(start).Seconds())
	r.logger.Info("model trained",
		zap.String("sensor_type", string(st)),
		zap.Int("samples", stats.NSamples),
		zap.Int("features", stats.NFeatures),
		zap.Float64("threshold", stats.Threshold),
		zap.Int("blob_bytes", len(blob)),
		zap.Duration("duration", time.Since(start)),
	)
	return stats, nil
}

// Evict drops the cached scorer for st; the next Get reloads from the store.
func (r *Registry) Evict(st models.SensorType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.scorers, st)
}

// Status reports the cached and persisted state for st without loading it.
func (r *Registry) Status(ctx context.Context, st models.SensorType) (Status, error) {
	status := Status{SensorType: st}

	if s, ok := r.cached(st); ok {
		meta := s.Metadata()
		status.Trained = true
		status.Loaded = true
		status.SampleCount = meta.SampleCount
		status.FeatureCount = meta.FeatureCount
		trainedAt := meta.TrainedAt
		status.TrainedAt = &trainedAt
	}

	meta, err := r.store.Stat(ctx, st)
	switch {
	case errors.Is(err, ErrBlobNotFound):
		return status, nil
	case err != nil:
		return status, fmt.Errorf("stat model %s: %w", st, err)
	}

	status.Persisted = true
	if !status.Loaded {
		status.Trained = true
		status.SampleCount = meta.SampleCount
		status.FeatureCount = meta.FeatureCount
		trainedAt := meta.TrainedAt
		status.TrainedAt = &trainedAt
	}
	return status, nil
}
