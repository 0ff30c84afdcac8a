package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/models"
)

// Package ml hosts the unsupervised anomaly scorer used by the detection pipeline.
//
// Responsibilities:
//   - Fit a seeded isolation forest on windows assumed to be normal
//   - Score, label and bucket new windows (lower score = more anomalous)
//   - Derive the decision threshold from the configured contamination rate
//   - Serialize fitted state to an opaque blob and restore it bit-for-bit
//
// A Scorer is safe for concurrent reads. Train replaces the fitted state
// atomically; callers serialize Train per sensor type.

// MinTrainingSamples is the smallest training matrix accepted by Train.
const MinTrainingSamples = 10

const blobVersion = 1

// Severity thresholds on the anomaly score.
const (
	criticalScore = -0.4
	highScore     = -0.3
	mediumScore   = -0.2
)

// ErrDimensionMismatch is returned when a row width differs from the training width.
var ErrDimensionMismatch = errors.New("feature dimension mismatch")

// Config holds scorer hyper-parameters.
type Config struct {
	Contamination float64
	RandomSeed    int64
	NumTrees      int
	MaxSamples    int
}

// DefaultConfig returns the default scorer configuration.
func DefaultConfig() Config {
	return Config{
		Contamination: 0.1,
		RandomSeed:    42,
		NumTrees:      100,
		MaxSamples:    256,
	}
}

// TrainingStats summarises in-sample scores after training.
type TrainingStats struct {
	Trained      bool      `json:"trained"`
	NSamples     int       `json:"n_samples"`
	NFeatures    int       `json:"n_features"`
	TrainingDate time.Time `json:"training_date"`
	MeanScore    float64   `json:"mean_score"`
	StdScore     float64   `json:"std_score"`
	MinScore     float64   `json:"min_score"`
	MaxScore     float64   `json:"max_score"`
	Threshold    float64   `json:"threshold"`
}

// Metadata describes a fitted model.
type Metadata struct {
	Contamination float64   `json:"contamination"`
	RandomSeed    int64     `json:"random_seed"`
	SampleCount   int       `json:"sample_count"`
	FeatureCount  int       `json:"feature_count"`
	TrainedAt     time.Time `json:"trained_at"`
}

// Detection is the per-row output of DetectWithConfidence.
type Detection struct {
	Index        int             `json:"index"`
	IsAnomaly    bool            `json:"is_anomaly"`
	AnomalyScore float64         `json:"anomaly_score"`
	Confidence   float64         `json:"confidence"`
	Severity     models.Severity `json:"severity"`
}

// Scorer is an isolation-forest anomaly scorer with a contamination-derived threshold.
type Scorer struct {
	mu     sync.RWMutex
	cfg    Config
	forest *IsolationForest
	offset float64
	meta   Metadata
	now    func() time.Time
}

// NewScorer creates an untrained scorer. Zero-valued fields fall back to DefaultConfig.
func NewScorer(cfg Config) *Scorer {
	def := DefaultConfig()
	if cfg.Contamination <= 0 || cfg.Contamination >= 0.5 {
		cfg.Contamination = def.Contamination
	}
	if cfg.NumTrees <= 0 {
		cfg.NumTrees = def.NumTrees
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = def.MaxSamples
	}
	return &Scorer{cfg: cfg, now: time.Now}
}

// Config returns the scorer hyper-parameters.
func (s *Scorer) Config() Config {
	return s.cfg
}

// IsTrained reports whether the scorer holds a fitted model.
func (s *Scorer) IsTrained() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.forest != nil
}

// Metadata returns the fitted model's metadata. It is zero before training.
func (s *Scorer) Metadata() Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta
}

// Train fits a new forest on normal, replacing any previous model.
func (s *Scorer) Train(normal [][]float64) (*TrainingStats, error) {
	if len(normal) < MinTrainingSamples {
		return nil, &models.InsufficientDataError{Op: "training", Have: len(normal), Need: MinTrainingSamples}
	}
	width, err := matrixWidth(normal, 0)
	if err != nil {
		return nil, fmt.Errorf("training: %w", err)
	}

	forest := NewIsolationForest(s.cfg.NumTrees, s.cfg.MaxSamples, s.cfg.RandomSeed)
	if err := forest.Fit(normal); err != nil {
		return nil, fmt.Errorf("training: %w", err)
	}

	scores := make([]float64, len(normal))
	for i, row := range normal {
		scores[i] = forest.ScoreSample(row)
	}
	offset := percentile(scores, s.cfg.Contamination*100)

	meta := Metadata{
		Contamination: s.cfg.Contamination,
		RandomSeed:    s.cfg.RandomSeed,
		SampleCount:   len(normal),
		FeatureCount:  width,
		TrainedAt:     s.now().UTC(),
	}

	s.mu.Lock()
	s.forest = forest
	s.offset = offset
	s.meta = meta
	s.mu.Unlock()

	mean, std, minScore, maxScore := describe(scores)
	return &TrainingStats{
		Trained:      true,
		NSamples:     len(normal),
		NFeatures:    width,
		TrainingDate: meta.TrainedAt,
		MeanScore:    mean,
		StdScore:     std,
		MinScore:     minScore,
		MaxScore:     maxScore,
		Threshold:    offset,
	}, nil
}

// Score returns one anomaly score per row.
func (s *Scorer) Score(matrix [][]float64) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scoreLocked(matrix)
}

func (s *Scorer) scoreLocked(matrix [][]float64) ([]float64, error) {
	if s.forest == nil {
		return nil, models.ErrModelNotTrained
	}
	if _, err := matrixWidth(matrix, s.meta.FeatureCount); err != nil {
		return nil, err
	}
	scores := make([]float64, len(matrix))
	for i, row := range matrix {
		scores[i] = s.forest.ScoreSample(row)
	}
	return scores, nil
}

// Predict labels each row; true means anomalous.
func (s *Scorer) Predict(matrix [][]float64) ([]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scores, err := s.scoreLocked(matrix)
	if err != nil {
		return nil, err
	}
	labels := make([]bool, len(scores))
	for i, score := range scores {
		labels[i] = score < s.offset
	}
	return labels, nil
}

// DetectWithConfidence labels, scores and buckets each row.
func (s *Scorer) DetectWithConfidence(matrix [][]float64) ([]Detection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scores, err := s.scoreLocked(matrix)
	if err != nil {
		return nil, err
	}

	results := make([]Detection, len(scores))
	for i, score := range scores {
		anomalous := score < s.offset
		results[i] = Detection{
			Index:        i,
			IsAnomaly:    anomalous,
			AnomalyScore: score,
			Confidence:   confidence(score, anomalous),
			Severity:     severity(score, anomalous),
		}
	}
	return results, nil
}

func confidence(score float64, anomalous bool) float64 {
	if anomalous {
		return models.ClampConfidence(math.Abs(score) / 0.5)
	}
	return models.ClampConfidence(score / 0.5)
}

func severity(score float64, anomalous bool) models.Severity {
	if !anomalous {
		return models.SeverityNormal
	}
	switch {
	case score < criticalScore:
		return models.SeverityCritical
	case score < highScore:
		return models.SeverityHigh
	case score < mediumScore:
		return models.SeverityMedium
	}
	return models.SeverityLow
}

// persistedModel is the serialized form of a fitted scorer.
type persistedModel struct {
	Version       int              `json:"version"`
	Metadata      Metadata         `json:"metadata"`
	NumTrees      int              `json:"num_trees"`
	MaxSamples    int              `json:"max_samples"`
	SubSampleSize int              `json:"sub_sample_size"`
	MaxDepth      int              `json:"max_depth"`
	Offset        float64          `json:"offset"`
	Trees         []*isolationNode `json:"trees"`
}

// Save serializes the fitted state. Go's JSON float encoding is shortest
// round-trip, so Load restores identical scores.
func (s *Scorer) Save() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.forest == nil {
		return nil, models.ErrModelNotTrained
	}
	blob, err := json.Marshal(persistedModel{
		Version:       blobVersion,
		Metadata:      s.meta,
		NumTrees:      s.cfg.NumTrees,
		MaxSamples:    s.cfg.MaxSamples,
		SubSampleSize: s.forest.subSampleSize,
		MaxDepth:      s.forest.maxDepth,
		Offset:        s.offset,
		Trees:         s.forest.trees,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode model: %w", err)
	}
	return blob, nil
}

// Load restores a scorer from a blob produced by Save.
func Load(blob []byte) (*Scorer, error) {
	if len(blob) == 0 {
		return nil, &models.ModelLoadError{Err: errors.New("empty model blob")}
	}

	var pm persistedModel
	if err := json.Unmarshal(blob, &pm); err != nil {
		return nil, &models.ModelLoadError{Err: fmt.Errorf("corrupt model blob: %w", err)}
	}
	if pm.Version != blobVersion {
		return nil, &models.ModelLoadError{Err: fmt.Errorf("unsupported model version %d", pm.Version)}
	}
	if len(pm.Trees) == 0 || pm.Metadata.FeatureCount <= 0 || pm.SubSampleSize < 2 {
		return nil, &models.ModelLoadError{Err: errors.New("model blob holds no fitted forest")}
	}
	for i, tree := range pm.Trees {
		if err := validateTree(tree, pm.Metadata.FeatureCount); err != nil {
			return nil, &models.ModelLoadError{Err: fmt.Errorf("tree %d: %w", i, err)}
		}
	}

	s := NewScorer(Config{
		Contamination: pm.Metadata.Contamination,
		RandomSeed:    pm.Metadata.RandomSeed,
		NumTrees:      pm.NumTrees,
		MaxSamples:    pm.MaxSamples,
	})
	s.forest = &IsolationForest{
		trees:         pm.Trees,
		numTrees:      len(pm.Trees),
		maxSamples:    pm.MaxSamples,
		subSampleSize: pm.SubSampleSize,
		maxDepth:      pm.MaxDepth,
	}
	s.offset = pm.Offset
	s.meta = pm.Metadata
	return s, nil
}

// matrixWidth checks that every row has the same non-zero width, equal to want when want > 0.
func matrixWidth(matrix [][]float64, want int) (int, error) {
	if len(matrix) == 0 {
		return want, nil
	}
	width := len(matrix[0])
	if width == 0 {
		return 0, fmt.Errorf("%w: empty row", ErrDimensionMismatch)
	}
	if want > 0 && width != want {
		return 0, fmt.Errorf("%w: expected %d columns, got %d", ErrDimensionMismatch, want, width)
	}
	for i, row := range matrix {
		if len(row) != width {
			return 0, fmt.Errorf("%w: row %d has %d columns, expected %d", ErrDimensionMismatch, i, len(row), width)
		}
	}
	return width, nil
}

// percentile returns the q-th percentile (0..100) with linear interpolation.
func percentile(values []float64, q float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	pos := q / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

func describe(values []float64) (mean, std, minVal, maxVal float64) {
	minVal, maxVal = values[0], values[0]
	for _, v := range values {
		mean += v
		minVal = math.Min(minVal, v)
		maxVal = math.Max(maxVal, v)
	}
	mean /= float64(len(values))
	for _, v := range values {
		std += (v - mean) * (v - mean)
	}
	std = math.Sqrt(std / float64(len(values)))
	return mean, std, minVal, maxVal
}
