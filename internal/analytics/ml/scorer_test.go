package ml

import (
	"errors"
	"math"
	"testing"

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/models"
)

func trainedScorer(t *testing.T) (*Scorer, [][]float64) {
	t.Helper()
	data := gaussianRows(200, 5, 0.5, 42)
	s := NewScorer(DefaultConfig())
	if _, err := s.Train(data); err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	return s, data
}

func TestScorer_TrainRequiresTenRows(t *testing.T) {
	s := NewScorer(DefaultConfig())
	_, err := s.Train(gaussianRows(9, 5, 1, 1))
	var ide *models.InsufficientDataError
	if !errors.As(err, &ide) {
		t.Fatalf("expected InsufficientDataError, got %v", err)
	}
	if s.IsTrained() {
		t.Error("scorer should stay untrained")
	}

	if _, err := s.Train(gaussianRows(10, 5, 1, 1)); err != nil {
		t.Errorf("Train on exactly 10 rows failed: %v", err)
	}
}

func TestScorer_TrainRejectsRaggedRows(t *testing.T) {
	data := gaussianRows(12, 3, 1, 1)
	data[5] = []float64{1, 2}
	_, err := NewScorer(DefaultConfig()).Train(data)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected dimension mismatch, got %v", err)
	}
}

func TestScorer_UntrainedOperations(t *testing.T) {
	s := NewScorer(DefaultConfig())
	row := [][]float64{{1, 2, 3, 4, 5}}

	if _, err := s.Score(row); !errors.Is(err, models.ErrModelNotTrained) {
		t.Errorf("Score: expected ErrModelNotTrained, got %v", err)
	}
	if _, err := s.Predict(row); !errors.Is(err, models.ErrModelNotTrained) {
		t.Errorf("Predict: expected ErrModelNotTrained, got %v", err)
	}
	if _, err := s.DetectWithConfidence(row); !errors.Is(err, models.ErrModelNotTrained) {
		t.Errorf("DetectWithConfidence: expected ErrModelNotTrained, got %v", err)
	}
	if _, err := s.Save(); !errors.Is(err, models.ErrModelNotTrained) {
		t.Errorf("Save: expected ErrModelNotTrained, got %v", err)
	}
}

func TestScorer_TrainingStats(t *testing.T) {
	data := gaussianRows(150, 5, 0.5, 3)
	s := NewScorer(DefaultConfig())
	stats, err := s.Train(data)
	if err != nil {
		t.Fatal(err)
	}

	if stats.NSamples != 150 || stats.NFeatures != 5 {
		t.Errorf("unexpected shape in stats: %d x %d", stats.NSamples, stats.NFeatures)
	}
	if !(stats.MinScore <= stats.MeanScore && stats.MeanScore <= stats.MaxScore) {
		t.Errorf("expected min <= mean <= max, got %f %f %f", stats.MinScore, stats.MeanScore, stats.MaxScore)
	}
	if stats.MinScore < -1 || stats.MaxScore > 0 {
		t.Errorf("scores outside [-1, 0]: min=%f max=%f", stats.MinScore, stats.MaxScore)
	}
	if stats.TrainingDate.IsZero() {
		t.Error("expected training date")
	}

	meta := s.Metadata()
	if meta.SampleCount != 150 || meta.FeatureCount != 5 || meta.Contamination != 0.1 || meta.RandomSeed != 42 {
		t.Errorf("unexpected metadata: %+v", meta)
	}
}

func TestScorer_ContaminationShare(t *testing.T) {
	s, data := trainedScorer(t)
	labels, err := s.Predict(data)
	if err != nil {
		t.Fatal(err)
	}
	flagged := 0
	for _, l := range labels {
		if l {
			flagged++
		}
	}
	if flagged < 15 || flagged > 25 {
		t.Errorf("expected about 10%% of 200 training rows flagged, got %d", flagged)
	}
}

func TestScorer_DetectWithConfidence(t *testing.T) {
	s, _ := trainedScorer(t)

	results, err := s.DetectWithConfidence([][]float64{
		{0, 0, 0, 0, 0},
		{8, -8, 8, -8, 8},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	normal, outlier := results[0], results[1]
	if normal.IsAnomaly || normal.Severity != models.SeverityNormal || normal.Confidence != 0 {
		t.Errorf("centre point should be NORMAL with zero confidence: %+v", normal)
	}
	if !outlier.IsAnomaly {
		t.Fatalf("far point should be anomalous: %+v", outlier)
	}
	if outlier.Severity != models.SeverityCritical {
		t.Errorf("expected CRITICAL for score %f, got %s", outlier.AnomalyScore, outlier.Severity)
	}
	if outlier.Confidence <= 0 || outlier.Confidence > 1 {
		t.Errorf("confidence %f outside (0, 1]", outlier.Confidence)
	}
	if outlier.Index != 1 {
		t.Errorf("expected index 1, got %d", outlier.Index)
	}
}

func TestScorer_DimensionMismatch(t *testing.T) {
	s, _ := trainedScorer(t)
	if _, err := s.Score([][]float64{{1, 2}}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected dimension mismatch, got %v", err)
	}
}

func TestSeverityBuckets(t *testing.T) {
	tests := []struct {
		score     float64
		anomalous bool
		want      models.Severity
	}{
		{-0.45, true, models.SeverityCritical},
		{-0.4, true, models.SeverityHigh},
		{-0.35, true, models.SeverityHigh},
		{-0.3, true, models.SeverityMedium},
		{-0.25, true, models.SeverityMedium},
		{-0.2, true, models.SeverityLow},
		{-0.1, true, models.SeverityLow},
		{-0.9, false, models.SeverityNormal},
	}
	for _, tt := range tests {
		if got := severity(tt.score, tt.anomalous); got != tt.want {
			t.Errorf("severity(%v, %v): expected %s, got %s", tt.score, tt.anomalous, tt.want, got)
		}
	}
}

func TestConfidenceMapping(t *testing.T) {
	tests := []struct {
		score     float64
		anomalous bool
		want      float64
	}{
		{-0.25, true, 0.5},
		{-0.6, true, 1},
		{-0.5, false, 0},
		{0.1, false, 0.2},
		{0.9, false, 1},
	}
	for _, tt := range tests {
		if got := confidence(tt.score, tt.anomalous); got != tt.want {
			t.Errorf("confidence(%v, %v): expected %v, got %v", tt.score, tt.anomalous, tt.want, got)
		}
	}
}

func TestScorer_SaveLoadRoundTrip(t *testing.T) {
	s, _ := trainedScorer(t)
	sample := gaussianRows(30, 5, 2, 11)

	blob, err := s.Save()
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(blob)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	wantScores, _ := s.Score(sample)
	gotScores, err := loaded.Score(sample)
	if err != nil {
		t.Fatal(err)
	}
	for i := range wantScores {
		if wantScores[i] != gotScores[i] {
			t.Fatalf("row %d: score changed after round trip: %v != %v", i, wantScores[i], gotScores[i])
		}
	}

	wantLabels, _ := s.Predict(sample)
	gotLabels, _ := loaded.Predict(sample)
	for i := range wantLabels {
		if wantLabels[i] != gotLabels[i] {
			t.Fatalf("row %d: label changed after round trip", i)
		}
	}

	if !loaded.Metadata().TrainedAt.Equal(s.Metadata().TrainedAt) {
		t.Error("training timestamp not preserved")
	}
	if loaded.Metadata().SampleCount != 200 {
		t.Errorf("expected sample count 200, got %d", loaded.Metadata().SampleCount)
	}
}

func TestLoad_CorruptBlobs(t *testing.T) {
	tests := []struct {
		name string
		blob []byte
	}{
		{"empty", nil},
		{"garbage", []byte("not a model")},
		{"wrong version", []byte(`{"version":7,"trees":[{"n":1}],"metadata":{"feature_count":1},"sub_sample_size":10}`)},
		{"no trees", []byte(`{"version":1,"trees":[],"metadata":{"feature_count":1},"sub_sample_size":10}`)},
		{"bad feature", []byte(`{"version":1,"trees":[{"f":4,"v":1,"n":2,"l":{"n":1},"r":{"n":1}}],"metadata":{"feature_count":2},"sub_sample_size":10}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.blob)
			var mle *models.ModelLoadError
			if !errors.As(err, &mle) {
				t.Errorf("expected ModelLoadError, got %v", err)
			}
		})
	}
}

func TestPercentile(t *testing.T) {
	values := []float64{5, 1, 4, 2, 3}
	if got := percentile(values, 0); got != 1 {
		t.Errorf("p0: expected 1, got %v", got)
	}
	if got := percentile(values, 100); got != 5 {
		t.Errorf("p100: expected 5, got %v", got)
	}
	if got := percentile(values, 10); math.Abs(got-1.4) > 1e-12 {
		t.Errorf("p10: expected 1.4, got %v", got)
	}
}
