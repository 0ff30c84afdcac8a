package preprocess

import (
	"math"

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/models"
)

// Package preprocess turns raw sensor value sequences into model input.
//
// Responsibilities:
//   - Slice a chronological value sequence into overlapping windows (stride 1)
//   - Reduce each window to a fixed feature vector or keep it raw
//   - Preserve chronology so window i maps back to the reading that closes it
//
// Feature vector layout (FeatureCount columns):
//   0. mean
//   1. population standard deviation
//   2. trend (least-squares slope over the window index)
//   3. min
//   4. max

// DefaultWindowSize is the number of readings per window.
const DefaultWindowSize = 10

// FeatureCount is the width of a reduced feature vector.
const FeatureCount = 5

// Preprocessor converts value sequences into windows.
type Preprocessor struct {
	windowSize int
}

// New creates a Preprocessor. A non-positive size selects DefaultWindowSize.
func New(windowSize int) *Preprocessor {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Preprocessor{windowSize: windowSize}
}

// WindowSize returns the configured window length.
func (p *Preprocessor) WindowSize() int {
	return p.windowSize
}

// WindowCount returns how many windows n values produce, or 0 when n is too short.
func (p *Preprocessor) WindowCount(n int) int {
	if n < p.windowSize {
		return 0
	}
	return n - p.windowSize + 1
}

// WindowEnd returns the index of the value that closes window i.
func (p *Preprocessor) WindowEnd(i int) int {
	return i + p.windowSize - 1
}

// Windows returns the raw sliding windows over values, oldest first.
func (p *Preprocessor) Windows(values []float64) ([][]float64, error) {
	if len(values) < p.windowSize {
		return nil, &models.InsufficientDataError{Op: "windowing", Have: len(values), Need: p.windowSize}
	}

	windows := make([][]float64, 0, p.WindowCount(len(values)))
	for i := 0; i+p.windowSize <= len(values); i++ {
		w := make([]float64, p.windowSize)
		copy(w, values[i:i+p.windowSize])
		windows = append(windows, w)
	}
	return windows, nil
}

// Features returns one reduced feature vector per window.
func (p *Preprocessor) Features(values []float64) ([][]float64, error) {
	windows, err := p.Windows(values)
	if err != nil {
		return nil, err
	}

	features := make([][]float64, len(windows))
	for i, w := range windows {
		features[i] = ExtractFeatures(w)
	}
	return features, nil
}

// Prepare returns model input for values, reduced to features when useFeatures is set.
func (p *Preprocessor) Prepare(values []float64, useFeatures bool) ([][]float64, error) {
	if useFeatures {
		return p.Features(values)
	}
	return p.Windows(values)
}

// ExtractFeatures reduces one window to [mean, std, trend, min, max].
func ExtractFeatures(window []float64) []float64 {
	if len(window) == 0 {
		return make([]float64, FeatureCount)
	}

	var sum float64
	minVal, maxVal := window[0], window[0]
	for _, v := range window {
		sum += v
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	mean := sum / float64(len(window))

	var variance float64
	for _, v := range window {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(window))

	return []float64{mean, math.Sqrt(variance), slope(window), minVal, maxVal}
}

// slope fits y = a + b*x over x = 0..n-1 and returns b.
func slope(values []float64) float64 {
	n := float64(len(values))
	if n < 2 {
		return 0
	}

	var sumX, sumY, sumXY, sumX2 float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}

	denom := n*sumX2 - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}
