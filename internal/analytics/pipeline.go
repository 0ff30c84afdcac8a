package analytics

// Package analytics runs the detection pipeline: readings in, anomaly events out.
//
// Responsibilities:
//   - Train per-sensor scorers from explicit matrices or from stored readings
//   - Window raw values and score them with the sensor type's model
//   - Record anomalous windows of a plot as AnomalyEvents and hand them on
//   - Sweep detection across plots and sensor types, isolating failures

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/analytics/ml"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/analytics/modelstore"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/analytics/preprocess"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/audit"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/db"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/metrics"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/models"
)

const (
	DefaultDetectReadings = 50
	DefaultTrainReadings  = 100
)

// Batch detection outcomes.
const (
	StatusSuccess = "success"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

// Config controls windowing and how many readings plot operations pull.
type Config struct {
	WindowSize     int
	UseFeatures    bool
	DetectReadings int
	TrainReadings  int
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		WindowSize:     preprocess.DefaultWindowSize,
		UseFeatures:    true,
		DetectReadings: DefaultDetectReadings,
		TrainReadings:  DefaultTrainReadings,
	}
}

// AnomalyHandler receives every newly recorded anomaly event.
type AnomalyHandler func(ctx context.Context, event *models.AnomalyEvent)

// PlotDetection is the result of DetectForPlot.
type PlotDetection struct {
	PlotID        int64                  `json:"plot_id"`
	SensorType    models.SensorType      `json:"sensor_type"`
	ReadingsUsed  int                    `json:"readings_used"`
	WindowsScored int                    `json:"windows_scored"`
	Anomalies     []*models.AnomalyEvent `json:"anomalies"`
	Duplicates    int                    `json:"duplicates"`
}

// BatchItem is the outcome for one (plot, sensor type) pair.
type BatchItem struct {
	PlotID     int64             `json:"plot_id"`
	SensorType models.SensorType `json:"sensor_type"`
	Status     string            `json:"status"`
	Anomalies  int               `json:"anomalies"`
	Reason     string            `json:"reason,omitempty"`
}

// BatchDetectReport summarises BatchDetect.
type BatchDetectReport struct {
	Items     []BatchItem `json:"items"`
	Succeeded int         `json:"succeeded"`
	Skipped   int         `json:"skipped"`
	Failed    int         `json:"failed"`
	Anomalies int         `json:"anomalies"`
}

// Pipeline wires the preprocessor, the model registry and the stores.
type Pipeline struct {
	cfg       Config
	prep      *preprocess.Preprocessor
	registry  *modelstore.Registry
	readings  db.ReadingStore
	anomalies db.AnomalyStore
	handler   AnomalyHandler
	audit     audit.Logger
	logger    *zap.Logger
}

// NewPipeline creates a detection pipeline. Zero-valued Config fields take defaults.
func NewPipeline(cfg Config, registry *modelstore.Registry, readings db.ReadingStore, anomalies db.AnomalyStore, auditLog audit.Logger, logger *zap.Logger) *Pipeline {
	def := DefaultConfig()
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.DetectReadings <= 0 {
		cfg.DetectReadings = def.DetectReadings
	}
	if cfg.TrainReadings <= 0 {
		cfg.TrainReadings = def.TrainReadings
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if auditLog == nil {
		auditLog = audit.NewNopLogger(logger)
	}
	p := &Pipeline{
		cfg:       cfg,
		prep:      preprocess.New(cfg.WindowSize),
		registry:  registry,
		readings:  readings,
		anomalies: anomalies,
		audit:     auditLog,
		logger:    logger,
	}
	registry.OnLoad(func(ctx context.Context, st models.SensorType) {
		_ = p.audit.LogModelLoaded(ctx, string(st))
	})
	return p
}

// SetAnomalyHandler registers the callback for newly recorded anomalies.
// It must be called before the pipeline is used concurrently.
func (p *Pipeline) SetAnomalyHandler(h AnomalyHandler) {
	p.handler = h
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config {
	return p.cfg
}

func validSensor(st models.SensorType) error {
	if !st.Valid() {
		return &models.ValidationError{Field: "sensor_type", Message: fmt.Sprintf("unknown sensor type %q", st)}
	}
	return nil
}

// FeatureWidth is the row width Detect feeds the scorer: FeatureCount when
// features are on, WindowSize otherwise.
func (p *Pipeline) FeatureWidth() int {
	if p.cfg.UseFeatures {
		return preprocess.FeatureCount
	}
	return p.cfg.WindowSize
}

// Train fits the sensor type's model on matrix and persists it. Rows must be
// FeatureWidth wide so the model can score what Detect produces.
func (p *Pipeline) Train(ctx context.Context, st models.SensorType, matrix [][]float64) (*ml.TrainingStats, error) {
	if err := validSensor(st); err != nil {
		return nil, err
	}
	want := p.FeatureWidth()
	for i, row := range matrix {
		if len(row) != want {
			return nil, &models.ValidationError{
				Field:   "matrix",
				Message: fmt.Sprintf("row %d has %d columns, detection scores %d", i, len(row), want),
			}
		}
	}

	start := time.Now()
	stats, err := p.registry.Train(ctx, st, matrix)
	if err != nil {
		_ = p.audit.LogModelTrainFailed(ctx, string(st), err)
		return nil, err
	}
	_ = p.audit.LogModelTrained(ctx, string(st), stats.NSamples, time.Since(start))
	return stats, nil
}

// TrainFromReadings trains on the plot's last count readings, windowed the
// same way detection windows them. count <= 0 uses Config.TrainReadings.
func (p *Pipeline) TrainFromReadings(ctx context.Context, plotID int64, st models.SensorType, count int) (*ml.TrainingStats, error) {
	if err := validSensor(st); err != nil {
		return nil, err
	}
	if count <= 0 {
		count = p.cfg.TrainReadings
	}

	readings, err := p.readings.LatestReadings(ctx, plotID, st, count)
	if err != nil {
		return nil, fmt.Errorf("load training readings for plot %d %s: %w", plotID, st, err)
	}
	matrix, err := p.prep.Prepare(values(readings), p.cfg.UseFeatures)
	if err != nil {
		return nil, err
	}
	return p.Train(ctx, st, matrix)
}

// Detect windows raw values and scores every window. Exactly WindowSize
// values yield one detection; fewer fail with InsufficientDataError.
func (p *Pipeline) Detect(ctx context.Context, st models.SensorType, raw []float64) ([]ml.Detection, error) {
	if err := validSensor(st); err != nil {
		return nil, err
	}

	matrix, err := p.prep.Prepare(raw, p.cfg.UseFeatures)
	if err != nil {
		return nil, err
	}

	scorer, err := p.registry.Get(ctx, st)
	if err != nil {
		if errors.Is(err, modelstore.ErrBlobNotFound) {
			return nil, fmt.Errorf("detect %s: %w: %w", st, models.ErrModelNotTrained, err)
		}
		return nil, err
	}

	detections, err := scorer.DetectWithConfidence(matrix)
	if err != nil {
		return nil, fmt.Errorf("detect %s: %w", st, err)
	}

	metrics.WindowsScoredTotal.WithLabelValues(string(st)).Add(float64(len(detections)))
	for _, d := range detections {
		if d.IsAnomaly {
			metrics.AnomaliesDetectedTotal.WithLabelValues(string(st), string(d.Severity)).Inc()
		}
	}
	return detections, nil
}

// DetectForPlot scores the plot's latest readings and records one anomaly
// event per anomalous window, attached to the reading that closes it. Events
// already recorded for the same reading are counted as duplicates and not
// handed on again.
func (p *Pipeline) DetectForPlot(ctx context.Context, plotID int64, st models.SensorType) (*PlotDetection, error) {
	if err := validSensor(st); err != nil {
		return nil, err
	}

	readings, err := p.readings.LatestReadings(ctx, plotID, st, p.cfg.DetectReadings)
	if err != nil {
		return nil, fmt.Errorf("load readings for plot %d %s: %w", plotID, st, err)
	}

	detections, err := p.Detect(ctx, st, values(readings))
	if err != nil {
		return nil, err
	}

	result := &PlotDetection{
		PlotID:        plotID,
		SensorType:    st,
		ReadingsUsed:  len(readings),
		WindowsScored: len(detections),
		Anomalies:     []*models.AnomalyEvent{},
	}

	for _, d := range detections {
		if !d.IsAnomaly {
			continue
		}
		closing := readings[p.prep.WindowEnd(d.Index)]
		readingID := closing.ID
		event := &models.AnomalyEvent{
			PlotID:          plotID,
			SensorType:      st,
			AnomalyType:     string(st) + "_anomaly",
			Severity:        d.Severity,
			ModelConfidence: d.Confidence,
			AnomalyScore:    d.AnomalyScore,
			ReadingID:       &readingID,
			Timestamp:       closing.Timestamp,
		}

		created, err := p.anomalies.CreateAnomaly(ctx, event)
		if err != nil {
			return result, fmt.Errorf("record anomaly for reading %d: %w", readingID, err)
		}
		if !created {
			result.Duplicates++
			continue
		}

		result.Anomalies = append(result.Anomalies, event)
		_ = p.audit.LogAnomalyRecorded(ctx, event.ID, plotID, string(st), string(event.Severity))
		p.logger.Info("anomaly recorded",
			zap.Int64("anomaly_id", event.ID),
			zap.Int64("plot_id", plotID),
			zap.String("sensor_type", string(st)),
			zap.String("severity", string(event.Severity)),
			zap.Float64("score", event.AnomalyScore),
		)
		if p.handler != nil {
			p.handler(ctx, event)
		}
	}

	_ = p.audit.LogDetectionCompleted(ctx, plotID, string(st), result.WindowsScored, len(result.Anomalies))
	return result, nil
}

// BatchDetect runs DetectForPlot over every (plot, sensor type) pair. Empty
// plotIDs means every plot with readings; empty sensorTypes means all three.
// Untrained models and short histories are skipped rather than failed.
func (p *Pipeline) BatchDetect(ctx context.Context, plotIDs []int64, sensorTypes []models.SensorType) (*BatchDetectReport, error) {
	if len(plotIDs) == 0 {
		plots, err := p.readings.ListPlots(ctx)
		if err != nil {
			return nil, fmt.Errorf("list plots: %w", err)
		}
		plotIDs = plots
	}
	if len(sensorTypes) == 0 {
		sensorTypes = models.AllSensorTypes
	}

	report := &BatchDetectReport{Items: make([]BatchItem, 0, len(plotIDs)*len(sensorTypes))}
	for _, plotID := range plotIDs {
		for _, st := range sensorTypes {
			if err := ctx.Err(); err != nil {
				return report, err
			}

			item := BatchItem{PlotID: plotID, SensorType: st}
			res, err := p.DetectForPlot(ctx, plotID, st)
			switch {
			case err == nil:
				item.Status = StatusSuccess
				item.Anomalies = len(res.Anomalies)
				report.Succeeded++
				report.Anomalies += item.Anomalies
			case errors.Is(err, models.ErrModelNotTrained), models.IsInsufficientData(err):
				item.Status = StatusSkipped
				item.Reason = err.Error()
				report.Skipped++
			default:
				item.Status = StatusError
				item.Reason = err.Error()
				report.Failed++
				p.logger.Warn("batch detection failed",
					zap.Int64("plot_id", plotID),
					zap.String("sensor_type", string(st)),
					zap.Error(err),
				)
			}
			report.Items = append(report.Items, item)
		}
	}
	return report, nil
}

// ModelStatus reports the model state for one sensor type.
func (p *Pipeline) ModelStatus(ctx context.Context, st models.SensorType) (modelstore.Status, error) {
	if err := validSensor(st); err != nil {
		return modelstore.Status{}, err
	}
	return p.registry.Status(ctx, st)
}

// ModelStatuses reports the model state for every sensor type.
func (p *Pipeline) ModelStatuses(ctx context.Context) ([]modelstore.Status, error) {
	out := make([]modelstore.Status, 0, len(models.AllSensorTypes))
	for _, st := range models.AllSensorTypes {
		s, err := p.registry.Status(ctx, st)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func values(readings []models.SensorReading) []float64 {
	out := make([]float64, len(readings))
	for i, r := range readings {
		out[i] = r.Value
	}
	return out
}
