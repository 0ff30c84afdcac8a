package ingest

// Package ingest is the boundary where sensor readings enter the system.
//
// Responsibilities:
//   - Validate raw readings against physical ranges per sensor type
//   - Persist accepted readings through the ReadingStore
//   - Subscribe to the MQTT broker the field gateways publish to

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/db"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/metrics"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/models"
)

// Accepted value ranges, inclusive.
const (
	minPercent     = 0.0
	maxPercent     = 100.0
	minTemperature = -50.0
	maxTemperature = 60.0
)

// Ingestion sources, used as a metrics label.
const (
	SourceHTTP = "http"
	SourceMQTT = "mqtt"
	SourceCLI  = "cli"
)

// ReadingInput is a reading as submitted by a client or gateway.
type ReadingInput struct {
	PlotID     int64      `json:"plot_id"`
	SensorType string     `json:"sensor_type"`
	Value      *float64   `json:"value"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

// Validate checks the input and converts it to a reading. A missing
// timestamp becomes now.
func (in ReadingInput) Validate(now time.Time) (*models.SensorReading, error) {
	if in.PlotID <= 0 {
		return nil, &models.ValidationError{Field: "plot_id", Message: fmt.Sprintf("must be positive, got %d", in.PlotID)}
	}

	st, ok := models.ParseSensorType(in.SensorType)
	if !ok {
		return nil, &models.ValidationError{
			Field:   "sensor_type",
			Message: fmt.Sprintf("invalid sensor type %q, must be one of moisture, temperature, humidity", in.SensorType),
		}
	}

	if in.Value == nil {
		return nil, &models.ValidationError{Field: "value", Message: "is required"}
	}
	v := *in.Value
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, &models.ValidationError{Field: "value", Message: "must be a finite number"}
	}
	if err := checkRange(st, v); err != nil {
		return nil, err
	}

	ts := now
	if in.Timestamp != nil && !in.Timestamp.IsZero() {
		ts = *in.Timestamp
	}
	if ts.After(now.Add(5 * time.Minute)) {
		return nil, &models.ValidationError{Field: "timestamp", Message: "must not be in the future"}
	}

	return &models.SensorReading{
		PlotID:     in.PlotID,
		SensorType: st,
		Value:      v,
		Timestamp:  ts.UTC(),
	}, nil
}

func checkRange(st models.SensorType, v float64) error {
	switch st {
	case models.SensorMoisture:
		if v < minPercent || v > maxPercent {
			return &models.ValidationError{Field: "value", Message: "moisture must be between 0-100%"}
		}
	case models.SensorTemperature:
		if v < minTemperature || v > maxTemperature {
			return &models.ValidationError{Field: "value", Message: "temperature must be between -50 to 60°C"}
		}
	case models.SensorHumidity:
		if v < minPercent || v > maxPercent {
			return &models.ValidationError{Field: "value", Message: "humidity must be between 0-100%"}
		}
	}
	return nil
}

// Ingestor validates and stores readings.
type Ingestor struct {
	store  db.ReadingStore
	logger *zap.Logger
	now    func() time.Time
}

// NewIngestor creates an Ingestor over store.
func NewIngestor(store db.ReadingStore, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{store: store, logger: logger, now: time.Now}
}

// Ingest validates one reading and persists it. Validation failures are
// returned as *models.ValidationError.
func (i *Ingestor) Ingest(ctx context.Context, source string, in ReadingInput) (*models.SensorReading, error) {
	reading, err := in.Validate(i.now())
	if err != nil {
		metrics.ReadingsIngestedTotal.WithLabelValues(source, "rejected").Inc()
		return nil, err
	}

	if err := i.store.InsertReading(ctx, reading); err != nil {
		metrics.ReadingsIngestedTotal.WithLabelValues(source, "error").Inc()
		return nil, fmt.Errorf("store reading: %w", err)
	}

	metrics.ReadingsIngestedTotal.WithLabelValues(source, "accepted").Inc()
	i.logger.Debug("reading ingested",
		zap.String("source", source),
		zap.Int64("reading_id", reading.ID),
		zap.Int64("plot_id", reading.PlotID),
		zap.String("sensor_type", string(reading.SensorType)),
		zap.Float64("value", reading.Value),
	)
	return reading, nil
}

// IngestBatch ingests each input independently. It returns the stored
// readings and one error message per rejected input, keyed by its index.
func (i *Ingestor) IngestBatch(ctx context.Context, source string, inputs []ReadingInput) ([]*models.SensorReading, map[int]string) {
	stored := make([]*models.SensorReading, 0, len(inputs))
	var rejected map[int]string
	for idx, in := range inputs {
		r, err := i.Ingest(ctx, source, in)
		if err != nil {
			if rejected == nil {
				rejected = make(map[int]string)
			}
			rejected[idx] = err.Error()
			continue
		}
		stored = append(stored, r)
	}
	return stored, rejected
}

// plotFromTopic extracts the plot id from topics shaped ".../plots/{id}/...".
func plotFromTopic(topic string) (int64, bool) {
	parts := strings.Split(topic, "/")
	for idx := 0; idx+1 < len(parts); idx++ {
		if parts[idx] != "plots" {
			continue
		}
		if id, err := strconv.ParseInt(parts[idx+1], 10, 64); err == nil && id > 0 {
			return id, true
		}
	}
	return 0, false
}
