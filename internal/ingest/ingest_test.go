package ingest

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/db"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/models"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func val(v float64) *float64 { return &v }

func newTestIngestor(t *testing.T) (*Ingestor, db.Store) {
	t.Helper()
	store, err := db.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	i := NewIngestor(store, nil)
	i.now = func() time.Time { return testNow }
	return i, store
}

func TestReadingInput_Validate(t *testing.T) {
	past := testNow.Add(-time.Hour)
	future := testNow.Add(10 * time.Minute)
	nearFuture := testNow.Add(2 * time.Minute)

	tests := []struct {
		name      string
		in        ReadingInput
		wantField string
	}{
		{"valid moisture", ReadingInput{PlotID: 1, SensorType: "moisture", Value: val(45)}, ""},
		{"moisture lower bound", ReadingInput{PlotID: 1, SensorType: "moisture", Value: val(0)}, ""},
		{"moisture upper bound", ReadingInput{PlotID: 1, SensorType: "moisture", Value: val(100)}, ""},
		{"moisture above range", ReadingInput{PlotID: 1, SensorType: "moisture", Value: val(100.1)}, "value"},
		{"temperature lower bound", ReadingInput{PlotID: 1, SensorType: "temperature", Value: val(-50)}, ""},
		{"temperature above range", ReadingInput{PlotID: 1, SensorType: "temperature", Value: val(61)}, "value"},
		{"humidity below range", ReadingInput{PlotID: 1, SensorType: "humidity", Value: val(-1)}, "value"},
		{"case-insensitive sensor", ReadingInput{PlotID: 1, SensorType: " Moisture ", Value: val(30)}, ""},
		{"legacy sensor label", ReadingInput{PlotID: 1, SensorType: "soil_moisture", Value: val(30)}, "sensor_type"},
		{"unknown sensor", ReadingInput{PlotID: 1, SensorType: "pressure", Value: val(30)}, "sensor_type"},
		{"zero plot", ReadingInput{SensorType: "moisture", Value: val(30)}, "plot_id"},
		{"missing value", ReadingInput{PlotID: 1, SensorType: "moisture"}, "value"},
		{"nan value", ReadingInput{PlotID: 1, SensorType: "humidity", Value: val(math.NaN())}, "value"},
		{"past timestamp", ReadingInput{PlotID: 1, SensorType: "moisture", Value: val(30), Timestamp: &past}, ""},
		{"clock skew tolerated", ReadingInput{PlotID: 1, SensorType: "moisture", Value: val(30), Timestamp: &nearFuture}, ""},
		{"future timestamp", ReadingInput{PlotID: 1, SensorType: "moisture", Value: val(30), Timestamp: &future}, "timestamp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := tt.in.Validate(testNow)
			if tt.wantField == "" {
				require.NoError(t, err)
				require.NotNil(t, r)
				assert.Equal(t, *tt.in.Value, r.Value)
				return
			}
			var ve *models.ValidationError
			require.True(t, errors.As(err, &ve), "expected validation error, got %v", err)
			assert.Equal(t, tt.wantField, ve.Field)
		})
	}
}

func TestReadingInput_ValidateNormalizes(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	ts := time.Date(2024, 6, 1, 10, 0, 0, 0, loc)

	r, err := ReadingInput{PlotID: 3, SensorType: "Temperature", Value: val(21.5), Timestamp: &ts}.Validate(testNow)
	require.NoError(t, err)
	assert.Equal(t, models.SensorTemperature, r.SensorType)
	assert.Equal(t, time.UTC, r.Timestamp.Location())
	assert.True(t, r.Timestamp.Equal(ts))

	r, err = ReadingInput{PlotID: 3, SensorType: "humidity", Value: val(60)}.Validate(testNow)
	require.NoError(t, err)
	assert.Equal(t, testNow, r.Timestamp)
}

func TestReadingInput_RangeMessages(t *testing.T) {
	_, err := ReadingInput{PlotID: 1, SensorType: "temperature", Value: val(-51)}.Validate(testNow)
	assert.EqualError(t, err, "validation failed for value: temperature must be between -50 to 60°C")
	_, err = ReadingInput{PlotID: 1, SensorType: "moisture", Value: val(-0.5)}.Validate(testNow)
	assert.EqualError(t, err, "validation failed for value: moisture must be between 0-100%")
}

func TestIngestor_Ingest(t *testing.T) {
	i, store := newTestIngestor(t)
	ctx := context.Background()

	r, err := i.Ingest(ctx, SourceHTTP, ReadingInput{PlotID: 4, SensorType: "moisture", Value: val(42)})
	require.NoError(t, err)
	assert.NotZero(t, r.ID)

	got, err := store.LatestReadings(ctx, 4, models.SensorMoisture, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 42.0, got[0].Value)

	_, err = i.Ingest(ctx, SourceHTTP, ReadingInput{PlotID: 4, SensorType: "moisture", Value: val(420)})
	assert.True(t, models.IsValidation(err))

	got, err = store.LatestReadings(ctx, 4, models.SensorMoisture, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1, "rejected readings are not stored")
}

func TestIngestor_IngestBatch(t *testing.T) {
	i, store := newTestIngestor(t)
	ctx := context.Background()

	stored, rejected := i.IngestBatch(ctx, SourceMQTT, []ReadingInput{
		{PlotID: 1, SensorType: "humidity", Value: val(55)},
		{PlotID: 1, SensorType: "humidity", Value: val(155)},
		{PlotID: 1, SensorType: "humidity", Value: val(56)},
		{PlotID: 0, SensorType: "humidity", Value: val(56)},
	})
	assert.Len(t, stored, 2)
	require.Len(t, rejected, 2)
	assert.Contains(t, rejected[1], "humidity must be between 0-100%")
	assert.Contains(t, rejected[3], "plot_id")

	plots, err := store.ListPlots(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, plots)

	stored, rejected = i.IngestBatch(ctx, SourceMQTT, nil)
	assert.Empty(t, stored)
	assert.Nil(t, rejected)
}

func TestPlotFromTopic(t *testing.T) {
	tests := []struct {
		topic  string
		want   int64
		wantOK bool
	}{
		{"fieldsense/plots/12/readings", 12, true},
		{"plots/7", 7, true},
		{"fieldsense/plots/abc/readings", 0, false},
		{"fieldsense/plots/12abc/readings", 0, false},
		{"fieldsense/plots/0/readings", 0, false},
		{"fieldsense/plots", 0, false},
		{"fieldsense/readings", 0, false},
	}
	for _, tt := range tests {
		got, ok := plotFromTopic(tt.topic)
		assert.Equal(t, tt.wantOK, ok, tt.topic)
		assert.Equal(t, tt.want, got, tt.topic)
	}
}
