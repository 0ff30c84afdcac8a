package db

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/models"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedReadings(t *testing.T, s Store, plot int64, st models.SensorType, start time.Time, values ...float64) []models.SensorReading {
	t.Helper()
	out := make([]models.SensorReading, 0, len(values))
	for i, v := range values {
		r := models.SensorReading{PlotID: plot, SensorType: st, Value: v, Timestamp: start.Add(time.Duration(i) * time.Minute)}
		if err := s.InsertReading(context.Background(), &r); err != nil {
			t.Fatalf("InsertReading: %v", err)
		}
		out = append(out, r)
	}
	return out
}

func TestNewStore_UnsupportedType(t *testing.T) {
	if _, err := NewStore("oracle", ""); err == nil {
		t.Error("expected error for unsupported database type")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t).(*sqlStore)
	if err := s.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var count int
	if err := s.db.Get(&count, `SELECT COUNT(*) FROM schema_versions`); err != nil {
		t.Fatalf("count versions: %v", err)
	}
	if count != len(migrations) {
		t.Errorf("expected %d schema versions, got %d", len(migrations), count)
	}
}

// ─── Readings ────────────────────────────────────────────────────────────────

func TestReadings_LatestOldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	seeded := seedReadings(t, s, 1, models.SensorMoisture, start, 10, 20, 30, 40, 50)
	seedReadings(t, s, 2, models.SensorMoisture, start, 99)
	seedReadings(t, s, 1, models.SensorHumidity, start, 77)

	got, err := s.LatestReadings(ctx, 1, models.SensorMoisture, 3)
	if err != nil {
		t.Fatalf("LatestReadings: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 readings, got %d", len(got))
	}
	for i, want := range []float64{30, 40, 50} {
		if got[i].Value != want {
			t.Errorf("reading %d: expected %v, got %v", i, want, got[i].Value)
		}
	}
	if got[2].ID != seeded[4].ID {
		t.Errorf("expected last reading ID %d, got %d", seeded[4].ID, got[2].ID)
	}
	if !got[0].Timestamp.Equal(seeded[2].Timestamp) {
		t.Errorf("timestamp did not round-trip: %v vs %v", got[0].Timestamp, seeded[2].Timestamp)
	}
}

func TestReadings_RecentWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	// One reading outside the 6h window, then fifteen inside it.
	old := models.SensorReading{PlotID: 1, SensorType: models.SensorTemperature, Value: -1, Timestamp: now.Add(-7 * time.Hour)}
	if err := s.InsertReading(ctx, &old); err != nil {
		t.Fatalf("InsertReading: %v", err)
	}
	values := make([]float64, 15)
	for i := range values {
		values[i] = float64(i)
	}
	seedReadings(t, s, 1, models.SensorTemperature, now.Add(-30*time.Minute), values...)

	got, err := s.RecentReadings(ctx, 1, models.SensorTemperature, now.Add(-6*time.Hour), 10)
	if err != nil {
		t.Fatalf("RecentReadings: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("expected 10 readings, got %d", len(got))
	}
	if got[0].Value != 5 || got[9].Value != 14 {
		t.Errorf("expected values 5..14 oldest first, got %v..%v", got[0].Value, got[9].Value)
	}

	got, err = s.RecentReadings(ctx, 1, models.SensorTemperature, now.Add(-6*time.Hour), 50)
	if err != nil {
		t.Fatalf("RecentReadings: %v", err)
	}
	if len(got) != 15 {
		t.Errorf("expected the out-of-window reading to be excluded, got %d readings", len(got))
	}
}

func TestListPlots(t *testing.T) {
	s := newTestStore(t)
	start := time.Now()
	seedReadings(t, s, 3, models.SensorMoisture, start, 1)
	seedReadings(t, s, 1, models.SensorMoisture, start, 1, 2)
	seedReadings(t, s, 3, models.SensorHumidity, start, 1)

	plots, err := s.ListPlots(context.Background())
	if err != nil {
		t.Fatalf("ListPlots: %v", err)
	}
	if len(plots) != 2 || plots[0] != 1 || plots[1] != 3 {
		t.Errorf("expected [1 3], got %v", plots)
	}
}

// ─── Anomalies ───────────────────────────────────────────────────────────────

func TestAnomalies_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	readings := seedReadings(t, s, 7, models.SensorMoisture, time.Now().Add(-time.Hour), 40)

	readingID := readings[0].ID
	e := &models.AnomalyEvent{
		PlotID:          7,
		SensorType:      models.SensorMoisture,
		AnomalyType:     "moisture_anomaly",
		Severity:        models.SeverityHigh,
		ModelConfidence: 0.85,
		AnomalyScore:    -0.35,
		ReadingID:       &readingID,
		Timestamp:       readings[0].Timestamp,
	}
	created, err := s.CreateAnomaly(ctx, e)
	if err != nil {
		t.Fatalf("CreateAnomaly: %v", err)
	}
	if !created || e.ID == 0 {
		t.Fatalf("expected new event with ID, got created=%v id=%d", created, e.ID)
	}

	got, err := s.GetAnomaly(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetAnomaly: %v", err)
	}
	if got.Severity != models.SeverityHigh || got.SensorType != models.SensorMoisture {
		t.Errorf("unexpected event: %+v", got)
	}
	if got.ReadingID == nil || *got.ReadingID != readingID {
		t.Errorf("expected reading ID %d, got %v", readingID, got.ReadingID)
	}

	// A second event for the same reading and sensor type is skipped.
	dup := *e
	dup.ID = 0
	created, err = s.CreateAnomaly(ctx, &dup)
	if err != nil {
		t.Fatalf("CreateAnomaly duplicate: %v", err)
	}
	if created {
		t.Error("expected duplicate event to be skipped")
	}

	if _, err := s.GetAnomaly(ctx, 9999); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAnomalies_NullReadingAllowsDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		e := &models.AnomalyEvent{PlotID: 1, SensorType: models.SensorHumidity, AnomalyType: "humidity_anomaly", Severity: models.SeverityLow}
		created, err := s.CreateAnomaly(ctx, e)
		if err != nil {
			t.Fatalf("CreateAnomaly: %v", err)
		}
		if !created {
			t.Errorf("event %d without reading should be created", i)
		}
	}
}

func TestAnomalies_ListUnrecommended(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	var ids []int64
	for i := 0; i < 3; i++ {
		e := &models.AnomalyEvent{PlotID: 1, SensorType: models.SensorMoisture, Severity: models.SeverityLow, Timestamp: base.Add(time.Duration(3-i) * time.Hour)}
		if _, err := s.CreateAnomaly(ctx, e); err != nil {
			t.Fatalf("CreateAnomaly: %v", err)
		}
		ids = append(ids, e.ID)
	}
	if err := s.CreateRecommendation(ctx, &models.Recommendation{ID: "r-1", AnomalyID: ids[1], PlotID: 1, Action: "general_monitoring"}); err != nil {
		t.Fatalf("CreateRecommendation: %v", err)
	}

	got, err := s.ListUnrecommendedAnomalies(ctx, 0)
	if err != nil {
		t.Fatalf("ListUnrecommendedAnomalies: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 unrecommended, got %d", len(got))
	}
	// Oldest first: ids[2] has the earliest timestamp.
	if got[0].ID != ids[2] || got[1].ID != ids[0] {
		t.Errorf("unexpected order: %d, %d", got[0].ID, got[1].ID)
	}

	limited, err := s.ListUnrecommendedAnomalies(ctx, 1)
	if err != nil {
		t.Fatalf("ListUnrecommendedAnomalies limit: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected limit 1, got %d", len(limited))
	}
}

func TestAnomalies_ListPlot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	for _, e := range []*models.AnomalyEvent{
		{PlotID: 1, SensorType: models.SensorMoisture, Severity: models.SeverityLow, Timestamp: now.Add(-48 * time.Hour)},
		{PlotID: 1, SensorType: models.SensorTemperature, Severity: models.SeverityHigh, Timestamp: now.Add(-time.Hour)},
		{PlotID: 2, SensorType: models.SensorTemperature, Severity: models.SeverityHigh, Timestamp: now.Add(-time.Hour)},
	} {
		if _, err := s.CreateAnomaly(ctx, e); err != nil {
			t.Fatalf("CreateAnomaly: %v", err)
		}
	}

	got, err := s.ListPlotAnomalies(ctx, 1, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("ListPlotAnomalies: %v", err)
	}
	if len(got) != 1 || got[0].SensorType != models.SensorTemperature {
		t.Errorf("expected the recent temperature event only, got %+v", got)
	}
}

// ─── Recommendations ─────────────────────────────────────────────────────────

func TestRecommendations_CreateGetDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &models.Recommendation{
		ID:           "rec-001",
		AnomalyID:    42,
		PlotID:       3,
		Action:       "immediate_irrigation_check",
		Explanation:  "On 2024-06-01 at 10:00, ...",
		Summary:      "[HIGH] Check irrigation system immediately",
		Confidence:   0.95,
		Urgency:      models.UrgencyHigh,
		RuleName:     "irrigation_failure",
		RulePriority: 9,
		Details: models.Details{
			DropPercentage: models.Float(30.77),
			TimeWindow:     "recent readings",
		},
		CreatedAt: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := s.CreateRecommendation(ctx, rec); err != nil {
		t.Fatalf("CreateRecommendation: %v", err)
	}

	got, err := s.GetRecommendationByAnomaly(ctx, 42)
	if err != nil {
		t.Fatalf("GetRecommendationByAnomaly: %v", err)
	}
	if got.ID != "rec-001" || got.Urgency != models.UrgencyHigh || got.RulePriority != 9 {
		t.Errorf("unexpected recommendation: %+v", got)
	}
	if got.Details.DropPercentage == nil || *got.Details.DropPercentage != 30.77 {
		t.Errorf("details did not round-trip: %+v", got.Details)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("expected created_at %v, got %v", rec.CreatedAt, got.CreatedAt)
	}

	dup := *rec
	dup.ID = "rec-002"
	if err := s.CreateRecommendation(ctx, &dup); !errors.Is(err, ErrRecommendationExists) {
		t.Errorf("expected ErrRecommendationExists, got %v", err)
	}

	if err := s.DeleteRecommendationByAnomaly(ctx, 42); err != nil {
		t.Fatalf("DeleteRecommendationByAnomaly: %v", err)
	}
	if _, err := s.GetRecommendationByAnomaly(ctx, 42); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	// Deleting a missing recommendation is not an error.
	if err := s.DeleteRecommendationByAnomaly(ctx, 42); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestRecommendations_ConcurrentCreateSingleWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.CreateRecommendation(ctx, &models.Recommendation{
				ID: "rec-" + string(rune('a'+i)), AnomalyID: 5, PlotID: 1, Action: "general_monitoring",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrRecommendationExists):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 || conflicts != 7 {
		t.Errorf("expected 1 winner and 7 conflicts, got %d and %d", wins, conflicts)
	}
}

func TestRecommendations_ListPlotAndAbove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, r := range []*models.Recommendation{
		{ID: "a", AnomalyID: 1, PlotID: 1, Action: "x", Confidence: 0.9, CreatedAt: now.Add(-time.Hour)},
		{ID: "b", AnomalyID: 2, PlotID: 1, Action: "x", Confidence: 0.5, CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "c", AnomalyID: 3, PlotID: 1, Action: "x", Confidence: 0.8, CreatedAt: now.Add(-10 * 24 * time.Hour)},
		{ID: "d", AnomalyID: 4, PlotID: 2, Action: "x", Confidence: 0.85, CreatedAt: now},
	} {
		if err := s.CreateRecommendation(ctx, r); err != nil {
			t.Fatalf("CreateRecommendation %d: %v", i, err)
		}
	}

	plot, err := s.ListPlotRecommendations(ctx, 1, now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("ListPlotRecommendations: %v", err)
	}
	if len(plot) != 2 || plot[0].ID != "a" || plot[1].ID != "b" {
		t.Errorf("expected [a b] newest first, got %d items", len(plot))
	}

	high, err := s.ListRecommendationsAbove(ctx, 0.8, 0)
	if err != nil {
		t.Fatalf("ListRecommendationsAbove: %v", err)
	}
	if len(high) != 3 || high[0].ID != "a" || high[1].ID != "d" || high[2].ID != "c" {
		ids := make([]string, len(high))
		for i, r := range high {
			ids[i] = r.ID
		}
		t.Errorf("expected [a d c], got %v", ids)
	}
}

// ─── Model blobs ─────────────────────────────────────────────────────────────

func TestModelBlobs_Upsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetModelBlob(ctx, "moisture"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	trainedAt := time.Date(2024, 6, 1, 12, 0, 0, 123, time.UTC)
	rec := &ModelBlobRecord{
		SensorType: "moisture", Blob: []byte(`{"version":1}`),
		Contamination: 0.1, RandomSeed: 42, SampleCount: 91, FeatureCount: 5, TrainedAt: trainedAt,
	}
	if err := s.SaveModelBlob(ctx, rec); err != nil {
		t.Fatalf("SaveModelBlob: %v", err)
	}
	rec.Blob = []byte(`{"version":1,"retrained":true}`)
	rec.SampleCount = 120
	if err := s.SaveModelBlob(ctx, rec); err != nil {
		t.Fatalf("SaveModelBlob overwrite: %v", err)
	}

	got, err := s.GetModelBlob(ctx, "moisture")
	if err != nil {
		t.Fatalf("GetModelBlob: %v", err)
	}
	if string(got.Blob) != `{"version":1,"retrained":true}` || got.SampleCount != 120 {
		t.Errorf("expected overwritten blob, got %q (%d samples)", got.Blob, got.SampleCount)
	}
	if !got.TrainedAt.Equal(trainedAt) {
		t.Errorf("expected trained_at %v, got %v", trainedAt, got.TrainedAt)
	}

	stat, err := s.StatModelBlob(ctx, "moisture")
	if err != nil {
		t.Fatalf("StatModelBlob: %v", err)
	}
	if stat.Blob != nil {
		t.Error("StatModelBlob should not load the blob")
	}
	if stat.FeatureCount != 5 || stat.RandomSeed != 42 {
		t.Errorf("unexpected metadata: %+v", stat)
	}
}
