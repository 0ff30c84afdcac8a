package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/agent"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/analytics"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/analytics/ml"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/analytics/modelstore"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/analytics/preprocess"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/db"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/ingest"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/models"
)

// ─── Helpers ─────────────────────────────────────────────────────────────────

type testEnv struct {
	srv      *Server
	store    db.Store
	pipeline *analytics.Pipeline
	registry *modelstore.Registry
	agent    *agent.Service
	hub      *Hub
}

// newTestEnv wires the full stack over in-memory SQLite and an in-memory
// model store. New anomalies are handed to the agent as in cmd/server.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := db.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	registry := modelstore.NewRegistry(modelstore.NewMemoryStore(), ml.DefaultConfig(), nil)
	pipeline := analytics.NewPipeline(analytics.DefaultConfig(), registry, store, store, nil, nil)
	svc := agent.NewService(store, store, store, nil)
	pipeline.SetAnomalyHandler(func(ctx context.Context, e *models.AnomalyEvent) {
		svc.CreateRecommendationForAnomaly(ctx, e)
	})

	hub := NewHub(context.Background(), nil)
	go hub.Run()
	t.Cleanup(hub.Stop)

	srv, err := NewServer(&Config{}, Deps{
		Pipeline:  pipeline,
		Agent:     svc,
		Anomalies: store,
		Ingestor:  ingest.NewIngestor(store, nil),
		Hub:       hub,
		Ping:      store.Ping,
	})
	require.NoError(t, err)
	return &testEnv{srv: srv, store: store, pipeline: pipeline, registry: registry, agent: svc, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rr.Body).Decode(v), "body: %s", rr.Body.String())
}

func normalSeries(n int, seed int64) []float64 {
	r := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = 50 + r.NormFloat64()
	}
	return out
}

func insertSeries(t *testing.T, store db.Store, plotID int64, st models.SensorType, start time.Time, values []float64) {
	t.Helper()
	for i, v := range values {
		r := models.SensorReading{PlotID: plotID, SensorType: st, Value: v, Timestamp: start.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, store.InsertReading(context.Background(), &r))
	}
}

// seedAnomalies trains the moisture model on plot 1 and runs plot detection
// over a window containing a spike.
func seedAnomalies(t *testing.T, e *testEnv) []*models.AnomalyEvent {
	t.Helper()
	start := time.Now().UTC().Add(-4 * time.Hour)
	insertSeries(t, e.store, 1, models.SensorMoisture, start, normalSeries(100, 5))

	rr := e.do(t, http.MethodPost, "/api/v1/models/moisture/train-from-readings", `{"plot_id": 1}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	recent := normalSeries(50, 6)
	recent[45] = 200
	insertSeries(t, e.store, 1, models.SensorMoisture, start.Add(2*time.Hour), recent)

	rr = e.do(t, http.MethodPost, "/api/v1/plots/1/detect?sensor_type=moisture", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var res analytics.PlotDetection
	decode(t, rr, &res)
	require.NotEmpty(t, res.Anomalies)
	return res.Anomalies
}

// ─── Health & metrics ─────────────────────────────────────────────────────────

func TestHandleHealth(t *testing.T) {
	e := newTestEnv(t)
	rr := e.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]interface{}
	decode(t, rr, &resp)
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, "ok", resp["database"])
	assert.NotEmpty(t, rr.Header().Get("X-Correlation-ID"))
}

func TestHandleHealth_DatabaseDown(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.store.Close())

	rr := e.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	rr := e.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestCorrelationIDIsEchoed(t *testing.T) {
	e := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Correlation-ID", "req-123")
	rr := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, "req-123", rr.Header().Get("X-Correlation-ID"))
}

func TestCORSPreflight(t *testing.T) {
	e := newTestEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/models", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rr, req)

	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
}

// ─── Readings ─────────────────────────────────────────────────────────────────

func TestIngestReadings(t *testing.T) {
	e := newTestEnv(t)

	rr := e.do(t, http.MethodPost, "/api/v1/readings", `{"plot_id": 2, "sensor_type": "humidity", "value": 61.5}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var reading models.SensorReading
	decode(t, rr, &reading)
	assert.NotZero(t, reading.ID)
	assert.Equal(t, models.SensorHumidity, reading.SensorType)

	rr = e.do(t, http.MethodPost, "/api/v1/readings", `{"plot_id": 2, "sensor_type": "temperature", "value": 75}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	var apiErr APIError
	decode(t, rr, &apiErr)
	assert.Equal(t, ErrCodeValidationFailed, apiErr.Code)
	assert.Equal(t, "value", apiErr.Details["field"])
	assert.Contains(t, apiErr.Error, "temperature must be between -50 to 60°C")

	rr = e.do(t, http.MethodPost, "/api/v1/readings", `{"plot_id": `)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	decode(t, rr, &apiErr)
	assert.Equal(t, ErrCodeInvalidRequest, apiErr.Code)
}

func TestIngestReadings_Batch(t *testing.T) {
	e := newTestEnv(t)

	rr := e.do(t, http.MethodPost, "/api/v1/readings",
		`[{"plot_id": 1, "sensor_type": "moisture", "value": 40}, {"plot_id": 1, "sensor_type": "moisture", "value": 140}]`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp IngestBatchResponse
	decode(t, rr, &resp)
	assert.Equal(t, 1, resp.Accepted)
	assert.Equal(t, 1, resp.Rejected)
	assert.Contains(t, resp.Errors[1], "moisture must be between 0-100%")

	rr = e.do(t, http.MethodPost, "/api/v1/readings", `[{"plot_id": 1, "sensor_type": "moisture", "value": 41}]`)
	assert.Equal(t, http.StatusCreated, rr.Code)
}

// ─── Models ───────────────────────────────────────────────────────────────────

func TestModelLifecycle(t *testing.T) {
	e := newTestEnv(t)

	rr := e.do(t, http.MethodPost, "/api/v1/models/moisture/detect", `{"values": [1,2,3,4,5,6,7,8,9,10,11]}`)
	require.Equal(t, http.StatusConflict, rr.Code, rr.Body.String())
	var apiErr APIError
	decode(t, rr, &apiErr)
	assert.Equal(t, ErrCodeModelNotTrained, apiErr.Code)

	matrix, err := preprocess.New(preprocess.DefaultWindowSize).Features(normalSeries(60, 1))
	require.NoError(t, err)
	body, err := json.Marshal(TrainRequest{Matrix: matrix})
	require.NoError(t, err)

	rr = e.do(t, http.MethodPost, "/api/v1/models/moisture/train", string(body))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var trained struct {
		Stats ml.TrainingStats `json:"stats"`
	}
	decode(t, rr, &trained)
	assert.Equal(t, len(matrix), trained.Stats.NSamples)

	rr = e.do(t, http.MethodPost, "/api/v1/models/moisture/detect", `{"values": [50, 51, 49, 50, 52, 48, 50, 51, 50, 49, 50, 50]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var detected struct {
		Windows    int            `json:"windows"`
		Detections []ml.Detection `json:"detections"`
	}
	decode(t, rr, &detected)
	assert.Equal(t, 3, detected.Windows)
	assert.Len(t, detected.Detections, 3)

	rr = e.do(t, http.MethodPost, "/api/v1/models/moisture/detect", `{"values": [50, 51, 49]}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	decode(t, rr, &apiErr)
	assert.Equal(t, ErrCodeInsufficientData, apiErr.Code)

	rr = e.do(t, http.MethodGet, "/api/v1/models/Moisture", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var status modelstore.Status
	decode(t, rr, &status)
	assert.True(t, status.Trained)
	assert.Equal(t, models.SensorMoisture, status.SensorType)

	rr = e.do(t, http.MethodGet, "/api/v1/models", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var all struct {
		Models []modelstore.Status `json:"models"`
	}
	decode(t, rr, &all)
	assert.Len(t, all.Models, 3)
}

func TestModelWidthMismatch(t *testing.T) {
	e := newTestEnv(t)

	raw, err := preprocess.New(preprocess.DefaultWindowSize).Windows(normalSeries(60, 2))
	require.NoError(t, err)
	body, err := json.Marshal(TrainRequest{Matrix: raw})
	require.NoError(t, err)

	rr := e.do(t, http.MethodPost, "/api/v1/models/moisture/train", string(body))
	require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
	var apiErr APIError
	decode(t, rr, &apiErr)
	assert.Equal(t, ErrCodeValidationFailed, apiErr.Code)
	assert.Equal(t, "matrix", apiErr.Details["field"])

	// A model fitted on raw windows outside the pipeline cannot score feature rows.
	_, err = e.registry.Train(context.Background(), models.SensorMoisture, raw)
	require.NoError(t, err)

	rr = e.do(t, http.MethodPost, "/api/v1/models/moisture/detect", `{"values": [50, 51, 49, 50, 52, 48, 50, 51, 50, 49, 50]}`)
	require.Equal(t, http.StatusConflict, rr.Code, rr.Body.String())
	decode(t, rr, &apiErr)
	assert.Equal(t, ErrCodeModelMismatch, apiErr.Code)
}

func TestModelRoutesRejectBadInput(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown sensor status", http.MethodGet, "/api/v1/models/pressure", "", http.StatusBadRequest},
		{"unknown sensor train", http.MethodPost, "/api/v1/models/pressure/train", `{"matrix": []}`, http.StatusBadRequest},
		{"train without body", http.MethodPost, "/api/v1/models/humidity/train", "", http.StatusBadRequest},
		{"train with too few rows", http.MethodPost, "/api/v1/models/humidity/train", `{"matrix": [[1,2,3,4,5]]}`, http.StatusUnprocessableEntity},
		{"train from readings without plot", http.MethodPost, "/api/v1/models/humidity/train-from-readings", `{}`, http.StatusBadRequest},
		{"train from readings without history", http.MethodPost, "/api/v1/models/humidity/train-from-readings", `{"plot_id": 9}`, http.StatusUnprocessableEntity},
		{"plot detect without sensor", http.MethodPost, "/api/v1/plots/1/detect", "", http.StatusBadRequest},
		{"plot detect untrained", http.MethodPost, "/api/v1/plots/1/detect?sensor_type=humidity", "", http.StatusUnprocessableEntity},
		{"wrong method", http.MethodGet, "/api/v1/models/humidity/train", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := e.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}

func TestBatchDetect(t *testing.T) {
	e := newTestEnv(t)
	insertSeries(t, e.store, 1, models.SensorMoisture, time.Now().UTC().Add(-3*time.Hour), normalSeries(20, 3))

	rr := e.do(t, http.MethodPost, "/api/v1/detect/batch", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var report analytics.BatchDetectReport
	decode(t, rr, &report)
	assert.Len(t, report.Items, 3)
	assert.Equal(t, 3, report.Skipped)

	rr = e.do(t, http.MethodPost, "/api/v1/detect/batch", `{"plot_ids": [1], "sensor_types": ["MOISTURE", "pressure"]}`)
	require.Equal(t, http.StatusOK, rr.Code)
	decode(t, rr, &report)
	require.Len(t, report.Items, 2)
	assert.Equal(t, models.SensorMoisture, report.Items[0].SensorType)
	assert.Equal(t, analytics.StatusSkipped, report.Items[0].Status)
	assert.Equal(t, analytics.StatusError, report.Items[1].Status)
}

// ─── Anomalies & recommendations ──────────────────────────────────────────────

func TestDetectionToRecommendationFlow(t *testing.T) {
	e := newTestEnv(t)
	anomalies := seedAnomalies(t, e)
	first := anomalies[0]

	rr := e.do(t, http.MethodGet, "/api/v1/plots/1/recommendations", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var plotRecs struct {
		Count           int                      `json:"count"`
		Days            int                      `json:"days"`
		Recommendations []*models.Recommendation `json:"recommendations"`
	}
	decode(t, rr, &plotRecs)
	assert.Equal(t, len(anomalies), plotRecs.Count, "each new anomaly gets a recommendation")
	assert.Equal(t, agent.DefaultPlotDays, plotRecs.Days)

	rr = e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/anomalies/%d/recommendation", first.ID), "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var rec models.Recommendation
	decode(t, rr, &rec)
	assert.Equal(t, first.ID, rec.AnomalyID)
	assert.NotEmpty(t, rec.Explanation)

	rr = e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/anomalies/%d/recommendation", first.ID), "")
	var again models.Recommendation
	decode(t, rr, &again)
	assert.Equal(t, rec.ID, again.ID, "creation is idempotent")

	rr = e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/anomalies/%d/recommendation/regenerate", first.ID), "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var regenerated models.Recommendation
	decode(t, rr, &regenerated)
	assert.NotEqual(t, rec.ID, regenerated.ID)
	assert.Equal(t, first.ID, regenerated.AnomalyID)

	rr = e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/anomalies/%d/decision", first.ID), "")
	require.Equal(t, http.StatusOK, rr.Code)
	var decision agent.Decision
	decode(t, rr, &decision)
	assert.NotEmpty(t, decision.Action)
	assert.NotEmpty(t, decision.Summary)

	rr = e.do(t, http.MethodGet, fmt.Sprintf("/api/v1/anomalies/%d", first.ID), "")
	require.Equal(t, http.StatusOK, rr.Code)
	var got models.AnomalyEvent
	decode(t, rr, &got)
	assert.Equal(t, first.Severity, got.Severity)

	rr = e.do(t, http.MethodGet, "/api/v1/plots/1/anomalies?days=1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var plotAnomalies struct {
		Count int `json:"count"`
	}
	decode(t, rr, &plotAnomalies)
	assert.Equal(t, len(anomalies), plotAnomalies.Count)

	rr = e.do(t, http.MethodPost, "/api/v1/recommendations/batch", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var batch agent.BatchReport
	decode(t, rr, &batch)
	assert.Equal(t, 0, batch.Total, "nothing left unrecommended")
}

func TestAnomalyRoutesNotFound(t *testing.T) {
	e := newTestEnv(t)

	for _, path := range []string{"/api/v1/anomalies/999"} {
		rr := e.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, rr.Code)
	}
	for _, path := range []string{
		"/api/v1/anomalies/999/decision",
		"/api/v1/anomalies/999/recommendation",
		"/api/v1/anomalies/999/recommendation/regenerate",
	} {
		rr := e.do(t, http.MethodPost, path, "")
		assert.Equal(t, http.StatusNotFound, rr.Code, path)
		var apiErr APIError
		decode(t, rr, &apiErr)
		assert.Equal(t, ErrCodeNotFound, apiErr.Code)
	}

	rr := e.do(t, http.MethodGet, "/api/v1/anomalies/abc", "")
	assert.Equal(t, http.StatusNotFound, rr.Code, "non-numeric ids do not match the route")
}

func TestPlotEvaluate(t *testing.T) {
	e := newTestEnv(t)
	anomalies := seedAnomalies(t, e)

	ids := make([]int64, 0, len(anomalies))
	for _, a := range anomalies {
		ids = append(ids, a.ID)
	}
	body, err := json.Marshal(EvaluateRequest{AnomalyIDs: ids})
	require.NoError(t, err)

	rr := e.do(t, http.MethodPost, "/api/v1/plots/1/evaluate", string(body))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp struct {
		Anomalies int             `json:"anomalies"`
		Decision  *agent.Decision `json:"decision"`
	}
	decode(t, rr, &resp)
	assert.Equal(t, len(ids), resp.Anomalies)
	require.NotNil(t, resp.Decision)
	assert.NotEmpty(t, resp.Decision.Action)

	rr = e.do(t, http.MethodPost, "/api/v1/plots/2/evaluate", string(body))
	assert.Equal(t, http.StatusBadRequest, rr.Code, "anomalies belong to another plot")

	rr = e.do(t, http.MethodPost, "/api/v1/plots/1/evaluate", "")
	require.Equal(t, http.StatusOK, rr.Code, "no events yields the default decision")
}

func TestHighPriority(t *testing.T) {
	e := newTestEnv(t)
	seedAnomalies(t, e)

	rr := e.do(t, http.MethodGet, "/api/v1/recommendations/high-priority?min_confidence=0", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		MinConfidence   float64                  `json:"min_confidence"`
		Recommendations []*models.Recommendation `json:"recommendations"`
	}
	decode(t, rr, &resp)
	assert.NotEmpty(t, resp.Recommendations)
	for i := 1; i < len(resp.Recommendations); i++ {
		assert.GreaterOrEqual(t, resp.Recommendations[i-1].Confidence, resp.Recommendations[i].Confidence)
	}

	rr = e.do(t, http.MethodGet, "/api/v1/recommendations/high-priority", "")
	require.Equal(t, http.StatusOK, rr.Code)
	decode(t, rr, &resp)
	assert.Equal(t, agent.DefaultHighPriorityMinimum, resp.MinConfidence)

	for _, bad := range []string{"abc", "1.5", "-0.1"} {
		rr = e.do(t, http.MethodGet, "/api/v1/recommendations/high-priority?min_confidence="+bad, "")
		assert.Equal(t, http.StatusBadRequest, rr.Code, bad)
	}
}

func TestPlotListsRejectBadDays(t *testing.T) {
	e := newTestEnv(t)
	for _, path := range []string{
		"/api/v1/plots/1/anomalies?days=zero",
		"/api/v1/plots/1/recommendations?days=-3",
	} {
		rr := e.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, rr.Code, path)
	}

	rr := e.do(t, http.MethodGet, "/api/v1/plots/1/recommendations", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"recommendations":[]`)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		code string
	}{
		{"validation", &models.ValidationError{Field: "value"}, http.StatusBadRequest, ErrCodeValidationFailed},
		{"insufficient data", fmt.Errorf("detect: %w", &models.InsufficientDataError{Have: 3, Need: 10}), http.StatusUnprocessableEntity, ErrCodeInsufficientData},
		{"not trained wins over not found", fmt.Errorf("detect: %w: %w", models.ErrModelNotTrained, models.ErrNotFound), http.StatusConflict, ErrCodeModelNotTrained},
		{"model width mismatch", fmt.Errorf("detect moisture: %w: expected 10 columns, got 5", ml.ErrDimensionMismatch), http.StatusConflict, ErrCodeModelMismatch},
		{"not found", fmt.Errorf("anomaly 3: %w", models.ErrNotFound), http.StatusNotFound, ErrCodeNotFound},
		{"anything else", fmt.Errorf("boom"), http.StatusInternalServerError, ErrCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, _ := classify(tt.err)
			assert.Equal(t, tt.want, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestComputeRateLimit(t *testing.T) {
	env := newTestEnv(t)
	srv, err := NewServer(&Config{ComputeRateLimit: 1}, Deps{
		Pipeline:  env.pipeline,
		Agent:     env.agent,
		Anomalies: env.store,
	})
	require.NoError(t, err)
	env.srv = srv

	body := `{"values": [1,2,3,4,5,6,7,8,9,10]}`
	rr := env.do(t, http.MethodPost, "/api/v1/models/moisture/detect", body)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/v1/plots/1/detect?sensor_type=moisture", "")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code, "detect routes share one bucket")
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	rr = env.do(t, http.MethodGet, "/api/v1/models", "")
	assert.Equal(t, http.StatusOK, rr.Code, "read routes are not limited")
}
