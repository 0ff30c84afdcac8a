package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/ingest"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/models"
)

const maxBodyBytes = 4 << 20

// ─── Request / response types ─────────────────────────────────────────────────

// TrainRequest is the body of POST /models/{sensor}/train.
type TrainRequest struct {
	Matrix [][]float64 `json:"matrix"`
}

// TrainFromReadingsRequest is the body of POST /models/{sensor}/train-from-readings.
type TrainFromReadingsRequest struct {
	PlotID int64 `json:"plot_id"`
	Count  int   `json:"count,omitempty"`
}

// DetectRequest is the body of POST /models/{sensor}/detect.
type DetectRequest struct {
	Values []float64 `json:"values"`
}

// BatchDetectRequest is the optional body of POST /detect/batch.
type BatchDetectRequest struct {
	PlotIDs     []int64  `json:"plot_ids,omitempty"`
	SensorTypes []string `json:"sensor_types,omitempty"`
}

// EvaluateRequest is the body of POST /plots/{plot}/evaluate.
type EvaluateRequest struct {
	AnomalyIDs []int64 `json:"anomaly_ids"`
}

// IngestBatchResponse reports a multi-reading ingestion.
type IngestBatchResponse struct {
	Accepted int                     `json:"accepted"`
	Rejected int                     `json:"rejected"`
	Readings []*models.SensorReading `json:"readings"`
	Errors   map[int]string          `json:"errors,omitempty"`
}

// ─── Readings ─────────────────────────────────────────────────────────────────

func (s *Server) handleIngestReadings(w http.ResponseWriter, r *http.Request) {
	if s.ingestor == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeInternalError, "ingestion is not enabled")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidRequest, fmt.Sprintf("read body: %v", err))
		return
	}
	inputs, err := ingest.DecodeReadings(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	if trimmed := bytes.TrimSpace(body); trimmed[0] != '[' {
		reading, err := s.ingestor.Ingest(r.Context(), ingest.SourceHTTP, inputs[0])
		if err != nil {
			s.respondDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, reading)
		return
	}

	stored, rejected := s.ingestor.IngestBatch(r.Context(), ingest.SourceHTTP, inputs)
	status := http.StatusCreated
	if len(rejected) > 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, IngestBatchResponse{
		Accepted: len(stored),
		Rejected: len(rejected),
		Readings: stored,
		Errors:   rejected,
	})
}

// ─── Models ───────────────────────────────────────────────────────────────────

func (s *Server) handleModelStatuses(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.pipeline.ModelStatuses(r.Context())
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": statuses})
}

func (s *Server) handleModelStatus(w http.ResponseWriter, r *http.Request) {
	st, err := sensorVar(r)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	status, err := s.pipeline.ModelStatus(r.Context(), st)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	st, err := sensorVar(r)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	var req TrainRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	stats, err := s.pipeline.Train(r.Context(), st, req.Matrix)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sensor_type": st, "stats": stats})
}

func (s *Server) handleTrainFromReadings(w http.ResponseWriter, r *http.Request) {
	st, err := sensorVar(r)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	var req TrainFromReadingsRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if req.PlotID <= 0 {
		s.respondDomainError(w, r, &models.ValidationError{Field: "plot_id", Message: "must be positive"})
		return
	}
	stats, err := s.pipeline.TrainFromReadings(r.Context(), req.PlotID, st, req.Count)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sensor_type": st, "plot_id": req.PlotID, "stats": stats})
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	st, err := sensorVar(r)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	var req DetectRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	detections, err := s.pipeline.Detect(r.Context(), st, req.Values)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	anomalies := 0
	for _, d := range detections {
		if d.IsAnomaly {
			anomalies++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sensor_type": st,
		"windows":     len(detections),
		"anomalies":   anomalies,
		"detections":  detections,
	})
}

func (s *Server) handleBatchDetect(w http.ResponseWriter, r *http.Request) {
	var req BatchDetectRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	var sensors []models.SensorType
	for _, raw := range req.SensorTypes {
		if st, ok := models.ParseSensorType(raw); ok {
			sensors = append(sensors, st)
		} else {
			sensors = append(sensors, models.SensorType(raw))
		}
	}
	report, err := s.pipeline.BatchDetect(r.Context(), req.PlotIDs, sensors)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ─── Plots ────────────────────────────────────────────────────────────────────

func (s *Server) handlePlotDetect(w http.ResponseWriter, r *http.Request) {
	plotID, err := int64Var(r, "plot")
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	st, ok := models.ParseSensorType(r.URL.Query().Get("sensor_type"))
	if !ok {
		s.respondDomainError(w, r, &models.ValidationError{Field: "sensor_type", Message: "query parameter must be moisture, temperature or humidity"})
		return
	}
	res, err := s.pipeline.DetectForPlot(r.Context(), plotID, st)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	if res.Anomalies == nil {
		res.Anomalies = []*models.AnomalyEvent{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePlotAnomalies(w http.ResponseWriter, r *http.Request) {
	plotID, err := int64Var(r, "plot")
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	days, err := intQuery(r, "days", s.config.PlotDays)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	events, err := s.agent.PlotAnomalies(r.Context(), plotID, days)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	if events == nil {
		events = []*models.AnomalyEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"plot_id":   plotID,
		"days":      days,
		"count":     len(events),
		"anomalies": events,
	})
}

func (s *Server) handlePlotRecommendations(w http.ResponseWriter, r *http.Request) {
	plotID, err := int64Var(r, "plot")
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	days, err := intQuery(r, "days", s.config.PlotDays)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	recs, err := s.agent.RecommendationsForPlot(r.Context(), plotID, days)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	if recs == nil {
		recs = []*models.Recommendation{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"plot_id":         plotID,
		"days":            days,
		"count":           len(recs),
		"recommendations": recs,
	})
}

func (s *Server) handlePlotEvaluate(w http.ResponseWriter, r *http.Request) {
	plotID, err := int64Var(r, "plot")
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	var req EvaluateRequest
	if !decodeBody(w, r, &req, true) {
		return
	}

	events := make([]*models.AnomalyEvent, 0, len(req.AnomalyIDs))
	for _, id := range req.AnomalyIDs {
		e, err := s.anomalies.GetAnomaly(r.Context(), id)
		if err != nil {
			s.respondDomainError(w, r, fmt.Errorf("anomaly %d: %w", id, err))
			return
		}
		if e.PlotID != plotID {
			s.respondDomainError(w, r, &models.ValidationError{
				Field:   "anomaly_ids",
				Message: fmt.Sprintf("anomaly %d belongs to plot %d, not %d", id, e.PlotID, plotID),
			})
			return
		}
		events = append(events, e)
	}

	decision, err := s.agent.ProcessPlotAnomalies(r.Context(), events)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"plot_id":   plotID,
		"anomalies": len(events),
		"decision":  decision,
	})
}

// ─── Anomalies & recommendations ──────────────────────────────────────────────

func (s *Server) anomalyFromPath(r *http.Request) (*models.AnomalyEvent, error) {
	id, err := int64Var(r, "id")
	if err != nil {
		return nil, err
	}
	e, err := s.anomalies.GetAnomaly(r.Context(), id)
	if err != nil {
		return nil, fmt.Errorf("anomaly %d: %w", id, err)
	}
	return e, nil
}

func (s *Server) handleGetAnomaly(w http.ResponseWriter, r *http.Request) {
	e, err := s.anomalyFromPath(r)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleAnomalyDecision(w http.ResponseWriter, r *http.Request) {
	e, err := s.anomalyFromPath(r)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	decision, err := s.agent.ProcessAnomaly(r.Context(), e)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleCreateRecommendation(w http.ResponseWriter, r *http.Request) {
	e, err := s.anomalyFromPath(r)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	rec := s.agent.CreateRecommendationForAnomaly(r.Context(), e)
	if rec == nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError,
			fmt.Sprintf("failed to create recommendation for anomaly %d", e.ID))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRegenerateRecommendation(w http.ResponseWriter, r *http.Request) {
	id, err := int64Var(r, "id")
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	rec, err := s.agent.RegenerateRecommendation(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleBatchRecommendations(w http.ResponseWriter, r *http.Request) {
	report, err := s.agent.BatchProcessUnprocessedAnomalies(r.Context())
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleHighPriority(w http.ResponseWriter, r *http.Request) {
	minConfidence := s.config.HighPriorityMinimum
	if raw := r.URL.Query().Get("min_confidence"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			s.respondDomainError(w, r, &models.ValidationError{Field: "min_confidence", Message: "must be a number between 0 and 1"})
			return
		}
		minConfidence = v
	}
	recs, err := s.agent.HighPriorityRecommendations(r.Context(), minConfidence)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	if recs == nil {
		recs = []*models.Recommendation{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"min_confidence":  minConfidence,
		"count":           len(recs),
		"recommendations": recs,
		"timestamp":       time.Now().UTC(),
	})
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

// decodeBody decodes a JSON body into v. An empty body is accepted only when
// optional is set. It writes the error response and returns false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}, optional bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && optional {
			return true
		}
		respondError(w, http.StatusBadRequest, ErrCodeInvalidRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func sensorVar(r *http.Request) (models.SensorType, error) {
	raw := mux.Vars(r)["sensor"]
	st, ok := models.ParseSensorType(raw)
	if !ok {
		return "", &models.ValidationError{Field: "sensor_type", Message: fmt.Sprintf("unknown sensor type %q", raw)}
	}
	return st, nil
}

func int64Var(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || v <= 0 {
		return 0, &models.ValidationError{Field: name, Message: "must be a positive integer"}
	}
	return v, nil
}

func intQuery(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, &models.ValidationError{Field: name, Message: "must be a positive integer"}
	}
	return v, nil
}
