package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/analytics/ml"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/models"
)

// APIError represents a structured API error response
type APIError struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// Error codes
const (
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeModelNotTrained  = "MODEL_NOT_TRAINED"
	ErrCodeModelMismatch    = "MODEL_INCOMPATIBLE"
	ErrCodeInsufficientData = "INSUFFICIENT_DATA"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)

// classify maps a domain error to its status code and error code.
func classify(err error) (int, string, map[string]string) {
	var ve *models.ValidationError
	var ide *models.InsufficientDataError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ErrCodeValidationFailed, map[string]string{"field": ve.Field}
	case errors.As(err, &ide):
		return http.StatusUnprocessableEntity, ErrCodeInsufficientData, nil
	case errors.Is(err, models.ErrModelNotTrained):
		return http.StatusConflict, ErrCodeModelNotTrained, nil
	case errors.Is(err, ml.ErrDimensionMismatch):
		// The stored model was fitted on rows of another width; retraining fixes it.
		return http.StatusConflict, ErrCodeModelMismatch, nil
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound, nil
	}
	return http.StatusInternalServerError, ErrCodeInternalError, nil
}

// respondDomainError writes err with the status its kind maps to.
func (s *Server) respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, details := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, APIError{Error: err.Error(), Code: code, Details: details})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIError{Error: message, Code: code})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
