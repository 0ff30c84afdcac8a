package models

// Package models defines core data types used throughout the crop monitoring service.
//
// These types are shared by the detection pipeline, the recommendation agent,
// the storage layer and the HTTP API.

import (
	"strings"
	"time"
)

// SensorType classifies a scalar sensor stream.
type SensorType string

const (
	SensorMoisture    SensorType = "moisture"
	SensorTemperature SensorType = "temperature"
	SensorHumidity    SensorType = "humidity"
	SensorUnknown     SensorType = "unknown"
)

// AllSensorTypes lists the sensor types that carry a model.
var AllSensorTypes = []SensorType{SensorMoisture, SensorTemperature, SensorHumidity}

// Valid reports whether s is one of the modelled sensor types.
func (s SensorType) Valid() bool {
	switch s {
	case SensorMoisture, SensorTemperature, SensorHumidity:
		return true
	}
	return false
}

// ParseSensorType parses an exact sensor type name.
func ParseSensorType(raw string) (SensorType, bool) {
	st := SensorType(strings.ToLower(strings.TrimSpace(raw)))
	return st, st.Valid()
}

// InferSensorType maps a free-text label such as "soil_moisture_anomaly" to a
// sensor type. Used only for events that predate the enumerated classification.
func InferSensorType(label string) SensorType {
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, "moisture") || strings.Contains(l, "soil"):
		return SensorMoisture
	case strings.Contains(l, "temperature") || strings.Contains(l, "temp"):
		return SensorTemperature
	case strings.Contains(l, "humidity"):
		return SensorHumidity
	}
	return SensorUnknown
}

// Severity is the discrete bucket derived from an anomaly score.
type Severity string

const (
	SeverityNormal   Severity = "NORMAL"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities from NORMAL (0) to CRITICAL (4).
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Urgency is the dispatch priority of a recommendation.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// Rank orders urgencies for threshold comparisons. Unknown values rank 0.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyLow:
		return 1
	case UrgencyMedium:
		return 2
	case UrgencyHigh:
		return 3
	}
	return 0
}

// SensorReading is a single scalar measurement from a plot.
type SensorReading struct {
	ID         int64      `json:"id"`
	PlotID     int64      `json:"plot_id"`
	SensorType SensorType `json:"sensor_type"`
	Value      float64    `json:"value"`
	Timestamp  time.Time  `json:"timestamp"`
}

// AnomalyEvent records one anomalous window detected on a plot.
type AnomalyEvent struct {
	ID              int64      `json:"id"`
	PlotID          int64      `json:"plot_id"`
	SensorType      SensorType `json:"sensor_type"`
	AnomalyType     string     `json:"anomaly_type"`
	Severity        Severity   `json:"severity"`
	ModelConfidence float64    `json:"model_confidence"`
	AnomalyScore    float64    `json:"anomaly_score"`
	ReadingID       *int64     `json:"reading_id,omitempty"`
	Timestamp       time.Time  `json:"timestamp"`
	CreatedAt       time.Time  `json:"created_at"`
}

// ResolvedSensorType returns the enumerated sensor type, falling back to the
// free-text anomaly label for legacy events.
func (e *AnomalyEvent) ResolvedSensorType() SensorType {
	if e.SensorType.Valid() {
		return e.SensorType
	}
	return InferSensorType(e.AnomalyType)
}

// AnomalyContext is the input of rule evaluation.
type AnomalyContext struct {
	AnomalyType     string
	Severity        Severity
	ModelConfidence float64
	SensorType      SensorType
	PlotID          int64
	RecentValues    []float64 // oldest first, at most 10
	Timestamp       time.Time
}

// LatestValue returns the most recent value, if any.
func (c *AnomalyContext) LatestValue() (float64, bool) {
	if len(c.RecentValues) == 0 {
		return 0, false
	}
	return c.RecentValues[len(c.RecentValues)-1], true
}

// Details carries the structured facts a rule attached to its result.
// Pointer fields distinguish "absent" from zero.
type Details struct {
	DropPercentage     *float64 `json:"drop_percentage,omitempty"`
	InitialValue       *float64 `json:"initial_value,omitempty"`
	CurrentValue       *float64 `json:"current_value,omitempty"`
	TimeWindow         string   `json:"time_window,omitempty"`
	CurrentHumidity    *float64 `json:"current_humidity,omitempty"`
	RiskFactors        []string `json:"risk_factors,omitempty"`
	CurrentReading     *float64 `json:"current_reading,omitempty"`
	PreviousReading    *float64 `json:"previous_reading,omitempty"`
	SensorType         string   `json:"sensor_type,omitempty"`
	ModelConfidence    *float64 `json:"model_confidence,omitempty"`
	AffectedSensors    []string `json:"affected_sensors,omitempty"`
	MaxSeverity        string   `json:"max_severity,omitempty"`
	AnomalyCount       int      `json:"anomaly_count,omitempty"`
	RecommendedActions []string `json:"recommended_actions,omitempty"`
}

// Float returns a pointer to v, for populating Details.
func Float(v float64) *float64 {
	return &v
}

// RecommendationResult is the output of the rule engine.
type RecommendationResult struct {
	Action       string  `json:"action"`
	Description  string  `json:"description"`
	Urgency      Urgency `json:"urgency"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
	RuleName     string  `json:"rule_name"`
	RulePriority int     `json:"rule_priority"`
	Details      Details `json:"details"`
}

// Recommendation is the persisted, explained recommendation for one anomaly.
type Recommendation struct {
	ID           string    `json:"id"`
	AnomalyID    int64     `json:"anomaly_id"`
	PlotID       int64     `json:"plot_id"`
	Action       string    `json:"action"`
	Explanation  string    `json:"explanation"`
	Summary      string    `json:"summary"`
	Confidence   float64   `json:"confidence"`
	Urgency      Urgency   `json:"urgency"`
	RuleName     string    `json:"rule_name"`
	RulePriority int       `json:"rule_priority"`
	Details      Details   `json:"details"`
	CreatedAt    time.Time `json:"created_at"`
}

// ClampConfidence bounds a confidence value to [0, 1].
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
