package explain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/models"
)

// Package explain turns a selected recommendation into operator-facing text.
//
// Output is fully deterministic for a given event and result; no model or
// network call is involved.

// Generator composes explanations, summaries and action lists.
type Generator struct {
	now func() time.Time
}

// NewGenerator creates a Generator. now supplies the timestamp for events that
// carry none; nil means time.Now.
func NewGenerator(now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{now: now}
}

// GenerateExplanation returns the full explanation for a recommendation.
func (g *Generator) GenerateExplanation(event *models.AnomalyEvent, result models.RecommendationResult) string {
	parts := []string{
		g.timestampPart(event.Timestamp),
		detectionPart(event),
		contextPart(result),
		actionPart(result),
		confidencePart(result.Confidence),
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

func (g *Generator) timestampPart(ts time.Time) string {
	if ts.IsZero() {
		ts = g.now()
	}
	return ts.Format("On 2006-01-02 at 15:04,")
}

func detectionPart(event *models.AnomalyEvent) string {
	severity := strings.ToLower(string(event.Severity))
	if severity == "" {
		severity = "unknown"
	}
	return fmt.Sprintf("sensor readings detected a %s %s anomaly (model confidence: %.2f).",
		severity, sensorLabel(event.ResolvedSensorType()), event.ModelConfidence)
}

func sensorLabel(st models.SensorType) string {
	switch st {
	case models.SensorMoisture:
		return "soil moisture"
	case models.SensorTemperature:
		return "temperature"
	case models.SensorHumidity:
		return "humidity"
	}
	return "sensor"
}

func contextPart(result models.RecommendationResult) string {
	var parts []string
	if result.Reasoning != "" {
		parts = append(parts, result.Reasoning)
	}

	d := result.Details
	if d.DropPercentage != nil {
		parts = append(parts, fmt.Sprintf("Soil moisture decreased %.1f%% in recent readings", *d.DropPercentage))
	}
	if d.CurrentHumidity != nil {
		h := *d.CurrentHumidity
		switch {
		case h > 85:
			parts = append(parts, fmt.Sprintf("Current humidity level of %.1f%% is in disease risk range", h))
		case h < 30:
			parts = append(parts, fmt.Sprintf("Current humidity level of %.1f%% may stress crops", h))
		}
	}
	if d.CurrentReading != nil && d.PreviousReading != nil {
		cur, prev := *d.CurrentReading, *d.PreviousReading
		parts = append(parts, fmt.Sprintf("Reading changed from %.1f to %.1f (change: %.1f)", prev, cur, math.Abs(cur-prev)))
	}

	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, ". ") + "."
}

func actionPart(result models.RecommendationResult) string {
	var prefix string
	switch result.Urgency {
	case models.UrgencyHigh:
		prefix = "Immediate action required: "
	case models.UrgencyMedium:
		prefix = "Recommended action: "
	default:
		prefix = "Suggested action: "
	}
	return prefix + result.Description + "."
}

func confidencePart(confidence float64) string {
	level := "low"
	switch {
	case confidence >= 0.8:
		level = "high"
	case confidence >= 0.6:
		level = "moderate"
	}
	return fmt.Sprintf("Agent confidence: %s (%.2f).", level, confidence)
}

// GenerateSummary returns a one-line summary for notifications.
func (g *Generator) GenerateSummary(result models.RecommendationResult) string {
	desc := result.Description
	if desc == "" {
		desc = "Action required"
	}

	var tag string
	switch result.Urgency {
	case models.UrgencyHigh:
		tag = "[HIGH]"
	case models.UrgencyMedium:
		tag = "[MEDIUM]"
	case models.UrgencyLow:
		tag = "[LOW]"
	default:
		tag = "[NOTICE]"
	}
	return tag + " " + desc
}

// GenerateActionList renders the recommended actions as a numbered list.
func (g *Generator) GenerateActionList(result models.RecommendationResult) string {
	actions := result.Details.RecommendedActions
	if len(actions) == 0 {
		return "No specific actions listed."
	}

	var b strings.Builder
	b.WriteString("Recommended steps:")
	for i, a := range actions {
		b.WriteString("\n")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(a)
	}
	return b.String()
}
