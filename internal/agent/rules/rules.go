package rules

import (
	"fmt"
	"math"

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/models"
)

// Physical ranges outside of which a reading is treated as a sensor fault.
const (
	maxPercent        = 100.0
	minTemperature    = -20.0
	maxTemperature    = 60.0
	maxPlausibleDelta = 50.0
)

const (
	rapidDropPercent  = 10.0
	highHumidity      = 85.0
	lowHumidity       = 30.0
	lowConfidenceMin  = 0.4
	lowConfidenceMax  = 0.6
	sensorCheckScore  = 0.8
	irrigationBoost   = 0.1
	irrigationMaxConf = 0.95
)

// DefaultRules returns the built-in agricultural rule table in registration order.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "irrigation_failure", Priority: 9, Evaluate: irrigationFailure},
		{Name: "heat_stress", Priority: 8, Evaluate: heatStress},
		{Name: "humidity_anomaly", Priority: 7, Evaluate: humidityAnomaly},
		{Name: "sensor_malfunction", Priority: 6, Evaluate: sensorMalfunction},
		{Name: "low_confidence", Priority: 3, Evaluate: lowConfidence},
	}
}

// irrigationFailure flags a rapid soil moisture drop on a severe moisture anomaly.
func irrigationFailure(ac models.AnomalyContext) Outcome {
	if ac.SensorType != models.SensorMoisture {
		return Inapplicable()
	}
	if ac.Severity != models.SeverityHigh && ac.Severity != models.SeverityCritical {
		return Inapplicable()
	}

	if len(ac.RecentValues) >= 3 {
		initial := ac.RecentValues[0]
		current := ac.RecentValues[len(ac.RecentValues)-1]
		drop := dropPercentage(initial, current)

		if drop > rapidDropPercent {
			return Fired(models.RecommendationResult{
				Action:      "immediate_irrigation_check",
				Description: "Check irrigation system immediately - possible leak or pump failure",
				Urgency:     models.UrgencyHigh,
				Confidence:  math.Min(irrigationMaxConf, ac.ModelConfidence+irrigationBoost),
				Reasoning:   fmt.Sprintf("Soil moisture dropped %.1f%% rapidly", drop),
				Details: models.Details{
					DropPercentage: models.Float(drop),
					InitialValue:   models.Float(initial),
					CurrentValue:   models.Float(current),
					TimeWindow:     "recent readings",
				},
			})
		}
	}

	return Fired(models.RecommendationResult{
		Action:      "irrigation_check",
		Description: "Inspect irrigation system and verify water supply",
		Urgency:     models.UrgencyMedium,
		Confidence:  ac.ModelConfidence,
		Reasoning:   "Abnormal moisture levels detected",
	})
}

// dropPercentage is the relative fall from initial to current, 0 for a non-positive baseline.
func dropPercentage(initial, current float64) float64 {
	if initial <= 0 {
		return 0
	}
	return (initial - current) / initial * 100
}

func heatStress(ac models.AnomalyContext) Outcome {
	if ac.SensorType != models.SensorTemperature {
		return Inapplicable()
	}

	switch ac.Severity {
	case models.SeverityCritical:
		return Fired(models.RecommendationResult{
			Action:      "heat_stress_mitigation",
			Description: "Apply heat stress mitigation - increase irrigation and consider shade",
			Urgency:     models.UrgencyHigh,
			Confidence:  ac.ModelConfidence,
			Reasoning:   "Critical temperature levels detected",
			Details: models.Details{
				RecommendedActions: []string{
					"Increase irrigation frequency",
					"Deploy shade structures if available",
					"Monitor crop for wilting",
					"Consider early morning watering",
				},
			},
		})
	case models.SeverityHigh, models.SeverityMedium:
		return Fired(models.RecommendationResult{
			Action:      "temperature_monitoring",
			Description: "Monitor temperature closely and prepare heat mitigation measures",
			Urgency:     models.UrgencyMedium,
			Confidence:  ac.ModelConfidence,
			Reasoning:   "Elevated temperature levels detected",
			Details: models.Details{
				RecommendedActions: []string{
					"Monitor temperature trends",
					"Prepare irrigation system",
					"Check soil moisture levels",
				},
			},
		})
	}
	return Inapplicable()
}

func humidityAnomaly(ac models.AnomalyContext) Outcome {
	if ac.SensorType != models.SensorHumidity {
		return Inapplicable()
	}

	if current, ok := ac.LatestValue(); ok {
		switch {
		case current > highHumidity:
			return Fired(models.RecommendationResult{
				Action:      "disease_prevention",
				Description: "High humidity detected - monitor for fungal diseases",
				Urgency:     models.UrgencyMedium,
				Confidence:  ac.ModelConfidence,
				Reasoning:   fmt.Sprintf("Humidity at %.1f%% increases disease risk", current),
				Details: models.Details{
					CurrentHumidity: models.Float(current),
					RiskFactors:     []string{"Fungal diseases", "Bacterial infections"},
					RecommendedActions: []string{
						"Improve air circulation",
						"Inspect crops for disease symptoms",
						"Consider preventive fungicide application",
					},
				},
			})
		case current < lowHumidity:
			return Fired(models.RecommendationResult{
				Action:      "humidity_management",
				Description: "Low humidity detected - crops may experience stress",
				Urgency:     models.UrgencyMedium,
				Confidence:  ac.ModelConfidence,
				Reasoning:   fmt.Sprintf("Humidity at %.1f%% may cause crop stress", current),
				Details: models.Details{
					CurrentHumidity: models.Float(current),
					RecommendedActions: []string{
						"Increase irrigation frequency",
						"Monitor crop for wilting",
						"Consider mulching to retain moisture",
					},
				},
			})
		}
	}

	return Fired(models.RecommendationResult{
		Action:      "humidity_monitoring",
		Description: "Monitor humidity levels and adjust management practices",
		Urgency:     models.UrgencyLow,
		Confidence:  ac.ModelConfidence,
		Reasoning:   "Abnormal humidity patterns detected",
	})
}

// sensorMalfunction flags physically impossible readings or implausible jumps.
func sensorMalfunction(ac models.AnomalyContext) Outcome {
	n := len(ac.RecentValues)
	if n < 2 {
		return Inapplicable()
	}
	current := ac.RecentValues[n-1]
	previous := ac.RecentValues[n-2]

	reason := outOfRange(ac.SensorType, current)
	if reason == "" {
		if delta := math.Abs(current - previous); delta > maxPlausibleDelta {
			reason = fmt.Sprintf("Sudden change of %.1f units is unlikely", delta)
		}
	}
	if reason == "" {
		return Inapplicable()
	}

	return Fired(models.RecommendationResult{
		Action:      "sensor_check",
		Description: "Check sensor functionality - possible malfunction detected",
		Urgency:     models.UrgencyHigh,
		Confidence:  sensorCheckScore,
		Reasoning:   reason,
		Details: models.Details{
			CurrentReading:  models.Float(current),
			PreviousReading: models.Float(previous),
			SensorType:      string(ac.SensorType),
			RecommendedActions: []string{
				"Inspect sensor physically",
				"Check sensor connections",
				"Verify sensor calibration",
				"Consider sensor replacement if persistent",
			},
		},
	})
}

func outOfRange(st models.SensorType, v float64) string {
	switch st {
	case models.SensorMoisture:
		if v < 0 || v > maxPercent {
			return fmt.Sprintf("Moisture reading %.1f%% is outside valid range (0-100%%)", v)
		}
	case models.SensorTemperature:
		if v < minTemperature || v > maxTemperature {
			return fmt.Sprintf("Temperature reading %.1f°C is outside expected range", v)
		}
	case models.SensorHumidity:
		if v < 0 || v > maxPercent {
			return fmt.Sprintf("Humidity reading %.1f%% is outside valid range (0-100%%)", v)
		}
	}
	return ""
}

func lowConfidence(ac models.AnomalyContext) Outcome {
	if ac.ModelConfidence < lowConfidenceMin || ac.ModelConfidence > lowConfidenceMax {
		return Inapplicable()
	}
	return Fired(models.RecommendationResult{
		Action:      "manual_inspection",
		Description: "Monitor closely and verify with manual inspection",
		Urgency:     models.UrgencyLow,
		Confidence:  ac.ModelConfidence,
		Reasoning:   "Low model confidence - verification needed",
		Details: models.Details{
			ModelConfidence: models.Float(ac.ModelConfidence),
			RecommendedActions: []string{
				"Manual visual inspection of plot",
				"Verify sensor readings",
				"Check sensor calibration",
				"Monitor for pattern development",
			},
		},
	})
}
