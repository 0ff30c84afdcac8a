package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/metrics"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/models"
)

// Package rules selects one recommendation for an anomaly.
//
// Responsibilities:
//   - Hold a strategy table of agricultural rules ordered by priority
//   - Run every rule against an AnomalyContext and fold the outcomes
//   - Isolate failing or panicking rules so evaluation always yields a result
//   - Fall back to a general monitoring recommendation when nothing fires

const (
	DefaultRuleName         = "default"
	MultipleAnomalyRule     = "multiple_anomaly"
	multipleAnomalyPriority = 10
)

type outcomeKind int

const (
	outcomeInapplicable outcomeKind = iota
	outcomeFired
	outcomeFailed
)

// Outcome is the result of evaluating one rule: fired with a result,
// inapplicable, or failed with an error.
type Outcome struct {
	kind   outcomeKind
	result models.RecommendationResult
	err    error
}

// Fired wraps a rule's recommendation.
func Fired(result models.RecommendationResult) Outcome {
	return Outcome{kind: outcomeFired, result: result}
}

// Inapplicable reports that the rule does not apply to the context.
func Inapplicable() Outcome {
	return Outcome{kind: outcomeInapplicable}
}

// Failed reports that the rule could not be evaluated.
func Failed(err error) Outcome {
	return Outcome{kind: outcomeFailed, err: err}
}

// Result returns the recommendation when the rule fired.
func (o Outcome) Result() (models.RecommendationResult, bool) {
	return o.result, o.kind == outcomeFired
}

// Err returns the failure, if any.
func (o Outcome) Err() error {
	return o.err
}

// Rule is one entry of the strategy table.
type Rule struct {
	Name     string
	Priority int
	Evaluate func(ac models.AnomalyContext) Outcome
}

// Engine evaluates anomaly contexts against a priority-ordered rule table.
// It is safe for concurrent use; rules must not mutate shared state.
type Engine struct {
	rules  []Rule
	logger *zap.Logger
}

// NewEngine creates an engine with the built-in agricultural rules.
func NewEngine(logger *zap.Logger) *Engine {
	return NewEngineWithRules(logger, DefaultRules()...)
}

// NewEngineWithRules creates an engine over rules. Rules are ordered by
// priority, highest first; equal priorities keep registration order.
func NewEngineWithRules(logger *zap.Logger, rules ...Rule) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	return &Engine{rules: sorted, logger: logger}
}

// Rules returns the rule table in evaluation order.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate runs every rule and returns the highest-priority fired result,
// or the default recommendation when no rule fires.
func (e *Engine) Evaluate(ac models.AnomalyContext) models.RecommendationResult {
	var (
		best  models.RecommendationResult
		found bool
	)

	for _, rule := range e.rules {
		out := e.run(rule, ac)

		if err := out.Err(); err != nil {
			ruleErr := &models.RuleEvaluationError{Rule: rule.Name, Err: err}
			metrics.RuleErrorsTotal.WithLabelValues(rule.Name).Inc()
			e.logger.Warn("rule evaluation failed, skipping",
				zap.String("rule", rule.Name),
				zap.Int64("plot_id", ac.PlotID),
				zap.String("sensor_type", string(ac.SensorType)),
				zap.Error(ruleErr),
			)
			continue
		}

		result, ok := out.Result()
		if !ok {
			continue
		}
		result.RuleName = rule.Name
		result.RulePriority = rule.Priority

		// Rules are sorted, so only a strictly higher priority can displace the first match.
		if !found || result.RulePriority > best.RulePriority {
			best = result
			found = true
		}
	}

	if !found {
		best = Default(ac)
	}
	best.Confidence = models.ClampConfidence(best.Confidence)
	return best
}

// run evaluates one rule, converting a panic into a failed outcome.
func (e *Engine) run(rule Rule, ac models.AnomalyContext) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Failed(fmt.Errorf("panic: %v", r))
		}
	}()
	if rule.Evaluate == nil {
		return Failed(errors.New("rule has no evaluator"))
	}
	return rule.Evaluate(ac)
}

// EvaluateMultipleAnomalies handles simultaneous anomalies on one plot.
// Zero contexts yield the default, one context defers to Evaluate, and two
// or more produce a comprehensive inspection.
func (e *Engine) EvaluateMultipleAnomalies(contexts []models.AnomalyContext) models.RecommendationResult {
	switch len(contexts) {
	case 0:
		return Default(models.AnomalyContext{})
	case 1:
		return e.Evaluate(contexts[0])
	}

	var (
		sensors     = make([]string, 0, len(contexts))
		distinct    []string
		seen        = make(map[string]bool)
		sum         float64
		maxSeverity = contexts[0].Severity
	)
	for _, c := range contexts {
		st := string(c.SensorType)
		sensors = append(sensors, st)
		if !seen[st] {
			seen[st] = true
			distinct = append(distinct, st)
		}
		sum += c.ModelConfidence
		if c.Severity.Rank() > maxSeverity.Rank() {
			maxSeverity = c.Severity
		}
	}

	return models.RecommendationResult{
		Action:       "comprehensive_inspection",
		Description:  "Multiple anomalies detected - comprehensive plot inspection required",
		Urgency:      models.UrgencyHigh,
		Confidence:   models.ClampConfidence(sum / float64(len(contexts))),
		Reasoning:    "Multiple sensor anomalies detected: " + strings.Join(distinct, ", "),
		RuleName:     MultipleAnomalyRule,
		RulePriority: multipleAnomalyPriority,
		Details: models.Details{
			AffectedSensors: sensors,
			MaxSeverity:     string(maxSeverity),
			AnomalyCount:    len(contexts),
			RecommendedActions: []string{
				"Comprehensive plot inspection",
				"Check all sensor systems",
				"Verify irrigation system",
				"Assess crop health visually",
				"Document all findings",
			},
		},
	}
}

// Default is the recommendation used when no rule fires.
func Default(ac models.AnomalyContext) models.RecommendationResult {
	return models.RecommendationResult{
		Action:       "general_monitoring",
		Description:  "Continue monitoring - anomaly detected but no specific action identified",
		Urgency:      models.UrgencyLow,
		Confidence:   models.ClampConfidence(ac.ModelConfidence),
		Reasoning:    "Anomaly detected without specific classification",
		RuleName:     DefaultRuleName,
		RulePriority: 0,
	}
}
