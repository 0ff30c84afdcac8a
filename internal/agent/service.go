package agent

// Package agent turns recorded anomalies into persisted, explained recommendations.
//
// Responsibilities:
//   - Build an AnomalyContext from an event and its plot's recent readings
//   - Select a recommendation through the rule engine and explain it
//   - Persist at most one recommendation per anomaly and notify subscribers
//   - Catch up on anomalies that were recorded without a recommendation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/agent/explain"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/agent/rules"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/audit"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/db"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/metrics"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/models"
)

const (
	// RecentWindow bounds how far back readings are pulled into an AnomalyContext.
	RecentWindow = 6 * time.Hour
	// RecentLimit caps the number of readings in an AnomalyContext.
	RecentLimit = 10

	DefaultPlotDays             = 7
	DefaultHighPriorityMinimum  = 0.8
	defaultHighPriorityListSize = 100
)

// Notifier receives every newly created recommendation.
type Notifier interface {
	Notify(ctx context.Context, rec *models.Recommendation) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, rec *models.Recommendation) error

func (f NotifierFunc) Notify(ctx context.Context, rec *models.Recommendation) error {
	return f(ctx, rec)
}

// Decision is the explained outcome of rule evaluation for one anomaly.
type Decision struct {
	Action       string         `json:"action"`
	Explanation  string         `json:"explanation"`
	Summary      string         `json:"summary"`
	Confidence   float64        `json:"confidence"`
	Urgency      models.Urgency `json:"urgency"`
	RuleName     string         `json:"rule_name"`
	RulePriority int            `json:"rule_priority"`
	Details      models.Details `json:"details"`
}

// BatchError is one anomaly a batch failed to process.
type BatchError struct {
	AnomalyID int64  `json:"anomaly_id"`
	Error     string `json:"error"`
}

// BatchReport summarises a catch-up batch.
type BatchReport struct {
	Total     int          `json:"total_unprocessed"`
	Processed int          `json:"processed"`
	Failed    int          `json:"failed"`
	Errors    []BatchError `json:"errors"`
}

// Option configures a Service.
type Option func(*Service)

// WithNotifiers registers notifiers called after each successful creation.
func WithNotifiers(n ...Notifier) Option {
	return func(s *Service) { s.notifiers = append(s.notifiers, n...) }
}

// WithAudit sets the audit trail. Defaults to a no-op logger.
func WithAudit(a audit.Logger) Option {
	return func(s *Service) { s.audit = a }
}

// WithEngine replaces the default rule engine.
func WithEngine(e *rules.Engine) Option {
	return func(s *Service) { s.engine = e }
}

// WithClock sets the time source for reading windows and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service is the recommendation orchestrator. It is safe for concurrent use;
// uniqueness per anomaly is enforced by the recommendation store.
type Service struct {
	readings  db.ReadingStore
	anomalies db.AnomalyStore
	recs      db.RecommendationStore

	engine    *rules.Engine
	explainer *explain.Generator
	notifiers []Notifier
	audit     audit.Logger
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates an orchestrator over the given stores.
func NewService(readings db.ReadingStore, anomalies db.AnomalyStore, recs db.RecommendationStore, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		readings:  readings,
		anomalies: anomalies,
		recs:      recs,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.engine == nil {
		s.engine = rules.NewEngine(logger)
	}
	if s.audit == nil {
		s.audit = audit.NewNopLogger(logger)
	}
	s.explainer = explain.NewGenerator(s.now)
	return s
}

// ProcessAnomaly evaluates the rules for event and explains the selected result.
func (s *Service) ProcessAnomaly(ctx context.Context, event *models.AnomalyEvent) (*Decision, error) {
	if event == nil {
		return nil, &models.ValidationError{Field: "anomaly", Message: "event is required"}
	}
	ac, err := s.buildContext(ctx, event)
	if err != nil {
		return nil, err
	}
	return s.decide(event, s.engine.Evaluate(ac)), nil
}

func (s *Service) buildContext(ctx context.Context, event *models.AnomalyEvent) (models.AnomalyContext, error) {
	st := event.ResolvedSensorType()
	ac := models.AnomalyContext{
		AnomalyType:     event.AnomalyType,
		Severity:        event.Severity,
		ModelConfidence: event.ModelConfidence,
		SensorType:      st,
		PlotID:          event.PlotID,
		Timestamp:       event.Timestamp,
	}
	if !st.Valid() {
		return ac, nil
	}

	readings, err := s.readings.RecentReadings(ctx, event.PlotID, st, s.now().Add(-RecentWindow), RecentLimit)
	if err != nil {
		return ac, fmt.Errorf("recent readings for plot %d %s: %w", event.PlotID, st, err)
	}
	ac.RecentValues = make([]float64, len(readings))
	for i, r := range readings {
		ac.RecentValues[i] = r.Value
	}
	return ac, nil
}

func (s *Service) decide(event *models.AnomalyEvent, result models.RecommendationResult) *Decision {
	return &Decision{
		Action:       result.Action,
		Explanation:  s.explainer.GenerateExplanation(event, result),
		Summary:      s.explainer.GenerateSummary(result),
		Confidence:   result.Confidence,
		Urgency:      result.Urgency,
		RuleName:     result.RuleName,
		RulePriority: result.RulePriority,
		Details:      result.Details,
	}
}

// CreateRecommendationForAnomaly returns the anomaly's recommendation,
// creating it when none exists. Failures are logged and yield nil.
func (s *Service) CreateRecommendationForAnomaly(ctx context.Context, event *models.AnomalyEvent) *models.Recommendation {
	if event == nil {
		s.logger.Error("failed to create recommendation: nil anomaly event")
		return nil
	}
	rec, err := s.createRecommendation(ctx, event)
	if err != nil {
		s.logger.Error("failed to create recommendation",
			zap.Int64("anomaly_id", event.ID),
			zap.Int64("plot_id", event.PlotID),
			zap.Error(err),
		)
		return nil
	}
	return rec
}

func (s *Service) createRecommendation(ctx context.Context, event *models.AnomalyEvent) (*models.Recommendation, error) {
	existing, err := s.recs.GetRecommendationByAnomaly(ctx, event.ID)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, models.ErrNotFound):
		return nil, fmt.Errorf("lookup recommendation for anomaly %d: %w", event.ID, err)
	}

	decision, err := s.ProcessAnomaly(ctx, event)
	if err != nil {
		return nil, err
	}

	rec := &models.Recommendation{
		ID:           uuid.NewString(),
		AnomalyID:    event.ID,
		PlotID:       event.PlotID,
		Action:       decision.Action,
		Explanation:  decision.Explanation,
		Summary:      decision.Summary,
		Confidence:   decision.Confidence,
		Urgency:      decision.Urgency,
		RuleName:     decision.RuleName,
		RulePriority: decision.RulePriority,
		Details:      decision.Details,
		CreatedAt:    s.now().UTC(),
	}

	if err := s.recs.CreateRecommendation(ctx, rec); err != nil {
		if !errors.Is(err, db.ErrRecommendationExists) {
			return nil, fmt.Errorf("store recommendation for anomaly %d: %w", event.ID, err)
		}
		// Lost the race to a concurrent creator; the stored row wins.
		stored, getErr := s.recs.GetRecommendationByAnomaly(ctx, event.ID)
		if getErr != nil {
			return nil, fmt.Errorf("reload recommendation for anomaly %d: %w", event.ID, getErr)
		}
		return stored, nil
	}

	metrics.RecommendationsTotal.WithLabelValues(rec.RuleName, string(rec.Urgency)).Inc()
	_ = s.audit.LogRecommendationCreated(ctx, rec.ID, rec.AnomalyID, rec.Action)
	s.logger.Info("recommendation created",
		zap.String("recommendation_id", rec.ID),
		zap.Int64("anomaly_id", rec.AnomalyID),
		zap.String("rule", rec.RuleName),
		zap.String("urgency", string(rec.Urgency)),
	)
	s.notify(ctx, rec)
	return rec, nil
}

func (s *Service) notify(ctx context.Context, rec *models.Recommendation) {
	for _, n := range s.notifiers {
		if err := n.Notify(ctx, rec); err != nil {
			s.logger.Warn("notifier failed",
				zap.String("recommendation_id", rec.ID),
				zap.Error(err),
			)
		}
	}
}

// BatchProcessUnprocessedAnomalies creates recommendations for every anomaly
// that lacks one, oldest first. One failing anomaly does not stop the batch.
func (s *Service) BatchProcessUnprocessedAnomalies(ctx context.Context) (*BatchReport, error) {
	start := s.now()
	pending, err := s.anomalies.ListUnrecommendedAnomalies(ctx, 0)
	if err != nil {
		metrics.BatchRunsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("list unrecommended anomalies: %w", err)
	}

	report := &BatchReport{Total: len(pending), Errors: []BatchError{}}
	for _, event := range pending {
		if err := ctx.Err(); err != nil {
			metrics.BatchRunsTotal.WithLabelValues("cancelled").Inc()
			return report, err
		}

		rec, err := s.createRecommendation(ctx, event)
		if err == nil && rec == nil {
			err = errors.New("failed to create recommendation")
		}
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, BatchError{AnomalyID: event.ID, Error: err.Error()})
			metrics.BatchItemsFailed.Inc()
			s.logger.Warn("batch item failed", zap.Int64("anomaly_id", event.ID), zap.Error(err))
			continue
		}
		report.Processed++
	}

	status := "success"
	if report.Failed > 0 {
		status = "partial"
	}
	metrics.BatchRunsTotal.WithLabelValues(status).Inc()
	_ = s.audit.LogBatchCompleted(ctx, report.Total, report.Processed, report.Failed, s.now().Sub(start))
	if report.Total > 0 {
		s.logger.Info("recommendation batch completed",
			zap.Int("total", report.Total),
			zap.Int("processed", report.Processed),
			zap.Int("failed", report.Failed),
		)
	}
	return report, nil
}

// RegenerateRecommendation discards the anomaly's recommendation and creates a new one.
func (s *Service) RegenerateRecommendation(ctx context.Context, anomalyID int64) (*models.Recommendation, error) {
	event, err := s.anomalies.GetAnomaly(ctx, anomalyID)
	if err != nil {
		return nil, fmt.Errorf("get anomaly %d: %w", anomalyID, err)
	}
	if err := s.recs.DeleteRecommendationByAnomaly(ctx, anomalyID); err != nil {
		return nil, fmt.Errorf("delete recommendation for anomaly %d: %w", anomalyID, err)
	}
	rec, err := s.createRecommendation(ctx, event)
	if err != nil {
		return nil, err
	}
	_ = s.audit.LogRecommendationRegenerated(ctx, rec.ID, anomalyID, rec.Action)
	return rec, nil
}

// RecommendationsForPlot returns the plot's recommendations from the last
// days days, newest first. days <= 0 means DefaultPlotDays.
func (s *Service) RecommendationsForPlot(ctx context.Context, plotID int64, days int) ([]*models.Recommendation, error) {
	if days <= 0 {
		days = DefaultPlotDays
	}
	since := s.now().AddDate(0, 0, -days)
	recs, err := s.recs.ListPlotRecommendations(ctx, plotID, since)
	if err != nil {
		return nil, fmt.Errorf("list recommendations for plot %d: %w", plotID, err)
	}
	return recs, nil
}

// HighPriorityRecommendations returns recommendations with confidence at or
// above minConfidence, most confident first. minConfidence <= 0 means
// DefaultHighPriorityMinimum.
func (s *Service) HighPriorityRecommendations(ctx context.Context, minConfidence float64) ([]*models.Recommendation, error) {
	if minConfidence <= 0 {
		minConfidence = DefaultHighPriorityMinimum
	}
	recs, err := s.recs.ListRecommendationsAbove(ctx, minConfidence, defaultHighPriorityListSize)
	if err != nil {
		return nil, fmt.Errorf("list high priority recommendations: %w", err)
	}
	return recs, nil
}

// ProcessPlotAnomalies evaluates simultaneous anomalies on one plot together.
// A single event is evaluated like ProcessAnomaly; several produce a
// comprehensive inspection explained against the most severe event.
func (s *Service) ProcessPlotAnomalies(ctx context.Context, events []*models.AnomalyEvent) (*Decision, error) {
	if len(events) == 0 {
		return s.decide(&models.AnomalyEvent{}, s.engine.EvaluateMultipleAnomalies(nil)), nil
	}

	contexts := make([]models.AnomalyContext, 0, len(events))
	lead := events[0]
	for _, e := range events {
		if e.PlotID != lead.PlotID {
			return nil, &models.ValidationError{Field: "plot_id", Message: "anomalies span more than one plot"}
		}
		ac, err := s.buildContext(ctx, e)
		if err != nil {
			return nil, err
		}
		contexts = append(contexts, ac)
		if e.Severity.Rank() > lead.Severity.Rank() {
			lead = e
		}
	}
	return s.decide(lead, s.engine.EvaluateMultipleAnomalies(contexts)), nil
}

// PlotAnomalies returns the plot's anomalies from the last days days, oldest first.
func (s *Service) PlotAnomalies(ctx context.Context, plotID int64, days int) ([]*models.AnomalyEvent, error) {
	if days <= 0 {
		days = DefaultPlotDays
	}
	events, err := s.anomalies.ListPlotAnomalies(ctx, plotID, s.now().AddDate(0, 0, -days))
	if err != nil {
		return nil, fmt.Errorf("list anomalies for plot %d: %w", plotID, err)
	}
	return events, nil
}
