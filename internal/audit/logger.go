package audit

// Package audit provides the application logger and the append-only audit trail.
//
// Responsibilities:
//   - Build the rotated JSON application logger that components log through
//   - Buffer domain events and flush them to a separate audit log
//   - Carry correlation IDs through request contexts

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger defines the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// Model lifecycle
	LogModelTrained(ctx context.Context, sensorType string, samples int, duration time.Duration) error
	LogModelTrainFailed(ctx context.Context, sensorType string, err error) error
	LogModelLoaded(ctx context.Context, sensorType string) error

	// Detection
	LogDetectionCompleted(ctx context.Context, plotID int64, sensorType string, windows, anomalies int) error
	LogAnomalyRecorded(ctx context.Context, anomalyID, plotID int64, sensorType, severity string) error

	// Recommendations
	LogRecommendationCreated(ctx context.Context, recommendationID string, anomalyID int64, action string) error
	LogRecommendationRegenerated(ctx context.Context, recommendationID string, anomalyID int64, action string) error
	LogBatchCompleted(ctx context.Context, total, processed, failed int, duration time.Duration) error

	// Configuration and process lifecycle
	LogConfigLoaded(ctx context.Context, source string) error
	LogServerStarted(ctx context.Context, addr string) error
	LogServerShutdown(ctx context.Context) error

	// AppLogger returns the application logger components log through
	AppLogger() *zap.Logger

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the audit logger
	Close() error
}

// Config represents audit logger configuration
type Config struct {
	// AuditLogPath is the path to the audit log file
	AuditLogPath string

	// AppLogPath is the path to the application log file
	AppLogPath string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool

	// LogLevel is the minimum log level (debug, info, warn, error)
	LogLevel string

	// Development tees the application log to stderr in console format
	Development bool
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		AuditLogPath: "logs/audit.log",
		AppLogPath:   "logs/app.log",
		MaxSize:      100, // megabytes
		MaxBackups:   10,
		MaxAge:       30, // days
		Compress:     true,
		LogLevel:     "info",
	}
}

const bufferSize = 100

// auditLogger implements the Logger interface
type auditLogger struct {
	appLogger   *zap.Logger
	auditLogger *zap.Logger
	config      *Config
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
}

// NewLogger creates a new audit logger
func NewLogger(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	level, err := zapcore.ParseLevel(config.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", config.LogLevel, err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	appRotator := &lumberjack.Logger{
		Filename:   config.AppLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	appCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(appRotator),
		level,
	)
	if config.Development {
		consoleConfig := encoderConfig
		consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		appCore = zapcore.NewTee(appCore, zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleConfig),
			zapcore.Lock(os.Stderr),
			level,
		))
	}

	appLogger := zap.New(appCore, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	// Audit log is always INFO level, append-only
	auditRotator := &lumberjack.Logger{
		Filename:   config.AuditLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	auditCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(auditRotator),
		zapcore.InfoLevel,
	)

	logger := &auditLogger{
		appLogger:   appLogger,
		auditLogger: zap.New(auditCore),
		config:      config,
		buffer:      make([]*Event, 0, bufferSize),
		flushTicker: time.NewTicker(1 * time.Second),
		stopCh:      make(chan struct{}),
	}

	go logger.autoFlush()

	return logger, nil
}

// Log logs an audit event. A correlation ID on ctx is attached when the
// event has none.
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	if event.CorrelationID == "" {
		event.CorrelationID = GetCorrelationID(ctx)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)

	if len(l.buffer) >= bufferSize {
		return l.flushLocked()
	}

	return nil
}

// flushLocked flushes the buffer (caller must hold lock)
func (l *auditLogger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.appLogger.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.auditLogger.Info(string(eventJSON),
			zap.String("correlation_id", event.CorrelationID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)
	}

	l.buffer = l.buffer[:0]

	return nil
}

// autoFlush periodically flushes the buffer
func (l *auditLogger) autoFlush() {
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

func (l *auditLogger) LogModelTrained(ctx context.Context, sensorType string, samples int, duration time.Duration) error {
	event := NewEvent(EventModelTrained).
		WithSensorType(sensorType).
		WithDuration(duration).
		WithMetadata("sample_count", samples).
		WithDescription(fmt.Sprintf("Model for %s trained on %d samples", sensorType, samples))

	return l.Log(ctx, event)
}

func (l *auditLogger) LogModelTrainFailed(ctx context.Context, sensorType string, err error) error {
	event := NewEvent(EventModelTrainFailed).
		WithSensorType(sensorType).
		WithError(err, "training_error").
		WithDescription(fmt.Sprintf("Model for %s failed to train", sensorType))

	return l.Log(ctx, event)
}

func (l *auditLogger) LogModelLoaded(ctx context.Context, sensorType string) error {
	event := NewEvent(EventModelLoaded).
		WithSensorType(sensorType).
		WithDescription(fmt.Sprintf("Model for %s loaded from storage", sensorType))

	return l.Log(ctx, event)
}

func (l *auditLogger) LogDetectionCompleted(ctx context.Context, plotID int64, sensorType string, windows, anomalies int) error {
	event := NewEvent(EventDetectionCompleted).
		WithPlot(plotID).
		WithSensorType(sensorType).
		WithMetadata("windows", windows).
		WithMetadata("anomalies", anomalies).
		WithDescription(fmt.Sprintf("Detection on plot %d %s: %d anomalous of %d windows", plotID, sensorType, anomalies, windows))

	return l.Log(ctx, event)
}

func (l *auditLogger) LogAnomalyRecorded(ctx context.Context, anomalyID, plotID int64, sensorType, severity string) error {
	event := NewEvent(EventAnomalyRecorded).
		WithPlot(plotID).
		WithSensorType(sensorType).
		WithResource(fmt.Sprintf("anomaly/%d", anomalyID)).
		WithMetadata("severity", severity).
		WithDescription(fmt.Sprintf("%s anomaly %d recorded on plot %d", severity, anomalyID, plotID))

	return l.Log(ctx, event)
}

func (l *auditLogger) LogRecommendationCreated(ctx context.Context, recommendationID string, anomalyID int64, action string) error {
	event := NewEvent(EventRecommendationCreated).
		WithResource(fmt.Sprintf("anomaly/%d", anomalyID)).
		WithAction(action).
		WithMetadata("recommendation_id", recommendationID).
		WithDescription(fmt.Sprintf("Recommendation %s (%s) created for anomaly %d", recommendationID, action, anomalyID))

	return l.Log(ctx, event)
}

func (l *auditLogger) LogRecommendationRegenerated(ctx context.Context, recommendationID string, anomalyID int64, action string) error {
	event := NewEvent(EventRecommendationRegenerated).
		WithResource(fmt.Sprintf("anomaly/%d", anomalyID)).
		WithAction(action).
		WithMetadata("recommendation_id", recommendationID).
		WithDescription(fmt.Sprintf("Recommendation for anomaly %d regenerated as %s", anomalyID, recommendationID))

	return l.Log(ctx, event)
}

func (l *auditLogger) LogBatchCompleted(ctx context.Context, total, processed, failed int, duration time.Duration) error {
	result := ResultSuccess
	if failed > 0 {
		result = ResultPartial
	}
	event := NewEvent(EventBatchCompleted).
		WithResult(result).
		WithDuration(duration).
		WithMetadata("total", total).
		WithMetadata("processed", processed).
		WithMetadata("failed", failed).
		WithDescription(fmt.Sprintf("Batch processed %d of %d anomalies", processed, total))

	return l.Log(ctx, event)
}

func (l *auditLogger) LogConfigLoaded(ctx context.Context, source string) error {
	event := NewEvent(EventConfigLoaded).
		WithResource(source).
		WithDescription("Configuration loaded from " + source)

	return l.Log(ctx, event)
}

func (l *auditLogger) LogServerStarted(ctx context.Context, addr string) error {
	event := NewEvent(EventServerStarted).
		WithResource(addr).
		WithDescription("Server listening on " + addr)

	return l.Log(ctx, event)
}

func (l *auditLogger) LogServerShutdown(ctx context.Context) error {
	return l.Log(ctx, NewEvent(EventServerShutdown).WithDescription("Server shut down"))
}

func (l *auditLogger) AppLogger() *zap.Logger {
	return l.appLogger
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}

	if err := l.auditLogger.Sync(); err != nil {
		return err
	}

	return l.appLogger.Sync()
}

// Close stops the flusher and writes out the buffer. It is safe to call twice.
func (l *auditLogger) Close() error {
	l.closeOnce.Do(func() {
		close(l.stopCh)
		l.flushTicker.Stop()
	})
	return l.Sync()
}

type correlationKey struct{}

// GetCorrelationID extracts correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID adds correlation ID to context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// GenerateCorrelationID generates a new correlation ID
func GenerateCorrelationID() string {
	return uuid.NewString()
}
