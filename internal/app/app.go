package app

// Package app assembles the crop monitoring service from configuration.
//
// Responsibilities:
//   - Build the audit logger, storage, model registry, pipeline, agent and ingestor
//   - Select the model blob backend (memory, file, sql, redis, s3)
//   - Attach the live feed hub and the optional SNS notifier to the agent
//   - Run the periodic recommendation catch-up loop
//   - Release everything in reverse order on Close

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/agent"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/analytics"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/analytics/ml"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/analytics/modelstore"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/audit"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/config"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/db"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/ingest"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/models"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/notify"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/server"
)

// Model blob backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQL    = "sql"
	BackendRedis  = "redis"
	BackendS3     = "s3"
)

// App holds the assembled components.
type App struct {
	Config *config.Config

	Audit  audit.Logger
	Logger *zap.Logger

	Store    db.Store
	Registry *modelstore.Registry
	Pipeline *analytics.Pipeline
	Agent    *agent.Service
	Ingestor *ingest.Ingestor
	Hub      *server.Hub

	closers []func() error
}

// Option customises Build.
type Option func(*buildOptions)

type buildOptions struct {
	auditLog  audit.Logger
	blobStore modelstore.BlobStore
	notifiers []agent.Notifier
}

// WithAuditLogger uses l instead of creating file-backed logs.
func WithAuditLogger(l audit.Logger) Option {
	return func(o *buildOptions) { o.auditLog = l }
}

// WithBlobStore bypasses backend selection.
func WithBlobStore(b modelstore.BlobStore) Option {
	return func(o *buildOptions) { o.blobStore = b }
}

// WithNotifiers adds notifiers after the hub and SNS.
func WithNotifiers(n ...agent.Notifier) Option {
	return func(o *buildOptions) { o.notifiers = append(o.notifiers, n...) }
}

// Build wires every component described by cfg. The returned App owns its
// resources; call Close when done. The hub is running when Build returns.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	o := &buildOptions{}
	for _, opt := range opts {
		opt(o)
	}

	a := &App{Config: cfg}

	a.Audit = o.auditLog
	if a.Audit == nil {
		l, err := audit.NewLogger(AuditConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("failed to create audit logger: %w", err)
		}
		a.Audit = l
	}
	a.closers = append(a.closers, a.Audit.Close)
	a.Logger = a.Audit.AppLogger()

	store, err := db.NewStore(cfg.Database.Type, dsn(cfg))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Database.Type, err)
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)

	blobs := o.blobStore
	if blobs == nil {
		var closer func() error
		blobs, closer, err = newBlobStore(ctx, cfg, store)
		if err != nil {
			a.Close()
			return nil, err
		}
		if closer != nil {
			a.closers = append(a.closers, closer)
		}
	}

	a.Registry = modelstore.NewRegistry(blobs, MLConfig(cfg), a.Logger)
	a.Pipeline = analytics.NewPipeline(PipelineConfig(cfg), a.Registry, store, store, a.Audit, a.Logger)

	a.Hub = server.NewHub(ctx, a.Logger)
	go a.Hub.Run()
	a.closers = append(a.closers, func() error { a.Hub.Stop(); return nil })

	notifiers := []agent.Notifier{a.Hub}
	if cfg.Notify.SNSEnabled {
		sn, err := notify.NewSNSNotifier(ctx, cfg.Notify.SNSRegion, cfg.Notify.SNSTopicARN, ParseUrgency(cfg.Notify.MinUrgency), a.Logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create sns notifier: %w", err)
		}
		notifiers = append(notifiers, sn)
	}
	notifiers = append(notifiers, o.notifiers...)

	a.Agent = agent.NewService(store, store, store, a.Logger,
		agent.WithNotifiers(notifiers...),
		agent.WithAudit(a.Audit),
	)
	a.Pipeline.SetAnomalyHandler(func(ctx context.Context, e *models.AnomalyEvent) {
		a.Agent.CreateRecommendationForAnomaly(ctx, e)
	})

	a.Ingestor = ingest.NewIngestor(store, a.Logger)

	a.Logger.Info("application assembled",
		zap.String("database", cfg.Database.Type),
		zap.String("model_backend", backendName(cfg, o.blobStore != nil)),
		zap.Bool("sns", cfg.Notify.SNSEnabled),
	)
	return a, nil
}

// Close releases resources in reverse order of creation. The first error is returned.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// ServerDeps returns the HTTP server dependencies.
func (a *App) ServerDeps() server.Deps {
	return server.Deps{
		Pipeline:  a.Pipeline,
		Agent:     a.Agent,
		Anomalies: a.Store,
		Ingestor:  a.Ingestor,
		Hub:       a.Hub,
		Ping:      a.Store.Ping,
		Audit:     a.Audit,
		Logger:    a.Logger,
	}
}

// NewMQTTSubscriber returns a subscriber over the app's ingestor, or nil when
// MQTT is disabled.
func (a *App) NewMQTTSubscriber() *ingest.MQTTSubscriber {
	if !a.Config.MQTT.Enabled {
		return nil
	}
	m := a.Config.MQTT
	return ingest.NewMQTTSubscriber(ingest.MQTTConfig{
		Broker:   m.Broker,
		ClientID: m.ClientID,
		Topic:    m.Topic,
		QoS:      byte(m.QoS),
		Username: m.Username,
		Password: m.Password,
	}, a.Ingestor, a.Logger)
}

// RunBatchLoop runs the recommendation catch-up every interval until ctx
// ends. A non-positive interval returns immediately.
func (a *App) RunBatchLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := a.Agent.BatchProcessUnprocessedAnomalies(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				a.Logger.Warn("batch recommendation run failed", zap.Error(err))
				continue
			}
			if report.Total > 0 {
				a.Logger.Info("batch recommendation run",
					zap.Int("total", report.Total),
					zap.Int("processed", report.Processed),
					zap.Int("failed", report.Failed),
				)
			}
		}
	}
}

// AuditConfig maps the logging section onto the audit logger configuration.
func AuditConfig(cfg *config.Config) *audit.Config {
	l := cfg.Logging
	return &audit.Config{
		AuditLogPath: l.AuditLogPath,
		AppLogPath:   l.AppLogPath,
		MaxSize:      l.MaxSizeMB,
		MaxBackups:   l.MaxBackups,
		MaxAge:       l.MaxAgeDays,
		Compress:     l.Compress,
		LogLevel:     l.Level,
		Development:  l.Development,
	}
}

// MLConfig maps the detection section onto the scorer configuration.
func MLConfig(cfg *config.Config) ml.Config {
	d := cfg.Detection
	out := ml.DefaultConfig()
	if d.Contamination > 0 {
		out.Contamination = d.Contamination
	}
	if d.RandomSeed != 0 {
		out.RandomSeed = d.RandomSeed
	}
	if d.NumTrees > 0 {
		out.NumTrees = d.NumTrees
	}
	if d.MaxSamples > 0 {
		out.MaxSamples = d.MaxSamples
	}
	return out
}

// PipelineConfig maps the detection section onto the pipeline configuration.
func PipelineConfig(cfg *config.Config) analytics.Config {
	d := cfg.Detection
	out := analytics.DefaultConfig()
	if d.WindowSize > 0 {
		out.WindowSize = d.WindowSize
	}
	out.UseFeatures = d.UseFeatures
	if d.DetectReadings > 0 {
		out.DetectReadings = d.DetectReadings
	}
	if d.TrainReadings > 0 {
		out.TrainReadings = d.TrainReadings
	}
	return out
}

// ParseUrgency parses a configured urgency. Unknown values yield "".
func ParseUrgency(raw string) models.Urgency {
	u := models.Urgency(strings.ToLower(strings.TrimSpace(raw)))
	if u.Rank() == 0 {
		return ""
	}
	return u
}

func dsn(cfg *config.Config) string {
	switch strings.ToLower(cfg.Database.Type) {
	case "postgres", "postgresql":
		return cfg.Database.PostgresURL
	}
	return cfg.Database.SQLitePath
}

func backendName(cfg *config.Config, injected bool) string {
	if injected {
		return "injected"
	}
	return strings.ToLower(cfg.ModelStore.Backend)
}

// newBlobStore opens the configured model backend. The returned closer may be nil.
func newBlobStore(ctx context.Context, cfg *config.Config, store db.ModelBlobStore) (modelstore.BlobStore, func() error, error) {
	ms := cfg.ModelStore
	switch strings.ToLower(ms.Backend) {
	case BackendMemory:
		return modelstore.NewMemoryStore(), nil, nil
	case BackendFile:
		fs, err := modelstore.NewFileStore(ms.FileDir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open model directory: %w", err)
		}
		return fs, nil, nil
	case BackendSQL, "":
		return modelstore.NewSQLStore(store), nil, nil
	case BackendRedis:
		client, err := modelstore.NewRedisClient(ctx, ms.RedisAddr, ms.RedisPassword, ms.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return modelstore.NewRedisStore(client, strings.TrimSuffix(ms.RedisPrefix, ":")), client.Close, nil
	case BackendS3:
		if ms.S3Bucket == "" {
			return nil, nil, errors.New("s3 model backend requires a bucket")
		}
		client, err := modelstore.NewS3Client(ctx, ms.S3Region)
		if err != nil {
			return nil, nil, err
		}
		return modelstore.NewS3Store(client, ms.S3Bucket, ms.S3Prefix), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown model store backend %q", ms.Backend)
	}
}
