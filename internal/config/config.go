package config

import "context"

// Package config provides configuration management for the FieldSense services.
//
// Responsibilities:
//   - Load configuration from YAML files, environment variables and defaults
//   - Validate configuration on startup
//   - Provide runtime access to all configuration
//   - Reload on file change for long-running processes
//
// Configuration Sources (priority order, high to low):
//   1. Environment variables (FIELDSENSE_* prefix, "." replaced by "_")
//   2. YAML config file (default: /etc/fieldsense/config.yaml)
//   3. Built-in defaults
//
// Main Configuration Sections:
//
//   1. Server: HTTP listener and CORS origins
//   2. Database: sqlite or postgres
//   3. Detection: windowing and scorer hyper-parameters
//   4. ModelStore: where trained models are persisted (file, memory, sql, redis, s3)
//   5. Agent: batch catch-up interval and query defaults
//   6. Notify: SNS alerts for high-urgency recommendations
//   7. MQTT: sensor ingestion broker
//   8. Logging: application and audit log files

// Config struct contains all configuration fields
type Config struct {
	Server struct {
		Port int
		// AllowedOrigins lists origins allowed by CORS and the websocket upgrader.
		// ["*"] allows any origin.
		AllowedOrigins      []string
		ReadTimeoutSeconds  int
		WriteTimeoutSeconds int
		// ComputeRateLimitPerMinute caps train and detect requests per client IP.
		// 0 disables the limit.
		ComputeRateLimitPerMinute int
	}

	Database struct {
		Type        string
		SQLitePath  string
		PostgresURL string
	}

	Detection struct {
		WindowSize     int
		UseFeatures    bool
		Contamination  float64
		RandomSeed     int64
		NumTrees       int
		MaxSamples     int
		DetectReadings int
		TrainReadings  int
	}

	ModelStore struct {
		Backend       string // file | memory | sql | redis | s3
		FileDir       string
		RedisAddr     string
		RedisPassword string
		RedisDB       int
		RedisPrefix   string
		S3Bucket      string
		S3Prefix      string
		S3Region      string
	}

	Agent struct {
		BatchIntervalSeconds  int // 0 disables the periodic catch-up loop
		HighPriorityThreshold float64
		PlotDays              int
	}

	Notify struct {
		SNSEnabled  bool
		SNSTopicARN string
		SNSRegion   string
		MinUrgency  string
	}

	MQTT struct {
		Enabled  bool
		Broker   string
		ClientID string
		Topic    string
		QoS      int
		Username string
		Password string
	}

	Logging struct {
		Level        string
		AppLogPath   string
		AuditLogPath string
		MaxSizeMB    int
		MaxBackups   int
		MaxAgeDays   int
		Compress     bool
		Development  bool
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches the config file and delivers each successfully reloaded config.
	Watch(ctx context.Context) <-chan Config

	// Reload re-reads configuration from sources.
	Reload(ctx context.Context) error
}

// DefaultConfigPath is used when no path is given.
const DefaultConfigPath = "/etc/fieldsense/config.yaml"

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}
