package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

var (
	validDatabaseTypes = map[string]bool{"sqlite": true, "postgres": true, "postgresql": true}
	validBackends      = map[string]bool{"file": true, "memory": true, "sql": true, "redis": true, "s3": true}
	validLogLevels     = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validUrgencies     = map[string]bool{"low": true, "medium": true, "high": true}
)

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ReadTimeoutSeconds < 0 {
		add("server.read_timeout_seconds", "must not be negative, got %d", c.Server.ReadTimeoutSeconds)
	}
	if c.Server.WriteTimeoutSeconds < 0 {
		add("server.write_timeout_seconds", "must not be negative, got %d", c.Server.WriteTimeoutSeconds)
	}
	if c.Server.ComputeRateLimitPerMinute < 0 {
		add("server.compute_rate_limit_per_minute", "must not be negative, got %d", c.Server.ComputeRateLimitPerMinute)
	}

	// Database
	dbType := strings.ToLower(c.Database.Type)
	if !validDatabaseTypes[dbType] {
		add("database.type", "invalid type '%s', must be one of: sqlite, postgres", c.Database.Type)
	}
	if dbType == "sqlite" && c.Database.SQLitePath == "" {
		add("database.sqlite_path", "sqlite_path is required when type is sqlite")
	}
	if (dbType == "postgres" || dbType == "postgresql") && c.Database.PostgresURL == "" {
		add("database.postgres_url", "postgres_url is required when type is postgres")
	}

	// Detection
	if c.Detection.WindowSize < 2 {
		add("detection.window_size", "window_size must be at least 2, got %d", c.Detection.WindowSize)
	}
	if c.Detection.Contamination <= 0 || c.Detection.Contamination >= 0.5 {
		add("detection.contamination", "contamination must be in (0, 0.5), got %g", c.Detection.Contamination)
	}
	if c.Detection.NumTrees < 1 {
		add("detection.num_trees", "num_trees must be at least 1, got %d", c.Detection.NumTrees)
	}
	if c.Detection.MaxSamples < 2 {
		add("detection.max_samples", "max_samples must be at least 2, got %d", c.Detection.MaxSamples)
	}
	if c.Detection.DetectReadings < c.Detection.WindowSize {
		add("detection.detect_readings", "detect_readings (%d) must be at least window_size (%d)",
			c.Detection.DetectReadings, c.Detection.WindowSize)
	}
	if c.Detection.TrainReadings < c.Detection.WindowSize {
		add("detection.train_readings", "train_readings (%d) must be at least window_size (%d)",
			c.Detection.TrainReadings, c.Detection.WindowSize)
	}

	// Model store
	switch c.ModelStore.Backend {
	case "file":
		if c.ModelStore.FileDir == "" {
			add("model_store.file_dir", "file_dir is required when backend is file")
		}
	case "redis":
		if c.ModelStore.RedisAddr == "" {
			add("model_store.redis_addr", "redis_addr is required when backend is redis")
		}
	case "s3":
		if c.ModelStore.S3Bucket == "" {
			add("model_store.s3_bucket", "s3_bucket is required when backend is s3")
		}
	default:
		if !validBackends[c.ModelStore.Backend] {
			add("model_store.backend", "invalid backend '%s', must be one of: file, memory, sql, redis, s3", c.ModelStore.Backend)
		}
	}

	// Agent
	if c.Agent.BatchIntervalSeconds < 0 {
		add("agent.batch_interval_seconds", "must not be negative, got %d", c.Agent.BatchIntervalSeconds)
	}
	if c.Agent.HighPriorityThreshold < 0 || c.Agent.HighPriorityThreshold > 1 {
		add("agent.high_priority_threshold", "must be in [0, 1], got %g", c.Agent.HighPriorityThreshold)
	}
	if c.Agent.PlotDays < 1 {
		add("agent.plot_days", "plot_days must be at least 1, got %d", c.Agent.PlotDays)
	}

	// Notify
	if c.Notify.SNSEnabled && c.Notify.SNSTopicARN == "" {
		add("notify.sns_topic_arn", "sns_topic_arn is required when sns_enabled is true")
	}
	if !validUrgencies[c.Notify.MinUrgency] {
		add("notify.min_urgency", "invalid urgency '%s', must be one of: low, medium, high", c.Notify.MinUrgency)
	}

	// MQTT
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			add("mqtt.broker", "broker is required when mqtt is enabled")
		}
		if c.MQTT.Topic == "" {
			add("mqtt.topic", "topic is required when mqtt is enabled")
		}
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		add("mqtt.qos", "qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}

	// Logging
	if !validLogLevels[c.Logging.Level] {
		add("logging.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	return errs
}
