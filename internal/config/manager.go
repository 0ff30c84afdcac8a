package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variable overrides.
const EnvPrefix = "FIELDSENSE"

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	viper      *viper.Viper
	watchChan  chan Config
	watchOnce  sync.Once

	mu     sync.RWMutex
	config *Config
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix(EnvPrefix)
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	// A missing file is fine: defaults and environment still apply.
	if err := m.readFile(); err != nil {
		return err
	}

	return m.unmarshalConfig()
}

func (m *viperConfigManager) readFile() error {
	err := m.viper.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) || os.IsNotExist(err) {
		return nil
	}
	return fmt.Errorf("error reading config file: %w", err)
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.Get(ctx).Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration changes and reloads. Updates that fail to
// parse or validate are dropped and the previous config stays current.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	m.watchOnce.Do(func() {
		m.viper.OnConfigChange(func(e fsnotify.Event) {
			if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				return
			}
			if err := m.unmarshalConfig(); err != nil {
				return
			}
			cfg := *m.Get(ctx)
			if len(cfg.Validate()) > 0 {
				return
			}
			select {
			case m.watchChan <- cfg:
			default:
				// Channel full, skip this update
			}
		})
		m.viper.WatchConfig()
	})

	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if err := m.readFile(); err != nil {
		return err
	}
	return m.unmarshalConfig()
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	d := DefaultConfig()

	m.viper.SetDefault("server.port", d.Server.Port)
	m.viper.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	m.viper.SetDefault("server.read_timeout_seconds", d.Server.ReadTimeoutSeconds)
	m.viper.SetDefault("server.write_timeout_seconds", d.Server.WriteTimeoutSeconds)
	m.viper.SetDefault("server.compute_rate_limit_per_minute", d.Server.ComputeRateLimitPerMinute)

	m.viper.SetDefault("database.type", d.Database.Type)
	m.viper.SetDefault("database.sqlite_path", d.Database.SQLitePath)
	m.viper.SetDefault("database.postgres_url", d.Database.PostgresURL)

	m.viper.SetDefault("detection.window_size", d.Detection.WindowSize)
	m.viper.SetDefault("detection.use_features", d.Detection.UseFeatures)
	m.viper.SetDefault("detection.contamination", d.Detection.Contamination)
	m.viper.SetDefault("detection.random_seed", d.Detection.RandomSeed)
	m.viper.SetDefault("detection.num_trees", d.Detection.NumTrees)
	m.viper.SetDefault("detection.max_samples", d.Detection.MaxSamples)
	m.viper.SetDefault("detection.detect_readings", d.Detection.DetectReadings)
	m.viper.SetDefault("detection.train_readings", d.Detection.TrainReadings)

	m.viper.SetDefault("model_store.backend", d.ModelStore.Backend)
	m.viper.SetDefault("model_store.file_dir", d.ModelStore.FileDir)
	m.viper.SetDefault("model_store.redis_addr", d.ModelStore.RedisAddr)
	m.viper.SetDefault("model_store.redis_password", d.ModelStore.RedisPassword)
	m.viper.SetDefault("model_store.redis_db", d.ModelStore.RedisDB)
	m.viper.SetDefault("model_store.redis_prefix", d.ModelStore.RedisPrefix)
	m.viper.SetDefault("model_store.s3_bucket", d.ModelStore.S3Bucket)
	m.viper.SetDefault("model_store.s3_prefix", d.ModelStore.S3Prefix)
	m.viper.SetDefault("model_store.s3_region", d.ModelStore.S3Region)

	m.viper.SetDefault("agent.batch_interval_seconds", d.Agent.BatchIntervalSeconds)
	m.viper.SetDefault("agent.high_priority_threshold", d.Agent.HighPriorityThreshold)
	m.viper.SetDefault("agent.plot_days", d.Agent.PlotDays)

	m.viper.SetDefault("notify.sns_enabled", d.Notify.SNSEnabled)
	m.viper.SetDefault("notify.sns_topic_arn", d.Notify.SNSTopicARN)
	m.viper.SetDefault("notify.sns_region", d.Notify.SNSRegion)
	m.viper.SetDefault("notify.min_urgency", d.Notify.MinUrgency)

	m.viper.SetDefault("mqtt.enabled", d.MQTT.Enabled)
	m.viper.SetDefault("mqtt.broker", d.MQTT.Broker)
	m.viper.SetDefault("mqtt.client_id", d.MQTT.ClientID)
	m.viper.SetDefault("mqtt.topic", d.MQTT.Topic)
	m.viper.SetDefault("mqtt.qos", d.MQTT.QoS)
	m.viper.SetDefault("mqtt.username", d.MQTT.Username)
	m.viper.SetDefault("mqtt.password", d.MQTT.Password)

	m.viper.SetDefault("logging.level", d.Logging.Level)
	m.viper.SetDefault("logging.app_log_path", d.Logging.AppLogPath)
	m.viper.SetDefault("logging.audit_log_path", d.Logging.AuditLogPath)
	m.viper.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	m.viper.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	m.viper.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)
	m.viper.SetDefault("logging.compress", d.Logging.Compress)
	m.viper.SetDefault("logging.development", d.Logging.Development)
}

// unmarshalConfig unmarshals viper config into Config struct.
func (m *viperConfigManager) unmarshalConfig() error {
	v := m.viper
	cfg := &Config{}

	cfg.Server.Port = v.GetInt("server.port")
	cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	cfg.Server.ReadTimeoutSeconds = v.GetInt("server.read_timeout_seconds")
	cfg.Server.WriteTimeoutSeconds = v.GetInt("server.write_timeout_seconds")
	cfg.Server.ComputeRateLimitPerMinute = v.GetInt("server.compute_rate_limit_per_minute")

	cfg.Database.Type = v.GetString("database.type")
	cfg.Database.SQLitePath = v.GetString("database.sqlite_path")
	cfg.Database.PostgresURL = v.GetString("database.postgres_url")

	cfg.Detection.WindowSize = v.GetInt("detection.window_size")
	cfg.Detection.UseFeatures = v.GetBool("detection.use_features")
	cfg.Detection.Contamination = v.GetFloat64("detection.contamination")
	cfg.Detection.RandomSeed = v.GetInt64("detection.random_seed")
	cfg.Detection.NumTrees = v.GetInt("detection.num_trees")
	cfg.Detection.MaxSamples = v.GetInt("detection.max_samples")
	cfg.Detection.DetectReadings = v.GetInt("detection.detect_readings")
	cfg.Detection.TrainReadings = v.GetInt("detection.train_readings")

	cfg.ModelStore.Backend = v.GetString("model_store.backend")
	cfg.ModelStore.FileDir = v.GetString("model_store.file_dir")
	cfg.ModelStore.RedisAddr = v.GetString("model_store.redis_addr")
	cfg.ModelStore.RedisPassword = v.GetString("model_store.redis_password")
	cfg.ModelStore.RedisDB = v.GetInt("model_store.redis_db")
	cfg.ModelStore.RedisPrefix = v.GetString("model_store.redis_prefix")
	cfg.ModelStore.S3Bucket = v.GetString("model_store.s3_bucket")
	cfg.ModelStore.S3Prefix = v.GetString("model_store.s3_prefix")
	cfg.ModelStore.S3Region = v.GetString("model_store.s3_region")

	cfg.Agent.BatchIntervalSeconds = v.GetInt("agent.batch_interval_seconds")
	cfg.Agent.HighPriorityThreshold = v.GetFloat64("agent.high_priority_threshold")
	cfg.Agent.PlotDays = v.GetInt("agent.plot_days")

	cfg.Notify.SNSEnabled = v.GetBool("notify.sns_enabled")
	cfg.Notify.SNSTopicARN = v.GetString("notify.sns_topic_arn")
	cfg.Notify.SNSRegion = v.GetString("notify.sns_region")
	cfg.Notify.MinUrgency = v.GetString("notify.min_urgency")

	cfg.MQTT.Enabled = v.GetBool("mqtt.enabled")
	cfg.MQTT.Broker = v.GetString("mqtt.broker")
	cfg.MQTT.ClientID = v.GetString("mqtt.client_id")
	cfg.MQTT.Topic = v.GetString("mqtt.topic")
	cfg.MQTT.QoS = v.GetInt("mqtt.qos")
	cfg.MQTT.Username = v.GetString("mqtt.username")
	cfg.MQTT.Password = v.GetString("mqtt.password")

	cfg.Logging.Level = v.GetString("logging.level")
	cfg.Logging.AppLogPath = v.GetString("logging.app_log_path")
	cfg.Logging.AuditLogPath = v.GetString("logging.audit_log_path")
	cfg.Logging.MaxSizeMB = v.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = v.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = v.GetInt("logging.max_age_days")
	cfg.Logging.Compress = v.GetBool("logging.compress")
	cfg.Logging.Development = v.GetBool("logging.development")

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}
