package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Port = 8080
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	cfg.Server.ReadTimeoutSeconds = 15
	cfg.Server.WriteTimeoutSeconds = 30
	cfg.Server.ComputeRateLimitPerMinute = 60

	cfg.Database.Type = "sqlite"
	cfg.Database.SQLitePath = "/var/lib/fieldsense/fieldsense.db"
	cfg.Database.PostgresURL = ""

	cfg.Detection.WindowSize = 10
	cfg.Detection.UseFeatures = true
	cfg.Detection.Contamination = 0.1
	cfg.Detection.RandomSeed = 42
	cfg.Detection.NumTrees = 100
	cfg.Detection.MaxSamples = 256
	cfg.Detection.DetectReadings = 50
	cfg.Detection.TrainReadings = 100

	cfg.ModelStore.Backend = "sql"
	cfg.ModelStore.FileDir = "/var/lib/fieldsense/models"
	cfg.ModelStore.RedisAddr = "localhost:6379"
	cfg.ModelStore.RedisPrefix = "fieldsense:model:"
	cfg.ModelStore.S3Prefix = "fieldsense/"
	cfg.ModelStore.S3Region = "us-east-1"

	cfg.Agent.BatchIntervalSeconds = 300
	cfg.Agent.HighPriorityThreshold = 0.8
	cfg.Agent.PlotDays = 7

	cfg.Notify.SNSEnabled = false
	cfg.Notify.SNSRegion = "us-east-1"
	cfg.Notify.MinUrgency = "high"

	cfg.MQTT.Enabled = false
	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "fieldsense-ingestor"
	cfg.MQTT.Topic = "fieldsense/plots/+/readings"
	cfg.MQTT.QoS = 1

	cfg.Logging.Level = "info"
	cfg.Logging.AppLogPath = "logs/app.log"
	cfg.Logging.AuditLogPath = "logs/audit.log"
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 10
	cfg.Logging.MaxAgeDays = 30
	cfg.Logging.Compress = true
	cfg.Logging.Development = false

	return cfg
}
