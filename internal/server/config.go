package server

import (
	"fmt"
	"time"

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/agent"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/config"
)

// Config represents the HTTP server configuration
type Config struct {
	Host string `json:"host"`
	Port int    `json:"port"`

	// AllowedOrigins lists the origins permitted for CORS and WebSocket
	// upgrades. Use "*" to allow all origins (development only). Empty
	// means the local dashboard origins.
	AllowedOrigins []string `json:"allowed_origins"`

	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`

	// Query defaults for the plot history and high-priority endpoints.
	PlotDays            int     `json:"plot_days"`
	HighPriorityMinimum float64 `json:"high_priority_minimum"`

	// ComputeRateLimit caps train and detect requests per client per
	// minute. 0 disables the limit.
	ComputeRateLimit int `json:"compute_rate_limit"`
}

// ConfigFrom converts the application configuration.
func ConfigFrom(cfg *config.Config) *Config {
	return &Config{
		Port:                cfg.Server.Port,
		AllowedOrigins:      cfg.Server.AllowedOrigins,
		ReadTimeout:         time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:        time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		ShutdownTimeout:     10 * time.Second,
		PlotDays:            cfg.Agent.PlotDays,
		HighPriorityMinimum: cfg.Agent.HighPriorityThreshold,
		ComputeRateLimit:    cfg.Server.ComputeRateLimitPerMinute,
	}
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) withDefaults() *Config {
	out := *c
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 30 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 30 * time.Second
	}
	if out.ShutdownTimeout <= 0 {
		out.ShutdownTimeout = 10 * time.Second
	}
	if out.PlotDays <= 0 {
		out.PlotDays = agent.DefaultPlotDays
	}
	if out.HighPriorityMinimum <= 0 || out.HighPriorityMinimum > 1 {
		out.HighPriorityMinimum = agent.DefaultHighPriorityMinimum
	}
	return &out
}
