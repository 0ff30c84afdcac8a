package app

import (
	"context"
	"fmt"

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/config"
)

// LoadConfig loads and validates configuration from path, the environment
// and defaults. An empty path means config.DefaultConfigPath.
func LoadConfig(ctx context.Context, path string) (config.ConfigManager, *config.Config, error) {
	mgr, err := config.NewConfigManager(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create config manager: %w", err)
	}
	if err := mgr.Load(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := mgr.Validate(ctx); err != nil {
		return nil, nil, err
	}
	return mgr, mgr.Get(ctx), nil
}
