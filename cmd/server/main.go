package main

// Package main is the entry point for the FieldSense server.
//
// Responsibilities:
//   - Load and validate configuration from YAML and FIELDSENSE_* environment variables
//   - Assemble storage, the detection pipeline and the recommendation agent
//   - Serve the REST API, /metrics and the recommendation live feed
//   - Optionally subscribe to field gateways over MQTT
//   - Periodically create recommendations for anomalies that have none
//   - Shut down gracefully on SIGINT or SIGTERM
//
// The config file path comes from FIELDSENSE_CONFIG and defaults to
// /etc/fieldsense/config.yaml. A missing file is not an error.

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/app"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/config"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/server"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	configPath := os.Getenv("FIELDSENSE_CONFIG")
	mgr, cfg, err := app.LoadConfig(ctx, configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	a, err := app.Build(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise: %v\n", err)
		os.Exit(1)
	}
	logger := a.Logger
	_ = a.Audit.LogConfigLoaded(ctx, configSource(configPath))

	srv, err := server.NewServer(server.ConfigFrom(cfg), a.ServerDeps())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create server: %v\n", err)
		_ = a.Close()
		os.Exit(1)
	}
	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start server: %v\n", err)
		_ = a.Close()
		os.Exit(1)
	}

	go a.RunBatchLoop(ctx, time.Duration(cfg.Agent.BatchIntervalSeconds)*time.Second)

	sub := a.NewMQTTSubscriber()
	if sub != nil {
		if err := sub.Start(ctx); err != nil {
			logger.Error("MQTT subscriber failed to start; continuing with HTTP ingestion only", zap.Error(err))
			sub = nil
		}
	}

	if _, err := os.Stat(configSource(configPath)); err == nil {
		go func() {
			for range mgr.Watch(ctx) {
				logger.Warn("configuration file changed; restart to apply")
			}
		}()
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	fmt.Println("\nReceived shutdown signal...")
	cancel()

	if sub != nil {
		sub.Stop()
	}
	exitCode := 0
	if err := srv.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Error stopping server: %v\n", err)
		exitCode = 1
	}
	if err := a.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error releasing resources: %v\n", err)
		exitCode = 1
	}

	fmt.Println("Shutdown complete")
	os.Exit(exitCode)
}

func configSource(path string) string {
	if path == "" {
		return config.DefaultConfigPath
	}
	return path
}
