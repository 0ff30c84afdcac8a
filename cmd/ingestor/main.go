package main

// Package main runs MQTT ingestion without the HTTP API.
//
// Readings published by field gateways are validated and stored. New
// anomalies are detected by the server or the fieldsense CLI, so this
// process only needs the database.

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/app"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, cfg, err := app.LoadConfig(ctx, os.Getenv("FIELDSENSE_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg.MQTT.Enabled = true

	a, err := app.Build(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise: %v\n", err)
		os.Exit(1)
	}

	sub := a.NewMQTTSubscriber()
	if err := sub.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start MQTT subscriber: %v\n", err)
		_ = a.Close()
		os.Exit(1)
	}
	a.Logger.Info("ingestor running",
		zap.String("broker", cfg.MQTT.Broker),
		zap.String("topic", cfg.MQTT.Topic),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	fmt.Println("\nReceived shutdown signal...")

	cancel()
	sub.Stop()
	if err := a.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error releasing resources: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Shutdown complete")
}
