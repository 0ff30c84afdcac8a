package cli

// Package cli implements the fieldsense operator command line.
//
// Responsibilities:
//   - Ingest readings from flags or JSON files
//   - Train models, run plot and batch detection, and report model status
//   - Catch up missing recommendations and list recommendations
//   - Validate the effective configuration
//
// Every command opens the configured database directly; no server is needed.

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/app"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/config"
)

type cliApp struct {
	configPath string
	jsonOut    bool
	stdin      io.Reader
}

// NewRootCommand returns the fieldsense command bound to the process streams.
func NewRootCommand() *cobra.Command {
	return newRootCommand(os.Stdin, os.Stdout, os.Stderr)
}

// NewRootCommandWithIO returns the fieldsense command bound to the given streams.
func NewRootCommandWithIO(in io.Reader, out, errOut io.Writer) *cobra.Command {
	return newRootCommand(in, out, errOut)
}

func newRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &cliApp{stdin: in}

	cmd := &cobra.Command{
		Use:           "fieldsense",
		Short:         "Crop sensor anomaly detection and recommendations",
		Long:          "fieldsense ingests plot sensor readings, trains per-sensor anomaly models, detects anomalies and turns them into agronomic recommendations.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("FIELDSENSE_CONFIG"), "path to the config file")
	cmd.PersistentFlags().BoolVarP(&a.jsonOut, "json", "j", false, "output as JSON")

	cmd.AddCommand(
		newIngestCmd(a),
		newTrainCmd(a),
		newDetectCmd(a),
		newBatchCmd(a),
		newStatusCmd(a),
		newRecommendCmd(a),
		newRecommendationsCmd(a),
		newConfigCmd(a),
	)
	return cmd
}

// open loads configuration and assembles the application.
func (a *cliApp) open(ctx context.Context) (*app.App, error) {
	_, cfg, err := app.LoadConfig(ctx, a.configPath)
	if err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg)
}

func (a *cliApp) loadConfig(ctx context.Context) (*config.Config, error) {
	_, cfg, err := app.LoadConfig(ctx, a.configPath)
	return cfg, err
}

func (a *cliApp) printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *cliApp) printf(cmd *cobra.Command, format string, args ...interface{}) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
