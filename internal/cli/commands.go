package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/agent"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/ingest"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/models"
)

func parseSensor(raw string) (models.SensorType, error) {
	st, ok := models.ParseSensorType(raw)
	if !ok {
		return "", fmt.Errorf("unknown sensor type %q (want moisture, temperature or humidity)", raw)
	}
	return st, nil
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// ─── fieldsense ingest ────────────────────────────────────────────────────────

func newIngestCmd(a *cliApp) *cobra.Command {
	var (
		plotID int64
		sensor string
		value  float64
		at     string
		file   string
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Store sensor readings",
		Example: `  # One reading, timestamped now
  fieldsense ingest --plot 3 --sensor moisture --value 41.5

  # A JSON object or array of readings; --plot fills readings without plot_id
  fieldsense ingest --file readings.json --plot 3

  # From stdin
  cat readings.json | fieldsense ingest --file -`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var inputs []ingest.ReadingInput
			switch {
			case file != "":
				data, err := a.readInput(file)
				if err != nil {
					return err
				}
				inputs, err = ingest.DecodeReadings(data)
				if err != nil {
					return err
				}
				for i := range inputs {
					if inputs[i].PlotID == 0 {
						inputs[i].PlotID = plotID
					}
				}
			case cmd.Flags().Changed("value"):
				in := ingest.ReadingInput{PlotID: plotID, SensorType: sensor, Value: &value}
				if at != "" {
					ts, err := time.Parse(time.RFC3339, at)
					if err != nil {
						return fmt.Errorf("invalid --at: %w", err)
					}
					in.Timestamp = &ts
				}
				inputs = []ingest.ReadingInput{in}
			default:
				return fmt.Errorf("either --value or --file is required")
			}

			fa, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer fa.Close()

			stored, rejected := fa.Ingestor.IngestBatch(cmd.Context(), ingest.SourceCLI, inputs)
			if a.jsonOut {
				if err := a.printJSON(cmd, map[string]interface{}{
					"accepted": len(stored),
					"rejected": len(rejected),
					"readings": stored,
					"errors":   rejected,
				}); err != nil {
					return err
				}
			} else {
				a.printf(cmd, "accepted %d, rejected %d\n", len(stored), len(rejected))
				for i := range inputs {
					if msg, ok := rejected[i]; ok {
						a.printf(cmd, "  [%d] %s\n", i, msg)
					}
				}
			}
			if len(rejected) > 0 {
				return fmt.Errorf("%d of %d readings rejected", len(rejected), len(inputs))
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&plotID, "plot", 0, "plot ID")
	cmd.Flags().StringVar(&sensor, "sensor", "", "sensor type (moisture, temperature, humidity)")
	cmd.Flags().Float64Var(&value, "value", 0, "reading value")
	cmd.Flags().StringVar(&at, "at", "", "reading time (RFC3339), default now")
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file of readings, - for stdin")
	return cmd
}

func (a *cliApp) readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(a.stdin)
	}
	return os.ReadFile(path)
}

// ─── fieldsense train ─────────────────────────────────────────────────────────

func newTrainCmd(a *cliApp) *cobra.Command {
	var (
		plotID int64
		sensor string
		count  int
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a sensor model from a plot's recent readings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := parseSensor(sensor)
			if err != nil {
				return err
			}
			fa, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer fa.Close()

			stats, err := fa.Pipeline.TrainFromReadings(cmd.Context(), plotID, st, count)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(cmd, stats)
			}
			a.printf(cmd, "trained %s model on %d windows (%d features), threshold %.4f\n",
				st, stats.NSamples, stats.NFeatures, stats.Threshold)
			return nil
		},
	}

	cmd.Flags().Int64Var(&plotID, "plot", 0, "plot whose readings train the model")
	cmd.Flags().StringVar(&sensor, "sensor", "", "sensor type")
	cmd.Flags().IntVar(&count, "count", 0, "number of readings (0 = configured default)")
	_ = cmd.MarkFlagRequired("plot")
	_ = cmd.MarkFlagRequired("sensor")
	return cmd
}

// ─── fieldsense detect ────────────────────────────────────────────────────────

func newDetectCmd(a *cliApp) *cobra.Command {
	var (
		plotID int64
		sensor string
	)

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Detect anomalies in a plot's latest readings",
		Long:  "detect scores the plot's latest readings, records new anomalies and creates a recommendation for each.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := parseSensor(sensor)
			if err != nil {
				return err
			}
			fa, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer fa.Close()

			res, err := fa.Pipeline.DetectForPlot(cmd.Context(), plotID, st)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(cmd, res)
			}
			a.printf(cmd, "plot %d %s: %d readings, %d windows, %d new anomalies, %d already recorded\n",
				res.PlotID, res.SensorType, res.ReadingsUsed, res.WindowsScored, len(res.Anomalies), res.Duplicates)
			if len(res.Anomalies) == 0 {
				return nil
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "ID\tSEVERITY\tSCORE\tCONFIDENCE\tTIMESTAMP")
			for _, e := range res.Anomalies {
				fmt.Fprintf(tw, "%d\t%s\t%.4f\t%.2f\t%s\n", e.ID, e.Severity, e.AnomalyScore, e.ModelConfidence, e.Timestamp.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().Int64Var(&plotID, "plot", 0, "plot ID")
	cmd.Flags().StringVar(&sensor, "sensor", "", "sensor type")
	_ = cmd.MarkFlagRequired("plot")
	_ = cmd.MarkFlagRequired("sensor")
	return cmd
}

// ─── fieldsense batch ─────────────────────────────────────────────────────────

func newBatchCmd(a *cliApp) *cobra.Command {
	var (
		plotIDs []int64
		sensors []string
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Detect across plots and sensor types",
		Long:  "batch runs plot detection for every (plot, sensor) pair. With no flags it covers every plot with readings and every sensor type.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var types []models.SensorType
			for _, s := range sensors {
				st, err := parseSensor(s)
				if err != nil {
					return err
				}
				types = append(types, st)
			}
			fa, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer fa.Close()

			report, err := fa.Pipeline.BatchDetect(cmd.Context(), plotIDs, types)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(cmd, report)
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "PLOT\tSENSOR\tSTATUS\tANOMALIES\tREASON")
			for _, it := range report.Items {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", it.PlotID, it.SensorType, it.Status, it.Anomalies, it.Reason)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			a.printf(cmd, "succeeded %d, skipped %d, failed %d, anomalies %d\n",
				report.Succeeded, report.Skipped, report.Failed, report.Anomalies)
			return nil
		},
	}

	cmd.Flags().Int64SliceVar(&plotIDs, "plot", nil, "plot IDs (default all plots)")
	cmd.Flags().StringSliceVar(&sensors, "sensor", nil, "sensor types (default all)")
	return cmd
}

// ─── fieldsense status ────────────────────────────────────────────────────────

func newStatusCmd(a *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the model status of every sensor type",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fa, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer fa.Close()

			statuses, err := fa.Pipeline.ModelStatuses(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(cmd, statuses)
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "SENSOR\tTRAINED\tPERSISTED\tSAMPLES\tTRAINED AT")
			for _, s := range statuses {
				trainedAt := "-"
				if s.TrainedAt != nil && !s.TrainedAt.IsZero() {
					trainedAt = s.TrainedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%t\t%t\t%d\t%s\n", s.SensorType, s.Trained, s.Persisted, s.SampleCount, trainedAt)
			}
			return tw.Flush()
		},
	}
}

// ─── fieldsense recommend ─────────────────────────────────────────────────────

func newRecommendCmd(a *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "recommend",
		Short: "Create recommendations for anomalies that have none",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fa, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer fa.Close()

			report, err := fa.Agent.BatchProcessUnprocessedAnomalies(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(cmd, report)
			}
			a.printf(cmd, "pending %d, processed %d, failed %d\n", report.Total, report.Processed, report.Failed)
			for _, e := range report.Errors {
				a.printf(cmd, "  anomaly %d: %s\n", e.AnomalyID, e.Error)
			}
			return nil
		},
	}
}

// ─── fieldsense recommendations ───────────────────────────────────────────────

func newRecommendationsCmd(a *cliApp) *cobra.Command {
	var (
		plotID        int64
		days          int
		minConfidence float64
	)

	cmd := &cobra.Command{
		Use:     "recommendations",
		Aliases: []string{"recs"},
		Short:   "List a plot's recent recommendations, or high-priority ones",
		Example: `  # Last 7 days for plot 3
  fieldsense recommendations --plot 3

  # Every recommendation with confidence >= 0.9
  fieldsense recommendations --min-confidence 0.9`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if minConfidence < 0 || minConfidence > 1 {
				return fmt.Errorf("--min-confidence must be between 0 and 1")
			}
			fa, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer fa.Close()

			var recs []*models.Recommendation
			if plotID > 0 {
				if days <= 0 {
					days = fa.Config.Agent.PlotDays
				}
				recs, err = fa.Agent.RecommendationsForPlot(cmd.Context(), plotID, days)
			} else {
				if minConfidence == 0 {
					minConfidence = fa.Config.Agent.HighPriorityThreshold
				}
				recs, err = fa.Agent.HighPriorityRecommendations(cmd.Context(), minConfidence)
			}
			if err != nil {
				return err
			}
			if recs == nil {
				recs = []*models.Recommendation{}
			}
			if a.jsonOut {
				return a.printJSON(cmd, recs)
			}
			if len(recs) == 0 {
				a.printf(cmd, "no recommendations\n")
				return nil
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "PLOT\tANOMALY\tURGENCY\tCONFIDENCE\tACTION")
			for _, r := range recs {
				fmt.Fprintf(tw, "%d\t%d\t%s\t%.2f\t%s\n", r.PlotID, r.AnomalyID, r.Urgency, r.Confidence, r.Action)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().Int64Var(&plotID, "plot", 0, "plot ID (omit for high-priority recommendations)")
	cmd.Flags().IntVar(&days, "days", 0, fmt.Sprintf("look-back window in days (default %d)", agent.DefaultPlotDays))
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", 0, "minimum confidence for high-priority listing")
	return cmd
}

// ─── fieldsense config ────────────────────────────────────────────────────────

func newConfigCmd(a *cliApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			summary := map[string]interface{}{
				"server_port":   cfg.Server.Port,
				"database":      strings.ToLower(cfg.Database.Type),
				"model_backend": cfg.ModelStore.Backend,
				"window_size":   cfg.Detection.WindowSize,
				"mqtt_enabled":  cfg.MQTT.Enabled,
				"sns_enabled":   cfg.Notify.SNSEnabled,
			}
			if a.jsonOut {
				return a.printJSON(cmd, summary)
			}
			a.printf(cmd, "configuration OK\n")
			a.printf(cmd, "  server port:   %d\n", cfg.Server.Port)
			a.printf(cmd, "  database:      %s\n", summary["database"])
			a.printf(cmd, "  model backend: %s\n", cfg.ModelStore.Backend)
			a.printf(cmd, "  window size:   %d\n", cfg.Detection.WindowSize)
			a.printf(cmd, "  mqtt:          %t\n", cfg.MQTT.Enabled)
			a.printf(cmd, "  sns:           %t\n", cfg.Notify.SNSEnabled)
			return nil
		},
	})
	return cmd
}
