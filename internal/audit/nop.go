package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// NewNopLogger returns a Logger that discards events. Its AppLogger is the
// supplied logger, or a no-op logger when nil.
func NewNopLogger(app *zap.Logger) Logger {
	if app == nil {
		app = zap.NewNop()
	}
	return nopLogger{app: app}
}

type nopLogger struct {
	app *zap.Logger
}

func (nopLogger) Log(context.Context, *Event) error { return nil }
func (nopLogger) LogModelTrained(context.Context, string, int, time.Duration) error { return nil }
func (nopLogger) LogModelTrainFailed(context.Context, string, error) error { return nil }
func (nopLogger) LogModelLoaded(context.Context, string) error { return nil }
func (nopLogger) LogDetectionCompleted(context.Context, int64, string, int, int) error {
	return nil
}
func (nopLogger) LogAnomalyRecorded(context.Context, int64, int64, string, string) error {
	return nil
}
func (nopLogger) LogRecommendationCreated(context.Context, string, int64, string) error {
	return nil
}
func (nopLogger) LogRecommendationRegenerated(context.Context, string, int64, string) error {
	return nil
}
func (nopLogger) LogBatchCompleted(context.Context, int, int, int, time.Duration) error {
	return nil
}
func (nopLogger) LogConfigLoaded(context.Context, string) error { return nil }
func (nopLogger) LogServerStarted(context.Context, string) error { return nil }
func (nopLogger) LogServerShutdown(context.Context) error { return nil }
func (n nopLogger) AppLogger() *zap.Logger { return n.app }
func (nopLogger) Sync() error { return nil }
func (nopLogger) Close() error { return nil }
