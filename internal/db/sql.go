package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/models"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// dialect holds the column types that differ between SQLite and Postgres.
type dialect struct {
	name   string
	serial string
	blob   string
}

var (
	sqliteDialect   = dialect{name: "sqlite", serial: "INTEGER PRIMARY KEY AUTOINCREMENT", blob: "BLOB"}
	postgresDialect = dialect{name: "postgres", serial: "BIGSERIAL PRIMARY KEY", blob: "BYTEA"}
)

func (d dialect) render(schema string) string {
	return strings.NewReplacer("{{serial}}", d.serial, "{{blob}}", d.blob).Replace(schema)
}

// migrations define the schema. Timestamps are stored as unix nanoseconds so
// both dialects compare and order them identically.
// Version is tracked in the schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS sensor_readings (
    id          {{serial}},
    plot_id     BIGINT NOT NULL,
    sensor_type TEXT NOT NULL,
    value       DOUBLE PRECISION NOT NULL,
    ts          BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_readings_plot_sensor_ts ON sensor_readings(plot_id, sensor_type, ts);

CREATE TABLE IF NOT EXISTS anomaly_events (
    id               {{serial}},
    plot_id          BIGINT NOT NULL,
    sensor_type      TEXT NOT NULL DEFAULT '',
    anomaly_type     TEXT NOT NULL DEFAULT '',
    severity         TEXT NOT NULL DEFAULT 'LOW',
    model_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    anomaly_score    DOUBLE PRECISION NOT NULL DEFAULT 0,
    reading_id       BIGINT,
    ts               BIGINT NOT NULL,
    created_at       BIGINT NOT NULL,
    UNIQUE (reading_id, sensor_type)
);
CREATE INDEX IF NOT EXISTS idx_anomaly_plot_ts ON anomaly_events(plot_id, ts);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS recommendations (
    id            TEXT PRIMARY KEY,
    anomaly_id    BIGINT NOT NULL UNIQUE,
    plot_id       BIGINT NOT NULL,
    action        TEXT NOT NULL,
    explanation   TEXT NOT NULL DEFAULT '',
    summary       TEXT NOT NULL DEFAULT '',
    confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
    urgency       TEXT NOT NULL DEFAULT 'low',
    rule_name     TEXT NOT NULL DEFAULT '',
    rule_priority INTEGER NOT NULL DEFAULT 0,
    details       TEXT NOT NULL DEFAULT '{}',
    created_at    BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_recommendations_plot ON recommendations(plot_id, created_at);
CREATE INDEX IF NOT EXISTS idx_recommendations_confidence ON recommendations(confidence);
`,
	},
	{
		version: 3,
		sql: `
CREATE TABLE IF NOT EXISTS model_blobs (
    sensor_type   TEXT PRIMARY KEY,
    blob          {{blob}} NOT NULL,
    contamination DOUBLE PRECISION NOT NULL,
    random_seed   BIGINT NOT NULL,
    sample_count  INTEGER NOT NULL,
    feature_count INTEGER NOT NULL,
    trained_at    BIGINT NOT NULL
);
`,
	},
}

// sqlStore is the sqlx-backed implementation of Store.
type sqlStore struct {
	db      *sqlx.DB
	dialect dialect
}

// NewStore opens the database selected by dbType ("sqlite" or "postgres").
func NewStore(dbType, dsn string) (Store, error) {
	switch strings.ToLower(dbType) {
	case "", "sqlite":
		return NewSQLiteStore(dsn)
	case "postgres", "postgresql":
		return NewPostgresStore(dsn)
	}
	return nil, fmt.Errorf("unsupported database type %q", dbType)
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// A single connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency and performance.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &sqlStore{db: db, dialect: sqliteDialect}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewPostgresStore connects to Postgres through the pgx stdlib driver and runs migrations.
func NewPostgresStore(dsn string) (Store, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s := &sqlStore{db: db, dialect: postgresDialect}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqlStore) migrate() error {
	// Ensure schema_versions table exists before reading from it.
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at BIGINT NOT NULL
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := s.db.Get(&count, s.db.Rebind(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`), m.version); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		for _, stmt := range splitStatements(s.dialect.render(m.sql)) {
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("apply migration %d: %w", m.version, err)
			}
		}

		if _, err := s.db.Exec(s.db.Rebind(`INSERT INTO schema_versions(version, applied_at) VALUES(?, ?)`), m.version, toDB(time.Now())); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

// splitStatements breaks a migration into single statements; pgx rejects
// multi-statement Exec calls that carry no arguments in extended protocol mode.
func splitStatements(schema string) []string {
	var out []string
	for _, stmt := range strings.Split(schema, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func (s *sqlStore) Close() error { return s.db.Close() }

func (s *sqlStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func toDB(t time.Time) int64 { return t.UTC().UnixNano() }

func fromDB(ns int64) time.Time { return time.Unix(0, ns).UTC() }

// ─── Readings ────────────────────────────────────────────────────────────────

type readingRow struct {
	ID         int64   `db:"id"`
	PlotID     int64   `db:"plot_id"`
	SensorType string  `db:"sensor_type"`
	Value      float64 `db:"value"`
	TS         int64   `db:"ts"`
}

func (r readingRow) model() models.SensorReading {
	return models.SensorReading{
		ID:         r.ID,
		PlotID:     r.PlotID,
		SensorType: models.SensorType(r.SensorType),
		Value:      r.Value,
		Timestamp:  fromDB(r.TS),
	}
}

func (s *sqlStore) InsertReading(ctx context.Context, r *models.SensorReading) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(`
        INSERT INTO sensor_readings(plot_id, sensor_type, value, ts)
        VALUES(?,?,?,?)
        RETURNING id`),
		r.PlotID, string(r.SensorType), r.Value, toDB(r.Timestamp),
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

func (s *sqlStore) RecentReadings(ctx context.Context, plotID int64, sensorType models.SensorType, since time.Time, limit int) ([]models.SensorReading, error) {
	var rows []readingRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
        SELECT id, plot_id, sensor_type, value, ts FROM sensor_readings
        WHERE plot_id = ? AND sensor_type = ? AND ts >= ?
        ORDER BY ts DESC, id DESC
        LIMIT ?`),
		plotID, string(sensorType), toDB(since), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent readings: %w", err)
	}
	return oldestFirst(rows), nil
}

func (s *sqlStore) LatestReadings(ctx context.Context, plotID int64, sensorType models.SensorType, count int) ([]models.SensorReading, error) {
	var rows []readingRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
        SELECT id, plot_id, sensor_type, value, ts FROM sensor_readings
        WHERE plot_id = ? AND sensor_type = ?
        ORDER BY ts DESC, id DESC
        LIMIT ?`),
		plotID, string(sensorType), count,
	)
	if err != nil {
		return nil, fmt.Errorf("query latest readings: %w", err)
	}
	return oldestFirst(rows), nil
}

// oldestFirst reverses rows selected newest first.
func oldestFirst(rows []readingRow) []models.SensorReading {
	out := make([]models.SensorReading, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r.model()
	}
	return out
}

func (s *sqlStore) ListPlots(ctx context.Context) ([]int64, error) {
	var plots []int64
	if err := s.db.SelectContext(ctx, &plots, `SELECT DISTINCT plot_id FROM sensor_readings ORDER BY plot_id`); err != nil {
		return nil, fmt.Errorf("list plots: %w", err)
	}
	return plots, nil
}

// ─── Anomaly events ──────────────────────────────────────────────────────────

type anomalyRow struct {
	ID              int64         `db:"id"`
	PlotID          int64         `db:"plot_id"`
	SensorType      string        `db:"sensor_type"`
	AnomalyType     string        `db:"anomaly_type"`
	Severity        string        `db:"severity"`
	ModelConfidence float64       `db:"model_confidence"`
	AnomalyScore    float64       `db:"anomaly_score"`
	ReadingID       sql.NullInt64 `db:"reading_id"`
	TS              int64         `db:"ts"`
	CreatedAt       int64         `db:"created_at"`
}

const anomalyColumns = `a.id, a.plot_id, a.sensor_type, a.anomaly_type, a.severity, a.model_confidence, a.anomaly_score, a.reading_id, a.ts, a.created_at`

func (r anomalyRow) model() *models.AnomalyEvent {
	e := &models.AnomalyEvent{
		ID:              r.ID,
		PlotID:          r.PlotID,
		SensorType:      models.SensorType(r.SensorType),
		AnomalyType:     r.AnomalyType,
		Severity:        models.Severity(r.Severity),
		ModelConfidence: r.ModelConfidence,
		AnomalyScore:    r.AnomalyScore,
		Timestamp:       fromDB(r.TS),
		CreatedAt:       fromDB(r.CreatedAt),
	}
	if r.ReadingID.Valid {
		id := r.ReadingID.Int64
		e.ReadingID = &id
	}
	return e
}

func (s *sqlStore) CreateAnomaly(ctx context.Context, e *models.AnomalyEvent) (bool, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = e.CreatedAt
	}
	var readingID sql.NullInt64
	if e.ReadingID != nil {
		readingID = sql.NullInt64{Int64: *e.ReadingID, Valid: true}
	}

	err := s.db.QueryRowxContext(ctx, s.db.Rebind(`
        INSERT INTO anomaly_events(plot_id, sensor_type, anomaly_type, severity, model_confidence, anomaly_score, reading_id, ts, created_at)
        VALUES(?,?,?,?,?,?,?,?,?)
        ON CONFLICT DO NOTHING
        RETURNING id`),
		e.PlotID, string(e.SensorType), e.AnomalyType, string(e.Severity),
		e.ModelConfidence, e.AnomalyScore, readingID, toDB(e.Timestamp), toDB(e.CreatedAt),
	).Scan(&e.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert anomaly event: %w", err)
	}
	return true, nil
}

func (s *sqlStore) GetAnomaly(ctx context.Context, id int64) (*models.AnomalyEvent, error) {
	var row anomalyRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+anomalyColumns+` FROM anomaly_events a WHERE a.id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("anomaly %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get anomaly %d: %w", id, err)
	}
	return row.model(), nil
}

func (s *sqlStore) ListUnrecommendedAnomalies(ctx context.Context, limit int) ([]*models.AnomalyEvent, error) {
	query := `SELECT ` + anomalyColumns + ` FROM anomaly_events a
        LEFT JOIN recommendations r ON r.anomaly_id = a.id
        WHERE r.id IS NULL
        ORDER BY a.ts ASC, a.id ASC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.selectAnomalies(ctx, query, args...)
}

func (s *sqlStore) ListPlotAnomalies(ctx context.Context, plotID int64, since time.Time) ([]*models.AnomalyEvent, error) {
	return s.selectAnomalies(ctx, `SELECT `+anomalyColumns+` FROM anomaly_events a
        WHERE a.plot_id = ? AND a.ts >= ?
        ORDER BY a.ts ASC, a.id ASC`, plotID, toDB(since))
}

func (s *sqlStore) selectAnomalies(ctx context.Context, query string, args ...interface{}) ([]*models.AnomalyEvent, error) {
	var rows []anomalyRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query anomalies: %w", err)
	}
	out := make([]*models.AnomalyEvent, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

// ─── Recommendations ─────────────────────────────────────────────────────────

type recommendationRow struct {
	ID           string  `db:"id"`
	AnomalyID    int64   `db:"anomaly_id"`
	PlotID       int64   `db:"plot_id"`
	Action       string  `db:"action"`
	Explanation  string  `db:"explanation"`
	Summary      string  `db:"summary"`
	Confidence   float64 `db:"confidence"`
	Urgency      string  `db:"urgency"`
	RuleName     string  `db:"rule_name"`
	RulePriority int     `db:"rule_priority"`
	Details      string  `db:"details"`
	CreatedAt    int64   `db:"created_at"`
}

const recommendationColumns = `id, anomaly_id, plot_id, action, explanation, summary, confidence, urgency, rule_name, rule_priority, details, created_at`

func (r recommendationRow) model() (*models.Recommendation, error) {
	rec := &models.Recommendation{
		ID:           r.ID,
		AnomalyID:    r.AnomalyID,
		PlotID:       r.PlotID,
		Action:       r.Action,
		Explanation:  r.Explanation,
		Summary:      r.Summary,
		Confidence:   r.Confidence,
		Urgency:      models.Urgency(r.Urgency),
		RuleName:     r.RuleName,
		RulePriority: r.RulePriority,
		CreatedAt:    fromDB(r.CreatedAt),
	}
	if r.Details != "" {
		if err := json.Unmarshal([]byte(r.Details), &rec.Details); err != nil {
			return nil, fmt.Errorf("decode details of recommendation %s: %w", r.ID, err)
		}
	}
	return rec, nil
}

func (s *sqlStore) GetRecommendationByAnomaly(ctx context.Context, anomalyID int64) (*models.Recommendation, error) {
	var row recommendationRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+recommendationColumns+` FROM recommendations WHERE anomaly_id = ?`), anomalyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("recommendation for anomaly %d: %w", anomalyID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get recommendation for anomaly %d: %w", anomalyID, err)
	}
	return row.model()
}

func (s *sqlStore) CreateRecommendation(ctx context.Context, rec *models.Recommendation) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	details, err := json.Marshal(rec.Details)
	if err != nil {
		return fmt.Errorf("encode recommendation details: %w", err)
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
        INSERT INTO recommendations(`+recommendationColumns+`)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
        ON CONFLICT (anomaly_id) DO NOTHING`),
		rec.ID, rec.AnomalyID, rec.PlotID, rec.Action, rec.Explanation, rec.Summary,
		rec.Confidence, string(rec.Urgency), rec.RuleName, rec.RulePriority,
		string(details), toDB(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert recommendation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert recommendation: %w", err)
	}
	if n == 0 {
		return ErrRecommendationExists
	}
	return nil
}

func (s *sqlStore) DeleteRecommendationByAnomaly(ctx context.Context, anomalyID int64) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM recommendations WHERE anomaly_id = ?`), anomalyID); err != nil {
		return fmt.Errorf("delete recommendation for anomaly %d: %w", anomalyID, err)
	}
	return nil
}

func (s *sqlStore) ListPlotRecommendations(ctx context.Context, plotID int64, since time.Time) ([]*models.Recommendation, error) {
	return s.selectRecommendations(ctx, `SELECT `+recommendationColumns+` FROM recommendations
        WHERE plot_id = ? AND created_at >= ?
        ORDER BY created_at DESC, id ASC`, plotID, toDB(since))
}

func (s *sqlStore) ListRecommendationsAbove(ctx context.Context, minConfidence float64, limit int) ([]*models.Recommendation, error) {
	query := `SELECT ` + recommendationColumns + ` FROM recommendations
        WHERE confidence >= ?
        ORDER BY confidence DESC, created_at DESC`
	args := []interface{}{minConfidence}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.selectRecommendations(ctx, query, args...)
}

func (s *sqlStore) selectRecommendations(ctx context.Context, query string, args ...interface{}) ([]*models.Recommendation, error) {
	var rows []recommendationRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query recommendations: %w", err)
	}
	out := make([]*models.Recommendation, 0, len(rows))
	for _, r := range rows {
		rec, err := r.model()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// ─── Model blobs ─────────────────────────────────────────────────────────────

type modelBlobRow struct {
	SensorType    string  `db:"sensor_type"`
	Blob          []byte  `db:"blob"`
	Contamination float64 `db:"contamination"`
	RandomSeed    int64   `db:"random_seed"`
	SampleCount   int     `db:"sample_count"`
	FeatureCount  int     `db:"feature_count"`
	TrainedAt     int64   `db:"trained_at"`
}

func (r modelBlobRow) record() *ModelBlobRecord {
	return &ModelBlobRecord{
		SensorType:    r.SensorType,
		Blob:          r.Blob,
		Contamination: r.Contamination,
		RandomSeed:    r.RandomSeed,
		SampleCount:   r.SampleCount,
		FeatureCount:  r.FeatureCount,
		TrainedAt:     fromDB(r.TrainedAt),
	}
}

func (s *sqlStore) SaveModelBlob(ctx context.Context, rec *ModelBlobRecord) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
        INSERT INTO model_blobs(sensor_type, blob, contamination, random_seed, sample_count, feature_count, trained_at)
        VALUES(?,?,?,?,?,?,?)
        ON CONFLICT (sensor_type) DO UPDATE SET
            blob          = excluded.blob,
            contamination = excluded.contamination,
            random_seed   = excluded.random_seed,
            sample_count  = excluded.sample_count,
            feature_count = excluded.feature_count,
            trained_at    = excluded.trained_at`),
		rec.SensorType, rec.Blob, rec.Contamination, rec.RandomSeed,
		rec.SampleCount, rec.FeatureCount, toDB(rec.TrainedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert model blob %s: %w", rec.SensorType, err)
	}
	return nil
}

func (s *sqlStore) GetModelBlob(ctx context.Context, sensorType string) (*ModelBlobRecord, error) {
	return s.getModelBlob(ctx, sensorType, `sensor_type, blob, contamination, random_seed, sample_count, feature_count, trained_at`)
}

func (s *sqlStore) StatModelBlob(ctx context.Context, sensorType string) (*ModelBlobRecord, error) {
	return s.getModelBlob(ctx, sensorType, `sensor_type, contamination, random_seed, sample_count, feature_count, trained_at`)
}

func (s *sqlStore) getModelBlob(ctx context.Context, sensorType, columns string) (*ModelBlobRecord, error) {
	var row modelBlobRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+columns+` FROM model_blobs WHERE sensor_type = ?`), sensorType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("model blob %s: %w", sensorType, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get model blob %s: %w", sensorType, err)
	}
	return row.record(), nil
}
