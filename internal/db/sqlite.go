package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

// migrations define the schema. Applied versions are tracked in the
// schema_versions table. Timestamps are stored as unix milliseconds.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS sensors (
    id          TEXT PRIMARY KEY,
    sensor_type TEXT NOT NULL,
    interval_ms INTEGER NOT NULL DEFAULT 0,
    overrides   TEXT NOT NULL DEFAULT '{}',
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS baselines (
    sensor_id   TEXT NOT NULL,
    version     TEXT NOT NULL,
    sensor_type TEXT NOT NULL,
    samples     INTEGER NOT NULL DEFAULT 0,
    model       BLOB NOT NULL,
    trained_at  INTEGER NOT NULL,
    created_at  INTEGER NOT NULL,
    PRIMARY KEY (sensor_id, version)
);

CREATE INDEX IF NOT EXISTS idx_baselines_sensor ON baselines(sensor_id, created_at DESC);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS diagnoses (
    id             TEXT PRIMARY KEY,
    sensor_id      TEXT NOT NULL,
    sensor_type    TEXT NOT NULL,
    source         TEXT NOT NULL DEFAULT 'api',
    status         TEXT NOT NULL,
    health_score   REAL NOT NULL DEFAULT 0,
    diagnosis_code TEXT NOT NULL DEFAULT '',
    result         TEXT NOT NULL DEFAULT '{}',
    duration_ms    INTEGER NOT NULL DEFAULT 0,
    created_at     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_diagnoses_sensor ON diagnoses(sensor_id, created_at DESC);
`,
	},
}

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Sensors ──────────────────────────────────────────────────────────────────

func (s *sqliteStore) SaveSensor(ctx context.Context, rec *SensorRecord) error {
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Overrides == "" {
		rec.Overrides = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO sensors(id, sensor_type, interval_ms, overrides, created_at, updated_at)
        VALUES(?,?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET
            sensor_type = excluded.sensor_type,
            interval_ms = excluded.interval_ms,
            overrides   = excluded.overrides,
            updated_at  = excluded.updated_at
    `,
		rec.ID, rec.SensorType, rec.IntervalMs, rec.Overrides,
		toMillis(rec.CreatedAt), toMillis(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save sensor %s: %w", rec.ID, err)
	}
	return nil
}

func (s *sqliteStore) GetSensor(ctx context.Context, id string) (*SensorRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,sensor_type,interval_ms,overrides,created_at,updated_at FROM sensors WHERE id=?`, id)
	rec, err := scanSensor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sensor %s: %w", id, ErrNotFound)
	}
	return rec, err
}

func (s *sqliteStore) ListSensors(ctx context.Context) ([]*SensorRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,sensor_type,interval_ms,overrides,created_at,updated_at FROM sensors ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*SensorRecord
	for rows.Next() {
		rec, err := scanSensor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *sqliteStore) DeleteSensor(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM diagnoses WHERE sensor_id=?`,
		`DELETE FROM baselines WHERE sensor_id=?`,
		`DELETE FROM sensors WHERE id=?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("delete sensor %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// ─── Baselines ────────────────────────────────────────────────────────────────

func (s *sqliteStore) SaveBaseline(ctx context.Context, rec *BaselineRecord) error {
	if len(rec.Blob) == 0 {
		return fmt.Errorf("save baseline %s: empty model", rec.Version)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO baselines(sensor_id, version, sensor_type, samples, model, trained_at, created_at)
        VALUES(?,?,?,?,?,?,?)
        ON CONFLICT(sensor_id, version) DO NOTHING
    `,
		rec.SensorID, rec.Version, rec.SensorType, rec.Samples, rec.Blob,
		toMillis(rec.TrainedAt), toMillis(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("save baseline %s: %w", rec.Version, err)
	}
	return nil
}

func (s *sqliteStore) LatestBaseline(ctx context.Context, sensorID string) (*BaselineRecord, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT sensor_id,version,sensor_type,samples,model,trained_at,created_at
        FROM baselines WHERE sensor_id=?
        ORDER BY created_at DESC, rowid DESC LIMIT 1`, sensorID)
	rec, err := scanBaseline(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("baseline for %s: %w", sensorID, ErrNotFound)
	}
	return rec, err
}

func (s *sqliteStore) LatestBaselines(ctx context.Context) ([]*BaselineRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT b.sensor_id,b.version,b.sensor_type,b.samples,b.model,b.trained_at,b.created_at
        FROM baselines b
        WHERE b.rowid = (
            SELECT rowid FROM baselines WHERE sensor_id = b.sensor_id
            ORDER BY created_at DESC, rowid DESC LIMIT 1
        )
        ORDER BY b.sensor_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*BaselineRecord
	for rows.Next() {
		rec, err := scanBaseline(rows, true)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *sqliteStore) ListBaselineVersions(ctx context.Context, sensorID string) ([]*BaselineRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT sensor_id,version,sensor_type,samples,trained_at,created_at
        FROM baselines WHERE sensor_id=?
        ORDER BY created_at DESC, rowid DESC`, sensorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*BaselineRecord
	for rows.Next() {
		rec, err := scanBaseline(rows, false)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// ─── Diagnoses ────────────────────────────────────────────────────────────────

func (s *sqliteStore) AppendDiagnosis(ctx context.Context, rec *DiagnosisRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.Result == "" {
		rec.Result = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO diagnoses(id, sensor_id, sensor_type, source, status, health_score, diagnosis_code, result, duration_ms, created_at)
        VALUES(?,?,?,?,?,?,?,?,?,?)
    `,
		rec.ID, rec.SensorID, rec.SensorType, rec.Source, rec.Status, rec.HealthScore,
		rec.DiagnosisCode, rec.Result, rec.DurationMs, toMillis(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append diagnosis %s: %w", rec.ID, err)
	}
	return nil
}

func (s *sqliteStore) ListDiagnoses(ctx context.Context, sensorID string, limit int) ([]*DiagnosisRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id,sensor_id,sensor_type,source,status,health_score,diagnosis_code,result,duration_ms,created_at
        FROM diagnoses WHERE sensor_id=?
        ORDER BY created_at DESC, rowid DESC LIMIT ?`, sensorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*DiagnosisRecord
	for rows.Next() {
		rec := &DiagnosisRecord{}
		var createdAt int64
		if err := rows.Scan(&rec.ID, &rec.SensorID, &rec.SensorType, &rec.Source, &rec.Status,
			&rec.HealthScore, &rec.DiagnosisCode, &rec.Result, &rec.DurationMs, &createdAt); err != nil {
			return nil, err
		}
		rec.CreatedAt = fromMillis(createdAt)
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *sqliteStore) PruneDiagnoses(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM diagnoses WHERE created_at < ?`, toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("prune diagnoses: %w", err)
	}
	return res.RowsAffected()
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSensor(row rowScanner) (*SensorRecord, error) {
	rec := &SensorRecord{}
	var createdAt, updatedAt int64
	err := row.Scan(&rec.ID, &rec.SensorType, &rec.IntervalMs, &rec.Overrides, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = fromMillis(createdAt)
	rec.UpdatedAt = fromMillis(updatedAt)
	return rec, nil
}

func scanBaseline(row rowScanner, withBlob bool) (*BaselineRecord, error) {
	rec := &BaselineRecord{}
	var trainedAt, createdAt int64
	dest := []any{&rec.SensorID, &rec.Version, &rec.SensorType, &rec.Samples}
	if withBlob {
		dest = append(dest, &rec.Blob)
	}
	dest = append(dest, &trainedAt, &createdAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	rec.TrainedAt = fromMillis(trainedAt)
	rec.CreatedAt = fromMillis(createdAt)
	return rec, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
