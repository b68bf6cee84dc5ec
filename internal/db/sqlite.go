package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

// Timestamps are stored as Unix nanoseconds so range filters and ordering
// stay numeric.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS anomaly_events (
    id             TEXT PRIMARY KEY,
    metric         TEXT NOT NULL,
    algorithm      TEXT NOT NULL,
    anomaly_type   TEXT NOT NULL DEFAULT 'point',
    severity       TEXT NOT NULL DEFAULT 'low',
    mode           TEXT NOT NULL DEFAULT 'batch',
    value          REAL NOT NULL DEFAULT 0.0,
    expected_value REAL NOT NULL DEFAULT 0.0,
    score          REAL NOT NULL DEFAULT 0.0,
    confidence     REAL NOT NULL DEFAULT 0.0,
    explanation    TEXT NOT NULL DEFAULT '',
    metadata       TEXT NOT NULL DEFAULT '{}',
    detected_at    INTEGER NOT NULL,
    recorded_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_anomaly_detected_at ON anomaly_events(detected_at DESC);
CREATE INDEX IF NOT EXISTS idx_anomaly_metric      ON anomaly_events(metric, detected_at DESC);
CREATE INDEX IF NOT EXISTS idx_anomaly_severity    ON anomaly_events(severity);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_anomaly_algorithm ON anomaly_events(algorithm);
`,
	},
}

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// Each pooled connection to ":memory:" would be a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrency and performance.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &sqliteStore{db: db, now: time.Now}
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

// ─── Anomaly events ──────────────────────────────────────────────────────────

const anomalyColumns = `id,metric,algorithm,anomaly_type,severity,mode,value,expected_value,score,confidence,explanation,metadata,detected_at,recorded_at`

func (s *sqliteStore) RecordAnomalies(ctx context.Context, recs []*AnomalyRecord) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
        INSERT OR IGNORE INTO anomaly_events(`+anomalyColumns+`)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)
    `)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := s.now().UTC()
	inserted := 0
	for _, rec := range recs {
		if rec.ID == "" {
			return 0, errors.New("anomaly record has no id")
		}
		if rec.RecordedAt.IsZero() {
			rec.RecordedAt = now
		}
		metadata := rec.Metadata
		if metadata == "" {
			metadata = "{}"
		}
		res, err := stmt.ExecContext(ctx,
			rec.ID, rec.Metric, rec.Algorithm, rec.Type, rec.Severity, rec.Mode,
			rec.Value, rec.ExpectedValue, rec.Score, rec.Confidence,
			rec.Explanation, metadata,
			rec.DetectedAt.UnixNano(), rec.RecordedAt.UnixNano(),
		)
		if err != nil {
			return 0, fmt.Errorf("insert anomaly %s: %w", rec.ID, err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// where builds the shared filter clause for queries.
func (q AnomalyQuery) where() (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, arg any) {
		clauses = append(clauses, clause)
		args = append(args, arg)
	}
	if q.Metric != "" {
		add(`metric = ?`, q.Metric)
	}
	if q.Algorithm != "" {
		add(`algorithm = ?`, q.Algorithm)
	}
	if q.Severity != "" {
		add(`severity = ?`, q.Severity)
	}
	if q.Mode != "" {
		add(`mode = ?`, q.Mode)
	}
	if !q.From.IsZero() {
		add(`detected_at >= ?`, q.From.UnixNano())
	}
	if !q.To.IsZero() {
		add(`detected_at <= ?`, q.To.UnixNano())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *sqliteStore) QueryAnomalies(ctx context.Context, q AnomalyQuery) ([]*AnomalyRecord, error) {
	where, args := q.where()
	query := `SELECT ` + anomalyColumns + ` FROM anomaly_events` + where + ` ORDER BY detected_at DESC, id`
	if q.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, q.Limit, max(q.Offset, 0))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []*AnomalyRecord{}
	for rows.Next() {
		rec, err := scanAnomaly(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *sqliteStore) GetAnomaly(ctx context.Context, id string) (*AnomalyRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+anomalyColumns+` FROM anomaly_events WHERE id=?`, id)
	rec, err := scanAnomaly(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: anomaly %s", ErrNotFound, id)
	}
	return rec, err
}

func (s *sqliteStore) AnomalySummary(ctx context.Context, q AnomalyQuery) (map[string]int, error) {
	where, args := AnomalyQuery{Metric: q.Metric, From: q.From, To: q.To}.where()
	rows, err := s.db.QueryContext(ctx, `SELECT severity, COUNT(*) FROM anomaly_events`+where+` GROUP BY severity`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summary := map[string]int{}
	for rows.Next() {
		var sev string
		var count int
		if err := rows.Scan(&sev, &count); err != nil {
			return nil, err
		}
		summary[sev] = count
	}
	return summary, rows.Err()
}

func (s *sqliteStore) PruneAnomalies(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM anomaly_events WHERE detected_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnomaly(row rowScanner) (*AnomalyRecord, error) {
	rec := &AnomalyRecord{}
	var detected, recorded int64
	if err := row.Scan(&rec.ID, &rec.Metric, &rec.Algorithm, &rec.Type, &rec.Severity, &rec.Mode,
		&rec.Value, &rec.ExpectedValue, &rec.Score, &rec.Confidence,
		&rec.Explanation, &rec.Metadata, &detected, &recorded); err != nil {
		return nil, err
	}
	rec.DetectedAt = time.Unix(0, detected).UTC()
	rec.RecordedAt = time.Unix(0, recorded).UTC()
	return rec, nil
}
