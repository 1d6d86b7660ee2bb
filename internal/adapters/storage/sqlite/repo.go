package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/evanschultz/gossiptrace/internal/app"
	"github.com/evanschultz/gossiptrace/internal/domain"
	_ "modernc.org/sqlite"
)

// driverName defines a package constant value.
const driverName = "sqlite"

// Repository stores replay runs and propagation records in SQLite.
type Repository struct {
	db *sql.DB
}

// Open opens the requested operation.
func Open(path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// OpenInMemory opens in memory.
func OpenInMemory() (*Repository, error) {
	db, err := sql.Open(driverName, "file::memory:?cache=shared")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	// Each pooled connection would otherwise see its own empty database.
	db.SetMaxOpenConns(1)
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the requested operation.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping reports whether the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// migrate handles migrate.
func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			variant TEXT NOT NULL,
			trace_path TEXT NOT NULL DEFAULT '',
			format TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			event_count INTEGER NOT NULL DEFAULT 0,
			stale_stores INTEGER NOT NULL DEFAULT 0,
			record_count INTEGER NOT NULL DEFAULT 0,
			completed_count INTEGER NOT NULL DEFAULT 0,
			last_tick REAL NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL,
			finished_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS propagation_records (
			run_id TEXT NOT NULL,
			item TEXT NOT NULL,
			version INTEGER NOT NULL,
			owner TEXT NOT NULL,
			first_seen REAL NOT NULL,
			completed_at REAL,
			PRIMARY KEY(run_id, item, version),
			FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_variant ON runs(variant, started_at);`,
		`CREATE INDEX IF NOT EXISTS idx_records_pending ON propagation_records(run_id, completed_at);`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// CreateRun creates run.
func (r *Repository) CreateRun(ctx context.Context, run domain.Run) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs(id, variant, trace_path, format, status, event_count, stale_stores, record_count, completed_count, last_tick, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Variant, run.TracePath, run.Format, string(run.Status), run.EventCount, run.StaleStores,
		run.RecordCount, run.CompletedCount, float64(run.LastTick), run.Error, ts(run.StartedAt), nullableTS(run.FinishedAt))
	return err
}

// UpdateRun updates state for the requested operation.
func (r *Repository) UpdateRun(ctx context.Context, run domain.Run) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, event_count = ?, stale_stores = ?, record_count = ?, completed_count = ?, last_tick = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, string(run.Status), run.EventCount, run.StaleStores, run.RecordCount, run.CompletedCount,
		float64(run.LastTick), run.Error, nullableTS(run.FinishedAt), run.ID)
	if err != nil {
		return err
	}
	return translateNoRows(res)
}

const runColumns = `id, variant, trace_path, format, status, event_count, stale_stores, record_count, completed_count, last_tick, error, started_at, finished_at`

// GetRun returns run.
func (r *Repository) GetRun(ctx context.Context, id string) (domain.Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// ListRuns lists runs oldest first.
func (r *Repository) ListRuns(ctx context.Context) ([]domain.Run, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// UpsertRecords writes record updates in one transaction. A stored completion
// time is never overwritten.
func (r *Repository) UpsertRecords(ctx context.Context, runID string, records []domain.PropagationRecord) (err error) {
	if len(records) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO propagation_records(run_id, item, version, owner, first_seen, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, item, version) DO UPDATE SET
			completed_at = COALESCE(propagation_records.completed_at, excluded.completed_at)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err = stmt.ExecContext(ctx, runID, string(rec.Item), int64(rec.Version), string(rec.Owner),
			float64(rec.FirstSeen), nullableTick(rec.CompletedAt)); err != nil {
			return fmt.Errorf("upsert record %s@%d: %w", rec.Item, rec.Version, err)
		}
	}
	err = tx.Commit()
	return err
}

// ListRecords lists records of one run ordered by item and version.
func (r *Repository) ListRecords(ctx context.Context, runID string, filter app.RecordFilter) ([]domain.PropagationRecord, error) {
	query := `
		SELECT item, version, owner, first_seen, completed_at
		FROM propagation_records
		WHERE run_id = ?
	`
	args := []any{runID}
	switch {
	case filter.PendingOnly:
		query += ` AND completed_at IS NULL`
	case filter.CompletedOnly:
		query += ` AND completed_at IS NOT NULL`
	}
	query += ` ORDER BY item ASC, version ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.PropagationRecord{}
	for rows.Next() {
		var (
			rec       domain.PropagationRecord
			item      string
			owner     string
			version   int64
			firstSeen float64
			completed sql.NullFloat64
		)
		if err := rows.Scan(&item, &version, &owner, &firstSeen, &completed); err != nil {
			return nil, err
		}
		rec.Item = domain.ItemID(item)
		rec.Owner = domain.NodeID(owner)
		rec.Version = domain.Version(version)
		rec.FirstSeen = domain.Tick(firstSeen)
		if completed.Valid {
			rec.Complete(domain.Tick(completed.Float64))
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// scanner represents scanner data used by this package.
type scanner interface {
	Scan(dest ...any) error
}

// scanRun handles scan run.
func scanRun(s scanner) (domain.Run, error) {
	var (
		run        domain.Run
		statusRaw  string
		lastTick   float64
		startedRaw string
		finished   sql.NullString
	)
	if err := s.Scan(&run.ID, &run.Variant, &run.TracePath, &run.Format, &statusRaw, &run.EventCount,
		&run.StaleStores, &run.RecordCount, &run.CompletedCount, &lastTick, &run.Error, &startedRaw, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Run{}, app.ErrNotFound
		}
		return domain.Run{}, err
	}
	status, err := domain.ParseRunStatus(statusRaw)
	if err != nil {
		return domain.Run{}, fmt.Errorf("decode run %s status %q: %w", run.ID, statusRaw, err)
	}
	run.Status = status
	run.LastTick = domain.Tick(lastTick)
	run.StartedAt = parseTS(startedRaw)
	run.FinishedAt = parseNullTS(finished)
	return run, nil
}

// translateNoRows handles translate no rows.
func translateNoRows(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return app.ErrNotFound
	}
	return nil
}

func nullableTick(t *domain.Tick) any {
	if t == nil {
		return nil
	}
	return float64(*t)
}

// ts handles ts.
func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// nullableTS handles nullable ts.
func nullableTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTS parses input into a normalized form.
func parseTS(v string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

// parseNullTS parses input into a normalized form.
func parseNullTS(v sql.NullString) *time.Time {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil
	}
	ts := parseTS(v.String)
	return &ts
}
