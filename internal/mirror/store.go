// Package mirror keeps a local SQLite copy of Exact Online collections.
// Each run pages through the requested resource types and upserts every
// record under its key; records the run did not see are pruned afterwards.
package mirror

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"

	"github.com/tonimelisma/exact-go/internal/odata"
)

// Run status values stored in runs.status.
const (
	StatusRunning     = "running"
	StatusOK          = "ok"
	StatusFailed      = "failed"
	StatusRateLimited = "rate_limited"
	StatusCanceled    = "canceled"
)

const (
	sqlUpsertRecord = `INSERT INTO records (resource, id, data, run_id, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(resource, id) DO UPDATE SET
		 data = excluded.data,
		 run_id = excluded.run_id,
		 fetched_at = excluded.fetched_at`

	sqlListRecords = `SELECT data FROM records WHERE resource = ? ORDER BY id`

	sqlCountRecords = `SELECT COUNT(*) FROM records WHERE resource = ?`

	sqlPruneRecords = `DELETE FROM records WHERE resource = ? AND run_id <> ?`

	sqlBeginRun = `INSERT INTO runs (id, started_at, status, resources) VALUES (?, ?, 'running', ?)`

	sqlFinishRun = `UPDATE runs SET finished_at = ?, status = ?, records = ?, error = ? WHERE id = ?`

	sqlSelectRun = `SELECT id, started_at, finished_at, status, resources, records, error FROM runs`

	sqlGetRun = sqlSelectRun + ` WHERE id = ?`

	sqlLastRun = sqlSelectRun + ` ORDER BY started_at DESC, rowid DESC LIMIT 1`
)

// Run is one row of the runs table.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	Status     string
	Resources  []string
	Records    int
	Error      string
}

// Store is the mirror database. It is safe for concurrent use; writes are
// serialized on a single connection.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// dataDirPermissions is used when creating the database directory.
const dataDirPermissions = 0o700

// Open opens (creating if needed) the SQLite database at path and applies
// migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), dataDirPermissions); err != nil {
		return nil, fmt.Errorf("mirror: creating database directory: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"+
			"&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("mirror: opening database %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("mirror store opened", slog.String("db_path", path))

	return &Store{db: db, logger: logger, nowFunc: time.Now}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertRecords stores records for resource in one transaction, keyed by the
// keyField property. Records without a usable key are skipped and counted
// in the returned skip total.
func (s *Store) UpsertRecords(
	ctx context.Context, resource, keyField, runID string, records []odata.Record,
) (stored, skipped int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("mirror: beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, sqlUpsertRecord)
	if err != nil {
		return 0, 0, fmt.Errorf("mirror: preparing upsert: %w", err)
	}
	defer stmt.Close()

	now := s.nowFunc().UnixMilli()

	for _, rec := range records {
		id := recordKey(rec, keyField)
		if id == "" {
			skipped++
			continue
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return 0, 0, fmt.Errorf("mirror: encoding %s record %s: %w", resource, id, err)
		}

		if _, err := stmt.ExecContext(ctx, resource, id, string(data), runID, now); err != nil {
			return 0, 0, fmt.Errorf("mirror: upserting %s record %s: %w", resource, id, err)
		}

		stored++
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("mirror: committing %s records: %w", resource, err)
	}

	if skipped > 0 {
		s.logger.Warn("skipped records without key",
			slog.String("resource", resource),
			slog.String("key", keyField),
			slog.Int("count", skipped),
		)
	}

	return stored, skipped, nil
}

func recordKey(rec odata.Record, keyField string) string {
	v, ok := rec[keyField]
	if !ok || v == nil {
		return ""
	}

	return fmt.Sprint(v)
}

// Records returns every stored record of resource ordered by key.
func (s *Store) Records(ctx context.Context, resource string) ([]odata.Record, error) {
	rows, err := s.db.QueryContext(ctx, sqlListRecords, resource)
	if err != nil {
		return nil, fmt.Errorf("mirror: listing %s: %w", resource, err)
	}
	defer rows.Close()

	var out []odata.Record

	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("mirror: scanning %s record: %w", resource, err)
		}

		dec := json.NewDecoder(bytes.NewReader([]byte(data)))
		dec.UseNumber()

		var rec odata.Record
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("mirror: decoding %s record: %w", resource, err)
		}

		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mirror: iterating %s records: %w", resource, err)
	}

	return out, nil
}

// Count returns the number of stored records of resource.
func (s *Store) Count(ctx context.Context, resource string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, sqlCountRecords, resource).Scan(&n); err != nil {
		return 0, fmt.Errorf("mirror: counting %s: %w", resource, err)
	}

	return n, nil
}

// Prune deletes records of resource that runID did not write.
func (s *Store) Prune(ctx context.Context, resource, runID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, sqlPruneRecords, resource, runID)
	if err != nil {
		return 0, fmt.Errorf("mirror: pruning %s: %w", resource, err)
	}

	return res.RowsAffected()
}

// BeginRun records the start of a run.
func (s *Store) BeginRun(ctx context.Context, runID string, resources []string) error {
	_, err := s.db.ExecContext(ctx, sqlBeginRun, runID, s.nowFunc().UnixMilli(), strings.Join(resources, ","))
	if err != nil {
		return fmt.Errorf("mirror: recording run start: %w", err)
	}

	return nil
}

// FinishRun records the outcome of a run. runErr may be nil.
func (s *Store) FinishRun(ctx context.Context, runID, status string, records int, runErr error) error {
	var msg sql.NullString
	if runErr != nil {
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, sqlFinishRun, s.nowFunc().UnixMilli(), status, records, msg, runID)
	if err != nil {
		return fmt.Errorf("mirror: recording run finish: %w", err)
	}

	return nil
}

// LastRun returns the most recently started run, or nil if there is none.
func (s *Store) LastRun(ctx context.Context) (*Run, error) {
	return scanRun(s.db.QueryRowContext(ctx, sqlLastRun))
}

// Run returns the run with the given ID, or nil if there is none.
func (s *Store) Run(ctx context.Context, runID string) (*Run, error) {
	return scanRun(s.db.QueryRowContext(ctx, sqlGetRun, runID))
}

func scanRun(row *sql.Row) (*Run, error) {
	var (
		r          Run
		started    int64
		finished   sql.NullInt64
		resources  string
		errMessage sql.NullString
	)

	err := row.Scan(&r.ID, &started, &finished, &r.Status, &resources, &r.Records, &errMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("mirror: reading run: %w", err)
	}

	r.StartedAt = time.UnixMilli(started)
	if finished.Valid {
		r.FinishedAt = time.UnixMilli(finished.Int64)
	}

	if resources != "" {
		r.Resources = strings.Split(resources, ",")
	}

	r.Error = errMessage.String

	return &r, nil
}
