package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"mailbuild/internal/ledger/migrations"
	"mailbuild/internal/stage"
)

// SQLite is a Ledger stored in a SQLite file.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the ledger at path and migrates it
// to the latest schema.
func OpenSQLite(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
	}

	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection. One process
// writes the ledger at a time, so a single connection is enough and keeps
// ":memory:" databases consistent.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return db, nil
}

// Path returns the database file path.
func (s *SQLite) Path() string { return s.path }

func (s *SQLite) Lookup(ctx context.Context, destination, key string) (*stage.UploadRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT destination, object_key, checksum, size, uploaded_at, run_id
		   FROM uploads WHERE destination = ? AND object_key = ?`, destination, key)

	rec, err := scanUpload(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("looking up %s in %s: %w", key, destination, err)
	}
	return rec, nil
}

func (s *SQLite) Record(ctx context.Context, rec stage.UploadRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO uploads (destination, object_key, checksum, size, uploaded_at, run_id)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (destination, object_key) DO UPDATE SET
		   checksum = excluded.checksum,
		   size = excluded.size,
		   uploaded_at = excluded.uploaded_at,
		   run_id = excluded.run_id`,
		rec.Destination, rec.Key, rec.Checksum, rec.Size, rec.UploadedAt.UTC(), rec.RunID)
	if err != nil {
		return fmt.Errorf("recording upload of %s: %w", rec.Key, err)
	}
	return nil
}

func (s *SQLite) Uploads(ctx context.Context, destination string) ([]stage.UploadRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT destination, object_key, checksum, size, uploaded_at, run_id
		   FROM uploads WHERE destination = ? ORDER BY object_key`, destination)
	if err != nil {
		return nil, fmt.Errorf("listing uploads: %w", err)
	}
	defer rows.Close()

	var out []stage.UploadRecord
	for rows.Next() {
		rec, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning upload: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *SQLite) Forget(ctx context.Context, destination string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM uploads WHERE destination = ?`, destination)
	if err != nil {
		return 0, fmt.Errorf("forgetting uploads: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLite) RecordRun(ctx context.Context, run RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, task, status, failed_at, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Task, run.Status, run.FailedAt, run.StartedAt.UTC(), run.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("recording run %s: %w", run.RunID, err)
	}
	return nil
}

func (s *SQLite) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, task, status, failed_at, started_at, finished_at
		   FROM runs ORDER BY started_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.RunID, &r.Task, &r.Status, &r.FailedAt, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUpload(row scanner) (*stage.UploadRecord, error) {
	var rec stage.UploadRecord
	var uploadedAt time.Time
	if err := row.Scan(&rec.Destination, &rec.Key, &rec.Checksum, &rec.Size, &uploadedAt, &rec.RunID); err != nil {
		return nil, err
	}
	rec.UploadedAt = uploadedAt
	return &rec, nil
}

// Compile-time check that SQLite implements Ledger
var _ Ledger = (*SQLite)(nil)
