// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuGH/vidlint/internal/persistence/sqlite"
	"github.com/rs/zerolog"
)

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		job_id     TEXT NOT NULL,
		status     TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		error      TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_job ON sessions(job_id);`,
}

// SqliteStore survives restarts on a local disk.
type SqliteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSqliteStore opens (and migrates) the database at path. A failed quick
// integrity check is logged but not fatal.
func NewSqliteStore(ctx context.Context, path string, logger zerolog.Logger) (*SqliteStore, error) {
	db, err := sqlite.Open(path, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if err := sqlite.Migrate(ctx, db, sqliteMigrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session store: %w", err)
	}
	if issues, err := sqlite.VerifyIntegrity(ctx, db, false); err != nil || len(issues) > 0 {
		logger.Warn().
			Err(err).
			Strs("issues", issues).
			Str("event", "session.integrity_check_failed").
			Str("path", path).
			Msg("session database failed quick_check")
	}
	return &SqliteStore{db: db, now: time.Now}, nil
}

func (s *SqliteStore) Create(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, job_id, status, created_at, updated_at, error) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.JobID, string(rec.Status),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano), rec.UpdatedAt.UTC().Format(time.RFC3339Nano), rec.Error)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrExists
	}
	return err
}

func (s *SqliteStore) Get(ctx context.Context, sessionID string) (Record, error) {
	return scanRecord(s.db.QueryRowContext(ctx,
		`SELECT session_id, job_id, status, created_at, updated_at, error FROM sessions WHERE session_id = ?`, sessionID))
}

func (s *SqliteStore) Advance(ctx context.Context, sessionID string, to Status, errMsg string) (Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, err
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := scanRecord(tx.QueryRowContext(ctx,
		`SELECT session_id, job_id, status, created_at, updated_at, error FROM sessions WHERE session_id = ?`, sessionID))
	if err != nil {
		return Record{}, err
	}
	next, err := Advance(rec, to, errMsg, s.now())
	if err != nil {
		return rec, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ?, error = ? WHERE session_id = ?`,
		string(next.Status), next.UpdatedAt.Format(time.RFC3339Nano), next.Error, sessionID); err != nil {
		return rec, err
	}
	return next, tx.Commit()
}

func (s *SqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *SqliteStore) Close() error                   { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var status, created, updated string
	err := row.Scan(&rec.SessionID, &rec.JobID, &status, &created, &updated, &rec.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	rec.Status = Status(status)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return rec, nil
}
