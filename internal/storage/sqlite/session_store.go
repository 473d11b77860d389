// Package sqlite keeps the session audit trail in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
)

const schema = `
CREATE TABLE IF NOT EXISTS parsing_sessions (
	id               TEXT PRIMARY KEY,
	distributor_code INTEGER NOT NULL,
	status           TEXT NOT NULL,
	created_date     TEXT NOT NULL,
	processed_date   TEXT NOT NULL DEFAULT '',
	last_update_date TEXT NOT NULL,
	failed_stage     TEXT NOT NULL DEFAULT '',
	error_kind       TEXT NOT NULL DEFAULT '',
	error_text       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS parsing_sessions_status_idx ON parsing_sessions (status, distributor_code);
`

var columns = []string{
	"id", "distributor_code", "status", "created_date", "processed_date",
	"last_update_date", "failed_stage", "error_kind", "error_text",
}

// SessionStore implements catalog.SessionStore on SQLite.
type SessionStore struct {
	db *sql.DB
}

// Open creates the database file and schema at path when missing.
func Open(ctx context.Context, path string) (*SessionStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?mode=rwc&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &SessionStore{db: db}, nil
}

// Close closes the database.
func (s *SessionStore) Close() error {
	return s.db.Close()
}

// PutSession inserts or replaces a session row.
func (s *SessionStore) PutSession(ctx context.Context, sess catalog.ParsingSession) error {
	processed := ""
	if sess.ProcessedDate != nil {
		processed = formatTime(*sess.ProcessedDate)
	}
	query, args, err := sq.Insert("parsing_sessions").
		Options("OR REPLACE").
		Columns(columns...).
		Values(sess.ID, int(sess.DistributorCode), string(sess.Status), formatTime(sess.CreatedDate),
			processed, formatTime(sess.LastUpdateDate), string(sess.FailedStage), sess.ErrorKind, sess.ErrorText).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return &catalog.StorageError{Kind: catalog.StorageIOFailure, Path: "session/" + sess.ID, Err: err}
	}
	return nil
}

// GetSession returns a session by id.
func (s *SessionStore) GetSession(ctx context.Context, id string) (catalog.ParsingSession, error) {
	query, args, err := sq.Select(columns...).From("parsing_sessions").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return catalog.ParsingSession{}, fmt.Errorf("build select: %w", err)
	}
	sess, err := scan(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.ParsingSession{}, &catalog.StorageError{Kind: catalog.StorageNotFound, Path: "session/" + id}
	}
	if err != nil {
		return catalog.ParsingSession{}, &catalog.StorageError{Kind: catalog.StorageIOFailure, Path: "session/" + id, Err: err}
	}
	return sess, nil
}

// ListSessions returns matching sessions, newest first.
func (s *SessionStore) ListSessions(ctx context.Context, filter catalog.SessionFilter) ([]catalog.ParsingSession, error) {
	q := sq.Select(columns...).From("parsing_sessions").OrderBy("created_date DESC", "id DESC")
	if filter.Status != "" {
		q = q.Where(sq.Eq{"status": string(filter.Status)})
	}
	if filter.DistributorCode != 0 {
		q = q.Where(sq.Eq{"distributor_code": int(filter.DistributorCode)})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &catalog.StorageError{Kind: catalog.StorageIOFailure, Path: "session", Err: err}
	}
	defer rows.Close() //nolint:errcheck

	out := make([]catalog.ParsingSession, 0)
	for rows.Next() {
		sess, err := scan(rows)
		if err != nil {
			return nil, &catalog.StorageError{Kind: catalog.StorageIOFailure, Path: "session", Err: err}
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, &catalog.StorageError{Kind: catalog.StorageIOFailure, Path: "session", Err: err}
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (catalog.ParsingSession, error) {
	var (
		sess                         catalog.ParsingSession
		code                         int
		status, stage                string
		created, processed, modified string
	)
	if err := row.Scan(&sess.ID, &code, &status, &created, &processed, &modified,
		&stage, &sess.ErrorKind, &sess.ErrorText); err != nil {
		return catalog.ParsingSession{}, err
	}
	var err error
	if sess.CreatedDate, err = parseTime(created); err != nil {
		return catalog.ParsingSession{}, err
	}
	if sess.LastUpdateDate, err = parseTime(modified); err != nil {
		return catalog.ParsingSession{}, err
	}
	if processed != "" {
		ts, err := parseTime(processed)
		if err != nil {
			return catalog.ParsingSession{}, err
		}
		sess.ProcessedDate = &ts
	}
	sess.DistributorCode = catalog.DistributorCode(code)
	sess.Status = catalog.SessionStatus(status)
	sess.FailedStage = catalog.Stage(stage)
	return sess, nil
}

// Timestamps are fixed-width UTC so text order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
