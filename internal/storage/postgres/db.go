// Package postgres provides Postgres-backed catalog and session stores.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// DB is the subset of pgxpool.Pool the stores use.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// psql builds statements with $n placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Open connects a pool using cfg.
func Open(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// Schema creates the catalog and session tables.
const Schema = `
CREATE TABLE IF NOT EXISTS parsing_sessions (
	id               TEXT PRIMARY KEY,
	distributor_code INTEGER NOT NULL,
	status           TEXT NOT NULL,
	created_date     TIMESTAMPTZ NOT NULL,
	processed_date   TIMESTAMPTZ,
	last_update_date TIMESTAMPTZ NOT NULL,
	failed_stage     TEXT NOT NULL DEFAULT '',
	error_kind       TEXT NOT NULL DEFAULT '',
	error_text       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS parsing_sessions_status_idx ON parsing_sessions (status, distributor_code);

CREATE TABLE IF NOT EXISTS albums (
	id                  TEXT PRIMARY KEY,
	distributor_code    INTEGER NOT NULL,
	sku                 TEXT NOT NULL,
	band_name           TEXT NOT NULL,
	name                TEXT NOT NULL,
	raw_name            TEXT NOT NULL,
	price               DOUBLE PRECISION NOT NULL,
	media               TEXT NOT NULL,
	image_paths         TEXT[] NOT NULL DEFAULT '{}',
	image_source_urls   TEXT[] NOT NULL DEFAULT '{}',
	purchase_url        TEXT NOT NULL DEFAULT '',
	release_date        TIMESTAMPTZ,
	genre               TEXT NOT NULL DEFAULT '',
	label               TEXT NOT NULL DEFAULT '',
	press               TEXT NOT NULL DEFAULT '',
	description         TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL DEFAULT '',
	parsing_session_id  TEXT NOT NULL,
	processed_status    TEXT NOT NULL,
	created_date        TIMESTAMPTZ NOT NULL,
	last_update_date    TIMESTAMPTZ NOT NULL,
	last_checked_date   TIMESTAMPTZ NOT NULL,
	last_published_date TIMESTAMPTZ,
	UNIQUE (distributor_code, sku)
);
`

// Migrate applies Schema.
func Migrate(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// zeroTime stands in for NULL timestamps on read.
const zeroTime = "'0001-01-01 00:00:00+00'::timestamptz"

func nullable(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullablePtr(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return *t
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

// storageErr wraps a database failure, mapping no-rows onto NotFound.
func storageErr(path string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return &catalog.StorageError{Kind: catalog.StorageNotFound, Path: path}
	}
	return &catalog.StorageError{Kind: catalog.StorageIOFailure, Path: path, Err: err}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
