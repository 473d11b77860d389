package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
)

const sessionsTable = "parsing_sessions"

var sessionColumns = []string{
	"id",
	"distributor_code",
	"status",
	"created_date",
	"COALESCE(processed_date, " + zeroTime + ")",
	"last_update_date",
	"failed_stage",
	"error_kind",
	"error_text",
}

// SessionStore implements catalog.SessionStore on the parsing_sessions table.
type SessionStore struct {
	db DB
}

// NewSessionStore wraps db.
func NewSessionStore(db DB) (*SessionStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &SessionStore{db: db}, nil
}

// PutSession inserts or replaces a session row.
func (s *SessionStore) PutSession(ctx context.Context, sess catalog.ParsingSession) error {
	query, args, err := psql.Insert(sessionsTable).
		Columns("id", "distributor_code", "status", "created_date", "processed_date",
			"last_update_date", "failed_stage", "error_kind", "error_text").
		Values(sess.ID, int(sess.DistributorCode), string(sess.Status), sess.CreatedDate,
			nullablePtr(sess.ProcessedDate), sess.LastUpdateDate, string(sess.FailedStage),
			sess.ErrorKind, sess.ErrorText).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			processed_date = EXCLUDED.processed_date,
			last_update_date = EXCLUDED.last_update_date,
			failed_stage = EXCLUDED.failed_stage,
			error_kind = EXCLUDED.error_kind,
			error_text = EXCLUDED.error_text`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return storageErr("session/"+sess.ID, err)
	}
	return nil
}

// GetSession returns a session by id.
func (s *SessionStore) GetSession(ctx context.Context, id string) (catalog.ParsingSession, error) {
	query, args, err := psql.Select(sessionColumns...).From(sessionsTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return catalog.ParsingSession{}, fmt.Errorf("build select: %w", err)
	}
	sess, err := scanSession(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		return catalog.ParsingSession{}, storageErr("session/"+id, err)
	}
	return sess, nil
}

// ListSessions returns matching sessions, newest first.
func (s *SessionStore) ListSessions(ctx context.Context, filter catalog.SessionFilter) ([]catalog.ParsingSession, error) {
	query, args, err := sessionListQuery(filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("session", err)
	}
	defer rows.Close()

	out := make([]catalog.ParsingSession, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, storageErr("session", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("session", err)
	}
	return out, nil
}

// sessionListQuery builds the filtered listing, newest first.
func sessionListQuery(filter catalog.SessionFilter) sq.SelectBuilder {
	q := psql.Select(sessionColumns...).From(sessionsTable).OrderBy("created_date DESC", "id DESC")
	if filter.Status != "" {
		q = q.Where(sq.Eq{"status": string(filter.Status)})
	}
	if filter.DistributorCode != 0 {
		q = q.Where(sq.Eq{"distributor_code": int(filter.DistributorCode)})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	return q
}

func scanSession(row pgx.Row) (catalog.ParsingSession, error) {
	var (
		sess      catalog.ParsingSession
		code      int
		status    string
		stage     string
		processed time.Time
	)
	if err := row.Scan(&sess.ID, &code, &status, &sess.CreatedDate, &processed,
		&sess.LastUpdateDate, &stage, &sess.ErrorKind, &sess.ErrorText); err != nil {
		return catalog.ParsingSession{}, err
	}
	sess.DistributorCode = catalog.DistributorCode(code)
	sess.Status = catalog.SessionStatus(status)
	sess.FailedStage = catalog.Stage(stage)
	sess.ProcessedDate = timePtr(processed)
	return sess, nil
}
