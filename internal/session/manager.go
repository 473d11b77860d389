// Package session owns the ParsingSession state machine. Sessions move
// Pending -> Processing -> Processed|Failed and are never deleted.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
	"github.com/JakeFAU/metal-release-crawler/internal/metrics"
)

// Manager is the single writer of ParsingSession records.
type Manager struct {
	store  catalog.SessionStore
	ids    catalog.IDGenerator
	clock  catalog.Clock
	logger *zap.Logger
	locks  *keyedMutex
}

// NewManager wires a Manager around its persistence and helpers.
func NewManager(store catalog.SessionStore, ids catalog.IDGenerator, clock catalog.Clock, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:  store,
		ids:    ids,
		clock:  clock,
		logger: logger.Named("session"),
		locks:  newKeyedMutex(),
	}
}

// Create allocates a new Pending session for code and returns its id.
func (m *Manager) Create(ctx context.Context, code catalog.DistributorCode) (string, error) {
	if !code.Valid() {
		return "", fmt.Errorf("create session: unknown distributor code %d", code)
	}
	id, err := m.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	now := m.clock.Now()
	sess := catalog.ParsingSession{
		ID:              id,
		DistributorCode: code,
		Status:          catalog.SessionPending,
		CreatedDate:     now,
		LastUpdateDate:  now,
	}
	if err := m.store.PutSession(ctx, sess); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	metrics.ObserveSession(code.String(), string(catalog.SessionPending))
	m.logger.Info("session created", zap.String("session_id", id), zap.String("distributor", code.String()))
	return id, nil
}

// BeginProcessing moves a session from Pending to Processing.
func (m *Manager) BeginProcessing(ctx context.Context, id string) error {
	return m.transition(ctx, id, catalog.SessionPending, catalog.SessionProcessing, nil)
}

// Complete moves a session from Processing to Processed and stamps ProcessedDate.
func (m *Manager) Complete(ctx context.Context, id string) error {
	return m.transition(ctx, id, catalog.SessionProcessing, catalog.SessionProcessed, func(s *catalog.ParsingSession, now time.Time) {
		s.ProcessedDate = &now
	})
}

// Fail moves a session from Processing to Failed, recording the stage and the
// taxonomy kind of cause.
func (m *Manager) Fail(ctx context.Context, id string, stage catalog.Stage, cause error) error {
	return m.transition(ctx, id, catalog.SessionProcessing, catalog.SessionFailed, func(s *catalog.ParsingSession, _ time.Time) {
		s.FailedStage = stage
		s.ErrorKind = catalog.ErrorKind(cause)
		if cause != nil {
			s.ErrorText = cause.Error()
		}
	})
}

// Get returns a session by id.
func (m *Manager) Get(ctx context.Context, id string) (catalog.ParsingSession, error) {
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return catalog.ParsingSession{}, fmt.Errorf("get session %s: %w", id, err)
	}
	return sess, nil
}

// List returns sessions matching filter.
func (m *Manager) List(ctx context.Context, filter catalog.SessionFilter) ([]catalog.ParsingSession, error) {
	sessions, err := m.store.ListSessions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

func (m *Manager) transition(
	ctx context.Context,
	id string,
	from, to catalog.SessionStatus,
	mutate func(*catalog.ParsingSession, time.Time),
) error {
	unlock := m.locks.Lock(id)
	defer unlock()

	// Terminal writes must land even when the crawl context is already done.
	writeCtx := ctx
	if to.Terminal() {
		writeCtx = context.WithoutCancel(ctx)
	}

	sess, err := m.store.GetSession(writeCtx, id)
	if err != nil {
		return fmt.Errorf("load session %s: %w", id, err)
	}
	if sess.Status != from {
		return &catalog.InvalidTransitionError{SessionID: id, From: sess.Status, To: to}
	}
	now := m.clock.Now()
	sess.Status = to
	sess.LastUpdateDate = now
	if mutate != nil {
		mutate(&sess, now)
	}
	if err := m.store.PutSession(writeCtx, sess); err != nil {
		return fmt.Errorf("save session %s: %w", id, err)
	}

	metrics.ObserveSession(sess.DistributorCode.String(), string(to))
	fields := []zap.Field{
		zap.String("session_id", id),
		zap.String("distributor", sess.DistributorCode.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	}
	if to == catalog.SessionFailed {
		m.logger.Warn("session failed", append(fields,
			zap.String("stage", string(sess.FailedStage)),
			zap.String("error_kind", sess.ErrorKind),
			zap.String("error", sess.ErrorText),
		)...)
		return nil
	}
	m.logger.Info("session transition", fields...)
	return nil
}

// IsInvalidTransition reports whether err rejected a status change.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, catalog.ErrInvalidTransition)
}

// StageFor attributes a failure to the session deadline or to cancellation
// when err carries one, and to fallback otherwise.
func StageFor(err error, fallback catalog.Stage) catalog.Stage {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return catalog.StageDeadline
	case errors.Is(err, context.Canceled):
		return catalog.StageCanceled
	default:
		return fallback
	}
}
