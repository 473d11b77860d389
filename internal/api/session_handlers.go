package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
	"github.com/JakeFAU/metal-release-crawler/internal/id/uuid"
)

const (
	defaultSessionLimit = 50
	maxSessionLimit     = 500
	sessionTimeout      = 3 * time.Second
)

// SessionHandler exposes read-only parsing session endpoints.
type SessionHandler struct {
	sessions SessionReader
	timeout  time.Duration
	logger   *zap.Logger
}

// NewSessionHandler wires the session reader and logger.
func NewSessionHandler(sessions SessionReader, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{
		sessions: sessions,
		timeout:  sessionTimeout,
		logger:   logger,
	}
}

// ListSessions handles GET /v1/sessions?status=&distributor=&limit=. It
// returns {"sessions": [...]} newest first, 400 for invalid filters, 503 when
// no session store is wired, or 500 if the store call fails.
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}
	filter, err := parseSessionFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sessions, err := h.sessions.List(ctx, filter)
	if err != nil {
		h.logger.Error("list sessions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	out := make([]sessionDTO, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionDTO(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// GetSession handles GET /v1/sessions/{session_id}. It returns
// {"session": {...}}, 400 for malformed ids, 404 for unknown sessions, or 500.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}
	id, err := uuid.Canonical(chi.URLParam(r, "session_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session_id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sess, err := h.sessions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("get session failed", zap.String("session_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": toSessionDTO(sess)})
}

func parseSessionFilter(r *http.Request) (catalog.SessionFilter, error) {
	q := r.URL.Query()
	filter := catalog.SessionFilter{Limit: defaultSessionLimit}
	if raw := q.Get("limit"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val <= 0 {
			return filter, errors.New("invalid limit")
		}
		filter.Limit = min(val, maxSessionLimit)
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, err := parseStatus(raw)
		if err != nil {
			return filter, err
		}
		filter.Status = status
	}
	if raw := strings.TrimSpace(q.Get("distributor")); raw != "" {
		code, err := catalog.ParseDistributorCode(raw)
		if err != nil {
			return filter, errors.New("invalid distributor")
		}
		filter.DistributorCode = code
	}
	return filter, nil
}

func parseStatus(input string) (catalog.SessionStatus, error) {
	switch strings.ToLower(input) {
	case "pending":
		return catalog.SessionPending, nil
	case "processing", "running":
		return catalog.SessionProcessing, nil
	case "processed", "success":
		return catalog.SessionProcessed, nil
	case "failed", "error":
		return catalog.SessionFailed, nil
	default:
		return "", errors.New("invalid status")
	}
}

type sessionDTO struct {
	ID            string     `json:"id"`
	Distributor   string     `json:"distributor"`
	Code          int        `json:"distributor_code"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	LastUpdatedAt time.Time  `json:"last_updated_at"`
	FailedStage   string     `json:"failed_stage,omitempty"`
	ErrorKind     string     `json:"error_kind,omitempty"`
	ErrorText     string     `json:"error_text,omitempty"`
}

func toSessionDTO(s catalog.ParsingSession) sessionDTO {
	return sessionDTO{
		ID:            s.ID,
		Distributor:   s.DistributorCode.String(),
		Code:          int(s.DistributorCode),
		Status:        string(s.Status),
		CreatedAt:     s.CreatedDate,
		ProcessedAt:   s.ProcessedDate,
		LastUpdatedAt: s.LastUpdateDate,
		FailedStage:   string(s.FailedStage),
		ErrorKind:     s.ErrorKind,
		ErrorText:     s.ErrorText,
	}
}
