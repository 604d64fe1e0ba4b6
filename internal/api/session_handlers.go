package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/shardkit/internal/stats"
	"github.com/JakeFAU/shardkit/internal/stats/accum"
)

// SessionHandler exposes statistic sessions held by a stats.Manager.
type SessionHandler struct {
	manager *stats.Manager
	timeout time.Duration
	logger  *zap.Logger
}

// NewSessionHandler wires the manager and logger.
func NewSessionHandler(manager *stats.Manager, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{
		manager: manager,
		timeout: progressTimeout,
		logger:  logger,
	}
}

// ListSessions handles GET /v1/sessions.
func (h *SessionHandler) ListSessions(w http.ResponseWriter, _ *http.Request) {
	if h.manager == nil {
		writeError(w, http.StatusServiceUnavailable, "sessions unavailable")
		return
	}
	sessions := h.manager.Sessions()
	out := make([]sessionDTO, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionDTO{
			ID:      s.ID().String(),
			Name:    s.Name(),
			Created: s.Created(),
			Active:  h.manager.IsActive(s),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// GetSessionStats handles GET /v1/sessions/{session_id}/stats. Distribution
// values are returned as summaries rather than raw samples.
func (h *SessionHandler) GetSessionStats(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil {
		writeError(w, http.StatusServiceUnavailable, "sessions unavailable")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "session_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session_id")
		return
	}
	session, ok := h.manager.Session(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	snapshot, err := session.Registry().Snapshot(r.Context())
	if err != nil {
		if errors.Is(err, stats.ErrClosed) {
			writeError(w, http.StatusGone, "session closed")
			return
		}
		h.logger.Error("session snapshot failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read session")
		return
	}
	for key, value := range snapshot {
		if dist, ok := value.(accum.DistributionValue); ok {
			summary, err := dist.Summarize()
			if err != nil {
				h.logger.Warn("summarize distribution failed", zap.String("key", key), zap.Error(err))
				continue
			}
			snapshot[key] = summary
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session": sessionDTO{
			ID:      session.ID().String(),
			Name:    session.Name(),
			Created: session.Created(),
			Active:  h.manager.IsActive(session),
		},
		"stats": snapshot,
	})
}

type sessionDTO struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Created time.Time `json:"created"`
	Active  bool      `json:"active"`
}
