package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/shardkit/internal/store"
)

const (
	defaultShardLimit = 100
	maxShardLimit     = 1000
	progressTimeout   = 3 * time.Second
)

// RunHandler exposes read-only persisted run progress.
type RunHandler struct {
	repo    store.ProgressRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunHandler wires the repository and logger.
func NewRunHandler(repo store.ProgressRepository, logger *zap.Logger) *RunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunHandler{
		repo:    repo,
		timeout: progressTimeout,
		logger:  logger,
	}
}

// GetRun handles GET /v1/runs/{run_id}. It returns {"run": {...}} on success,
// 400 for malformed IDs, 404 when the repository reports store.ErrNotFound,
// 503 if the repo is not initialized, or 500 otherwise.
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "progress repository unavailable")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.repo.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("get run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": toRunDTO(run)})
}

// ListRunShards handles GET /v1/runs/{run_id}/shards?limit=&offset=.
func (h *RunHandler) ListRunShards(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "progress repository unavailable")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultShardLimit, maxShardLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	shards, err := h.repo.ListRunShards(ctx, runID, limit, offset)
	if err != nil {
		h.logger.Error("list run shards failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list run shards")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"shards": toShardDTOs(shards),
	})
}

func parseRunID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "run_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("run_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid run_id")
	}
	return id, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func toRunDTO(run store.Run) runDTO {
	return runDTO{
		ID:         run.ID.String(),
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Status:     string(run.Status),
		Shards:     run.Shards,
		Workers:    run.Workers,
		Items:      run.Items,
		Error:      run.ErrorMessage,
	}
}

func toShardDTOs(in []store.ShardProgress) []shardDTO {
	out := make([]shardDTO, 0, len(in))
	for _, s := range in {
		out = append(out, shardDTO{
			Shard:      s.Shard,
			Worker:     s.Worker,
			Items:      s.Items,
			Complete:   s.Complete,
			LastUpdate: s.LastUpdate,
		})
	}
	return out
}

type runDTO struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	Shards     int        `json:"shards"`
	Workers    int        `json:"workers"`
	Items      int64      `json:"items"`
	Error      *string    `json:"error,omitempty"`
}

type shardDTO struct {
	Shard      int       `json:"shard"`
	Worker     int       `json:"worker"`
	Items      int64     `json:"items"`
	Complete   bool      `json:"complete"`
	LastUpdate time.Time `json:"last_update"`
}
