package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/tablebridge/internal/auth"
	"github.com/erauner12/tablebridge/internal/changeset"
	"github.com/erauner12/tablebridge/internal/engine"
	"github.com/erauner12/tablebridge/internal/store"
	"github.com/erauner12/tablebridge/internal/syncerr"
	"github.com/erauner12/tablebridge/internal/syncx"
)

// runDetails is the counters block of a trigger response
type runDetails struct {
	Added       int             `json:"added"`
	Updated     int             `json:"updated"`
	Deleted     int             `json:"deleted"`
	ErrorCount  int             `json:"errorCount"`
	Duration    string          `json:"duration"`
	Direction   store.Direction `json:"direction"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt time.Time       `json:"completedAt"`
}

// runResponse is the body for trigger and initial-sync responses
type runResponse struct {
	Status            string              `json:"status"`
	DryRun            bool                `json:"dryRun,omitempty"`
	Details           runDetails          `json:"details"`
	Errors            []string            `json:"errors,omitempty"`
	Warnings          []string            `json:"warnings,omitempty"`
	Conflicts         *changeset.Summary  `json:"conflicts,omitempty"`
	AppliedToSheets   *engine.ApplyCounts `json:"appliedToSheets,omitempty"`
	AppliedToAirtable *engine.ApplyCounts `json:"appliedToAirtable,omitempty"`
}

func toRunResponse(res *engine.RunResult) runResponse {
	return runResponse{
		Status: res.Status,
		DryRun: res.DryRun,
		Details: runDetails{
			Added:       res.Added,
			Updated:     res.Updated,
			Deleted:     res.Deleted,
			ErrorCount:  res.ErrorCount,
			Duration:    res.Duration().String(),
			Direction:   res.Direction,
			StartedAt:   res.StartedAt,
			CompletedAt: res.CompletedAt,
		},
		Errors:            res.Errors,
		Warnings:          res.Warnings,
		Conflicts:         res.Conflicts,
		AppliedToSheets:   res.ToSheets,
		AppliedToAirtable: res.ToAirtable,
	}
}

// refusalStatus maps a run refusal to its HTTP status
func refusalStatus(err error) int {
	switch syncerr.CodeOf(err) {
	case syncerr.CodeConcurrency:
		return http.StatusConflict
	case syncerr.CodeSubscription:
		return http.StatusPaymentRequired
	case syncerr.CodeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// runSync loads the config and hands it to the runner, translating a
// refusal into the right status code
func (s *Server) runSync(w http.ResponseWriter, r *http.Request, trigger store.Trigger, opts engine.RunOptions) {
	ctx := r.Context()
	userID := auth.UserID(ctx)

	id, ok := parseConfigID(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid sync config id")
		return
	}
	cfg, err := s.Configs.Get(ctx, userID, id)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to load sync config")
		writeError(w, r, http.StatusInternalServerError, "failed to load sync config")
		return
	}
	if cfg == nil {
		writeError(w, r, http.StatusNotFound, "sync config not found")
		return
	}

	res, err := s.Runner.Run(ctx, cfg, trigger, opts)
	if err != nil {
		status := refusalStatus(err)
		if status == http.StatusInternalServerError {
			log.Ctx(ctx).Error().Err(err).Str("config", id.String()).Msg("sync run failed to start")
			writeError(w, r, status, "sync run failed to start")
			return
		}
		writeError(w, r, status, syncerr.UserMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(res))
}

// TriggerSync handles POST /v1/sync-configs/{id}/trigger
func (s *Server) TriggerSync(w http.ResponseWriter, r *http.Request) {
	s.runSync(w, r, store.TriggerManual, engine.RunOptions{})
}

// initialSyncReq is the body for POST /v1/sync-configs/{id}/initial-sync
type initialSyncReq struct {
	DryRun bool `json:"dryRun"`
}

// InitialSync handles POST /v1/sync-configs/{id}/initial-sync. An
// initial run clears extra rows and records on the target regardless
// of the config flags; dryRun previews that.
func (s *Server) InitialSync(w http.ResponseWriter, r *http.Request) {
	var req initialSyncReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	s.runSync(w, r, store.TriggerInitial, engine.RunOptions{Initial: true, DryRun: req.DryRun})
}

// syncLogResponse is the API shape of one run's journal entry
type syncLogResponse struct {
	ID            uuid.UUID          `json:"id"`
	Status        string             `json:"status"`
	Trigger       store.Trigger      `json:"trigger"`
	Direction     store.Direction    `json:"direction"`
	RecordsSynced int                `json:"recordsSynced"`
	RecordsFailed int                `json:"recordsFailed"`
	Errors        []string           `json:"errors,omitempty"`
	Warnings      int                `json:"warnings,omitempty"`
	Conflicts     *changeset.Summary `json:"conflicts,omitempty"`
	StartedAt     time.Time          `json:"startedAt"`
	CompletedAt   *time.Time         `json:"completedAt,omitempty"`
}

// ListSyncLogs handles GET /v1/sync-configs/{id}/logs
func (s *Server) ListSyncLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserID(ctx)

	id, ok := parseConfigID(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid sync config id")
		return
	}

	limit := parseLimit(r.URL.Query().Get("limit"), 20, 100)
	cur, ok := syncx.DecodeCursor(r.URL.Query().Get("cursor"))
	if !ok {
		cur = syncx.Cursor{Ms: 0, UID: uuid.Nil}
	}

	logs, next, err := s.Logs.Recent(ctx, userID, id, cur, limit)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list sync logs")
		writeError(w, r, http.StatusInternalServerError, "failed to list sync logs")
		return
	}

	out := make([]syncLogResponse, 0, len(logs))
	for i := range logs {
		lg := &logs[i]
		out = append(out, syncLogResponse{
			ID:            lg.ID,
			Status:        lg.Status,
			Trigger:       lg.Trigger,
			Direction:     lg.Direction,
			RecordsSynced: lg.RecordsSynced,
			RecordsFailed: lg.RecordsFailed,
			Errors:        lg.Errors,
			Warnings:      lg.Warnings,
			Conflicts:     lg.Conflicts,
			StartedAt:     lg.StartedAt,
			CompletedAt:   lg.CompletedAt,
		})
	}

	resp := map[string]any{"logs": out}
	if next != "" {
		resp["nextCursor"] = next
	}
	writeJSON(w, http.StatusOK, resp)
}
