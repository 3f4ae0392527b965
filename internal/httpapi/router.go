// Package httpapi is the HTTP surface: connection management, sync
// config CRUD, manual run triggers, and run history. Handlers stay
// thin; run semantics live in engine and creds.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/tablebridge/internal/auth"
	"github.com/erauner12/tablebridge/internal/creds"
	"github.com/erauner12/tablebridge/internal/engine"
	"github.com/erauner12/tablebridge/internal/store"
	"github.com/erauner12/tablebridge/internal/syncx"
)

// The store interfaces mirror the slices of the store services the
// handlers touch, same as the engine does it.

type UserDirectory interface {
	Get(ctx context.Context, id string) (*store.AppUser, error)
	ResolveSub(ctx context.Context, sub string) (string, error)
}

type ConfigStore interface {
	Create(ctx context.Context, cfg *store.SyncConfig) error
	Get(ctx context.Context, userID string, id uuid.UUID) (*store.SyncConfig, error)
	List(ctx context.Context, userID string) ([]store.SyncConfig, error)
	CountForUser(ctx context.Context, userID string) (int, error)
	Update(ctx context.Context, cfg *store.SyncConfig) (bool, error)
	Delete(ctx context.Context, userID string, id uuid.UUID) (bool, error)
}

type LogStore interface {
	Recent(ctx context.Context, userID string, configID uuid.UUID, cursor syncx.Cursor, limit int) ([]store.SyncLog, string, error)
}

type UsageStore interface {
	Get(ctx context.Context, userID, month string) (*store.UsageStats, error)
	IncrementConfigsCreated(ctx context.Context, userID, month string) error
}

// CheckpointStore drops baselines invalidated by a mapping change
type CheckpointStore interface {
	Delete(ctx context.Context, configID uuid.UUID) error
}

// Connections is the slice of *creds.Manager the connection and
// diagnostics handlers use.
type Connections interface {
	StoreTokens(ctx context.Context, userID, service string, ts creds.TokenSet) error
	ConnectionStatus(ctx context.Context, userID, service string) (*creds.Status, error)
	ClearReauth(ctx context.Context, userID string) error
	Diagnostics(ctx context.Context, userID string) (*creds.Report, error)
}

// SyncRunner runs one config; *engine.Runner satisfies it.
type SyncRunner interface {
	Run(ctx context.Context, cfg *store.SyncConfig, trigger store.Trigger, opts engine.RunOptions) (*engine.RunResult, error)
}

// Server holds dependencies for HTTP handlers
type Server struct {
	Users       UserDirectory
	Configs     ConfigStore
	Logs        LogStore
	Usage       UsageStore
	Checkpoints CheckpointStore // optional
	Creds       Connections
	Runner      SyncRunner

	// Metrics serves GET /metrics when set
	Metrics http.Handler
	// IDColumn is the reserved record id column; mappings may not use it
	IDColumn int
	Clock    clockwork.Clock
}

func (s *Server) clock() clockwork.Clock {
	if s.Clock == nil {
		return clockwork.NewRealClock()
	}
	return s.Clock
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// writeError writes a JSON error body with the given status code
func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	if code >= 500 {
		log.Ctx(r.Context()).Error().Int("status", code).Str("path", r.URL.Path).Msg(msg)
	}
	writeJSON(w, code, map[string]string{"error": msg})
}

// parseLimit parses a limit query param with default and max
func parseLimit(q string, def, max int) int {
	if q == "" {
		return def
	}
	n, err := strconv.Atoi(q)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// parseConfigID extracts and validates the config id URL parameter
func parseConfigID(r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// Routes creates the HTTP router with all API endpoints
func (s *Server) Routes(jwt auth.JWTCfg) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(middleware.Recoverer)

	// Health check and metrics (unauthenticated)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	})
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics)
	}

	// Manual runs share one budget across both trigger endpoints
	triggers := NewRateLimiter(TriggerRateLimit)

	// Everything else requires authentication
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.Users, jwt))

		// Connections
		r.Post("/v1/connections/clear-reauth", s.ClearReauth)
		r.Post("/v1/connections/{service}/tokens", s.StoreConnectionTokens)
		r.Get("/v1/connections/{service}", s.GetConnection)
		r.Get("/v1/diagnostics", s.Diagnostics)

		// Sync configs
		r.Post("/v1/sync-configs", s.CreateSyncConfig)
		r.Get("/v1/sync-configs", s.ListSyncConfigs)
		r.Get("/v1/sync-configs/{id}", s.GetSyncConfig)
		r.Patch("/v1/sync-configs/{id}", s.PatchSyncConfig)
		r.Delete("/v1/sync-configs/{id}", s.DeleteSyncConfig)

		// Runs
		r.With(triggers.Middleware).Post("/v1/sync-configs/{id}/trigger", s.TriggerSync)
		r.With(triggers.Middleware).Post("/v1/sync-configs/{id}/initial-sync", s.InitialSync)
		r.Get("/v1/sync-configs/{id}/logs", s.ListSyncLogs)
	})

	log.Info().Msg("HTTP routes registered")
	return r
}
