package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/tablebridge/internal/auth"
	"github.com/erauner12/tablebridge/internal/creds"
	"github.com/erauner12/tablebridge/internal/store"
)

// storeTokensReq is the body for POST /v1/connections/{service}/tokens.
// The OAuth callback sends either expiresAt or expiresIn, whichever the
// provider reported.
type storeTokensReq struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	ExpiresAt    *time.Time `json:"expiresAt"`
	ExpiresIn    int        `json:"expiresIn"`
	AccountEmail string     `json:"accountEmail"`
}

// serviceParam validates the {service} URL parameter
func serviceParam(r *http.Request) (string, bool) {
	service := chi.URLParam(r, "service")
	switch service {
	case store.ServiceAirtable, store.ServiceGoogle:
		return service, true
	}
	return "", false
}

// StoreConnectionTokens handles POST /v1/connections/{service}/tokens
func (s *Server) StoreConnectionTokens(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserID(ctx)

	service, ok := serviceParam(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "unknown service")
		return
	}

	var req storeTokensReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AccessToken == "" || req.RefreshToken == "" {
		writeError(w, r, http.StatusBadRequest, "accessToken and refreshToken are required")
		return
	}

	ts := creds.TokenSet{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		AccountEmail: req.AccountEmail,
	}
	switch {
	case req.ExpiresAt != nil:
		ts.ExpiresAt = *req.ExpiresAt
	case req.ExpiresIn > 0:
		ts.ExpiresAt = s.clock().Now().Add(time.Duration(req.ExpiresIn) * time.Second)
	}

	if err := s.Creds.StoreTokens(ctx, userID, service, ts); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("service", service).Msg("failed to store tokens")
		writeError(w, r, http.StatusInternalServerError, "failed to store tokens")
		return
	}

	status, err := s.Creds.ConnectionStatus(ctx, userID, service)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("service", service).Msg("failed to load connection status")
		writeError(w, r, http.StatusInternalServerError, "failed to load connection status")
		return
	}
	writeJSON(w, http.StatusCreated, status)
}

// GetConnection handles GET /v1/connections/{service}
func (s *Server) GetConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserID(ctx)

	service, ok := serviceParam(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "unknown service")
		return
	}

	status, err := s.Creds.ConnectionStatus(ctx, userID, service)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("service", service).Msg("failed to load connection status")
		writeError(w, r, http.StatusInternalServerError, "failed to load connection status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ClearReauth handles POST /v1/connections/clear-reauth. Reconnecting
// stores fresh tokens; this only re-arms paused connections after the
// upstream grant was restored out of band.
func (s *Server) ClearReauth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserID(ctx)

	if err := s.Creds.ClearReauth(ctx, userID); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to clear reauth flags")
		writeError(w, r, http.StatusInternalServerError, "failed to clear reauth flags")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Diagnostics handles GET /v1/diagnostics
func (s *Server) Diagnostics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserID(ctx)

	report, err := s.Creds.Diagnostics(ctx, userID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to run diagnostics")
		writeError(w, r, http.StatusInternalServerError, "failed to run diagnostics")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
