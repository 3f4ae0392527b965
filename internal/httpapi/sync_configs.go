package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/tablebridge/internal/auth"
	"github.com/erauner12/tablebridge/internal/changeset"
	"github.com/erauner12/tablebridge/internal/plans"
	"github.com/erauner12/tablebridge/internal/store"
)

// syncConfigResponse is the API shape of a sync config
type syncConfigResponse struct {
	ID                 uuid.UUID          `json:"id"`
	AirtableBaseID     string             `json:"airtableBaseId"`
	AirtableTableID    string             `json:"airtableTableId"`
	AirtableViewID     string             `json:"airtableViewId,omitempty"`
	SpreadsheetID      string             `json:"spreadsheetId"`
	SheetID            int64              `json:"sheetId"`
	SheetName          string             `json:"sheetName"`
	FieldMapping       map[string]int     `json:"fieldMapping"`
	Direction          store.Direction    `json:"direction"`
	ConflictPolicy     changeset.Strategy `json:"conflictPolicy"`
	Active             bool               `json:"active"`
	Strict             bool               `json:"strict"`
	CreateMissingLinks bool               `json:"createMissingLinks"`
	DeleteExtraRows    bool               `json:"deleteExtraRows"`
	DeleteExtraRecords bool               `json:"deleteExtraRecords"`
	LastSyncAt         *time.Time         `json:"lastSyncAt,omitempty"`
	LastSyncStatus     string             `json:"lastSyncStatus,omitempty"`
	LastError          string             `json:"lastError,omitempty"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

func toConfigResponse(cfg *store.SyncConfig) syncConfigResponse {
	return syncConfigResponse{
		ID:                 cfg.ID,
		AirtableBaseID:     cfg.AirtableBaseID,
		AirtableTableID:    cfg.AirtableTableID,
		AirtableViewID:     cfg.AirtableViewID,
		SpreadsheetID:      cfg.SpreadsheetID,
		SheetID:            cfg.SheetID,
		SheetName:          cfg.SheetName,
		FieldMapping:       cfg.FieldMapping,
		Direction:          cfg.Direction,
		ConflictPolicy:     cfg.ConflictPolicy,
		Active:             cfg.Active,
		Strict:             cfg.Strict,
		CreateMissingLinks: cfg.CreateMissingLinks,
		DeleteExtraRows:    cfg.DeleteExtraRows,
		DeleteExtraRecords: cfg.DeleteExtraRecords,
		LastSyncAt:         cfg.LastSyncAt,
		LastSyncStatus:     cfg.LastSyncStatus,
		LastError:          cfg.LastError,
		CreatedAt:          cfg.CreatedAt,
		UpdatedAt:          cfg.UpdatedAt,
	}
}

// createConfigReq is the body for POST /v1/sync-configs
type createConfigReq struct {
	AirtableBaseID     string             `json:"airtableBaseId"`
	AirtableTableID    string             `json:"airtableTableId"`
	AirtableViewID     string             `json:"airtableViewId"`
	SpreadsheetID      string             `json:"spreadsheetId"`
	SheetID            int64              `json:"sheetId"`
	SheetName          string             `json:"sheetName"`
	FieldMapping       map[string]int     `json:"fieldMapping"`
	Direction          store.Direction    `json:"direction"`
	ConflictPolicy     changeset.Strategy `json:"conflictPolicy"`
	Active             *bool              `json:"active"`
	Strict             bool               `json:"strict"`
	CreateMissingLinks bool               `json:"createMissingLinks"`
	DeleteExtraRows    bool               `json:"deleteExtraRows"`
	DeleteExtraRecords bool               `json:"deleteExtraRecords"`
}

// validateMapping checks the structural rules a mapping must satisfy
// before any schema is known. idColumn is reserved for record ids.
func validateMapping(mapping map[string]int, idColumn int) string {
	if len(mapping) == 0 {
		return "fieldMapping must map at least one field"
	}
	byColumn := make(map[int]string, len(mapping))
	for fieldID, col := range mapping {
		if fieldID == "" {
			return "fieldMapping contains an empty field id"
		}
		if col < 0 {
			return fmt.Sprintf("field %s maps to negative column %d", fieldID, col)
		}
		if col == idColumn {
			return fmt.Sprintf("column %d is reserved for record ids", idColumn)
		}
		if other, dup := byColumn[col]; dup {
			return fmt.Sprintf("fields %s and %s both map to column %d", other, fieldID, col)
		}
		byColumn[col] = fieldID
	}
	return ""
}

// CreateSyncConfig handles POST /v1/sync-configs
func (s *Server) CreateSyncConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserID(ctx)

	var req createConfigReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.AirtableBaseID == "" || req.AirtableTableID == "" {
		writeError(w, r, http.StatusBadRequest, "airtableBaseId and airtableTableId are required")
		return
	}
	if req.SpreadsheetID == "" || req.SheetName == "" {
		writeError(w, r, http.StatusBadRequest, "spreadsheetId and sheetName are required")
		return
	}
	if !req.Direction.Valid() {
		writeError(w, r, http.StatusBadRequest, "direction must be a_to_b, b_to_a or bidirectional")
		return
	}
	if req.ConflictPolicy == "" {
		req.ConflictPolicy = changeset.StrategyAirtableWins
	}
	if !req.ConflictPolicy.Valid() {
		writeError(w, r, http.StatusBadRequest, "conflictPolicy must be A_WINS, B_WINS or NEWEST_WINS")
		return
	}
	if msg := validateMapping(req.FieldMapping, s.IDColumn); msg != "" {
		writeError(w, r, http.StatusBadRequest, msg)
		return
	}

	user, err := s.Users.Get(ctx, userID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to load user")
		writeError(w, r, http.StatusInternalServerError, "failed to load account")
		return
	}
	if user == nil {
		writeError(w, r, http.StatusUnauthorized, "unknown account")
		return
	}
	limits := plans.For(plans.Plan(user.Plan))
	existing, err := s.Configs.CountForUser(ctx, userID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to count configs")
		writeError(w, r, http.StatusInternalServerError, "failed to count configs")
		return
	}
	if !plans.CanCreateConfig(limits, existing) {
		writeError(w, r, http.StatusPaymentRequired,
			fmt.Sprintf("your plan allows %d sync configs; upgrade to add more", limits.MaxConfigs))
		return
	}

	cfg := &store.SyncConfig{
		UserID:             userID,
		AirtableBaseID:     req.AirtableBaseID,
		AirtableTableID:    req.AirtableTableID,
		AirtableViewID:     req.AirtableViewID,
		SpreadsheetID:      req.SpreadsheetID,
		SheetID:            req.SheetID,
		SheetName:          req.SheetName,
		FieldMapping:       req.FieldMapping,
		Direction:          req.Direction,
		ConflictPolicy:     req.ConflictPolicy,
		Active:             req.Active == nil || *req.Active,
		Strict:             req.Strict,
		CreateMissingLinks: req.CreateMissingLinks,
		DeleteExtraRows:    req.DeleteExtraRows,
		DeleteExtraRecords: req.DeleteExtraRecords,
	}
	if err := s.Configs.Create(ctx, cfg); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to create sync config")
		writeError(w, r, http.StatusInternalServerError, "failed to create sync config")
		return
	}

	month := store.Month(s.clock().Now())
	if err := s.Usage.IncrementConfigsCreated(ctx, userID, month); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("config creation not counted")
	}

	log.Ctx(ctx).Info().
		Str("config", cfg.ID.String()).
		Str("direction", string(cfg.Direction)).
		Msg("sync config created")
	writeJSON(w, http.StatusCreated, toConfigResponse(cfg))
}

// ListSyncConfigs handles GET /v1/sync-configs
func (s *Server) ListSyncConfigs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserID(ctx)

	configs, err := s.Configs.List(ctx, userID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list sync configs")
		writeError(w, r, http.StatusInternalServerError, "failed to list sync configs")
		return
	}

	out := make([]syncConfigResponse, 0, len(configs))
	for i := range configs {
		out = append(out, toConfigResponse(&configs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"syncConfigs": out})
}

// GetSyncConfig handles GET /v1/sync-configs/{id}
func (s *Server) GetSyncConfig(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, http.StatusOK, toConfigResponse(cfg))
}

// patchConfigReq is the body for PATCH /v1/sync-configs/{id}. Absent
// fields keep their value. The Airtable base/table and the spreadsheet
// are the pairing's identity and cannot be changed; neither can the
// direction.
type patchConfigReq struct {
	AirtableViewID     *string             `json:"airtableViewId"`
	SheetID            *int64              `json:"sheetId"`
	SheetName          *string             `json:"sheetName"`
	FieldMapping       map[string]int      `json:"fieldMapping"`
	Direction          *store.Direction    `json:"direction"`
	ConflictPolicy     *changeset.Strategy `json:"conflictPolicy"`
	Active             *bool               `json:"active"`
	Strict             *bool               `json:"strict"`
	CreateMissingLinks *bool               `json:"createMissingLinks"`
	DeleteExtraRows    *bool               `json:"deleteExtraRows"`
	DeleteExtraRecords *bool               `json:"deleteExtraRecords"`
}

// PatchSyncConfig handles PATCH /v1/sync-configs/{id}
func (s *Server) PatchSyncConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserID(ctx)

	id, ok := parseConfigID(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid sync config id")
		return
	}

	var req patchConfigReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
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

	if req.Direction != nil && *req.Direction != cfg.Direction {
		writeError(w, r, http.StatusBadRequest, "direction is immutable; create a new sync config instead")
		return
	}
	if req.ConflictPolicy != nil {
		if !req.ConflictPolicy.Valid() {
			writeError(w, r, http.StatusBadRequest, "conflictPolicy must be A_WINS, B_WINS or NEWEST_WINS")
			return
		}
		cfg.ConflictPolicy = *req.ConflictPolicy
	}
	mappingChanged := false
	if req.FieldMapping != nil {
		if msg := validateMapping(req.FieldMapping, s.IDColumn); msg != "" {
			writeError(w, r, http.StatusBadRequest, msg)
			return
		}
		mappingChanged = !sameMapping(cfg.FieldMapping, req.FieldMapping)
		cfg.FieldMapping = req.FieldMapping
	}
	if req.AirtableViewID != nil {
		cfg.AirtableViewID = *req.AirtableViewID
	}
	if req.SheetID != nil {
		cfg.SheetID = *req.SheetID
	}
	if req.SheetName != nil {
		if *req.SheetName == "" {
			writeError(w, r, http.StatusBadRequest, "sheetName cannot be empty")
			return
		}
		cfg.SheetName = *req.SheetName
	}
	if req.Active != nil {
		cfg.Active = *req.Active
	}
	if req.Strict != nil {
		cfg.Strict = *req.Strict
	}
	if req.CreateMissingLinks != nil {
		cfg.CreateMissingLinks = *req.CreateMissingLinks
	}
	if req.DeleteExtraRows != nil {
		cfg.DeleteExtraRows = *req.DeleteExtraRows
	}
	if req.DeleteExtraRecords != nil {
		cfg.DeleteExtraRecords = *req.DeleteExtraRecords
	}

	found, err := s.Configs.Update(ctx, cfg)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to update sync config")
		writeError(w, r, http.StatusInternalServerError, "failed to update sync config")
		return
	}
	if !found {
		writeError(w, r, http.StatusNotFound, "sync config not found")
		return
	}

	// Checkpoint hashes cover mapped fields only; a new mapping makes
	// the old baseline lie about both sides.
	if mappingChanged && s.Checkpoints != nil {
		if err := s.Checkpoints.Delete(ctx, cfg.ID); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("config", cfg.ID.String()).Msg("stale checkpoint not dropped")
		}
	}

	writeJSON(w, http.StatusOK, toConfigResponse(cfg))
}

// sameMapping reports whether two mappings are identical
func sameMapping(a, b map[string]int) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// DeleteSyncConfig handles DELETE /v1/sync-configs/{id}
func (s *Server) DeleteSyncConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserID(ctx)

	id, ok := parseConfigID(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid sync config id")
		return
	}
	found, err := s.Configs.Delete(ctx, userID, id)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to delete sync config")
		writeError(w, r, http.StatusInternalServerError, "failed to delete sync config")
		return
	}
	if !found {
		writeError(w, r, http.StatusNotFound, "sync config not found")
		return
	}
	log.Ctx(ctx).Info().Str("config", id.String()).Msg("sync config deleted")
	w.WriteHeader(http.StatusNoContent)
}
