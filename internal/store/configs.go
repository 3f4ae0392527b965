package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erauner12/tablebridge/internal/db"
)

const configColumns = `id, user_id, airtable_base_id, airtable_table_id, airtable_view_id,
	spreadsheet_id, sheet_id, sheet_name, field_mapping, direction, conflict_policy,
	active, strict, create_missing_links, delete_extra_rows, delete_extra_records,
	last_sync_at, last_sync_status, last_error_at, last_error, created_at, updated_at`

// ConfigService persists SyncConfigs
type ConfigService struct {
	DB *pgxpool.Pool
}

// NewConfigService creates a new ConfigService
func NewConfigService(db *pgxpool.Pool) *ConfigService {
	return &ConfigService{DB: db}
}

// Create inserts a new config, filling ID and timestamps on cfg
func (s *ConfigService) Create(ctx context.Context, cfg *SyncConfig) error {
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	mapping, err := json.Marshal(cfg.FieldMapping)
	if err != nil {
		return fmt.Errorf("marshal field mapping: %w", err)
	}

	return s.DB.QueryRow(ctx, `
		INSERT INTO sync_config (
			id, user_id, airtable_base_id, airtable_table_id, airtable_view_id,
			spreadsheet_id, sheet_id, sheet_name, field_mapping, direction,
			conflict_policy, active, strict, create_missing_links,
			delete_extra_rows, delete_extra_records, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,now(),now())
		RETURNING created_at, updated_at
	`, cfg.ID, cfg.UserID, cfg.AirtableBaseID, cfg.AirtableTableID, cfg.AirtableViewID,
		cfg.SpreadsheetID, cfg.SheetID, cfg.SheetName, mapping, cfg.Direction,
		cfg.ConflictPolicy, cfg.Active, cfg.Strict, cfg.CreateMissingLinks,
		cfg.DeleteExtraRows, cfg.DeleteExtraRecords,
	).Scan(&cfg.CreatedAt, &cfg.UpdatedAt)
}

// Get returns one config owned by userID, or nil when not found
func (s *ConfigService) Get(ctx context.Context, userID string, id uuid.UUID) (*SyncConfig, error) {
	row := s.DB.QueryRow(ctx,
		`SELECT `+configColumns+` FROM sync_config WHERE id = $1 AND user_id = $2`,
		id, userID)

	cfg, err := scanConfig(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return cfg, err
}

// List returns all configs owned by userID, newest first
func (s *ConfigService) List(ctx context.Context, userID string) ([]SyncConfig, error) {
	rows, err := s.DB.Query(ctx,
		`SELECT `+configColumns+` FROM sync_config WHERE user_id = $1 ORDER BY created_at DESC, id DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectConfigs(rows)
}

// ListActive returns every active config across all users, oldest first
// so long-waiting configs are dispatched before fresh ones.
func (s *ConfigService) ListActive(ctx context.Context) ([]SyncConfig, error) {
	rows, err := s.DB.Query(ctx,
		`SELECT `+configColumns+` FROM sync_config WHERE active ORDER BY last_sync_at NULLS FIRST, created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectConfigs(rows)
}

// CountForUser returns how many configs userID owns
func (s *ConfigService) CountForUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.DB.QueryRow(ctx,
		`SELECT count(*) FROM sync_config WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}

// Update writes the mutable columns. Direction is deliberately absent:
// it is immutable after create. Returns false when the config does not
// exist or is not owned by cfg.UserID.
func (s *ConfigService) Update(ctx context.Context, cfg *SyncConfig) (bool, error) {
	mapping, err := json.Marshal(cfg.FieldMapping)
	if err != nil {
		return false, fmt.Errorf("marshal field mapping: %w", err)
	}

	err = s.DB.QueryRow(ctx, `
		UPDATE sync_config SET
			airtable_base_id = $3, airtable_table_id = $4, airtable_view_id = $5,
			spreadsheet_id = $6, sheet_id = $7, sheet_name = $8, field_mapping = $9,
			conflict_policy = $10, active = $11, strict = $12,
			create_missing_links = $13, delete_extra_rows = $14,
			delete_extra_records = $15, updated_at = now()
		WHERE id = $1 AND user_id = $2
		RETURNING updated_at
	`, cfg.ID, cfg.UserID, cfg.AirtableBaseID, cfg.AirtableTableID, cfg.AirtableViewID,
		cfg.SpreadsheetID, cfg.SheetID, cfg.SheetName, mapping, cfg.ConflictPolicy,
		cfg.Active, cfg.Strict, cfg.CreateMissingLinks, cfg.DeleteExtraRows,
		cfg.DeleteExtraRecords,
	).Scan(&cfg.UpdatedAt)

	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpdateOutcome records a run's terminal state on the config
func (s *ConfigService) UpdateOutcome(ctx context.Context, id uuid.UUID, status, errMsg string) error {
	if errMsg == "" {
		_, err := s.DB.Exec(ctx, `
			UPDATE sync_config
			SET last_sync_at = now(), last_sync_status = $2, updated_at = now()
			WHERE id = $1
		`, id, status)
		return err
	}
	_, err := s.DB.Exec(ctx, `
		UPDATE sync_config
		SET last_sync_at = now(), last_sync_status = $2,
			last_error = $3, last_error_at = now(), updated_at = now()
		WHERE id = $1
	`, id, status, errMsg)
	return err
}

// Delete removes a config with its logs and checkpoint. Returns false
// when the config does not exist or belongs to someone else.
func (s *ConfigService) Delete(ctx context.Context, userID string, id uuid.UUID) (bool, error) {
	found := false
	err := db.Tx(ctx, s.DB, func(tx pgx.Tx) error {
		var one int
		err := tx.QueryRow(ctx,
			`SELECT 1 FROM sync_config WHERE id = $1 AND user_id = $2`, id, userID).Scan(&one)
		if err == pgx.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		found = true

		if _, err := tx.Exec(ctx, `DELETE FROM sync_log WHERE sync_config_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM checkpoint WHERE sync_config_id = $1`, id); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `DELETE FROM sync_config WHERE id = $1`, id)
		return err
	})
	return found, err
}

func scanConfig(row pgx.Row) (*SyncConfig, error) {
	var cfg SyncConfig
	err := row.Scan(
		&cfg.ID, &cfg.UserID, &cfg.AirtableBaseID, &cfg.AirtableTableID, &cfg.AirtableViewID,
		&cfg.SpreadsheetID, &cfg.SheetID, &cfg.SheetName, &cfg.FieldMapping, &cfg.Direction,
		&cfg.ConflictPolicy, &cfg.Active, &cfg.Strict, &cfg.CreateMissingLinks,
		&cfg.DeleteExtraRows, &cfg.DeleteExtraRecords,
		&cfg.LastSyncAt, &cfg.LastSyncStatus, &cfg.LastErrorAt, &cfg.LastError,
		&cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func collectConfigs(rows pgx.Rows) ([]SyncConfig, error) {
	var configs []SyncConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *cfg)
	}
	return configs, rows.Err()
}
