package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erauner12/tablebridge/internal/changeset"
)

// CheckpointService persists the per-config fingerprint map
type CheckpointService struct {
	DB *pgxpool.Pool
}

// NewCheckpointService creates a new CheckpointService
func NewCheckpointService(db *pgxpool.Pool) *CheckpointService {
	return &CheckpointService{DB: db}
}

// Get returns the stored entries, or nil when no checkpoint exists yet.
// A nil map is the first-run signal for the detector.
func (s *CheckpointService) Get(ctx context.Context, configID uuid.UUID) (map[string]changeset.CheckpointEntry, error) {
	var entries map[string]changeset.CheckpointEntry
	err := s.DB.QueryRow(ctx,
		`SELECT entries FROM checkpoint WHERE sync_config_id = $1`, configID).Scan(&entries)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Put replaces the config's checkpoint wholesale
func (s *CheckpointService) Put(ctx context.Context, configID uuid.UUID, entries map[string]changeset.CheckpointEntry) error {
	buf, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal checkpoint entries: %w", err)
	}
	_, err = s.DB.Exec(ctx, `
		INSERT INTO checkpoint (sync_config_id, entries, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (sync_config_id) DO UPDATE SET
			entries = EXCLUDED.entries,
			updated_at = now()
	`, configID, buf)
	return err
}

// Delete drops the config's checkpoint. Hashes cover mapped fields, so
// a mapping change makes the old baseline meaningless; the next run
// starts from a first-run pairing instead.
func (s *CheckpointService) Delete(ctx context.Context, configID uuid.UUID) error {
	_, err := s.DB.Exec(ctx, `DELETE FROM checkpoint WHERE sync_config_id = $1`, configID)
	return err
}
