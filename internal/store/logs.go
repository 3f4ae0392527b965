package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erauner12/tablebridge/internal/db"
	"github.com/erauner12/tablebridge/internal/syncerr"
	"github.com/erauner12/tablebridge/internal/syncx"
)

const (
	// logRetention keeps only the newest entries per config
	logRetention = 100

	// staleLockAge is how old an open entry may be before a new run may
	// steal the lock. A healthy run closes its entry well inside this
	// window; an entry past it belongs to a crashed process.
	staleLockAge = 5 * time.Minute

	// maxLogErrors bounds the serialized error list per entry
	maxLogErrors = 20
)

// LogService persists SyncLogs. An open entry (completed_at IS NULL)
// younger than staleLockAge doubles as the per-config run lock.
type LogService struct {
	DB *pgxpool.Pool
}

// NewLogService creates a new LogService
func NewLogService(db *pgxpool.Pool) *LogService {
	return &LogService{DB: db}
}

// Open claims the run lock by inserting a RUNNING entry. It fails with
// ConcurrencyConflictError while another fresh entry is open, closes
// abandoned entries from crashed runs, and prunes retention.
func (s *LogService) Open(ctx context.Context, configID uuid.UUID, trigger Trigger, direction Direction) (*SyncLog, error) {
	lg := &SyncLog{
		ID:           uuid.New(),
		SyncConfigID: configID,
		Status:       StatusRunning,
		Trigger:      trigger,
		Direction:    direction,
	}

	err := db.Tx(ctx, s.DB, func(tx pgx.Tx) error {
		var openID uuid.UUID
		err := tx.QueryRow(ctx, `
			SELECT id FROM sync_log
			WHERE sync_config_id = $1 AND completed_at IS NULL AND started_at > now() - $2
			LIMIT 1
		`, configID, staleLockAge).Scan(&openID)
		if err == nil {
			return &syncerr.ConcurrencyConflictError{ConfigID: configID.String()}
		}
		if err != pgx.ErrNoRows {
			return err
		}

		// anything still open past the window was abandoned mid-run
		if _, err := tx.Exec(ctx, `
			UPDATE sync_log SET status = $2, completed_at = now()
			WHERE sync_config_id = $1 AND completed_at IS NULL
		`, configID, StatusFailed); err != nil {
			return err
		}

		if err := tx.QueryRow(ctx, `
			INSERT INTO sync_log (
				id, sync_config_id, status, trigger_source, direction,
				records_synced, records_failed, errors, warnings, started_at
			) VALUES ($1, $2, $3, $4, $5, 0, 0, '[]', 0, now())
			RETURNING started_at
		`, lg.ID, configID, lg.Status, trigger, direction).Scan(&lg.StartedAt); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			DELETE FROM sync_log
			WHERE sync_config_id = $1 AND id NOT IN (
				SELECT id FROM sync_log
				WHERE sync_config_id = $1
				ORDER BY started_at DESC, id DESC
				LIMIT $2
			)
		`, configID, logRetention)
		return err
	})
	if err != nil {
		return nil, err
	}
	return lg, nil
}

// Close writes the run's result onto its entry and releases the lock.
// The caller fills Status, counts, Errors, Warnings, and Conflicts on
// lg before calling; CompletedAt is filled from the database.
func (s *LogService) Close(ctx context.Context, lg *SyncLog) error {
	if len(lg.Errors) > maxLogErrors {
		lg.Errors = lg.Errors[:maxLogErrors]
	}
	errs := []byte("[]")
	if len(lg.Errors) > 0 {
		var err error
		if errs, err = json.Marshal(lg.Errors); err != nil {
			return err
		}
	}
	var conflicts []byte // nil stores NULL
	if lg.Conflicts != nil {
		var err error
		if conflicts, err = json.Marshal(lg.Conflicts); err != nil {
			return err
		}
	}

	return s.DB.QueryRow(ctx, `
		UPDATE sync_log SET
			status = $2, records_synced = $3, records_failed = $4,
			errors = $5, warnings = $6, conflicts = $7, completed_at = now()
		WHERE id = $1
		RETURNING completed_at
	`, lg.ID, lg.Status, lg.RecordsSynced, lg.RecordsFailed, errs, lg.Warnings, conflicts,
	).Scan(&lg.CompletedAt)
}

// Recent returns entries for one config newest first, cursor-paginated
// on (started_at, id). Ownership is enforced through the config join.
func (s *LogService) Recent(ctx context.Context, userID string, configID uuid.UUID, cursor syncx.Cursor, limit int) ([]SyncLog, string, error) {
	query := `
		SELECT l.id, l.sync_config_id, l.status, l.trigger_source, l.direction,
			l.records_synced, l.records_failed, l.errors, l.warnings, l.conflicts,
			l.started_at, l.completed_at
		FROM sync_log l
		JOIN sync_config c ON c.id = l.sync_config_id
		WHERE l.sync_config_id = $1 AND c.user_id = $2
	`
	args := []interface{}{configID, userID}
	if cursor.Ms != 0 || cursor.UID != uuid.Nil {
		query += ` AND (l.started_at, l.id) < (to_timestamp($3::double precision / 1000.0), $4::uuid)
			ORDER BY l.started_at DESC, l.id DESC LIMIT $5`
		args = append(args, cursor.Ms, cursor.UID, limit)
	} else {
		query += ` ORDER BY l.started_at DESC, l.id DESC LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var logs []SyncLog
	for rows.Next() {
		var lg SyncLog
		if err := rows.Scan(
			&lg.ID, &lg.SyncConfigID, &lg.Status, &lg.Trigger, &lg.Direction,
			&lg.RecordsSynced, &lg.RecordsFailed, &lg.Errors, &lg.Warnings, &lg.Conflicts,
			&lg.StartedAt, &lg.CompletedAt,
		); err != nil {
			return nil, "", err
		}
		logs = append(logs, lg)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(logs) == limit && limit > 0 {
		last := logs[len(logs)-1]
		next = syncx.EncodeCursor(syncx.Cursor{Ms: last.StartedAt.UnixMilli(), UID: last.ID})
	}
	return logs, next, nil
}
