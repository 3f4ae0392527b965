package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UsageService counts billable activity per user per calendar month
type UsageService struct {
	DB *pgxpool.Pool
}

// NewUsageService creates a new UsageService
func NewUsageService(db *pgxpool.Pool) *UsageService {
	return &UsageService{DB: db}
}

// Get returns the month's counters; a missing row reads as zeros
func (s *UsageService) Get(ctx context.Context, userID, month string) (*UsageStats, error) {
	u := &UsageStats{UserID: userID, Month: month}
	err := s.DB.QueryRow(ctx, `
		SELECT records_synced, configs_created
		FROM usage_stats
		WHERE user_id = $1 AND month = $2
	`, userID, month).Scan(&u.RecordsSynced, &u.ConfigsCreated)
	if err == pgx.ErrNoRows {
		return u, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// AddRecordsSynced adds n to the month's synced-record counter
func (s *UsageService) AddRecordsSynced(ctx context.Context, userID, month string, n int) error {
	if n <= 0 {
		return nil
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO usage_stats (user_id, month, records_synced, configs_created)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (user_id, month) DO UPDATE SET
			records_synced = usage_stats.records_synced + EXCLUDED.records_synced
	`, userID, month, n)
	return err
}

// IncrementConfigsCreated bumps the month's config-creation counter
func (s *UsageService) IncrementConfigsCreated(ctx context.Context, userID, month string) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO usage_stats (user_id, month, records_synced, configs_created)
		VALUES ($1, $2, 0, 1)
		ON CONFLICT (user_id, month) DO UPDATE SET
			configs_created = usage_stats.configs_created + 1
	`, userID, month)
	return err
}
