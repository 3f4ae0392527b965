package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserService resolves auth subjects to accounts and reads plan fields
// for gating. Plan changes come from billing, not from here.
type UserService struct {
	DB *pgxpool.Pool
}

// NewUserService creates a new UserService
func NewUserService(db *pgxpool.Pool) *UserService {
	return &UserService{DB: db}
}

// ResolveSub returns the account id for a token subject, creating the
// account with plan defaults on first sight
func (s *UserService) ResolveSub(ctx context.Context, sub string) (string, error) {
	var id string
	err := s.DB.QueryRow(ctx, `
		INSERT INTO app_user (sub) VALUES ($1)
		ON CONFLICT (sub) DO UPDATE SET sub = excluded.sub
		RETURNING id
	`, sub).Scan(&id)
	return id, err
}

// Get returns the user, or nil when the id is unknown
func (s *UserService) Get(ctx context.Context, id string) (*AppUser, error) {
	var u AppUser
	err := s.DB.QueryRow(ctx, `
		SELECT id, sub, plan, subscription_status, trial_ends_at
		FROM app_user
		WHERE id = $1
	`, id).Scan(&u.ID, &u.Sub, &u.Plan, &u.SubscriptionStatus, &u.TrialEndsAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
