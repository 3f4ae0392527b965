package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CredentialService persists encrypted OAuth token pairs, one row per
// {user, service}.
type CredentialService struct {
	DB *pgxpool.Pool
}

// NewCredentialService creates a new CredentialService
func NewCredentialService(db *pgxpool.Pool) *CredentialService {
	return &CredentialService{DB: db}
}

// Get returns the credential for one service, or nil when the user has
// never connected it.
func (s *CredentialService) Get(ctx context.Context, userID, service string) (*Credential, error) {
	var c Credential
	err := s.DB.QueryRow(ctx, `
		SELECT user_id, service, access_token_enc, refresh_token_enc, expires_at,
			account_email, needs_reauth, last_refresh_at, last_refresh_error
		FROM credential
		WHERE user_id = $1 AND service = $2
	`, userID, service).Scan(
		&c.UserID, &c.Service, &c.AccessTokenEnc, &c.RefreshTokenEnc, &c.ExpiresAt,
		&c.AccountEmail, &c.NeedsReauth, &c.LastRefreshAt, &c.LastRefreshError,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// List returns all of the user's credentials
func (s *CredentialService) List(ctx context.Context, userID string) ([]Credential, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT user_id, service, access_token_enc, refresh_token_enc, expires_at,
			account_email, needs_reauth, last_refresh_at, last_refresh_error
		FROM credential
		WHERE user_id = $1
		ORDER BY service
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []Credential
	for rows.Next() {
		var c Credential
		if err := rows.Scan(
			&c.UserID, &c.Service, &c.AccessTokenEnc, &c.RefreshTokenEnc, &c.ExpiresAt,
			&c.AccountEmail, &c.NeedsReauth, &c.LastRefreshAt, &c.LastRefreshError,
		); err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// Upsert stores a fresh token pair from the OAuth callback and clears
// any standing reauth flag.
func (s *CredentialService) Upsert(ctx context.Context, c *Credential) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO credential (
			user_id, service, access_token_enc, refresh_token_enc, expires_at,
			account_email, needs_reauth, last_refresh_error
		) VALUES ($1, $2, $3, $4, $5, $6, false, '')
		ON CONFLICT (user_id, service) DO UPDATE SET
			access_token_enc = EXCLUDED.access_token_enc,
			refresh_token_enc = EXCLUDED.refresh_token_enc,
			expires_at = EXCLUDED.expires_at,
			account_email = EXCLUDED.account_email,
			needs_reauth = false,
			last_refresh_error = ''
	`, c.UserID, c.Service, c.AccessTokenEnc, c.RefreshTokenEnc, c.ExpiresAt, c.AccountEmail)
	return err
}

// UpdateTokens persists a rotated pair after a successful refresh
func (s *CredentialService) UpdateTokens(ctx context.Context, userID, service string, accessEnc, refreshEnc []byte, expiresAt time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE credential SET
			access_token_enc = $3, refresh_token_enc = $4, expires_at = $5,
			needs_reauth = false, last_refresh_at = now(), last_refresh_error = ''
		WHERE user_id = $1 AND service = $2
	`, userID, service, accessEnc, refreshEnc, expiresAt)
	return err
}

// RecordRefreshError notes a transient refresh failure without flagging
// reauth, so diagnostics can surface flapping connections.
func (s *CredentialService) RecordRefreshError(ctx context.Context, userID, service, reason string) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE credential SET last_refresh_at = now(), last_refresh_error = $3
		WHERE user_id = $1 AND service = $2
	`, userID, service, reason)
	return err
}

// SetReauth flags the credential after an unrecoverable auth failure
func (s *CredentialService) SetReauth(ctx context.Context, userID, service, reason string) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE credential SET
			needs_reauth = true, last_refresh_at = now(), last_refresh_error = $3
		WHERE user_id = $1 AND service = $2
	`, userID, service, reason)
	return err
}

// ClearReauth resets the flag on every service for the user
func (s *CredentialService) ClearReauth(ctx context.Context, userID string) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE credential SET needs_reauth = false, last_refresh_error = ''
		WHERE user_id = $1
	`, userID)
	return err
}
