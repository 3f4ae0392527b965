package creds

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/erauner12/tablebridge/internal/store"
	"github.com/erauner12/tablebridge/internal/syncerr"
)

// refreshSkew is how long before expiry a token is refreshed, so a
// token handed to a sync run cannot expire mid-run.
const refreshSkew = 5 * time.Minute

// Store is the persistence surface the manager needs. The pgx-backed
// implementation lives in internal/store.
type Store interface {
	Get(ctx context.Context, userID, service string) (*store.Credential, error)
	List(ctx context.Context, userID string) ([]store.Credential, error)
	Upsert(ctx context.Context, c *store.Credential) error
	UpdateTokens(ctx context.Context, userID, service string, accessEnc, refreshEnc []byte, expiresAt time.Time) error
	RecordRefreshError(ctx context.Context, userID, service, reason string) error
	SetReauth(ctx context.Context, userID, service, reason string) error
	ClearReauth(ctx context.Context, userID string) error
}

// OAuthApp identifies one upstream OAuth application
type OAuthApp struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// TokenSet is a plaintext token pair as received from an OAuth callback
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	AccountEmail string
}

// Manager seals tokens at rest and serves fresh access tokens,
// refreshing expired ones against the upstream token endpoint. A
// singleflight group collapses concurrent refreshes for the same
// connection into one upstream call.
type Manager struct {
	store Store
	box   *Box
	apps  map[string]OAuthApp
	clock clockwork.Clock
	group singleflight.Group
}

// NewManager builds a Manager. key is the raw 32-byte sealing key.
// A nil clock means wall time.
func NewManager(credStore Store, key []byte, airtable, google OAuthApp, clock clockwork.Clock) (*Manager, error) {
	box, err := NewBox(key)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{
		store: credStore,
		box:   box,
		apps: map[string]OAuthApp{
			store.ServiceAirtable: airtable,
			store.ServiceGoogle:   google,
		},
		clock: clock,
	}, nil
}

func knownService(service string) bool {
	return service == store.ServiceAirtable || service == store.ServiceGoogle
}

// displayName maps a stored service key to the name used in error
// payloads; "google" credentials surface as the "sheets" side.
func displayName(service string) string {
	if service == store.ServiceGoogle {
		return syncerr.ServiceSheets
	}
	return syncerr.ServiceAirtable
}

// AccessToken returns a usable bearer token for the connection,
// refreshing it first when it expires within refreshSkew. Concurrent
// callers for the same {user, service} share one lookup or refresh.
func (m *Manager) AccessToken(ctx context.Context, userID, service string) (string, error) {
	if !knownService(service) {
		return "", fmt.Errorf("unknown service %q", service)
	}
	token, err, _ := m.group.Do(userID+"/"+service, func() (any, error) {
		cred, err := m.store.Get(ctx, userID, service)
		if err != nil {
			return nil, fmt.Errorf("load credential: %w", err)
		}
		if cred == nil {
			return nil, &syncerr.OAuthError{Service: displayName(service), Reason: "not connected"}
		}
		if cred.NeedsReauth {
			return nil, &syncerr.ReauthRequiredError{Service: displayName(service)}
		}
		if cred.ExpiresAt.After(m.clock.Now().Add(refreshSkew)) {
			access, err := m.box.Open(cred.AccessTokenEnc)
			if err != nil {
				return nil, fmt.Errorf("unseal access token: %w", err)
			}
			return access, nil
		}
		access, err := m.refresh(ctx, cred)
		if err != nil {
			return nil, err
		}
		return access, nil
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

func (m *Manager) refresh(ctx context.Context, cred *store.Credential) (string, error) {
	refreshToken, err := m.box.Open(cred.RefreshTokenEnc)
	if err != nil {
		return "", fmt.Errorf("unseal refresh token: %w", err)
	}
	app := m.apps[cred.Service]
	conf := &oauth2.Config{
		ClientID:     app.ClientID,
		ClientSecret: app.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: app.TokenURL},
	}
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return "", m.refreshFailed(ctx, cred, err)
	}

	rotated := tok.RefreshToken
	if rotated == "" {
		// Google omits the refresh token when it has not rotated
		rotated = refreshToken
	}
	accessEnc, err := m.box.Seal(tok.AccessToken)
	if err != nil {
		return "", err
	}
	refreshEnc, err := m.box.Seal(rotated)
	if err != nil {
		return "", err
	}
	if err := m.store.UpdateTokens(ctx, cred.UserID, cred.Service, accessEnc, refreshEnc, tok.Expiry); err != nil {
		return "", fmt.Errorf("persist rotated tokens: %w", err)
	}
	log.Ctx(ctx).Info().
		Str("service", cred.Service).
		Time("expires_at", tok.Expiry).
		Msg("access token refreshed")
	return tok.AccessToken, nil
}

// refreshFailed records the failure and converts it to a taxonomy
// error. A revoked grant flags the connection for reauth; anything
// else is left retryable.
func (m *Manager) refreshFailed(ctx context.Context, cred *store.Credential, err error) error {
	reason := refreshReason(err)
	if authRevoked(err) {
		if serr := m.store.SetReauth(ctx, cred.UserID, cred.Service, reason); serr != nil {
			log.Ctx(ctx).Error().Err(serr).Str("service", cred.Service).Msg("failed to flag credential for reauth")
		}
		log.Ctx(ctx).Warn().
			Str("service", cred.Service).
			Str("reason", reason).
			Msg("refresh grant revoked, reauth required")
		return &syncerr.ReauthRequiredError{Service: displayName(cred.Service)}
	}
	if serr := m.store.RecordRefreshError(ctx, cred.UserID, cred.Service, reason); serr != nil {
		log.Ctx(ctx).Error().Err(serr).Str("service", cred.Service).Msg("failed to record refresh error")
	}
	return &syncerr.NetworkError{Service: displayName(cred.Service), Op: "refresh token", Err: err}
}

// authRevoked reports whether the token endpoint rejected the grant
// itself, as opposed to failing transiently.
func authRevoked(err error) bool {
	var rerr *oauth2.RetrieveError
	if !errors.As(err, &rerr) {
		return false
	}
	if rerr.ErrorCode == "invalid_grant" {
		return true
	}
	return rerr.Response != nil && rerr.Response.StatusCode == http.StatusUnauthorized
}

func refreshReason(err error) string {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) && rerr.ErrorCode != "" {
		if rerr.ErrorDescription != "" {
			return rerr.ErrorCode + ": " + rerr.ErrorDescription
		}
		return rerr.ErrorCode
	}
	return err.Error()
}

// StoreTokens seals and persists a token pair from an OAuth callback,
// clearing any standing reauth flag on the connection.
func (m *Manager) StoreTokens(ctx context.Context, userID, service string, ts TokenSet) error {
	if !knownService(service) {
		return fmt.Errorf("unknown service %q", service)
	}
	if ts.AccessToken == "" || ts.RefreshToken == "" {
		return fmt.Errorf("%s token set incomplete", service)
	}
	accessEnc, err := m.box.Seal(ts.AccessToken)
	if err != nil {
		return err
	}
	refreshEnc, err := m.box.Seal(ts.RefreshToken)
	if err != nil {
		return err
	}
	err = m.store.Upsert(ctx, &store.Credential{
		UserID:          userID,
		Service:         service,
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		ExpiresAt:       ts.ExpiresAt,
		AccountEmail:    ts.AccountEmail,
	})
	if err != nil {
		return err
	}
	log.Ctx(ctx).Info().
		Str("service", service).
		Str("account", ts.AccountEmail).
		Msg("connection stored")
	return nil
}

// MarkNeedsReauth flags a connection so syncs pause until the user
// reconnects. Used when an upstream API call comes back 401.
func (m *Manager) MarkNeedsReauth(ctx context.Context, userID, service, reason string) error {
	if !knownService(service) {
		return fmt.Errorf("unknown service %q", service)
	}
	return m.store.SetReauth(ctx, userID, service, reason)
}

// ClearReauth re-arms all of the user's connections after a reconnect
func (m *Manager) ClearReauth(ctx context.Context, userID string) error {
	return m.store.ClearReauth(ctx, userID)
}

// Source is a per-connection token source. It satisfies the TokenSource
// interfaces of both API clients.
type Source struct {
	m       *Manager
	userID  string
	service string
}

// Source binds a TokenSource to one user's connection
func (m *Manager) Source(userID, service string) *Source {
	return &Source{m: m, userID: userID, service: service}
}

func (s *Source) Token(ctx context.Context) (string, error) {
	return s.m.AccessToken(ctx, s.userID, s.service)
}
