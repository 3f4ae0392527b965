package creds

import (
	"context"
	"fmt"
	"time"

	"github.com/erauner12/tablebridge/internal/store"
)

// Status describes one connection for the connections API
type Status struct {
	Service      string     `json:"service"`
	Connected    bool       `json:"connected"`
	AccountEmail string     `json:"accountEmail,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	NeedsReauth  bool       `json:"needsReauth"`
	LastError    string     `json:"lastError,omitempty"`
}

// ConnectionStatus reports one service's connection state. A user who
// never connected the service gets a disconnected Status, not an error.
func (m *Manager) ConnectionStatus(ctx context.Context, userID, service string) (*Status, error) {
	if !knownService(service) {
		return nil, fmt.Errorf("unknown service %q", service)
	}
	cred, err := m.store.Get(ctx, userID, service)
	if err != nil {
		return nil, err
	}
	return statusOf(service, cred), nil
}

// StatusAll reports both connections, in service order
func (m *Manager) StatusAll(ctx context.Context, userID string) ([]Status, error) {
	creds, err := m.store.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	byService := make(map[string]*store.Credential, len(creds))
	for i := range creds {
		byService[creds[i].Service] = &creds[i]
	}
	out := make([]Status, 0, 2)
	for _, service := range []string{store.ServiceAirtable, store.ServiceGoogle} {
		out = append(out, *statusOf(service, byService[service]))
	}
	return out, nil
}

func statusOf(service string, cred *store.Credential) *Status {
	if cred == nil {
		return &Status{Service: service}
	}
	st := &Status{
		Service:      service,
		Connected:    true,
		AccountEmail: cred.AccountEmail,
		NeedsReauth:  cred.NeedsReauth,
		LastError:    cred.LastRefreshError,
	}
	if !cred.ExpiresAt.IsZero() {
		t := cred.ExpiresAt
		st.ExpiresAt = &t
	}
	return st
}

// ServiceCheck is one service's entry in a diagnostics Report
type ServiceCheck struct {
	Service       string     `json:"service"`
	Connected     bool       `json:"connected"`
	TokenReadable bool       `json:"tokenReadable"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	NeedsReauth   bool       `json:"needsReauth"`
	LastRefreshAt *time.Time `json:"lastRefreshAt,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
}

// Report aggregates connection health for the diagnostics endpoint
type Report struct {
	Services []ServiceCheck `json:"services"`
	Advice   []string       `json:"advice"`
}

// Diagnostics inspects both connections, verifying stored tokens still
// decrypt under the current sealing key.
func (m *Manager) Diagnostics(ctx context.Context, userID string) (*Report, error) {
	rep := &Report{}
	for _, service := range []string{store.ServiceAirtable, store.ServiceGoogle} {
		cred, err := m.store.Get(ctx, userID, service)
		if err != nil {
			return nil, err
		}
		check := ServiceCheck{Service: service}
		if cred == nil {
			rep.Advice = append(rep.Advice, fmt.Sprintf("Connect your %s account to enable syncing.", serviceLabel(service)))
			rep.Services = append(rep.Services, check)
			continue
		}
		check.Connected = true
		check.NeedsReauth = cred.NeedsReauth
		check.LastRefreshAt = cred.LastRefreshAt
		check.LastError = cred.LastRefreshError
		if !cred.ExpiresAt.IsZero() {
			t := cred.ExpiresAt
			check.ExpiresAt = &t
		}
		if _, err := m.box.Open(cred.AccessTokenEnc); err == nil {
			check.TokenReadable = true
		}
		switch {
		case !check.TokenReadable:
			rep.Advice = append(rep.Advice, fmt.Sprintf("Stored %s tokens cannot be decrypted, most likely after a key rotation. Reconnect the account.", serviceLabel(service)))
		case check.NeedsReauth:
			rep.Advice = append(rep.Advice, fmt.Sprintf("Your %s connection was revoked. Reconnect the account to resume syncing.", serviceLabel(service)))
		}
		rep.Services = append(rep.Services, check)
	}
	if len(rep.Advice) == 0 {
		rep.Advice = append(rep.Advice, "All connections healthy.")
	}
	return rep, nil
}

func serviceLabel(service string) string {
	if service == store.ServiceGoogle {
		return "Google"
	}
	return "Airtable"
}
