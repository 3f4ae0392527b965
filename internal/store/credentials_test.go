package store

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestCredentialServiceLifecycle(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	userID := createTestUser(t, pool, "cred-user")
	svc := NewCredentialService(pool)

	got, err := svc.Get(ctx, userID, ServiceAirtable)
	if err != nil || got != nil {
		t.Fatalf("Get before connect = (%v, %v), want (nil, nil)", got, err)
	}

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	cred := &Credential{
		UserID:          userID,
		Service:         ServiceAirtable,
		AccessTokenEnc:  []byte("sealed-access"),
		RefreshTokenEnc: []byte("sealed-refresh"),
		ExpiresAt:       expires,
		AccountEmail:    "ana@example.com",
	}
	if err := svc.Upsert(ctx, cred); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err = svc.Get(ctx, userID, ServiceAirtable)
	if err != nil || got == nil {
		t.Fatalf("Get failed: (%v, %v)", got, err)
	}
	if !bytes.Equal(got.AccessTokenEnc, cred.AccessTokenEnc) || got.AccountEmail != "ana@example.com" {
		t.Errorf("credential = %+v", got)
	}
	if got.NeedsReauth || got.LastRefreshError != "" {
		t.Errorf("fresh credential flagged: %+v", got)
	}

	if err := svc.SetReauth(ctx, userID, ServiceAirtable, "invalid_grant"); err != nil {
		t.Fatalf("SetReauth failed: %v", err)
	}
	got, _ = svc.Get(ctx, userID, ServiceAirtable)
	if !got.NeedsReauth || got.LastRefreshError != "invalid_grant" || got.LastRefreshAt == nil {
		t.Errorf("reauth state = %+v", got)
	}

	// a reconnect through Upsert clears the flag
	if err := svc.Upsert(ctx, cred); err != nil {
		t.Fatalf("re-Upsert failed: %v", err)
	}
	got, _ = svc.Get(ctx, userID, ServiceAirtable)
	if got.NeedsReauth || got.LastRefreshError != "" {
		t.Errorf("reconnect did not clear reauth: %+v", got)
	}

	// transient refresh failures leave the flag down but keep the reason
	if err := svc.RecordRefreshError(ctx, userID, ServiceAirtable, "token endpoint 503"); err != nil {
		t.Fatalf("RecordRefreshError failed: %v", err)
	}
	got, _ = svc.Get(ctx, userID, ServiceAirtable)
	if got.NeedsReauth || got.LastRefreshError != "token endpoint 503" || got.LastRefreshAt == nil {
		t.Errorf("transient failure state = %+v", got)
	}

	// a successful refresh rotates the pair and clears state too
	if err := svc.SetReauth(ctx, userID, ServiceAirtable, "expired"); err != nil {
		t.Fatalf("SetReauth failed: %v", err)
	}
	newExpires := expires.Add(time.Hour)
	if err := svc.UpdateTokens(ctx, userID, ServiceAirtable,
		[]byte("sealed-access-2"), []byte("sealed-refresh-2"), newExpires); err != nil {
		t.Fatalf("UpdateTokens failed: %v", err)
	}
	got, _ = svc.Get(ctx, userID, ServiceAirtable)
	if !bytes.Equal(got.AccessTokenEnc, []byte("sealed-access-2")) || got.NeedsReauth {
		t.Errorf("rotation state = %+v", got)
	}
	if !got.ExpiresAt.Equal(newExpires) {
		t.Errorf("expiresAt = %v, want %v", got.ExpiresAt, newExpires)
	}
}

func TestCredentialServiceClearReauthCoversBothServices(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	userID := createTestUser(t, pool, "cred-clear-user")
	svc := NewCredentialService(pool)

	for _, service := range []string{ServiceAirtable, ServiceGoogle} {
		cred := &Credential{
			UserID:          userID,
			Service:         service,
			AccessTokenEnc:  []byte("a"),
			RefreshTokenEnc: []byte("r"),
			ExpiresAt:       time.Now().Add(time.Hour),
		}
		if err := svc.Upsert(ctx, cred); err != nil {
			t.Fatalf("Upsert %s failed: %v", service, err)
		}
		if err := svc.SetReauth(ctx, userID, service, "401"); err != nil {
			t.Fatalf("SetReauth %s failed: %v", service, err)
		}
	}

	if err := svc.ClearReauth(ctx, userID); err != nil {
		t.Fatalf("ClearReauth failed: %v", err)
	}

	creds, err := svc.List(ctx, userID)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(creds) != 2 {
		t.Fatalf("List = %d credentials, want 2", len(creds))
	}
	// ORDER BY service: airtable before google
	if creds[0].Service != ServiceAirtable || creds[1].Service != ServiceGoogle {
		t.Errorf("order = [%s, %s]", creds[0].Service, creds[1].Service)
	}
	for _, c := range creds {
		if c.NeedsReauth {
			t.Errorf("%s still flagged after ClearReauth", c.Service)
		}
	}
}
