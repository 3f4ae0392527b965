package store

import (
	"context"
	"testing"
	"time"
)

func TestMonthKey(t *testing.T) {
	// key is computed in UTC so month boundaries don't depend on server zone
	late := time.Date(2025, 12, 31, 23, 30, 0, 0, time.FixedZone("UTC+5", 5*3600))
	if got := Month(late); got != "2025-12" {
		t.Errorf("Month = %s, want 2025-12", got)
	}
	if got := Month(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)); got != "2026-01" {
		t.Errorf("Month = %s, want 2026-01", got)
	}
}

func TestUsageServiceCounters(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	userID := createTestUser(t, pool, "usage-user")
	svc := NewUsageService(pool)
	month := Month(time.Now())

	u, err := svc.Get(ctx, userID, month)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if u.RecordsSynced != 0 || u.ConfigsCreated != 0 {
		t.Errorf("fresh month = %+v, want zeros", u)
	}

	if err := svc.AddRecordsSynced(ctx, userID, month, 40); err != nil {
		t.Fatalf("AddRecordsSynced failed: %v", err)
	}
	if err := svc.AddRecordsSynced(ctx, userID, month, 2); err != nil {
		t.Fatalf("AddRecordsSynced failed: %v", err)
	}
	if err := svc.AddRecordsSynced(ctx, userID, month, 0); err != nil {
		t.Fatalf("zero AddRecordsSynced failed: %v", err)
	}
	if err := svc.IncrementConfigsCreated(ctx, userID, month); err != nil {
		t.Fatalf("IncrementConfigsCreated failed: %v", err)
	}
	if err := svc.IncrementConfigsCreated(ctx, userID, month); err != nil {
		t.Fatalf("IncrementConfigsCreated failed: %v", err)
	}

	u, err = svc.Get(ctx, userID, month)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if u.RecordsSynced != 42 || u.ConfigsCreated != 2 {
		t.Errorf("counters = %+v, want 42 synced / 2 created", u)
	}

	// months are isolated
	other, err := svc.Get(ctx, userID, "1999-01")
	if err != nil || other.RecordsSynced != 0 {
		t.Errorf("other month = (%+v, %v), want zeros", other, err)
	}
}
