package store

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/erauner12/tablebridge/internal/changeset"
)

func TestConfigServiceCRUD(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	userID := createTestUser(t, pool, "config-crud-user")
	svc := NewConfigService(pool)

	cfg := testConfig(userID)
	if err := svc.Create(ctx, cfg); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if cfg.ID == uuid.Nil || cfg.CreatedAt.IsZero() {
		t.Fatalf("Create did not fill id/timestamps: %+v", cfg)
	}

	got, err := svc.Get(ctx, userID, cfg.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil for existing config")
	}
	if !reflect.DeepEqual(got.FieldMapping, cfg.FieldMapping) {
		t.Errorf("field mapping = %v, want %v", got.FieldMapping, cfg.FieldMapping)
	}
	if got.Direction != DirectionAToB || got.ConflictPolicy != changeset.StrategyAirtableWins {
		t.Errorf("enums round-tripped wrong: %+v", got)
	}
	if got.LastSyncAt != nil || got.LastSyncStatus != "" {
		t.Errorf("fresh config should have no sync outcome: %+v", got)
	}

	// ownership is part of the key
	other := createTestUser(t, pool, "config-crud-other")
	if got, err := svc.Get(ctx, other, cfg.ID); err != nil || got != nil {
		t.Errorf("Get with foreign user = (%v, %v), want (nil, nil)", got, err)
	}

	list, err := svc.List(ctx, userID)
	if err != nil || len(list) != 1 {
		t.Fatalf("List = (%d, %v), want 1 config", len(list), err)
	}

	n, err := svc.CountForUser(ctx, userID)
	if err != nil || n != 1 {
		t.Errorf("CountForUser = (%d, %v)", n, err)
	}

	cfg.FieldMapping = map[string]int{"fldName": 0, "fldScore": 1, "fldDue": 2}
	cfg.Active = false
	found, err := svc.Update(ctx, cfg)
	if err != nil || !found {
		t.Fatalf("Update = (%v, %v)", found, err)
	}
	got, err = svc.Get(ctx, userID, cfg.ID)
	if err != nil {
		t.Fatalf("Get after update failed: %v", err)
	}
	if len(got.FieldMapping) != 3 || got.Active {
		t.Errorf("update not persisted: %+v", got)
	}

	if err := svc.UpdateOutcome(ctx, cfg.ID, StatusPartial, "two rows failed"); err != nil {
		t.Fatalf("UpdateOutcome failed: %v", err)
	}
	got, _ = svc.Get(ctx, userID, cfg.ID)
	if got.LastSyncStatus != StatusPartial || got.LastSyncAt == nil {
		t.Errorf("outcome not recorded: %+v", got)
	}
	if got.LastError != "two rows failed" || got.LastErrorAt == nil {
		t.Errorf("error not recorded: %+v", got)
	}
}

func TestConfigServiceDeleteCascades(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	userID := createTestUser(t, pool, "config-delete-user")
	configs := NewConfigService(pool)
	logs := NewLogService(pool)
	checkpoints := NewCheckpointService(pool)

	cfg := testConfig(userID)
	if err := configs.Create(ctx, cfg); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	lg, err := logs.Open(ctx, cfg.ID, TriggerManual, cfg.Direction)
	if err != nil {
		t.Fatalf("Open log failed: %v", err)
	}
	lg.Status = StatusSuccess
	if err := logs.Close(ctx, lg); err != nil {
		t.Fatalf("Close log failed: %v", err)
	}
	if err := checkpoints.Put(ctx, cfg.ID, map[string]changeset.CheckpointEntry{
		"rec1": {Hash: "abc", CapturedAt: time.Now().UTC()},
	}); err != nil {
		t.Fatalf("Put checkpoint failed: %v", err)
	}

	// foreign user cannot delete
	other := createTestUser(t, pool, "config-delete-other")
	if found, err := configs.Delete(ctx, other, cfg.ID); err != nil || found {
		t.Errorf("foreign Delete = (%v, %v), want (false, nil)", found, err)
	}

	found, err := configs.Delete(ctx, userID, cfg.ID)
	if err != nil || !found {
		t.Fatalf("Delete = (%v, %v)", found, err)
	}

	var logCount, cpCount int
	if err := pool.QueryRow(ctx,
		`SELECT count(*) FROM sync_log WHERE sync_config_id = $1`, cfg.ID).Scan(&logCount); err != nil {
		t.Fatalf("count logs: %v", err)
	}
	if err := pool.QueryRow(ctx,
		`SELECT count(*) FROM checkpoint WHERE sync_config_id = $1`, cfg.ID).Scan(&cpCount); err != nil {
		t.Fatalf("count checkpoints: %v", err)
	}
	if logCount != 0 || cpCount != 0 {
		t.Errorf("cascade left %d logs, %d checkpoints", logCount, cpCount)
	}

	if got, _ := configs.Get(ctx, userID, cfg.ID); got != nil {
		t.Error("config still present after delete")
	}
}

func TestConfigServiceListActive(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	userID := createTestUser(t, pool, "config-active-user")
	svc := NewConfigService(pool)

	active := testConfig(userID)
	if err := svc.Create(ctx, active); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	dormant := testConfig(userID)
	dormant.Active = false
	dormant.SheetName = "Archive"
	if err := svc.Create(ctx, dormant); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	list, err := svc.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != active.ID {
		t.Errorf("ListActive = %+v, want only the active config", list)
	}
}
