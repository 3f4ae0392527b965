package store

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erauner12/tablebridge/internal/changeset"
	"github.com/erauner12/tablebridge/internal/db"
)

// Test database URL from environment or skip if not set
func getTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration tests")
	}

	pool, err := db.Open(context.Background(), dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	// Clean up all tables before each test
	_, err = pool.Exec(context.Background(), `
		DELETE FROM sync_log;
		DELETE FROM checkpoint;
		DELETE FROM credential;
		DELETE FROM usage_stats;
		DELETE FROM sync_config;
		DELETE FROM app_user;
	`)
	if err != nil {
		t.Fatalf("Failed to clean test database: %v", err)
	}

	return pool
}

// createTestUser inserts an app_user row and returns its id
func createTestUser(t *testing.T, pool *pgxpool.Pool, sub string) string {
	t.Helper()

	var id string
	err := pool.QueryRow(context.Background(), `
		INSERT INTO app_user (sub, plan, subscription_status)
		VALUES ($1, 'pro', 'active')
		RETURNING id
	`, sub).Scan(&id)
	if err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	return id
}

func testConfig(userID string) *SyncConfig {
	return &SyncConfig{
		UserID:          userID,
		AirtableBaseID:  "appBase1",
		AirtableTableID: "tblTasks",
		SpreadsheetID:   "spreadsheet-1",
		SheetID:         0,
		SheetName:       "Tasks",
		FieldMapping:    map[string]int{"fldName": 0, "fldScore": 1},
		Direction:       DirectionAToB,
		ConflictPolicy:  changeset.StrategyAirtableWins,
		Active:          true,
	}
}
