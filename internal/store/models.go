// Package store persists sync configurations, run logs, checkpoints,
// encrypted credentials, and usage counters in Postgres.
package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/erauner12/tablebridge/internal/changeset"
)

// Direction selects which way a sync run moves data
type Direction string

const (
	DirectionAToB          Direction = "a_to_b"
	DirectionBToA          Direction = "b_to_a"
	DirectionBidirectional Direction = "bidirectional"
)

// Valid reports whether d is a known direction
func (d Direction) Valid() bool {
	switch d {
	case DirectionAToB, DirectionBToA, DirectionBidirectional:
		return true
	}
	return false
}

// Trigger records what started a run
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
	TriggerInitial   Trigger = "initial"
)

// Run and config status tokens. The paused states latch on the config
// until the user remediates (reconnect, upgrade, month rollover).
const (
	StatusRunning            = "RUNNING"
	StatusSuccess            = "SUCCESS"
	StatusPartial            = "PARTIAL"
	StatusFailed             = "FAILED"
	StatusPausedReauth       = "PAUSED_REAUTH"
	StatusPausedLimit        = "PAUSED_LIMIT"
	StatusPausedSubscription = "PAUSED_SUBSCRIPTION"
)

// Credential services
const (
	ServiceAirtable = "airtable"
	ServiceGoogle   = "google"
)

// SyncConfig drives one table↔sheet pairing. FieldMapping maps Airtable
// field ids to zero-based spreadsheet column indexes. Direction is
// immutable after create.
type SyncConfig struct {
	ID                 uuid.UUID
	UserID             string
	AirtableBaseID     string
	AirtableTableID    string
	AirtableViewID     string
	SpreadsheetID      string
	SheetID            int64
	SheetName          string
	FieldMapping       map[string]int
	Direction          Direction
	ConflictPolicy     changeset.Strategy
	Active             bool
	Strict             bool
	CreateMissingLinks bool
	DeleteExtraRows    bool
	DeleteExtraRecords bool
	LastSyncAt         *time.Time
	LastSyncStatus     string
	LastErrorAt        *time.Time
	LastError          string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SyncLog is one run's append-only journal entry. CompletedAt is NULL
// while the run holds the config lock.
type SyncLog struct {
	ID            uuid.UUID
	SyncConfigID  uuid.UUID
	Status        string
	Trigger       Trigger
	Direction     Direction
	RecordsSynced int
	RecordsFailed int
	Errors        []string
	Warnings      int
	Conflicts     *changeset.Summary
	StartedAt     time.Time
	CompletedAt   *time.Time
}

// Checkpoint is the per-config fingerprint set from the last successful
// run.
type Checkpoint struct {
	SyncConfigID uuid.UUID
	Entries      map[string]changeset.CheckpointEntry
	UpdatedAt    time.Time
}

// Credential holds one user's encrypted token pair for one service.
// Token columns are AES-GCM sealed; plaintext never reaches this
// package.
type Credential struct {
	UserID           string
	Service          string
	AccessTokenEnc   []byte
	RefreshTokenEnc  []byte
	ExpiresAt        time.Time
	AccountEmail     string
	NeedsReauth      bool
	LastRefreshAt    *time.Time
	LastRefreshError string
}

// UsageStats counts billable activity per user per calendar month
type UsageStats struct {
	UserID         string
	Month          string // YYYY-MM
	RecordsSynced  int
	ConfigsCreated int
}

// AppUser carries the billing fields the engine gates on. Rows are
// created on first auth by the subject upsert; plan changes come from
// the billing collaborator.
type AppUser struct {
	ID                 string
	Sub                string
	Plan               string
	SubscriptionStatus string
	TrialEndsAt        *time.Time
}

// Month formats t's calendar month as the usage_stats key
func Month(t time.Time) string {
	return t.UTC().Format("2006-01")
}
