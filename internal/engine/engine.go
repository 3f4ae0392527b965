// Package engine executes sync runs. Each direction has its own
// executor built on one shared Sync harness; the Runner wraps an
// executor with the gates and bookkeeping around a run: subscription
// and usage checks, the per-config lock, deadlines, checkpoint
// persistence, usage accounting, and metrics.
package engine

import (
	"context"
	"time"

	"github.com/erauner12/tablebridge/internal/airtable"
	"github.com/erauner12/tablebridge/internal/changeset"
	"github.com/erauner12/tablebridge/internal/gsheets"
	"github.com/erauner12/tablebridge/internal/linkresolve"
	"github.com/erauner12/tablebridge/internal/store"
	"github.com/erauner12/tablebridge/internal/syncerr"
)

const (
	// idHeader labels the hidden record id column
	idHeader = "Record ID"
	// rowChunkSize bounds one sheet values write
	rowChunkSize = 100
	// recordBatchSize matches the Airtable write batch limit
	recordBatchSize = 10
	// maxParallelBatches caps concurrent record batches per phase
	maxParallelBatches = 4
	// maxReportedErrors caps the errors carried on a result
	maxReportedErrors = 20
)

// SourceA is the slice of the Airtable client the executors use. It
// extends the link resolver's surface with record writes.
type SourceA interface {
	linkresolve.TableClient
	UpdateRecords(ctx context.Context, baseID, tableID string, updates []airtable.RecordUpdate) error
	DeleteRecords(ctx context.Context, baseID, tableID string, ids []string) error
}

// SourceB is the slice of the Sheets client the executors use
type SourceB interface {
	GetSheetValues(ctx context.Context, spreadsheetID, sheetTitle string) ([]gsheets.Row, error)
	UpdateRange(ctx context.Context, spreadsheetID, rangeA1 string, rows []gsheets.Row) error
	AppendRows(ctx context.Context, spreadsheetID, sheetTitle string, rows []gsheets.Row) error
	DeleteRows(ctx context.Context, spreadsheetID string, sheetID int64, startIndex, count int) error
	EnsureColumnCount(ctx context.Context, spreadsheetID string, sheetID int64, minColumns int) error
	HideColumn(ctx context.Context, spreadsheetID string, sheetID int64, columnIndex int) error
	SetDataValidation(ctx context.Context, spreadsheetID string, sheetID int64, rules []gsheets.ValidationRule) error
}

// ApplyCounts breaks down the writes applied to one side
type ApplyCounts struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
}

// RunResult is the outcome of one run. Added, Updated and Deleted
// aggregate both sides; the per-side breakdowns are filled for
// bidirectional runs. Status is set by the Runner.
type RunResult struct {
	Direction   store.Direction    `json:"direction"`
	Status      string             `json:"status,omitempty"`
	DryRun      bool               `json:"dryRun,omitempty"`
	Added       int                `json:"added"`
	Updated     int                `json:"updated"`
	Deleted     int                `json:"deleted"`
	ErrorCount  int                `json:"errorCount"`
	Errors      []string           `json:"errors,omitempty"`
	Warnings    []string           `json:"warnings,omitempty"`
	Conflicts   *changeset.Summary `json:"conflicts,omitempty"`
	ToSheets    *ApplyCounts       `json:"appliedToSheets,omitempty"`
	ToAirtable  *ApplyCounts       `json:"appliedToAirtable,omitempty"`
	StartedAt   time.Time          `json:"startedAt"`
	CompletedAt time.Time          `json:"completedAt"`
}

// Synced counts applied writes, the unit usage accounting bills
func (r *RunResult) Synced() int { return r.Added + r.Updated + r.Deleted }

// Duration is the wall-clock run time
func (r *RunResult) Duration() time.Duration { return r.CompletedAt.Sub(r.StartedAt) }

func (r *RunResult) appendError(msg string) {
	r.ErrorCount++
	if len(r.Errors) < maxReportedErrors {
		r.Errors = append(r.Errors, msg)
	}
}

// isAuthErr reports whether err means our credentials stopped working.
// Auth failures abort the run; everything else stays record-scoped.
func isAuthErr(err error) bool {
	switch syncerr.CodeOf(err) {
	case syncerr.CodeOAuth, syncerr.CodeReauth:
		return true
	}
	return false
}
