package changeset

import (
	"fmt"

	"github.com/erauner12/tablebridge/internal/airtable"
	"github.com/erauner12/tablebridge/internal/fieldmap"
	"github.com/erauner12/tablebridge/internal/gsheets"
)

// ConflictKind names the disagreement between the two sources
type ConflictKind string

const (
	ConflictBothModified      ConflictKind = "BOTH_MODIFIED"
	ConflictDeletedInSheets   ConflictKind = "DELETED_IN_SHEETS"
	ConflictDeletedInAirtable ConflictKind = "DELETED_IN_AIRTABLE"
)

// SheetRow is one data row as the executor read it. Index is zero-based
// over data rows, so sheet row number = Index + 2 (row 1 is the header).
// ID is the value of the hidden id column, empty when blank.
type SheetRow struct {
	Index int
	ID    string
	Row   gsheets.Row
}

// Entry locates one classified record on both sides. RowIndex is -1
// when the record has no sheet row; RecordID is empty for rows that
// have not been assigned an id yet.
type Entry struct {
	RecordID string
	RowIndex int
}

// ConflictInfo describes one record the detector could not classify as
// a single-sided change.
type ConflictInfo struct {
	RecordID string
	RowIndex int // -1 when the row was deleted
	Kind     ConflictKind
}

// Changes is the detector's verdict over the full record set. Every
// record and row lands in exactly one bucket.
type Changes struct {
	NoChanges    []Entry
	AirtableOnly []Entry
	SheetsOnly   []Entry
	NewInA       []Entry
	NewInB       []Entry
	Conflicts    []ConflictInfo
	Warnings     []string
}

// Total counts classified records across all buckets
func (c *Changes) Total() int {
	return len(c.NoChanges) + len(c.AirtableOnly) + len(c.SheetsOnly) +
		len(c.NewInA) + len(c.NewInB) + len(c.Conflicts)
}

// Detect classifies the current state of both sources against the
// checkpoint. A nil or empty checkpoint means first run: every record
// is new on its own side and the apply phase reconciles overlaps by id
// and primary-field matching.
func Detect(m *fieldmap.Mapper, records []airtable.Record, rows []SheetRow, checkpoint map[string]CheckpointEntry) *Changes {
	ch := &Changes{}

	if len(checkpoint) == 0 {
		for _, rec := range records {
			ch.NewInA = append(ch.NewInA, Entry{RecordID: rec.ID, RowIndex: -1})
		}
		for _, row := range rows {
			ch.NewInB = append(ch.NewInB, Entry{RecordID: row.ID, RowIndex: row.Index})
		}
		return ch
	}

	aHash := make(map[string]string, len(records))
	for _, rec := range records {
		aHash[rec.ID] = HashRecord(m, rec)
	}

	type rowState struct {
		index int
		hash  string
	}
	bByID := make(map[string]rowState, len(rows))
	for _, row := range rows {
		if row.ID == "" {
			ch.NewInB = append(ch.NewInB, Entry{RowIndex: row.Index})
			continue
		}
		if _, claimed := bByID[row.ID]; claimed {
			// a duplicated row keeps its content but loses the id claim,
			// the apply phase assigns it a fresh record
			ch.Warnings = append(ch.Warnings, fmt.Sprintf("row %d repeats record id %s, treating it as new", row.Index+2, row.ID))
			ch.NewInB = append(ch.NewInB, Entry{RowIndex: row.Index})
			continue
		}
		bByID[row.ID] = rowState{index: row.Index, hash: HashRow(m, row.Row)}
	}

	for _, rec := range records {
		id := rec.ID
		b, inB := bByID[id]
		base, inCP := checkpoint[id]
		switch {
		case inB && inCP:
			aChanged := aHash[id] != base.Hash
			bChanged := b.hash != base.Hash
			entry := Entry{RecordID: id, RowIndex: b.index}
			switch {
			case !aChanged && !bChanged:
				ch.NoChanges = append(ch.NoChanges, entry)
			case aChanged && !bChanged:
				ch.AirtableOnly = append(ch.AirtableOnly, entry)
			case !aChanged && bChanged:
				ch.SheetsOnly = append(ch.SheetsOnly, entry)
			default:
				ch.Conflicts = append(ch.Conflicts, ConflictInfo{RecordID: id, RowIndex: b.index, Kind: ConflictBothModified})
			}

		case inB:
			// both sides carry the id but the baseline is gone, only the
			// policy can arbitrate
			ch.Conflicts = append(ch.Conflicts, ConflictInfo{RecordID: id, RowIndex: b.index, Kind: ConflictBothModified})

		case inCP:
			if aHash[id] != base.Hash {
				ch.Conflicts = append(ch.Conflicts, ConflictInfo{RecordID: id, RowIndex: -1, Kind: ConflictDeletedInSheets})
			} else {
				// row deleted, record untouched since checkpoint: inert
				// until one side changes
				ch.NoChanges = append(ch.NoChanges, Entry{RecordID: id, RowIndex: -1})
			}

		default:
			ch.NewInA = append(ch.NewInA, Entry{RecordID: id, RowIndex: -1})
		}
	}

	// rows whose id no longer exists upstream, in sheet order
	for _, row := range rows {
		if row.ID == "" {
			continue
		}
		b, ok := bByID[row.ID]
		if !ok || b.index != row.Index {
			continue // duplicate claim, already reported
		}
		if _, inA := aHash[row.ID]; inA {
			continue
		}
		base, inCP := checkpoint[row.ID]
		entry := Entry{RecordID: row.ID, RowIndex: row.Index}
		switch {
		case !inCP:
			ch.NewInB = append(ch.NewInB, entry)
		case b.hash != base.Hash:
			ch.Conflicts = append(ch.Conflicts, ConflictInfo{RecordID: row.ID, RowIndex: row.Index, Kind: ConflictDeletedInAirtable})
		default:
			ch.NoChanges = append(ch.NoChanges, entry)
		}
	}

	return ch
}
