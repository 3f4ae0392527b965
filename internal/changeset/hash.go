// Package changeset fingerprints synced records, diffs both sources
// against the last checkpoint, and resolves conflicts per policy.
package changeset

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/erauner12/tablebridge/internal/airtable"
	"github.com/erauner12/tablebridge/internal/fieldmap"
	"github.com/erauner12/tablebridge/internal/gsheets"
)

// CheckpointEntry is the stored fingerprint of one record at the end of
// a successful run.
type CheckpointEntry struct {
	Hash       string    `json:"hash"`
	CapturedAt time.Time `json:"capturedAt"`
}

// HashRecord fingerprints the mapped field set of an upstream record.
// Unmapped fields never contribute, so edits to them do not register as
// changes.
func HashRecord(m *fieldmap.Mapper, rec airtable.Record) string {
	doc := make(map[string]interface{}, len(m.Fields()))
	for _, mf := range m.Fields() {
		doc[mf.Field.ID] = fieldmap.NormalizeRecordValue(mf.Field, rec.Fields[mf.Field.ID])
	}
	return hashDoc(doc)
}

// HashRow fingerprints the mapped cells of a sheet row. Only mapped
// columns are read, which keeps the id column out of the hash: writing
// a record id back to a row never changes its fingerprint.
func HashRow(m *fieldmap.Mapper, row gsheets.Row) string {
	doc := make(map[string]interface{}, len(m.Fields()))
	for _, mf := range m.Fields() {
		doc[mf.Field.ID] = fieldmap.NormalizeCell(mf.Field, row.Cell(mf.Column))
	}
	return hashDoc(doc)
}

// hashDoc serializes the normalized document as canonical JSON (the
// encoder emits map keys in sorted order) and returns its hex SHA-256.
func hashDoc(doc map[string]interface{}) string {
	buf, _ := json.Marshal(doc)
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// BuildCheckpoint fingerprints every record for persistence after a
// successful run.
func BuildCheckpoint(m *fieldmap.Mapper, records []airtable.Record, capturedAt time.Time) map[string]CheckpointEntry {
	entries := make(map[string]CheckpointEntry, len(records))
	for _, rec := range records {
		entries[rec.ID] = CheckpointEntry{Hash: HashRecord(m, rec), CapturedAt: capturedAt}
	}
	return entries
}
