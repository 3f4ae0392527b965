package changeset

import (
	"strings"
	"testing"
	"time"

	"github.com/erauner12/tablebridge/internal/airtable"
	"github.com/erauner12/tablebridge/internal/gsheets"
)

func rec(id, name string) airtable.Record {
	return airtable.Record{ID: id, Fields: map[string]airtable.Value{
		"fldName": airtable.Text(name),
	}}
}

func srow(index int, id, name string) SheetRow {
	return SheetRow{Index: index, ID: id, Row: gsheets.Row{gsheets.String(name)}}
}

func assertCounts(t *testing.T, ch *Changes, none, airtableOnly, sheetsOnly, newA, newB, conflicts int) {
	t.Helper()
	if len(ch.NoChanges) != none {
		t.Errorf("noChanges = %d, want %d", len(ch.NoChanges), none)
	}
	if len(ch.AirtableOnly) != airtableOnly {
		t.Errorf("airtableOnly = %d, want %d", len(ch.AirtableOnly), airtableOnly)
	}
	if len(ch.SheetsOnly) != sheetsOnly {
		t.Errorf("sheetsOnly = %d, want %d", len(ch.SheetsOnly), sheetsOnly)
	}
	if len(ch.NewInA) != newA {
		t.Errorf("newInA = %d, want %d", len(ch.NewInA), newA)
	}
	if len(ch.NewInB) != newB {
		t.Errorf("newInB = %d, want %d", len(ch.NewInB), newB)
	}
	if len(ch.Conflicts) != conflicts {
		t.Errorf("conflicts = %d, want %d", len(ch.Conflicts), conflicts)
	}
}

func TestDetectMissingCheckpoint(t *testing.T) {
	m := testMapper(t)

	records := []airtable.Record{rec("rec1", "Alpha"), rec("rec2", "Beta")}
	rows := []SheetRow{srow(0, "rec1", "Alpha"), srow(1, "", "Delta")}

	ch := Detect(m, records, rows, nil)

	assertCounts(t, ch, 0, 0, 0, 2, 2, 0)
	if ch.NewInB[0].RecordID != "rec1" || ch.NewInB[0].RowIndex != 0 {
		t.Errorf("newInB[0] = %+v, should keep the row's id for apply-time matching", ch.NewInB[0])
	}
	if ch.NewInB[1].RecordID != "" || ch.NewInB[1].RowIndex != 1 {
		t.Errorf("newInB[1] = %+v", ch.NewInB[1])
	}
}

func TestDetectClassificationMatrix(t *testing.T) {
	m := testMapper(t)
	baseline := map[string]CheckpointEntry{
		"rec1": {Hash: HashRecord(m, rec("rec1", "Alpha")), CapturedAt: time.Now()},
	}

	tests := []struct {
		name  string
		aName string
		bName string
		check func(t *testing.T, ch *Changes)
	}{
		{
			name: "unchanged both sides", aName: "Alpha", bName: "Alpha",
			check: func(t *testing.T, ch *Changes) {
				assertCounts(t, ch, 1, 0, 0, 0, 0, 0)
				if e := ch.NoChanges[0]; e.RecordID != "rec1" || e.RowIndex != 0 {
					t.Errorf("entry = %+v", e)
				}
			},
		},
		{
			name: "record edited", aName: "Alpha v2", bName: "Alpha",
			check: func(t *testing.T, ch *Changes) {
				assertCounts(t, ch, 0, 1, 0, 0, 0, 0)
			},
		},
		{
			name: "row edited", aName: "Alpha", bName: "Alpha v2",
			check: func(t *testing.T, ch *Changes) {
				assertCounts(t, ch, 0, 0, 1, 0, 0, 0)
				if e := ch.SheetsOnly[0]; e.RowIndex != 0 {
					t.Errorf("entry = %+v", e)
				}
			},
		},
		{
			name: "both edited", aName: "Alpha from A", bName: "Alpha from B",
			check: func(t *testing.T, ch *Changes) {
				assertCounts(t, ch, 0, 0, 0, 0, 0, 1)
				c := ch.Conflicts[0]
				if c.Kind != ConflictBothModified || c.RecordID != "rec1" || c.RowIndex != 0 {
					t.Errorf("conflict = %+v", c)
				}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ch := Detect(m,
				[]airtable.Record{rec("rec1", tc.aName)},
				[]SheetRow{srow(0, "rec1", tc.bName)},
				baseline)
			tc.check(t, ch)
		})
	}
}

func TestDetectDeletions(t *testing.T) {
	m := testMapper(t)
	baseline := map[string]CheckpointEntry{
		"rec1": {Hash: HashRecord(m, rec("rec1", "Alpha"))},
	}

	t.Run("row deleted, record unchanged", func(t *testing.T) {
		ch := Detect(m, []airtable.Record{rec("rec1", "Alpha")}, nil, baseline)
		assertCounts(t, ch, 1, 0, 0, 0, 0, 0)
		if ch.NoChanges[0].RowIndex != -1 {
			t.Errorf("entry = %+v", ch.NoChanges[0])
		}
	})

	t.Run("row deleted, record changed", func(t *testing.T) {
		ch := Detect(m, []airtable.Record{rec("rec1", "Alpha v2")}, nil, baseline)
		assertCounts(t, ch, 0, 0, 0, 0, 0, 1)
		c := ch.Conflicts[0]
		if c.Kind != ConflictDeletedInSheets || c.RowIndex != -1 {
			t.Errorf("conflict = %+v", c)
		}
	})

	t.Run("record deleted, row changed", func(t *testing.T) {
		ch := Detect(m, nil, []SheetRow{srow(0, "rec1", "Alpha v2")}, baseline)
		assertCounts(t, ch, 0, 0, 0, 0, 0, 1)
		c := ch.Conflicts[0]
		if c.Kind != ConflictDeletedInAirtable || c.RowIndex != 0 {
			t.Errorf("conflict = %+v", c)
		}
	})

	t.Run("record deleted, row unchanged", func(t *testing.T) {
		ch := Detect(m, nil, []SheetRow{srow(0, "rec1", "Alpha")}, baseline)
		assertCounts(t, ch, 1, 0, 0, 0, 0, 0)
	})

	t.Run("row id unknown to checkpoint and upstream", func(t *testing.T) {
		ch := Detect(m, nil, []SheetRow{srow(0, "recX", "Orphan")}, baseline)
		assertCounts(t, ch, 0, 0, 0, 0, 1, 0)
		if e := ch.NewInB[0]; e.RecordID != "recX" {
			t.Errorf("entry = %+v", e)
		}
	})
}

func TestDetectNewRecordsAndRows(t *testing.T) {
	m := testMapper(t)
	baseline := map[string]CheckpointEntry{
		"rec1": {Hash: HashRecord(m, rec("rec1", "Alpha"))},
	}

	records := []airtable.Record{rec("rec1", "Alpha"), rec("rec2", "Beta")}
	rows := []SheetRow{srow(0, "rec1", "Alpha"), srow(1, "", "Delta")}

	ch := Detect(m, records, rows, baseline)

	assertCounts(t, ch, 1, 0, 0, 1, 1, 0)
	if ch.NewInA[0].RecordID != "rec2" {
		t.Errorf("newInA = %+v", ch.NewInA[0])
	}
	if ch.NewInB[0].RowIndex != 1 || ch.NewInB[0].RecordID != "" {
		t.Errorf("newInB = %+v", ch.NewInB[0])
	}
}

func TestDetectPairWithoutBaselineIsConflict(t *testing.T) {
	m := testMapper(t)
	baseline := map[string]CheckpointEntry{
		"recOther": {Hash: "unrelated"},
	}

	ch := Detect(m, []airtable.Record{rec("rec1", "Alpha")}, []SheetRow{srow(0, "rec1", "Alpha")}, baseline)

	assertCounts(t, ch, 0, 0, 0, 0, 0, 1)
	if ch.Conflicts[0].Kind != ConflictBothModified {
		t.Errorf("conflict = %+v", ch.Conflicts[0])
	}
}

func TestDetectDuplicateIDRows(t *testing.T) {
	m := testMapper(t)
	baseline := map[string]CheckpointEntry{
		"rec1": {Hash: HashRecord(m, rec("rec1", "Alpha"))},
	}

	rows := []SheetRow{srow(0, "rec1", "Alpha"), srow(1, "rec1", "Alpha")}
	ch := Detect(m, []airtable.Record{rec("rec1", "Alpha")}, rows, baseline)

	assertCounts(t, ch, 1, 0, 0, 0, 1, 0)
	if e := ch.NewInB[0]; e.RecordID != "" || e.RowIndex != 1 {
		t.Errorf("duplicate row classified as %+v, want id-less new row", e)
	}
	if len(ch.Warnings) != 1 || !strings.Contains(ch.Warnings[0], "rec1") {
		t.Errorf("warnings = %v", ch.Warnings)
	}
}

func TestChangesTotal(t *testing.T) {
	ch := &Changes{
		NoChanges: []Entry{{}, {}},
		NewInA:    []Entry{{}},
		Conflicts: []ConflictInfo{{}},
	}
	if ch.Total() != 4 {
		t.Errorf("Total = %d, want 4", ch.Total())
	}
}
