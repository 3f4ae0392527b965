package engine

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/erauner12/tablebridge/internal/airtable"
	"github.com/erauner12/tablebridge/internal/changeset"
	"github.com/erauner12/tablebridge/internal/fieldmap"
	"github.com/erauner12/tablebridge/internal/gsheets"
	"github.com/erauner12/tablebridge/internal/store"
)

// fakeA is an in-memory Airtable base. Sort options are honored so
// ordering assertions exercise real behavior.
type fakeA struct {
	mu      sync.Mutex
	tables  map[string]*airtable.Table
	records map[string][]airtable.Record
	seq     int

	listCalls   int
	createCalls int
	updateCalls int
	deleted     [][]string
	lastOpts    airtable.ListOptions
	listDelay   time.Duration

	getErr    error
	listErr   error
	createErr error
	updateErr error
	deleteErr error
	// failCreateWith fails any create batch carrying this Name value
	failCreateWith string
}

func newFakeA(table *airtable.Table, records ...airtable.Record) *fakeA {
	f := &fakeA{
		tables:  map[string]*airtable.Table{},
		records: map[string][]airtable.Record{},
	}
	f.addTable(table, records...)
	return f
}

func (f *fakeA) addTable(table *airtable.Table, records ...airtable.Record) {
	f.tables[table.ID] = table
	f.records[table.ID] = records
}

func (f *fakeA) GetTable(ctx context.Context, baseID, tableID string) (*airtable.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	table, ok := f.tables[tableID]
	if !ok {
		return nil, fmt.Errorf("table %s not found", tableID)
	}
	return table, nil
}

func (f *fakeA) ListRecords(ctx context.Context, baseID string, table *airtable.Table, opts airtable.ListOptions) ([]airtable.Record, error) {
	if f.listDelay > 0 {
		select {
		case <-time.After(f.listDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	f.lastOpts = opts
	if f.listErr != nil {
		return nil, f.listErr
	}

	recs := f.records[table.ID]
	out := make([]airtable.Record, len(recs))
	for i, r := range recs {
		out[i] = cloneRecord(r)
	}
	if opts.SortFieldID != "" {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Fields[opts.SortFieldID].Display() < out[j].Fields[opts.SortFieldID].Display()
		})
	}
	return out, nil
}

func (f *fakeA) CreateRecords(ctx context.Context, baseID, tableID string, records []map[string]airtable.Value) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.failCreateWith != "" {
		for _, fields := range records {
			if fields["fldName"].Text == f.failCreateWith {
				return nil, fmt.Errorf("create rejected")
			}
		}
	}
	ids := make([]string, 0, len(records))
	for _, fields := range records {
		f.seq++
		id := fmt.Sprintf("recNew%03d", f.seq)
		cp := make(map[string]airtable.Value, len(fields))
		for k, v := range fields {
			cp[k] = v
		}
		f.records[tableID] = append(f.records[tableID], airtable.Record{ID: id, Fields: cp})
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeA) UpdateRecords(ctx context.Context, baseID, tableID string, updates []airtable.RecordUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if f.updateErr != nil {
		return f.updateErr
	}
	for _, u := range updates {
		found := false
		for i := range f.records[tableID] {
			if f.records[tableID][i].ID != u.ID {
				continue
			}
			for k, v := range u.Fields {
				f.records[tableID][i].Fields[k] = v
			}
			found = true
			break
		}
		if !found {
			return fmt.Errorf("update unknown record %s", u.ID)
		}
	}
	return nil
}

func (f *fakeA) DeleteRecords(ctx context.Context, baseID, tableID string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, ids)
	gone := make(map[string]bool, len(ids))
	for _, id := range ids {
		gone[id] = true
	}
	kept := f.records[tableID][:0:0]
	for _, r := range f.records[tableID] {
		if !gone[r.ID] {
			kept = append(kept, r)
		}
	}
	f.records[tableID] = kept
	return nil
}

func (f *fakeA) record(tableID, id string) (airtable.Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records[tableID] {
		if r.ID == id {
			return cloneRecord(r), true
		}
	}
	return airtable.Record{}, false
}

func (f *fakeA) count(tableID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records[tableID])
}

func cloneRecord(r airtable.Record) airtable.Record {
	cp := airtable.Record{ID: r.ID, CreatedTime: r.CreatedTime, Fields: make(map[string]airtable.Value, len(r.Fields))}
	for k, v := range r.Fields {
		cp.Fields[k] = v
	}
	return cp
}

// fakeB is an in-memory spreadsheet honoring the A1 ranges the
// executors produce
type fakeB struct {
	mu     sync.Mutex
	cells  []gsheets.Row
	hidden []int
	rules  [][]gsheets.ValidationRule
	writes int

	getErr    error
	updateErr error
	appendErr error
	deleteErr error
}

func newFakeB(rows ...gsheets.Row) *fakeB {
	f := &fakeB{}
	for _, r := range rows {
		f.cells = append(f.cells, append(gsheets.Row(nil), r...))
	}
	return f
}

func (f *fakeB) GetSheetValues(ctx context.Context, spreadsheetID, sheetTitle string) ([]gsheets.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	// the values API omits trailing empty cells and rows
	var out []gsheets.Row
	for _, row := range f.cells {
		end := len(row)
		for end > 0 && row[end-1].IsEmpty() {
			end--
		}
		out = append(out, append(gsheets.Row(nil), row[:end]...))
	}
	for len(out) > 0 && len(out[len(out)-1]) == 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (f *fakeB) UpdateRange(ctx context.Context, spreadsheetID, rangeA1 string, rows []gsheets.Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	startCol, startRow, endCol, _, err := parseRef(rangeA1)
	if err != nil {
		return err
	}
	for i, row := range rows {
		r := startRow - 1 + i
		f.grow(r, endCol)
		for j, cell := range row {
			c := startCol + j
			if c > endCol {
				break
			}
			f.cells[r][c] = cell
		}
	}
	f.writes++
	return nil
}

func (f *fakeB) AppendRows(ctx context.Context, spreadsheetID, sheetTitle string, rows []gsheets.Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	last := -1
	for i, row := range f.cells {
		for _, c := range row {
			if !c.IsEmpty() {
				last = i
				break
			}
		}
	}
	for i, row := range rows {
		r := last + 1 + i
		f.grow(r, -1)
		f.cells[r] = append(gsheets.Row(nil), row...)
	}
	f.writes++
	return nil
}

func (f *fakeB) DeleteRows(ctx context.Context, spreadsheetID string, sheetID int64, startIndex, count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if startIndex < 0 || count < 1 || startIndex+count > len(f.cells) {
		return fmt.Errorf("delete rows [%d,%d) outside grid of %d rows", startIndex, startIndex+count, len(f.cells))
	}
	f.cells = append(f.cells[:startIndex], f.cells[startIndex+count:]...)
	f.writes++
	return nil
}

func (f *fakeB) EnsureColumnCount(ctx context.Context, spreadsheetID string, sheetID int64, minColumns int) error {
	return nil
}

func (f *fakeB) HideColumn(ctx context.Context, spreadsheetID string, sheetID int64, columnIndex int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hidden = append(f.hidden, columnIndex)
	return nil
}

func (f *fakeB) SetDataValidation(ctx context.Context, spreadsheetID string, sheetID int64, rules []gsheets.ValidationRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rules)
	f.writes++
	return nil
}

func (f *fakeB) grow(rowIdx, colIdx int) {
	for len(f.cells) <= rowIdx {
		f.cells = append(f.cells, gsheets.Row{})
	}
	for len(f.cells[rowIdx]) <= colIdx {
		f.cells[rowIdx] = append(f.cells[rowIdx], gsheets.CellValue{})
	}
}

// cellText reads one cell by zero-based grid coordinates
func (f *fakeB) cellText(row, col int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row < 0 || row >= len(f.cells) {
		return ""
	}
	return f.cells[row].Cell(col).Text()
}

func (f *fakeB) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cells)
}

func (f *fakeB) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *fakeB) hiddenColumns() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.hidden...)
}

// parseRef decodes a RangeRef-produced A1 reference into zero-based
// columns and one-based rows
func parseRef(ref string) (startCol, startRow, endCol, endRow int, err error) {
	bang := strings.LastIndex(ref, "!")
	if bang < 0 {
		return 0, 0, 0, 0, fmt.Errorf("range %q has no sheet prefix", ref)
	}
	parts := strings.Split(ref[bang+1:], ":")
	if len(parts) != 2 {
		return 0, 0, 0, 0, fmt.Errorf("range %q is not a rectangle", ref)
	}
	if startCol, startRow, err = parseCell(parts[0]); err != nil {
		return 0, 0, 0, 0, err
	}
	if endCol, endRow, err = parseCell(parts[1]); err != nil {
		return 0, 0, 0, 0, err
	}
	return startCol, startRow, endCol, endRow, nil
}

func parseCell(s string) (col, row int, err error) {
	i := 0
	for i < len(s) && s[i] >= 'A' && s[i] <= 'Z' {
		i++
	}
	if i == 0 || i == len(s) {
		return 0, 0, fmt.Errorf("cell %q is not column letters then digits", s)
	}
	for _, c := range s[:i] {
		col = col*26 + int(c-'A') + 1
	}
	col--
	row, err = strconv.Atoi(s[i:])
	return col, row, err
}

// shared fixtures

const testIDColumn = 26

var testStart = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func testTable() *airtable.Table {
	return &airtable.Table{
		ID:             "tblTasks",
		Name:           "Tasks",
		PrimaryFieldID: "fldName",
		Fields: []airtable.Field{
			{ID: "fldName", Name: "Name", Type: airtable.TypeSingleLineText},
			{ID: "fldNotes", Name: "Notes", Type: airtable.TypeMultilineText},
		},
	}
}

func linkedTaskTable() *airtable.Table {
	t := testTable()
	t.Fields = append(t.Fields, airtable.Field{
		ID:      "fldOwner",
		Name:    "Owner",
		Type:    airtable.TypeRecordLinks,
		Options: &airtable.FieldOptions{LinkedTableID: "tblPeople"},
	})
	return t
}

func peopleTable() *airtable.Table {
	return &airtable.Table{
		ID:             "tblPeople",
		Name:           "People",
		PrimaryFieldID: "fldPerson",
		Fields: []airtable.Field{
			{ID: "fldPerson", Name: "Person", Type: airtable.TypeSingleLineText},
		},
	}
}

func taskConfig(direction store.Direction) *store.SyncConfig {
	return &store.SyncConfig{
		ID:              uuid.New(),
		UserID:          "u1",
		AirtableBaseID:  "appBase1",
		AirtableTableID: "tblTasks",
		SpreadsheetID:   "sheet-1",
		SheetID:         0,
		SheetName:       "Tasks",
		FieldMapping:    map[string]int{"fldName": 0, "fldNotes": 1},
		Direction:       direction,
		ConflictPolicy:  changeset.StrategyAirtableWins,
		Active:          true,
	}
}

func newTestSync(a SourceA, b SourceB, cfg *store.SyncConfig) *Sync {
	return &Sync{
		A:        a,
		B:        b,
		Cfg:      cfg,
		IDColumn: testIDColumn,
		Clock:    clockwork.NewFakeClockAt(testStart),
	}
}

func taskRecord(id, name, notes string) airtable.Record {
	return airtable.Record{ID: id, Fields: map[string]airtable.Value{
		"fldName":  airtable.Text(name),
		"fldNotes": airtable.Text(notes),
	}}
}

// taskRow builds a sheet data row with the id in the hidden column
func taskRow(name, notes, id string) gsheets.Row {
	row := make(gsheets.Row, testIDColumn+1)
	row[0] = gsheets.String(name)
	row[1] = gsheets.String(notes)
	row[testIDColumn] = gsheets.String(id)
	return row
}

func taskHeader() gsheets.Row {
	row := make(gsheets.Row, testIDColumn+1)
	row[0] = gsheets.String("Name")
	row[1] = gsheets.String("Notes")
	row[testIDColumn] = gsheets.String(idHeader)
	return row
}

func taskMapper(t *testing.T, table *airtable.Table, mapping map[string]int) *fieldmap.Mapper {
	t.Helper()
	m, err := fieldmap.New(table, mapping, false)
	if err != nil {
		t.Fatalf("build mapper: %v", err)
	}
	return m
}

func assertApplied(t *testing.T, res *RunResult, added, updated, deleted int) {
	t.Helper()
	if res.Added != added || res.Updated != updated || res.Deleted != deleted {
		t.Errorf("applied added=%d updated=%d deleted=%d, want %d/%d/%d",
			res.Added, res.Updated, res.Deleted, added, updated, deleted)
	}
}

func containsText(list []string, substr string) bool {
	for _, s := range list {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
