package gsheets

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Spreadsheet is one spreadsheet file visible to the connected account
type Spreadsheet struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SheetMeta describes one sheet (tab) inside a spreadsheet
type SheetMeta struct {
	SheetID     int64
	Title       string
	RowCount    int
	ColumnCount int
}

// SpreadsheetMeta is the sheet inventory of a spreadsheet
type SpreadsheetMeta struct {
	SpreadsheetID string
	Title         string
	Sheets        []SheetMeta
}

// SheetByTitle returns the sheet with the given title, or false
func (m *SpreadsheetMeta) SheetByTitle(title string) (SheetMeta, bool) {
	for _, s := range m.Sheets {
		if s.Title == title {
			return s, true
		}
	}
	return SheetMeta{}, false
}

// CellKind tags a CellValue
type CellKind int

const (
	CellEmpty CellKind = iota
	CellString
	CellNumber
	CellBool
)

// CellValue is one spreadsheet cell primitive. The zero value is an
// empty cell.
type CellValue struct {
	Kind CellKind
	Str  string
	Num  float64
	Bool bool
}

func String(s string) CellValue  { return CellValue{Kind: CellString, Str: s} }
func Number(f float64) CellValue { return CellValue{Kind: CellNumber, Num: f} }
func Boolean(b bool) CellValue   { return CellValue{Kind: CellBool, Bool: b} }

// IsEmpty reports whether the cell holds no value. Whitespace-only
// strings count as empty.
func (c CellValue) IsEmpty() bool {
	if c.Kind == CellEmpty {
		return true
	}
	return c.Kind == CellString && strings.TrimSpace(c.Str) == ""
}

// Text renders the cell as a string the way it would display
func (c CellValue) Text() string {
	switch c.Kind {
	case CellString:
		return c.Str
	case CellNumber:
		return strconv.FormatFloat(c.Num, 'f', -1, 64)
	case CellBool:
		if c.Bool {
			return "TRUE"
		}
		return "FALSE"
	default:
		return ""
	}
}

// MarshalJSON writes the bare primitive; empty cells become ""
func (c CellValue) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case CellString:
		return json.Marshal(c.Str)
	case CellNumber:
		return json.Marshal(c.Num)
	case CellBool:
		return json.Marshal(c.Bool)
	default:
		return json.Marshal("")
	}
}

// UnmarshalJSON accepts any scalar the values API may return
func (c *CellValue) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case nil:
		*c = CellValue{}
	case string:
		*c = String(t)
	case float64:
		*c = Number(t)
	case bool:
		*c = Boolean(t)
	default:
		return fmt.Errorf("unsupported cell value %T", v)
	}
	return nil
}

// Row is one spreadsheet row. Trailing empty cells may be absent; use
// Cell for bounds-safe access.
type Row []CellValue

// Cell returns the value at index, or an empty cell past the row's end
func (r Row) Cell(index int) CellValue {
	if index < 0 || index >= len(r) {
		return CellValue{}
	}
	return r[index]
}

// ColumnLetter converts a zero-based column index to A1 letters
// (0 is A, 25 is Z, 26 is AA).
func ColumnLetter(index int) string {
	letters := ""
	for index >= 0 {
		letters = string(rune('A'+index%26)) + letters
		index = index/26 - 1
	}
	return letters
}

// RangeRef builds an A1 range reference scoped to a sheet. Rows are
// one-based; columns zero-based. Sheet titles are always quoted.
func RangeRef(sheetTitle string, startCol, startRow, endCol, endRow int) string {
	quoted := "'" + strings.ReplaceAll(sheetTitle, "'", "''") + "'"
	return fmt.Sprintf("%s!%s%d:%s%d", quoted, ColumnLetter(startCol), startRow, ColumnLetter(endCol), endRow)
}
