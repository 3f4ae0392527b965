// Package fieldmap translates between Airtable's typed field values and
// spreadsheet cell primitives, driven by a field-to-column mapping. It
// also owns the normalization rules that make content hashes comparable
// across the two representations.
package fieldmap

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/erauner12/tablebridge/internal/airtable"
	"github.com/erauner12/tablebridge/internal/gsheets"
	"github.com/erauner12/tablebridge/internal/syncerr"
)

// ListSeparator joins and splits multi-value cells
const ListSeparator = ", "

// MappedField pairs one schema field with its spreadsheet column
type MappedField struct {
	Field  airtable.Field
	Column int
}

// Mapper converts records to rows and back for one table's mapping.
// Linked-record values pass through as display names in both directions;
// id resolution happens in the link resolver, not here.
type Mapper struct {
	fields []MappedField
	strict bool
	width  int
}

// New builds a Mapper from a field-id to column-index mapping. Mapping
// entries that reference fields missing from the table schema are
// rejected so stale configs fail loudly instead of writing misaligned
// columns.
func New(table *airtable.Table, mapping map[string]int, strict bool) (*Mapper, error) {
	m := &Mapper{strict: strict}

	for fieldID, col := range mapping {
		if col < 0 {
			return nil, fmt.Errorf("field %s maps to negative column %d", fieldID, col)
		}
		field, ok := table.FieldByID(fieldID)
		if !ok {
			return nil, fmt.Errorf("mapped field %s not present in table %s", fieldID, table.ID)
		}
		m.fields = append(m.fields, MappedField{Field: field, Column: col})
		if col+1 > m.width {
			m.width = col + 1
		}
	}

	sort.Slice(m.fields, func(i, j int) bool { return m.fields[i].Column < m.fields[j].Column })

	seen := make(map[int]string, len(m.fields))
	for _, mf := range m.fields {
		if other, dup := seen[mf.Column]; dup {
			return nil, fmt.Errorf("fields %s and %s both map to column %d", other, mf.Field.ID, mf.Column)
		}
		seen[mf.Column] = mf.Field.ID
	}

	return m, nil
}

// Fields returns the mapped fields in column order
func (m *Mapper) Fields() []MappedField { return m.fields }

// Width is the number of columns the data region occupies
func (m *Mapper) Width() int { return m.width }

// HeaderRow renders field names at their mapped positions
func (m *Mapper) HeaderRow() gsheets.Row {
	row := make(gsheets.Row, m.width)
	for _, mf := range m.fields {
		row[mf.Column] = gsheets.String(mf.Field.Name)
	}
	return row
}

// RecordToRow converts one record into a row of width Width
func (m *Mapper) RecordToRow(rec airtable.Record) gsheets.Row {
	row := make(gsheets.Row, m.width)
	for _, mf := range m.fields {
		row[mf.Column] = cellFor(mf.Field, rec.Fields[mf.Field.ID])
	}
	return row
}

// cellFor renders a value for its field type. Checkboxes become the
// literal strings TRUE/FALSE, including when unset.
func cellFor(field airtable.Field, v airtable.Value) gsheets.CellValue {
	if v.IsAbsent() {
		if field.Type == airtable.TypeCheckbox {
			return gsheets.String("FALSE")
		}
		return gsheets.CellValue{}
	}

	switch v.Kind {
	case airtable.KindText, airtable.KindSelect, airtable.KindUser:
		return gsheets.String(strings.TrimSpace(v.Text))
	case airtable.KindNumber:
		return gsheets.Number(v.Num)
	case airtable.KindBool:
		if v.Bool {
			return gsheets.String("TRUE")
		}
		return gsheets.String("FALSE")
	case airtable.KindDate:
		return gsheets.String(v.Time.Format(airtable.DateLayout))
	case airtable.KindDateTime:
		return gsheets.String(v.Time.UTC().Format(time.RFC3339))
	case airtable.KindMultiSelect, airtable.KindLinks, airtable.KindAttachments:
		return gsheets.String(strings.Join(v.List, ListSeparator))
	default:
		return gsheets.CellValue{}
	}
}

// RowToRecord converts one row back into record fields. Read-only field
// kinds are dropped. Cells that cannot be coerced fail the record in
// strict mode; in lenient mode they are skipped with a warning. rowRef
// names the row in errors and warnings (a record id or "row N").
func (m *Mapper) RowToRecord(row gsheets.Row, rowRef string) (map[string]airtable.Value, []string, error) {
	fields := make(map[string]airtable.Value, len(m.fields))
	var warnings []string

	for _, mf := range m.fields {
		if mf.Field.Type.ReadOnly() {
			continue
		}

		cell := row.Cell(mf.Column)
		v, err := coerce(mf.Field, cell)
		if err != nil {
			if m.strict {
				return nil, warnings, &syncerr.ValidationError{
					Service:  syncerr.ServiceSheets,
					RecordID: rowRef,
					Field:    mf.Field.Name,
					Message:  err.Error(),
				}
			}
			warnings = append(warnings, fmt.Sprintf("%s: field %q: %v (skipped)", rowRef, mf.Field.Name, err))
			continue
		}
		fields[mf.Field.ID] = v
	}

	return fields, warnings, nil
}

// coerce parses a cell into the field's declared type. Empty cells
// become the absent value, which clears the field upstream.
func coerce(field airtable.Field, cell gsheets.CellValue) (airtable.Value, error) {
	if cell.IsEmpty() {
		return airtable.Value{}, nil
	}

	switch field.Type {
	case airtable.TypeSingleLineText, airtable.TypeMultilineText, airtable.TypeRichText,
		airtable.TypeURL, airtable.TypeEmail, airtable.TypePhoneNumber, airtable.TypeBarcode:
		return airtable.Text(strings.TrimSpace(cell.Text())), nil

	case airtable.TypeNumber, airtable.TypeCurrency, airtable.TypePercent,
		airtable.TypeDuration, airtable.TypeRating:
		return coerceNumber(cell)

	case airtable.TypeCheckbox:
		return coerceBool(cell)

	case airtable.TypeDate:
		return coerceDate(cell)

	case airtable.TypeDateTime:
		return coerceDateTime(cell)

	case airtable.TypeSingleSelect:
		return airtable.Select(strings.TrimSpace(cell.Text())), nil

	case airtable.TypeMultipleSelects:
		return airtable.MultiSelect(splitList(cell.Text())), nil

	case airtable.TypeRecordLinks:
		// display names; the link resolver maps them to record ids
		return airtable.Links(splitList(cell.Text())), nil

	case airtable.TypeAttachments:
		return airtable.Attachments(splitList(cell.Text())), nil

	default:
		return airtable.Value{}, fmt.Errorf("cannot write to %s field", field.Type)
	}
}

func coerceNumber(cell gsheets.CellValue) (airtable.Value, error) {
	switch cell.Kind {
	case gsheets.CellNumber:
		return airtable.Number(cell.Num), nil
	case gsheets.CellString:
		f, err := strconv.ParseFloat(strings.TrimSpace(cell.Str), 64)
		if err != nil {
			return airtable.Value{}, fmt.Errorf("%q is not a number", cell.Str)
		}
		return airtable.Number(f), nil
	case gsheets.CellBool:
		return airtable.Value{}, fmt.Errorf("boolean cell is not a number")
	}
	return airtable.Value{}, nil
}

func coerceBool(cell gsheets.CellValue) (airtable.Value, error) {
	switch cell.Kind {
	case gsheets.CellBool:
		return airtable.Bool(cell.Bool), nil
	case gsheets.CellNumber:
		switch cell.Num {
		case 0:
			return airtable.Bool(false), nil
		case 1:
			return airtable.Bool(true), nil
		}
		return airtable.Value{}, fmt.Errorf("%v is not a boolean", cell.Num)
	case gsheets.CellString:
		switch strings.ToLower(strings.TrimSpace(cell.Str)) {
		case "true", "yes", "1":
			return airtable.Bool(true), nil
		case "false", "no", "0":
			return airtable.Bool(false), nil
		}
		return airtable.Value{}, fmt.Errorf("%q is not a boolean", cell.Str)
	}
	return airtable.Value{}, nil
}

func coerceDate(cell gsheets.CellValue) (airtable.Value, error) {
	s := strings.TrimSpace(cell.Text())
	if t, err := time.Parse(airtable.DateLayout, s); err == nil {
		return airtable.Date(t), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return airtable.Date(t), nil
	}
	return airtable.Value{}, fmt.Errorf("%q is not an ISO-8601 date", s)
}

func coerceDateTime(cell gsheets.CellValue) (airtable.Value, error) {
	s := strings.TrimSpace(cell.Text())
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return airtable.DateTime(t), nil
	}
	if t, err := time.Parse(airtable.DateLayout, s); err == nil {
		return airtable.DateTime(t), nil
	}
	return airtable.Value{}, fmt.Errorf("%q is not an ISO-8601 date-time", s)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
