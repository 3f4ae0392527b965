package fieldmap

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/erauner12/tablebridge/internal/airtable"
	"github.com/erauner12/tablebridge/internal/gsheets"
)

// Normalize reduces a typed value to its canonical comparable form:
// nil for absent, trimmed strings, floats rounded to 6 decimal places,
// sorted string slices for list kinds. Two values that normalize equal
// are the same content as far as change detection is concerned.
func Normalize(v airtable.Value) interface{} {
	switch v.Kind {
	case airtable.KindText, airtable.KindSelect, airtable.KindUser:
		s := strings.TrimSpace(v.Text)
		if s == "" {
			return nil
		}
		return s
	case airtable.KindNumber:
		return roundFloat(v.Num)
	case airtable.KindBool:
		return v.Bool
	case airtable.KindDate:
		return v.Time.Format(airtable.DateLayout)
	case airtable.KindDateTime:
		return v.Time.UTC().Format(time.RFC3339)
	case airtable.KindMultiSelect, airtable.KindLinks, airtable.KindAttachments:
		return normalizeList(v.List)
	default:
		return nil
	}
}

// NormalizeRecordValue canonicalizes a record field for fingerprinting.
// Read-only fields normalize through their cell rendering, because the
// spreadsheet side can only ever see the rendered form. An unset
// checkbox reads as unchecked.
func NormalizeRecordValue(field airtable.Field, v airtable.Value) interface{} {
	if field.Type.ReadOnly() {
		return normalizeRawCell(cellFor(field, v))
	}
	if v.IsAbsent() && field.Type == airtable.TypeCheckbox {
		return false
	}
	return Normalize(v)
}

// NormalizeCell canonicalizes a cell for fingerprinting, using the field
// type to resolve ambiguity (the cell "TRUE" under a checkbox field is
// the boolean true, not a string). Cells that cannot be coerced
// normalize to their trimmed display text so unexpected edits still
// register as changes.
func NormalizeCell(field airtable.Field, cell gsheets.CellValue) interface{} {
	if field.Type.ReadOnly() {
		return normalizeRawCell(cell)
	}

	v, err := coerce(field, cell)
	if err != nil {
		s := strings.TrimSpace(cell.Text())
		if s == "" {
			return nil
		}
		return s
	}
	if v.IsAbsent() && field.Type == airtable.TypeCheckbox {
		return false
	}
	return Normalize(v)
}

// normalizeRawCell canonicalizes a cell by its own shape, with no field
// type to guide coercion.
func normalizeRawCell(cell gsheets.CellValue) interface{} {
	switch cell.Kind {
	case gsheets.CellNumber:
		return roundFloat(cell.Num)
	case gsheets.CellBool:
		return cell.Bool
	case gsheets.CellString:
		s := strings.TrimSpace(cell.Str)
		if s == "" {
			return nil
		}
		return s
	default:
		return nil
	}
}

func normalizeList(items []string) interface{} {
	cleaned := make([]string, 0, len(items))
	for _, s := range items {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	if len(cleaned) == 0 {
		return nil
	}
	sort.Strings(cleaned)
	return cleaned
}

func roundFloat(f float64) float64 {
	return math.Round(f*1e6) / 1e6
}
