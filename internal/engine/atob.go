package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/erauner12/tablebridge/internal/airtable"
	"github.com/erauner12/tablebridge/internal/changeset"
	"github.com/erauner12/tablebridge/internal/gsheets"
)

// runAToB mirrors the table into the sheet: rows 2..N+1 reproduce the
// records in table order, the hidden id column pairs each row with its
// record, and select columns get dropdown validation. Rows beyond the
// record count are trimmed when the config allows it.
func (s *Sync) runAToB(ctx context.Context) (map[string]changeset.CheckpointEntry, error) {
	records, err := s.fetchRecords(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.preloadLinkedTables(ctx); err != nil {
		return nil, err
	}
	if err := s.resolveLinks(ctx, records); err != nil {
		return nil, err
	}

	existing, err := s.fetchRows(ctx)
	if err != nil {
		return nil, err
	}
	knownIDs := make(map[string]bool)
	for i := 1; i < len(existing); i++ {
		if id := strings.TrimSpace(existing[i].Cell(s.IDColumn).Text()); id != "" {
			knownIDs[id] = true
		}
	}

	if err := s.ensureWidth(ctx); err != nil {
		return nil, err
	}
	if err := s.writeHeader(ctx); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	if err := s.writeDataRegion(ctx, records); err != nil {
		return nil, err
	}

	for _, rec := range records {
		if knownIDs[rec.ID] {
			s.res.Updated++
		} else {
			s.res.Added++
		}
	}

	if err := s.installValidation(ctx, len(records)); err != nil {
		s.fail(ctx, "data validation", err)
	}

	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}
	if err := s.writeIDColumn(ctx, ids); err != nil {
		return nil, fmt.Errorf("write id column: %w", err)
	}

	if extra := len(existing) - 1 - len(records); extra > 0 && s.Cfg.DeleteExtraRows {
		if s.DryRun {
			s.res.Deleted += extra
		} else if err := s.call(ctx, func(cctx context.Context) error {
			return s.B.DeleteRows(cctx, s.Cfg.SpreadsheetID, s.Cfg.SheetID, 1+len(records), extra)
		}); err != nil {
			s.fail(ctx, "trim stale rows", err)
		} else {
			s.res.Deleted += extra
		}
	}

	if s.DryRun {
		return nil, nil
	}
	return changeset.BuildCheckpoint(s.mapper, records, s.Clock.Now()), nil
}

// writeDataRegion overwrites rows 2..len(records)+1 in chunks
func (s *Sync) writeDataRegion(ctx context.Context, records []airtable.Record) error {
	if s.DryRun || len(records) == 0 {
		return nil
	}
	width := s.mapper.Width()
	for start := 0; start < len(records); start += rowChunkSize {
		end := start + rowChunkSize
		if end > len(records) {
			end = len(records)
		}
		chunk := make([]gsheets.Row, 0, end-start)
		for _, rec := range records[start:end] {
			chunk = append(chunk, s.mapper.RecordToRow(rec))
		}
		ref := gsheets.RangeRef(s.Cfg.SheetName, 0, 2+start, width-1, 1+end)
		if err := s.call(ctx, func(cctx context.Context) error {
			return s.B.UpdateRange(cctx, s.Cfg.SpreadsheetID, ref, chunk)
		}); err != nil {
			return fmt.Errorf("write rows %d through %d: %w", 2+start, 1+end, err)
		}
	}
	return nil
}

// installValidation adds dropdowns for select columns that carry
// choices. Single select is strict, multi select stays lenient so
// comma-joined entries survive.
func (s *Sync) installValidation(ctx context.Context, dataRows int) error {
	if s.DryRun || dataRows == 0 {
		return nil
	}
	var rules []gsheets.ValidationRule
	for _, mf := range s.mapper.Fields() {
		choices := mf.Field.ChoiceNames()
		if len(choices) == 0 {
			continue
		}
		rule := gsheets.ValidationRule{
			ColumnIndex:   mf.Column,
			StartRow:      1,
			EndRow:        1 + dataRows,
			AllowedValues: choices,
			ShowDropdown:  true,
		}
		switch mf.Field.Type {
		case airtable.TypeSingleSelect:
			rule.Strict = true
		case airtable.TypeMultipleSelects:
			rule.Strict = false
		default:
			continue
		}
		rules = append(rules, rule)
	}
	if len(rules) == 0 {
		return nil
	}
	return s.call(ctx, func(cctx context.Context) error {
		return s.B.SetDataValidation(cctx, s.Cfg.SpreadsheetID, s.Cfg.SheetID, rules)
	})
}
