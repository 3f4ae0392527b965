package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/tablebridge/internal/airtable"
	"github.com/erauner12/tablebridge/internal/changeset"
	"github.com/erauner12/tablebridge/internal/fieldmap"
	"github.com/erauner12/tablebridge/internal/gsheets"
	"github.com/erauner12/tablebridge/internal/linkresolve"
	"github.com/erauner12/tablebridge/internal/store"
	"github.com/erauner12/tablebridge/internal/syncerr"
)

// Sync executes one run for one config. Build a fresh value per run; it
// carries per-run state (link caches, the result under construction)
// and must not be reused.
type Sync struct {
	A   SourceA
	B   SourceB
	Cfg *store.SyncConfig

	// IDColumn is the zero-based index of the hidden record id column
	IDColumn int
	// MaxTries bounds attempts per upstream call
	MaxTries int
	// CallTimeout bounds each attempt of an upstream call
	CallTimeout time.Duration
	// DryRun computes the change report without writing to either side
	DryRun bool
	Clock  clockwork.Clock

	table    *airtable.Table
	mapper   *fieldmap.Mapper
	resolver *linkresolve.Resolver
	res      *RunResult
}

// Execute runs the configured direction against the given checkpoint.
// It returns the result and the checkpoint to store for the next run;
// the checkpoint is nil when the run failed or was a dry run.
func (s *Sync) Execute(ctx context.Context, checkpoint map[string]changeset.CheckpointEntry) (*RunResult, map[string]changeset.CheckpointEntry, error) {
	if s.Clock == nil {
		s.Clock = clockwork.NewRealClock()
	}
	if s.MaxTries <= 0 {
		s.MaxTries = syncerr.DefaultMaxTries
	}
	if s.CallTimeout <= 0 {
		s.CallTimeout = 30 * time.Second
	}
	s.res = &RunResult{Direction: s.Cfg.Direction, DryRun: s.DryRun}

	if err := s.prepare(ctx); err != nil {
		return s.res, nil, err
	}

	var (
		next map[string]changeset.CheckpointEntry
		err  error
	)
	switch s.Cfg.Direction {
	case store.DirectionAToB:
		next, err = s.runAToB(ctx)
	case store.DirectionBToA:
		next, err = s.runBToA(ctx)
	case store.DirectionBidirectional:
		next, err = s.runBidirectional(ctx, checkpoint)
	default:
		err = fmt.Errorf("unknown sync direction %q", s.Cfg.Direction)
	}
	if err != nil {
		return s.res, nil, err
	}
	return s.res, next, nil
}

// prepare fetches the table schema and builds the mapper and resolver
func (s *Sync) prepare(ctx context.Context) error {
	var table *airtable.Table
	err := s.call(ctx, func(cctx context.Context) error {
		var err error
		table, err = s.A.GetTable(cctx, s.Cfg.AirtableBaseID, s.Cfg.AirtableTableID)
		return err
	})
	if err != nil {
		return fmt.Errorf("fetch table schema: %w", err)
	}

	mapper, err := fieldmap.New(table, s.Cfg.FieldMapping, s.Cfg.Strict)
	if err != nil {
		return err
	}
	if mapper.Width() == 0 {
		return fmt.Errorf("field mapping is empty")
	}
	if mapper.Width() > s.IDColumn {
		return fmt.Errorf("field mapping reaches column %d, overlapping the record id column %d", mapper.Width()-1, s.IDColumn)
	}

	s.table = table
	s.mapper = mapper
	s.resolver = linkresolve.New(s.A, s.Cfg.AirtableBaseID)
	return nil
}

// call wraps one upstream call with the per-call timeout and retry.
// Each attempt gets a fresh timeout.
func (s *Sync) call(ctx context.Context, fn func(ctx context.Context) error) error {
	return syncerr.Retry(ctx, s.MaxTries, func() error {
		cctx, cancel := context.WithTimeout(ctx, s.CallTimeout)
		defer cancel()
		return fn(cctx)
	})
}

// fetchRecords lists records in the configured order: the saved view
// when set, else primary field ascending, else upstream default with a
// warning.
func (s *Sync) fetchRecords(ctx context.Context) ([]airtable.Record, error) {
	var opts airtable.ListOptions
	if s.Cfg.AirtableViewID != "" {
		opts.ViewID = s.Cfg.AirtableViewID
	} else if primary, ok := s.table.PrimaryField(); ok {
		opts.SortFieldID = primary.ID
	} else {
		s.warn("table %s has no view or primary field, row order follows the upstream default", s.table.ID)
	}

	var records []airtable.Record
	err := s.call(ctx, func(cctx context.Context) error {
		var err error
		records, err = s.A.ListRecords(cctx, s.Cfg.AirtableBaseID, s.table, opts)
		return err
	})
	return records, err
}

func (s *Sync) fetchRows(ctx context.Context) ([]gsheets.Row, error) {
	var rows []gsheets.Row
	err := s.call(ctx, func(cctx context.Context) error {
		var err error
		rows, err = s.B.GetSheetValues(cctx, s.Cfg.SpreadsheetID, s.Cfg.SheetName)
		return err
	})
	return rows, err
}

// linkedFields returns the mapped link fields carrying a linked table id
func (s *Sync) linkedFields() []fieldmap.MappedField {
	var out []fieldmap.MappedField
	for _, mf := range s.mapper.Fields() {
		if mf.Field.Type != airtable.TypeRecordLinks {
			continue
		}
		if mf.Field.Options == nil || mf.Field.Options.LinkedTableID == "" {
			continue
		}
		out = append(out, mf)
	}
	return out
}

// preloadLinkedTables warms the resolver cache under the retry wrapper,
// so later resolutions are cache hits
func (s *Sync) preloadLinkedTables(ctx context.Context) error {
	for _, mf := range s.linkedFields() {
		tableID := mf.Field.Options.LinkedTableID
		if err := s.call(ctx, func(cctx context.Context) error {
			return s.resolver.Preload(cctx, tableID)
		}); err != nil {
			return fmt.Errorf("preload linked table %s: %w", tableID, err)
		}
	}
	return nil
}

// resolveLinks replaces linked-record ids with display names in place,
// so rows and content hashes see names on both sides
func (s *Sync) resolveLinks(ctx context.Context, records []airtable.Record) error {
	for _, mf := range s.linkedFields() {
		tableID := mf.Field.Options.LinkedTableID
		for i := range records {
			v, ok := records[i].Fields[mf.Field.ID]
			if !ok || v.Kind != airtable.KindLinks || len(v.List) == 0 {
				continue
			}
			names, warns, err := s.resolver.ResolveNames(ctx, tableID, v.List)
			if err != nil {
				return fmt.Errorf("resolve links for field %q: %w", mf.Field.Name, err)
			}
			for _, w := range warns {
				s.warn("%s", w)
			}
			records[i].Fields[mf.Field.ID] = airtable.Links(names)
		}
	}
	return nil
}

// reverseLinks folds display names back to record ids for every link
// field of one outbound record
func (s *Sync) reverseLinks(ctx context.Context, fields map[string]airtable.Value, ref string) error {
	for _, mf := range s.linkedFields() {
		v, ok := fields[mf.Field.ID]
		if !ok || v.Kind != airtable.KindLinks || len(v.List) == 0 {
			continue
		}
		var ids, warns []string
		err := s.call(ctx, func(cctx context.Context) error {
			var err error
			ids, warns, err = s.resolver.ResolveIDs(cctx, mf.Field.Options.LinkedTableID, v.List, s.linkMode())
			return err
		})
		for _, w := range warns {
			s.warn("%s: %s", ref, w)
		}
		if err != nil {
			return err
		}
		fields[mf.Field.ID] = airtable.Links(ids)
	}
	return nil
}

// linkMode derives the unresolved-link behavior from the config. Dry
// runs downgrade create to drop, creating would be a write.
func (s *Sync) linkMode() linkresolve.Mode {
	switch {
	case s.Cfg.CreateMissingLinks && !s.DryRun:
		return linkresolve.ModeCreate
	case s.Cfg.Strict:
		return linkresolve.ModeStrict
	default:
		return linkresolve.ModeDrop
	}
}

// rowEmpty reports whether every mapped cell and the id cell are blank
func (s *Sync) rowEmpty(row gsheets.Row) bool {
	if !row.Cell(s.IDColumn).IsEmpty() {
		return false
	}
	for _, mf := range s.mapper.Fields() {
		if !row.Cell(mf.Column).IsEmpty() {
			return false
		}
	}
	return true
}

// dataRows indexes the sheet's data rows, skipping the header and rows
// with no content
func (s *Sync) dataRows(rows []gsheets.Row) []changeset.SheetRow {
	var out []changeset.SheetRow
	for i := 1; i < len(rows); i++ {
		if s.rowEmpty(rows[i]) {
			continue
		}
		out = append(out, changeset.SheetRow{
			Index: i - 1,
			ID:    strings.TrimSpace(rows[i].Cell(s.IDColumn).Text()),
			Row:   rows[i],
		})
	}
	return out
}

// fail records one record-level failure; the run continues
func (s *Sync) fail(ctx context.Context, ref string, err error) {
	s.res.appendError(fmt.Sprintf("%s: %v", ref, err))
	log.Ctx(ctx).Warn().Err(err).Str("ref", ref).Msg("record failed")
}

func (s *Sync) warn(format string, args ...interface{}) {
	s.res.Warnings = append(s.res.Warnings, fmt.Sprintf(format, args...))
}

// ensureWidth grows the sheet to hold the id column
func (s *Sync) ensureWidth(ctx context.Context) error {
	if s.DryRun {
		return nil
	}
	return s.call(ctx, func(cctx context.Context) error {
		return s.B.EnsureColumnCount(cctx, s.Cfg.SpreadsheetID, s.Cfg.SheetID, s.IDColumn+1)
	})
}

// writeHeader writes the mapped field names to row 1. The id column
// header is written together with the id column.
func (s *Sync) writeHeader(ctx context.Context) error {
	if s.DryRun {
		return nil
	}
	header := s.mapper.HeaderRow()
	ref := gsheets.RangeRef(s.Cfg.SheetName, 0, 1, s.mapper.Width()-1, 1)
	return s.call(ctx, func(cctx context.Context) error {
		return s.B.UpdateRange(cctx, s.Cfg.SpreadsheetID, ref, []gsheets.Row{header})
	})
}

// writeIDColumn writes the full id column, header plus one cell per
// data row, then hides it
func (s *Sync) writeIDColumn(ctx context.Context, ids []string) error {
	if s.DryRun {
		return nil
	}
	column := make([]gsheets.Row, 0, len(ids)+1)
	column = append(column, gsheets.Row{gsheets.String(idHeader)})
	for _, id := range ids {
		column = append(column, gsheets.Row{gsheets.String(id)})
	}
	ref := gsheets.RangeRef(s.Cfg.SheetName, s.IDColumn, 1, s.IDColumn, len(ids)+1)
	if err := s.call(ctx, func(cctx context.Context) error {
		return s.B.UpdateRange(cctx, s.Cfg.SpreadsheetID, ref, column)
	}); err != nil {
		return err
	}
	return s.hideIDColumn(ctx)
}

func (s *Sync) hideIDColumn(ctx context.Context) error {
	if s.DryRun {
		return nil
	}
	if err := s.call(ctx, func(cctx context.Context) error {
		return s.B.HideColumn(cctx, s.Cfg.SpreadsheetID, s.Cfg.SheetID, s.IDColumn)
	}); err != nil {
		s.warn("could not hide the record id column: %v", err)
	}
	return nil
}

// rebuildCheckpoint refetches records and hashes the post-write state,
// so rows that failed to apply stay visibly different next run
func (s *Sync) rebuildCheckpoint(ctx context.Context) (map[string]changeset.CheckpointEntry, error) {
	if s.DryRun {
		return nil, nil
	}
	records, err := s.fetchRecords(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.resolveLinks(ctx, records); err != nil {
		return nil, err
	}
	return changeset.BuildCheckpoint(s.mapper, records, s.Clock.Now()), nil
}
