package engine

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/erauner12/tablebridge/internal/airtable"
	"github.com/erauner12/tablebridge/internal/changeset"
	"github.com/erauner12/tablebridge/internal/fieldmap"
	"github.com/erauner12/tablebridge/internal/gsheets"
)

// rowPlan is one sheet row bound for upstream: an update when matchID
// is set, a create otherwise. Creates receive their new id in matchID
// after dispatch.
type rowPlan struct {
	sheetRow int // 1-based sheet row, for messages
	dataIdx  int // zero-based among data rows
	matchID  string
	fields   map[string]airtable.Value
}

// runBToA pushes sheet rows upstream. Each row matches a record by id
// first, then by primary-field text, and becomes a create otherwise.
// New record ids are written back into the hidden column.
func (s *Sync) runBToA(ctx context.Context) (map[string]changeset.CheckpointEntry, error) {
	rows, err := s.fetchRows(ctx)
	if err != nil {
		return nil, err
	}
	records, err := s.fetchRecords(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.preloadLinkedTables(ctx); err != nil {
		return nil, err
	}

	byID := make(map[string]airtable.Record, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}
	primaryIdx, primaryDupes := s.primaryIndex(records)

	data := s.dataRows(rows)
	claimed := make(map[string]bool, len(data))
	var creates, updates []*rowPlan
	for _, sr := range data {
		matchID := ""
		if sr.ID != "" {
			if _, ok := byID[sr.ID]; ok {
				matchID = sr.ID
			}
		}
		if matchID == "" {
			matchID = s.primaryMatch(sr.Row, primaryIdx, primaryDupes)
		}
		if matchID != "" {
			if claimed[matchID] {
				s.warn("row %d repeats record %s, treating it as new", sr.Index+2, matchID)
				matchID = ""
			} else {
				claimed[matchID] = true
			}
		}

		plan := s.planRow(ctx, sr, matchID)
		if plan == nil {
			continue
		}
		if plan.matchID != "" {
			updates = append(updates, plan)
		} else {
			creates = append(creates, plan)
		}
	}

	added, err := s.createRecords(ctx, creates)
	if err != nil {
		return nil, err
	}
	s.res.Added += added

	updated, err := s.updateRecords(ctx, updates)
	if err != nil {
		return nil, err
	}
	s.res.Updated += updated

	if s.Cfg.DeleteExtraRecords {
		var stale []string
		for _, rec := range records {
			if !claimed[rec.ID] {
				stale = append(stale, rec.ID)
			}
		}
		deleted, err := s.deleteRecordIDs(ctx, stale)
		if err != nil {
			return nil, err
		}
		s.res.Deleted += deleted
	}

	// rewrite the whole id column: new and newly matched rows get their
	// record id, everything else keeps its current cell
	if len(rows) > 0 {
		n := len(rows) - 1
		ids := make([]string, n)
		for i := 1; i < len(rows); i++ {
			ids[i-1] = strings.TrimSpace(rows[i].Cell(s.IDColumn).Text())
		}
		for _, plans := range [][]*rowPlan{creates, updates} {
			for _, p := range plans {
				if p.matchID != "" {
					ids[p.dataIdx] = p.matchID
				}
			}
		}
		if err := s.ensureWidth(ctx); err != nil {
			return nil, err
		}
		if err := s.writeIDColumn(ctx, ids); err != nil {
			s.fail(ctx, "id column", err)
		}
	}

	return s.rebuildCheckpoint(ctx)
}

// planRow converts one sheet row into an upstream write plan. A nil
// return means the row failed conversion and was recorded.
func (s *Sync) planRow(ctx context.Context, sr changeset.SheetRow, matchID string) *rowPlan {
	ref := fmt.Sprintf("row %d", sr.Index+2)
	if matchID != "" {
		ref = matchID
	}
	fields, warns, err := s.mapper.RowToRecord(sr.Row, ref)
	for _, w := range warns {
		s.warn("%s", w)
	}
	if err != nil {
		s.fail(ctx, ref, err)
		return nil
	}
	if err := s.reverseLinks(ctx, fields, ref); err != nil {
		s.fail(ctx, ref, err)
		return nil
	}
	return &rowPlan{sheetRow: sr.Index + 2, dataIdx: sr.Index, matchID: matchID, fields: fields}
}

// primaryIndex maps normalized primary-field text to record id, first
// record wins. dupes carries values seen more than once.
func (s *Sync) primaryIndex(records []airtable.Record) (map[string]string, map[string]bool) {
	idx := make(map[string]string)
	dupes := make(map[string]bool)
	primary, ok := s.table.PrimaryField()
	if !ok {
		return idx, dupes
	}
	for _, rec := range records {
		key := primaryKey(rec.Fields[primary.ID])
		if key == "" {
			continue
		}
		if _, seen := idx[key]; seen {
			dupes[key] = true
			continue
		}
		idx[key] = rec.ID
	}
	return idx, dupes
}

// primaryMatch looks the row's primary cell up in the record index.
// Returns "" when the primary field is unmapped or nothing matches.
func (s *Sync) primaryMatch(row gsheets.Row, idx map[string]string, dupes map[string]bool) string {
	col, ok := s.primaryColumn()
	if !ok {
		return ""
	}
	key := strings.ToLower(strings.TrimSpace(row.Cell(col).Text()))
	if key == "" {
		return ""
	}
	id, ok := idx[key]
	if !ok {
		return ""
	}
	if dupes[key] {
		s.warn("primary value %q is ambiguous upstream, matching record %s", key, id)
	}
	return id
}

// primaryColumn returns the mapped column of the primary field
func (s *Sync) primaryColumn() (int, bool) {
	primary, ok := s.table.PrimaryField()
	if !ok {
		return 0, false
	}
	for _, mf := range s.mapper.Fields() {
		if mf.Field.ID == primary.ID {
			return mf.Column, true
		}
	}
	return 0, false
}

func primaryKey(v airtable.Value) string {
	text := v.Display()
	if text == "" && len(v.List) > 0 {
		text = strings.Join(v.List, fieldmap.ListSeparator)
	}
	return strings.ToLower(strings.TrimSpace(text))
}

// createRecords dispatches creates in batches of at most ten, up to
// four in flight. A failed batch fails its rows and the run continues,
// unless authentication broke. Returns the number created.
func (s *Sync) createRecords(ctx context.Context, creates []*rowPlan) (int, error) {
	if len(creates) == 0 {
		return 0, nil
	}
	if s.DryRun {
		return len(creates), nil
	}

	batches := planBatches(creates)
	errs := make([]error, len(batches))
	var g errgroup.Group
	g.SetLimit(maxParallelBatches)
	for bi, batch := range batches {
		bi, batch := bi, batch
		g.Go(func() error {
			payload := make([]map[string]airtable.Value, 0, len(batch))
			for _, p := range batch {
				payload = append(payload, p.fields)
			}
			var ids []string
			errs[bi] = s.call(ctx, func(cctx context.Context) error {
				var err error
				ids, err = s.A.CreateRecords(cctx, s.Cfg.AirtableBaseID, s.Cfg.AirtableTableID, payload)
				return err
			})
			if errs[bi] != nil {
				return nil
			}
			for i, p := range batch {
				if i < len(ids) {
					p.matchID = ids[i]
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	applied := 0
	for bi, err := range errs {
		switch {
		case err == nil:
			applied += len(batches[bi])
		case isAuthErr(err):
			return applied, err
		default:
			for _, p := range batches[bi] {
				s.fail(ctx, fmt.Sprintf("row %d", p.sheetRow), err)
			}
		}
	}
	return applied, nil
}

// updateRecords patches matched records, batched like createRecords
func (s *Sync) updateRecords(ctx context.Context, updates []*rowPlan) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	if s.DryRun {
		return len(updates), nil
	}

	batches := planBatches(updates)
	errs := make([]error, len(batches))
	var g errgroup.Group
	g.SetLimit(maxParallelBatches)
	for bi, batch := range batches {
		bi, batch := bi, batch
		g.Go(func() error {
			payload := make([]airtable.RecordUpdate, 0, len(batch))
			for _, p := range batch {
				payload = append(payload, airtable.RecordUpdate{ID: p.matchID, Fields: p.fields})
			}
			errs[bi] = s.call(ctx, func(cctx context.Context) error {
				return s.A.UpdateRecords(cctx, s.Cfg.AirtableBaseID, s.Cfg.AirtableTableID, payload)
			})
			return nil
		})
	}
	_ = g.Wait()

	applied := 0
	for bi, err := range errs {
		switch {
		case err == nil:
			applied += len(batches[bi])
		case isAuthErr(err):
			return applied, err
		default:
			for _, p := range batches[bi] {
				s.fail(ctx, p.matchID, err)
			}
		}
	}
	return applied, nil
}

// deleteRecordIDs removes upstream records in one call. Returns the
// number deleted.
func (s *Sync) deleteRecordIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if s.DryRun {
		return len(ids), nil
	}
	if err := s.call(ctx, func(cctx context.Context) error {
		return s.A.DeleteRecords(cctx, s.Cfg.AirtableBaseID, s.Cfg.AirtableTableID, ids)
	}); err != nil {
		if isAuthErr(err) {
			return 0, err
		}
		s.fail(ctx, "delete records", err)
		return 0, nil
	}
	return len(ids), nil
}

func planBatches(plans []*rowPlan) [][]*rowPlan {
	var batches [][]*rowPlan
	for start := 0; start < len(plans); start += recordBatchSize {
		end := start + recordBatchSize
		if end > len(plans) {
			end = len(plans)
		}
		batches = append(batches, plans[start:end])
	}
	return batches
}
