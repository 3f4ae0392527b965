package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/erauner12/tablebridge/internal/airtable"
	"github.com/erauner12/tablebridge/internal/changeset"
	"github.com/erauner12/tablebridge/internal/gsheets"
)

// runBidirectional merges both sides against the checkpoint: detect
// changes, resolve conflicts per policy, apply each side's set, then
// rebuild the checkpoint from post-write state. On the first run the
// checkpoint is empty, both sides are wholesale new, and id pairing at
// apply time settles the overlap.
func (s *Sync) runBidirectional(ctx context.Context, checkpoint map[string]changeset.CheckpointEntry) (map[string]changeset.CheckpointEntry, error) {
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
	rows, err := s.fetchRows(ctx)
	if err != nil {
		return nil, err
	}
	data := s.dataRows(rows)

	recByID := make(map[string]airtable.Record, len(records))
	for _, rec := range records {
		recByID[rec.ID] = rec
	}
	rowByIdx := make(map[int]changeset.SheetRow, len(data))
	for _, sr := range data {
		rowByIdx[sr.Index] = sr
	}

	ch := changeset.Detect(s.mapper, records, data, checkpoint)
	for _, w := range ch.Warnings {
		s.warn("%s", w)
	}
	s.pairNewEntries(ch, recByID, rowByIdx)

	resolutions := changeset.Resolve(ch.Conflicts, s.Cfg.ConflictPolicy)
	if len(resolutions) > 0 {
		summary := changeset.Summarize(resolutions)
		s.res.Conflicts = &summary
	}

	// collect each side's write set
	type rowWrite struct {
		rowIndex int
		rec      airtable.Record
	}
	var (
		rowWrites  []rowWrite
		rowAppends []airtable.Record
		rowDeletes []int
		recCreates []*rowPlan
		recUpdates []*rowPlan
		recDeletes []string
	)

	for _, e := range ch.AirtableOnly {
		rowWrites = append(rowWrites, rowWrite{e.RowIndex, recByID[e.RecordID]})
	}
	for _, e := range ch.NewInA {
		rowAppends = append(rowAppends, recByID[e.RecordID])
	}
	for _, e := range ch.SheetsOnly {
		if plan := s.planRow(ctx, rowByIdx[e.RowIndex], e.RecordID); plan != nil {
			recUpdates = append(recUpdates, plan)
		}
	}
	for _, e := range ch.NewInB {
		// a row with a stale id creates a fresh record and gets the new
		// id written back over the stale one
		if plan := s.planRow(ctx, rowByIdx[e.RowIndex], ""); plan != nil {
			recCreates = append(recCreates, plan)
		}
	}
	for _, r := range resolutions {
		switch r.Decision {
		case changeset.DecisionUseAirtable:
			rec, ok := recByID[r.Conflict.RecordID]
			if !ok {
				continue
			}
			if r.Conflict.RowIndex >= 0 {
				rowWrites = append(rowWrites, rowWrite{r.Conflict.RowIndex, rec})
			} else {
				rowAppends = append(rowAppends, rec)
			}
		case changeset.DecisionUseSheets:
			sr, ok := rowByIdx[r.Conflict.RowIndex]
			if !ok {
				continue
			}
			matchID := ""
			if _, exists := recByID[r.Conflict.RecordID]; exists {
				matchID = r.Conflict.RecordID
			}
			if plan := s.planRow(ctx, sr, matchID); plan != nil {
				if plan.matchID != "" {
					recUpdates = append(recUpdates, plan)
				} else {
					recCreates = append(recCreates, plan)
				}
			}
		case changeset.DecisionDelete:
			if r.Conflict.Kind == changeset.ConflictDeletedInAirtable {
				if r.Conflict.RowIndex >= 0 {
					rowDeletes = append(rowDeletes, r.Conflict.RowIndex)
				}
			} else {
				recDeletes = append(recDeletes, r.Conflict.RecordID)
			}
		}
	}

	applies := len(rowWrites) + len(rowAppends) + len(rowDeletes) +
		len(recCreates) + len(recUpdates) + len(recDeletes)

	toB := &ApplyCounts{}
	toA := &ApplyCounts{}

	if applies > 0 {
		if err := s.ensureWidth(ctx); err != nil {
			return nil, err
		}
	}

	// apply to sheets: in-place writes, then appends. Structural row
	// deletes come last so every buffered row index stays valid.
	for _, w := range rowWrites {
		if s.DryRun {
			toB.Updated++
			continue
		}
		ref := gsheets.RangeRef(s.Cfg.SheetName, 0, w.rowIndex+2, s.mapper.Width()-1, w.rowIndex+2)
		row := s.mapper.RecordToRow(w.rec)
		if err := s.call(ctx, func(cctx context.Context) error {
			return s.B.UpdateRange(cctx, s.Cfg.SpreadsheetID, ref, []gsheets.Row{row})
		}); err != nil {
			if isAuthErr(err) {
				return nil, err
			}
			s.fail(ctx, w.rec.ID, err)
			continue
		}
		toB.Updated++
	}

	if len(rows) == 0 && len(rowAppends) > 0 && !s.DryRun {
		if err := s.writeHeader(ctx); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
		idRef := gsheets.RangeRef(s.Cfg.SheetName, s.IDColumn, 1, s.IDColumn, 1)
		if err := s.call(ctx, func(cctx context.Context) error {
			return s.B.UpdateRange(cctx, s.Cfg.SpreadsheetID, idRef, []gsheets.Row{{gsheets.String(idHeader)}})
		}); err != nil {
			return nil, fmt.Errorf("write id header: %w", err)
		}
	}
	for start := 0; start < len(rowAppends); start += rowChunkSize {
		end := start + rowChunkSize
		if end > len(rowAppends) {
			end = len(rowAppends)
		}
		if s.DryRun {
			toB.Added += end - start
			continue
		}
		chunk := make([]gsheets.Row, 0, end-start)
		for _, rec := range rowAppends[start:end] {
			full := make(gsheets.Row, s.IDColumn+1)
			copy(full, s.mapper.RecordToRow(rec))
			full[s.IDColumn] = gsheets.String(rec.ID)
			chunk = append(chunk, full)
		}
		if err := s.call(ctx, func(cctx context.Context) error {
			return s.B.AppendRows(cctx, s.Cfg.SpreadsheetID, s.Cfg.SheetName, chunk)
		}); err != nil {
			if isAuthErr(err) {
				return nil, err
			}
			for _, rec := range rowAppends[start:end] {
				s.fail(ctx, rec.ID, err)
			}
			continue
		}
		toB.Added += end - start
	}

	// apply to airtable
	added, err := s.createRecords(ctx, recCreates)
	if err != nil {
		return nil, err
	}
	toA.Added = added

	updated, err := s.updateRecords(ctx, recUpdates)
	if err != nil {
		return nil, err
	}
	toA.Updated = updated

	deleted, err := s.deleteRecordIDs(ctx, recDeletes)
	if err != nil {
		return nil, err
	}
	toA.Deleted = deleted

	bound, err := s.bindCreatedIDs(ctx, recCreates)
	if err != nil {
		return nil, err
	}
	if (bound || toB.Added > 0) && !s.DryRun {
		if err := s.hideIDColumn(ctx); err != nil {
			return nil, err
		}
	}

	sort.Sort(sort.Reverse(sort.IntSlice(rowDeletes)))
	for _, idx := range rowDeletes {
		if s.DryRun {
			toB.Deleted++
			continue
		}
		if err := s.call(ctx, func(cctx context.Context) error {
			return s.B.DeleteRows(cctx, s.Cfg.SpreadsheetID, s.Cfg.SheetID, idx+1, 1)
		}); err != nil {
			if isAuthErr(err) {
				return nil, err
			}
			s.fail(ctx, fmt.Sprintf("row %d", idx+2), err)
			continue
		}
		toB.Deleted++
	}

	s.res.ToSheets = toB
	s.res.ToAirtable = toA
	s.res.Added = toB.Added + toA.Added
	s.res.Updated = toB.Updated + toA.Updated
	s.res.Deleted = toB.Deleted + toA.Deleted

	if s.DryRun {
		return nil, nil
	}
	if applies == 0 && s.res.ErrorCount == 0 {
		// nothing moved, the fetched records already are the post-run state
		return changeset.BuildCheckpoint(s.mapper, records, s.Clock.Now()), nil
	}
	return s.rebuildCheckpoint(ctx)
}

// pairNewEntries settles entries that are new on both sides but share a
// record id, which happens on every first run and when an id reached a
// row out of band. Identical pairs drop into NoChanges; differing pairs
// become conflicts for the policy to arbitrate.
func (s *Sync) pairNewEntries(ch *changeset.Changes, recByID map[string]airtable.Record, rowByIdx map[int]changeset.SheetRow) {
	if len(ch.NewInA) == 0 || len(ch.NewInB) == 0 {
		return
	}
	rowEntry := make(map[string]int, len(ch.NewInB))
	for i, e := range ch.NewInB {
		if e.RecordID != "" {
			rowEntry[e.RecordID] = i
		}
	}

	consumed := make(map[int]bool)
	keptA := ch.NewInA[:0:0]
	for _, ea := range ch.NewInA {
		bi, ok := rowEntry[ea.RecordID]
		if !ok {
			keptA = append(keptA, ea)
			continue
		}
		consumed[bi] = true
		eb := ch.NewInB[bi]
		rec := recByID[ea.RecordID]
		row := rowByIdx[eb.RowIndex]
		if changeset.HashRecord(s.mapper, rec) == changeset.HashRow(s.mapper, row.Row) {
			ch.NoChanges = append(ch.NoChanges, changeset.Entry{RecordID: ea.RecordID, RowIndex: eb.RowIndex})
			continue
		}
		ch.Conflicts = append(ch.Conflicts, changeset.ConflictInfo{
			RecordID: ea.RecordID,
			RowIndex: eb.RowIndex,
			Kind:     changeset.ConflictBothModified,
		})
	}
	if len(consumed) == 0 {
		return
	}
	keptB := ch.NewInB[:0:0]
	for i, e := range ch.NewInB {
		if !consumed[i] {
			keptB = append(keptB, e)
		}
	}
	ch.NewInA = keptA
	ch.NewInB = keptB
}

// bindCreatedIDs writes fresh record ids into their rows' id cells.
// Reports whether any cell was written.
func (s *Sync) bindCreatedIDs(ctx context.Context, created []*rowPlan) (bool, error) {
	if s.DryRun {
		return false, nil
	}
	wrote := false
	for _, p := range created {
		if p.matchID == "" {
			continue
		}
		ref := gsheets.RangeRef(s.Cfg.SheetName, s.IDColumn, p.sheetRow, s.IDColumn, p.sheetRow)
		cell := []gsheets.Row{{gsheets.String(p.matchID)}}
		if err := s.call(ctx, func(cctx context.Context) error {
			return s.B.UpdateRange(cctx, s.Cfg.SpreadsheetID, ref, cell)
		}); err != nil {
			if isAuthErr(err) {
				return wrote, err
			}
			s.fail(ctx, fmt.Sprintf("row %d", p.sheetRow), fmt.Errorf("write id back: %w", err))
			continue
		}
		wrote = true
	}
	return wrote, nil
}
