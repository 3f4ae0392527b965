// Package linkresolve translates linked-record values between opaque
// record ids and human-readable primary-field names. Lookups are served
// from a per-run cache so each linked table is fetched at most once.
package linkresolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/erauner12/tablebridge/internal/airtable"
	"github.com/erauner12/tablebridge/internal/syncerr"
)

// Mode selects how unmatched names behave during reverse resolution
type Mode int

const (
	// ModeStrict fails the record with an UnresolvedLinkError
	ModeStrict Mode = iota
	// ModeDrop drops the name with a warning
	ModeDrop
	// ModeCreate creates a record in the linked table carrying the name
	// as its primary field
	ModeCreate
)

// maxCreatesPerRun bounds ModeCreate so a malformed sheet cannot flood
// the linked table.
const maxCreatesPerRun = 50

// TableClient is the slice of the Airtable client the resolver needs
type TableClient interface {
	GetTable(ctx context.Context, baseID, tableID string) (*airtable.Table, error)
	ListRecords(ctx context.Context, baseID string, table *airtable.Table, opts airtable.ListOptions) ([]airtable.Record, error)
	CreateRecords(ctx context.Context, baseID, tableID string, records []map[string]airtable.Value) ([]string, error)
}

type tableIndex struct {
	table    *airtable.Table
	nameByID map[string]string
	idByName map[string]string // lowercased trimmed name → first matching id
	dupes    map[string]bool   // lowercased names seen more than once
}

// Resolver caches linked-table indexes for the duration of one sync run.
// It is not safe for concurrent use; each run builds its own.
type Resolver struct {
	client  TableClient
	baseID  string
	creates int
	cache   map[string]*tableIndex // keyed by table id
}

// New creates a resolver scoped to one base and one run
func New(client TableClient, baseID string) *Resolver {
	return &Resolver{
		client: client,
		baseID: baseID,
		cache:  make(map[string]*tableIndex),
	}
}

// Preload warms the cache for a linked table. Executors call this before
// fanning out row conversions.
func (r *Resolver) Preload(ctx context.Context, tableID string) error {
	_, err := r.index(ctx, tableID)
	return err
}

func (r *Resolver) index(ctx context.Context, tableID string) (*tableIndex, error) {
	if idx, ok := r.cache[tableID]; ok {
		return idx, nil
	}

	table, err := r.client.GetTable(ctx, r.baseID, tableID)
	if err != nil {
		return nil, err
	}
	records, err := r.client.ListRecords(ctx, r.baseID, table, airtable.ListOptions{})
	if err != nil {
		return nil, err
	}

	idx := &tableIndex{
		table:    table,
		nameByID: make(map[string]string, len(records)),
		idByName: make(map[string]string, len(records)),
		dupes:    make(map[string]bool),
	}
	for _, rec := range records {
		name := primaryText(table, rec)
		idx.nameByID[rec.ID] = name

		key := nameKey(name)
		if key == "" {
			continue
		}
		if _, seen := idx.idByName[key]; seen {
			idx.dupes[key] = true
			continue
		}
		idx.idByName[key] = rec.ID
	}

	log.Ctx(ctx).Debug().
		Str("table", tableID).
		Int("records", len(records)).
		Msg("linked table cached")

	return idx, nil
}

// ResolveNames replaces record ids with primary-field names, preserving
// cardinality: ids with no match stay as the raw id and produce a
// warning.
func (r *Resolver) ResolveNames(ctx context.Context, tableID string, ids []string) ([]string, []string, error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}

	idx, err := r.index(ctx, tableID)
	if err != nil {
		return nil, nil, err
	}

	names := make([]string, 0, len(ids))
	var warnings []string
	for _, id := range ids {
		name, ok := idx.nameByID[id]
		if !ok || name == "" {
			names = append(names, id)
			warnings = append(warnings, fmt.Sprintf("linked record %s has no name in table %s", id, tableID))
			continue
		}
		names = append(names, name)
	}
	return names, warnings, nil
}

// ResolveIDs maps display names back to record ids. Behavior for
// unmatched names follows mode; duplicate names resolve to the first
// match with a warning.
func (r *Resolver) ResolveIDs(ctx context.Context, tableID string, names []string, mode Mode) ([]string, []string, error) {
	if len(names) == 0 {
		return nil, nil, nil
	}

	idx, err := r.index(ctx, tableID)
	if err != nil {
		return nil, nil, err
	}

	ids := make([]string, 0, len(names))
	var warnings []string
	for _, name := range names {
		key := nameKey(name)
		if key == "" {
			continue
		}

		if id, ok := idx.idByName[key]; ok {
			if idx.dupes[key] {
				warnings = append(warnings, fmt.Sprintf("name %q is ambiguous in table %s, using first match", name, tableID))
			}
			ids = append(ids, id)
			continue
		}

		switch mode {
		case ModeStrict:
			return nil, warnings, &syncerr.UnresolvedLinkError{Name: name, Table: tableID}

		case ModeCreate:
			id, err := r.createLinked(ctx, idx, tableID, name)
			if err != nil {
				return nil, warnings, err
			}
			warnings = append(warnings, fmt.Sprintf("created %q in table %s", name, tableID))
			ids = append(ids, id)

		default:
			warnings = append(warnings, fmt.Sprintf("dropped unresolved link %q (no match in table %s)", name, tableID))
		}
	}
	return ids, warnings, nil
}

func (r *Resolver) createLinked(ctx context.Context, idx *tableIndex, tableID, name string) (string, error) {
	if r.creates >= maxCreatesPerRun {
		return "", &syncerr.UnresolvedLinkError{Name: name, Table: tableID}
	}

	primary, ok := idx.table.PrimaryField()
	if !ok {
		return "", fmt.Errorf("table %s has no primary field to create %q", tableID, name)
	}

	created, err := r.client.CreateRecords(ctx, r.baseID, tableID, []map[string]airtable.Value{
		{primary.ID: airtable.Text(name)},
	})
	if err != nil {
		return "", err
	}
	if len(created) != 1 {
		return "", fmt.Errorf("create in table %s returned %d ids", tableID, len(created))
	}

	r.creates++
	id := created[0]
	idx.nameByID[id] = name
	idx.idByName[nameKey(name)] = id

	log.Ctx(ctx).Info().
		Str("table", tableID).
		Str("name", name).
		Str("id", id).
		Msg("created linked record")

	return id, nil
}

// primaryText renders a record's primary field for display
func primaryText(table *airtable.Table, rec airtable.Record) string {
	v, ok := rec.Fields[table.PrimaryFieldID]
	if !ok {
		return ""
	}
	switch v.Kind {
	case airtable.KindText, airtable.KindSelect, airtable.KindUser:
		return strings.TrimSpace(v.Text)
	case airtable.KindNumber:
		return strings.TrimSpace(numberText(v.Num))
	default:
		return ""
	}
}

func numberText(f float64) string {
	s := fmt.Sprintf("%.6f", f)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	return s
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
