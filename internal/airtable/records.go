package airtable

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// ListOptions controls record listing order
type ListOptions struct {
	// ViewID fetches records in a saved view's order
	ViewID string
	// SortFieldID sorts ascending by one field; ignored when ViewID is set
	SortFieldID string
}

type wireRecord struct {
	ID          string                     `json:"id"`
	CreatedTime string                     `json:"createdTime"`
	Fields      map[string]json.RawMessage `json:"fields"`
}

// ListRecords fetches every record of a table, draining pagination.
// Values are parsed against the table schema; payload keys with no
// matching field are ignored.
func (c *Client) ListRecords(ctx context.Context, baseID string, table *Table, opts ListOptions) ([]Record, error) {
	fieldsByID := make(map[string]Field, len(table.Fields))
	for _, f := range table.Fields {
		fieldsByID[f.ID] = f
	}

	var records []Record
	offset := ""
	path := fmt.Sprintf("/v0/%s/%s", baseID, table.ID)

	for {
		query := url.Values{}
		query.Set("returnFieldsByFieldId", "true")
		query.Set("pageSize", fmt.Sprintf("%d", pageSize))
		switch {
		case opts.ViewID != "":
			query.Set("view", opts.ViewID)
		case opts.SortFieldID != "":
			query.Set("sort[0][field]", opts.SortFieldID)
			query.Set("sort[0][direction]", "asc")
		}
		if offset != "" {
			query.Set("offset", offset)
		}

		var page struct {
			Records []wireRecord `json:"records"`
			Offset  string       `json:"offset"`
		}
		if err := c.do(ctx, baseID, "list records", http.MethodGet, path, query, nil, &page); err != nil {
			return nil, err
		}

		for _, wr := range page.Records {
			rec := Record{ID: wr.ID, CreatedTime: wr.CreatedTime, Fields: make(map[string]Value, len(wr.Fields))}
			for fieldID, raw := range wr.Fields {
				field, ok := fieldsByID[fieldID]
				if !ok {
					continue
				}
				v, err := ParseValue(field, raw)
				if err != nil {
					return nil, fmt.Errorf("record %s: %w", wr.ID, err)
				}
				rec.Fields[fieldID] = v
			}
			records = append(records, rec)
		}

		if page.Offset == "" {
			return records, nil
		}
		offset = page.Offset
	}
}

// CreateRecords creates records and returns their new ids in input
// order. Requests are chunked to the API's batch limit; typecast is on
// so select options may be created on the fly.
func (c *Client) CreateRecords(ctx context.Context, baseID, tableID string, records []map[string]Value) ([]string, error) {
	ids := make([]string, 0, len(records))
	path := fmt.Sprintf("/v0/%s/%s", baseID, tableID)

	for start := 0; start < len(records); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(records) {
			end = len(records)
		}

		type createEntry struct {
			Fields map[string]interface{} `json:"fields"`
		}
		body := struct {
			Records  []createEntry `json:"records"`
			Typecast bool          `json:"typecast"`
		}{Typecast: true}
		for _, fields := range records[start:end] {
			body.Records = append(body.Records, createEntry{Fields: wireFields(fields)})
		}

		var out struct {
			Records []wireRecord `json:"records"`
		}
		if err := c.do(ctx, baseID, "create records", http.MethodPost, path, nil, body, &out); err != nil {
			return ids, err
		}
		for _, wr := range out.Records {
			ids = append(ids, wr.ID)
		}
	}
	return ids, nil
}

// RecordUpdate is one record's changed fields
type RecordUpdate struct {
	ID     string
	Fields map[string]Value
}

// UpdateRecords patches records in batches. Absent values clear the
// corresponding field upstream.
func (c *Client) UpdateRecords(ctx context.Context, baseID, tableID string, updates []RecordUpdate) error {
	path := fmt.Sprintf("/v0/%s/%s", baseID, tableID)

	for start := 0; start < len(updates); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(updates) {
			end = len(updates)
		}

		type updateEntry struct {
			ID     string                 `json:"id"`
			Fields map[string]interface{} `json:"fields"`
		}
		body := struct {
			Records  []updateEntry `json:"records"`
			Typecast bool          `json:"typecast"`
		}{Typecast: true}
		for _, u := range updates[start:end] {
			body.Records = append(body.Records, updateEntry{ID: u.ID, Fields: wireFields(u.Fields)})
		}

		if err := c.do(ctx, baseID, "update records", http.MethodPatch, path, nil, body, nil); err != nil {
			return err
		}
	}
	return nil
}

// DeleteRecords deletes records by id in batches
func (c *Client) DeleteRecords(ctx context.Context, baseID, tableID string, ids []string) error {
	path := fmt.Sprintf("/v0/%s/%s", baseID, tableID)

	for start := 0; start < len(ids); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(ids) {
			end = len(ids)
		}

		query := url.Values{}
		for _, id := range ids[start:end] {
			query.Add("records[]", id)
		}

		if err := c.do(ctx, baseID, "delete records", http.MethodDelete, path, query, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

func wireFields(fields map[string]Value) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for id, v := range fields {
		if v.IsAbsent() {
			// null clears the field upstream
			out[id] = nil
			continue
		}
		out[id] = v.wire()
	}
	return out
}
