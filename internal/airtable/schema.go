package airtable

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// ListBases returns every base the connected account can read, paging
// through the metadata endpoint.
func (c *Client) ListBases(ctx context.Context) ([]Base, error) {
	var bases []Base
	offset := ""

	for {
		query := url.Values{}
		if offset != "" {
			query.Set("offset", offset)
		}

		var page struct {
			Bases  []Base `json:"bases"`
			Offset string `json:"offset"`
		}
		if err := c.do(ctx, "", "list bases", http.MethodGet, "/v0/meta/bases", query, nil, &page); err != nil {
			return nil, err
		}

		bases = append(bases, page.Bases...)
		if page.Offset == "" {
			return bases, nil
		}
		offset = page.Offset
	}
}

// GetBaseSchema returns the tables of a base with their field schemas
func (c *Client) GetBaseSchema(ctx context.Context, baseID string) ([]Table, error) {
	var out struct {
		Tables []Table `json:"tables"`
	}
	path := fmt.Sprintf("/v0/meta/bases/%s/tables", baseID)
	if err := c.do(ctx, baseID, "get base schema", http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Tables, nil
}

// GetTable returns one table's schema from a base
func (c *Client) GetTable(ctx context.Context, baseID, tableID string) (*Table, error) {
	tables, err := c.GetBaseSchema(ctx, baseID)
	if err != nil {
		return nil, err
	}
	for i := range tables {
		if tables[i].ID == tableID || tables[i].Name == tableID {
			return &tables[i], nil
		}
	}
	return nil, fmt.Errorf("table %s not found in base %s", tableID, baseID)
}
