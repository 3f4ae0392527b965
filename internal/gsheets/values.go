package gsheets

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// GetSheetValues reads every populated cell of one sheet. Values come
// back unformatted so numbers and booleans keep their types.
func (c *Client) GetSheetValues(ctx context.Context, spreadsheetID, sheetTitle string) ([]Row, error) {
	quoted := "'" + strings.ReplaceAll(sheetTitle, "'", "''") + "'"
	u := fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s", c.baseURL, spreadsheetID, url.PathEscape(quoted))

	query := url.Values{}
	query.Set("valueRenderOption", "UNFORMATTED_VALUE")
	query.Set("dateTimeRenderOption", "FORMATTED_STRING")

	var out struct {
		Values []Row `json:"values"`
	}
	if err := c.do(ctx, "get values", http.MethodGet, u, query, nil, &out); err != nil {
		return nil, err
	}
	return out.Values, nil
}

// UpdateRange overwrites an A1 range with rows. Input is written raw so
// strings stay strings.
func (c *Client) UpdateRange(ctx context.Context, spreadsheetID, rangeA1 string, rows []Row) error {
	u := fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s", c.baseURL, spreadsheetID, url.PathEscape(rangeA1))

	query := url.Values{}
	query.Set("valueInputOption", "RAW")

	body := struct {
		Range          string `json:"range"`
		MajorDimension string `json:"majorDimension"`
		Values         []Row  `json:"values"`
	}{Range: rangeA1, MajorDimension: "ROWS", Values: rows}

	return c.do(ctx, "update values", http.MethodPut, u, query, body, nil)
}

// AppendRows appends rows after the last populated row of a sheet
func (c *Client) AppendRows(ctx context.Context, spreadsheetID, sheetTitle string, rows []Row) error {
	quoted := "'" + strings.ReplaceAll(sheetTitle, "'", "''") + "'"
	u := fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s:append", c.baseURL, spreadsheetID, url.PathEscape(quoted))

	query := url.Values{}
	query.Set("valueInputOption", "RAW")
	query.Set("insertDataOption", "INSERT_ROWS")

	body := struct {
		MajorDimension string `json:"majorDimension"`
		Values         []Row  `json:"values"`
	}{MajorDimension: "ROWS", Values: rows}

	return c.do(ctx, "append values", http.MethodPost, u, query, body, nil)
}

// ClearRange blanks an A1 range without touching formatting
func (c *Client) ClearRange(ctx context.Context, spreadsheetID, rangeA1 string) error {
	u := fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s:clear", c.baseURL, spreadsheetID, url.PathEscape(rangeA1))
	return c.do(ctx, "clear values", http.MethodPost, u, nil, struct{}{}, nil)
}
