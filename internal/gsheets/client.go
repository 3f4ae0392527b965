// Package gsheets is a typed client for the Google Sheets and Drive REST
// surfaces the sync engine uses: value reads and writes, grid dimension
// management, and data validation rules.
package gsheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/erauner12/tablebridge/internal/syncerr"
)

const (
	// DefaultBaseURL is the production Sheets API endpoint
	DefaultBaseURL = "https://sheets.googleapis.com"

	// DefaultDriveURL is the production Drive API endpoint, used only to
	// enumerate spreadsheet files.
	DefaultDriveURL = "https://www.googleapis.com"
)

// TokenSource supplies a bearer token for each request
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource returning a fixed token, for tests
type StaticToken string

func (s StaticToken) Token(ctx context.Context) (string, error) { return string(s), nil }

// Client wraps the Sheets and Drive REST APIs
type Client struct {
	baseURL    string
	driveURL   string
	httpClient *http.Client
	tokens     TokenSource
}

// ClientOption customizes a Client
type ClientOption func(*Client)

// WithBaseURL points the client at a different Sheets endpoint
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = u }
}

// WithDriveURL points the client at a different Drive endpoint
func WithDriveURL(u string) ClientOption {
	return func(c *Client) { c.driveURL = u }
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = h }
}

// NewClient creates a Sheets client authenticated by tokens
func NewClient(tokens TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		driveURL:   DefaultDriveURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tokens:     tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, op, method, rawURL string, query url.Values, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reqBody = bytes.NewReader(data)
	}

	if len(query) > 0 {
		rawURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &syncerr.NetworkError{Service: syncerr.ServiceSheets, Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &syncerr.NetworkError{Service: syncerr.ServiceSheets, Op: op, Err: err}
	}

	if err := syncerr.FromResponse(syncerr.ServiceSheets, op, resp, data); err != nil {
		return err
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
	}
	return nil
}

// ListSpreadsheets enumerates spreadsheet files via the Drive API,
// draining pagination.
func (c *Client) ListSpreadsheets(ctx context.Context) ([]Spreadsheet, error) {
	var sheets []Spreadsheet
	pageToken := ""

	for {
		query := url.Values{}
		query.Set("q", "mimeType='application/vnd.google-apps.spreadsheet' and trashed=false")
		query.Set("fields", "nextPageToken, files(id, name)")
		query.Set("pageSize", "100")
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}

		var page struct {
			Files         []Spreadsheet `json:"files"`
			NextPageToken string        `json:"nextPageToken"`
		}
		if err := c.do(ctx, "list spreadsheets", http.MethodGet, c.driveURL+"/drive/v3/files", query, nil, &page); err != nil {
			return nil, err
		}

		sheets = append(sheets, page.Files...)
		if page.NextPageToken == "" {
			return sheets, nil
		}
		pageToken = page.NextPageToken
	}
}

// GetSpreadsheetMeta returns the sheets of a spreadsheet with their
// numeric ids and grid sizes.
func (c *Client) GetSpreadsheetMeta(ctx context.Context, spreadsheetID string) (*SpreadsheetMeta, error) {
	query := url.Values{}
	query.Set("fields", "properties.title,sheets(properties(sheetId,title,gridProperties(rowCount,columnCount)))")

	var out struct {
		Properties struct {
			Title string `json:"title"`
		} `json:"properties"`
		Sheets []struct {
			Properties struct {
				SheetID        int64  `json:"sheetId"`
				Title          string `json:"title"`
				GridProperties struct {
					RowCount    int `json:"rowCount"`
					ColumnCount int `json:"columnCount"`
				} `json:"gridProperties"`
			} `json:"properties"`
		} `json:"sheets"`
	}

	u := fmt.Sprintf("%s/v4/spreadsheets/%s", c.baseURL, spreadsheetID)
	if err := c.do(ctx, "get spreadsheet", http.MethodGet, u, query, nil, &out); err != nil {
		return nil, err
	}

	meta := &SpreadsheetMeta{SpreadsheetID: spreadsheetID, Title: out.Properties.Title}
	for _, s := range out.Sheets {
		meta.Sheets = append(meta.Sheets, SheetMeta{
			SheetID:     s.Properties.SheetID,
			Title:       s.Properties.Title,
			RowCount:    s.Properties.GridProperties.RowCount,
			ColumnCount: s.Properties.GridProperties.ColumnCount,
		})
	}
	return meta, nil
}
