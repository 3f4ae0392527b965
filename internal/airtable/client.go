// Package airtable is a typed client for the Airtable REST API, covering
// the base metadata and record surfaces the sync engine uses. Responses
// are parsed into the Value union at this boundary and requests respect
// the per-base rate limit.
package airtable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/erauner12/tablebridge/internal/syncerr"
)

const (
	// DefaultBaseURL is the production Airtable API endpoint
	DefaultBaseURL = "https://api.airtable.com"

	// requestsPerSecond is Airtable's documented per-base limit
	requestsPerSecond = 5

	// maxBatchSize is the per-request cap on record writes
	maxBatchSize = 10

	// pageSize is the record page size requested when listing
	pageSize = 100
)

// TokenSource supplies a bearer token for each request
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource returning a fixed token, for tests and
// personal access tokens.
type StaticToken string

func (s StaticToken) Token(ctx context.Context) (string, error) { return string(s), nil }

// Client wraps the Airtable REST API with pagination, batch chunking,
// and per-base rate limiting.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// ClientOption customizes a Client
type ClientOption func(*Client)

// WithBaseURL points the client at a different API endpoint
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = h }
}

// NewClient creates an Airtable client authenticated by tokens
func NewClient(tokens TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tokens:     tokens,
		limiters:   make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// limiter returns the rate limiter for one base, creating it on first use
func (c *Client) limiter(baseID string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.limiters[baseID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		c.limiters[baseID] = l
	}
	return l
}

// do executes one API request. baseID may be empty for metadata calls
// outside any base. The response body is decoded into out when non-nil.
func (c *Client) do(ctx context.Context, baseID, op, method, path string, query url.Values, body, out interface{}) error {
	if baseID != "" {
		if err := c.limiter(baseID).Wait(ctx); err != nil {
			return err
		}
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reqBody = bytes.NewReader(data)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
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
		return &syncerr.NetworkError{Service: syncerr.ServiceAirtable, Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &syncerr.NetworkError{Service: syncerr.ServiceAirtable, Op: op, Err: err}
	}

	if err := syncerr.FromResponse(syncerr.ServiceAirtable, op, resp, data); err != nil {
		return err
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
	}
	return nil
}
