package syncerr

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// FromResponse converts a non-2xx upstream response into a typed error.
// The body must already be drained; FromResponse never touches resp.Body.
// Returns nil for 2xx statuses.
func FromResponse(service, op string, resp *http.Response, body []byte) error {
	switch {
	case resp.StatusCode < 400:
		return nil

	case resp.StatusCode == http.StatusUnauthorized:
		return &OAuthError{Service: service, Reason: errorMessage(body)}

	case resp.StatusCode == http.StatusForbidden:
		// Google reports some quota exhaustion as 403 rather than 429
		if msg := errorMessage(body); strings.Contains(strings.ToLower(msg), "quota") {
			return &RateLimitError{Service: service}
		}
		return &OAuthError{Service: service, Reason: errorMessage(body)}

	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{
			Service:    service,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}

	case resp.StatusCode >= 500:
		return &NetworkError{
			Service: service,
			Op:      op,
			Err:     fmt.Errorf("status %d: %s", resp.StatusCode, errorMessage(body)),
		}

	default:
		return &ValidationError{Service: service, Message: errorMessage(body)}
	}
}

// errorMessage extracts a human-readable message from an upstream error
// body. Airtable wraps errors as {"error": {"type", "message"}}, Sheets as
// {"error": {"code", "status", "message"}}, and both occasionally return a
// bare {"error": "CODE"} string.
func errorMessage(body []byte) string {
	var env struct {
		Error struct {
			Type    string `json:"type"`
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		return env.Error.Message
	}

	var alt struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &alt); err == nil && alt.Error != "" {
		return alt.Error
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = "no error body"
	}
	return msg
}

// parseRetryAfter parses the Retry-After header
// Supports both integer seconds and HTTP-date format
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}

	return 0
}
