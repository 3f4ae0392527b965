// Package syncerr defines the error taxonomy shared by the Airtable and
// Google Sheets clients, the sync engine, and the HTTP API. Errors carry
// enough structure for the retry layer to decide what is safe to repeat
// and for the API to render an actionable message.
package syncerr

import (
	"errors"
	"fmt"
	"time"
)

// Code categorizes sync errors for logging and API responses
type Code string

const (
	CodeOAuth          Code = "OAUTH"
	CodeRateLimit      Code = "RATE_LIMIT"
	CodeNetwork        Code = "NETWORK"
	CodeValidation     Code = "VALIDATION"
	CodeUnresolvedLink Code = "UNRESOLVED_LINK"
	CodeSubscription   Code = "SUBSCRIPTION_REQUIRED"
	CodeConcurrency    Code = "CONCURRENCY_CONFLICT"
	CodeReauth         Code = "REAUTH_REQUIRED"
	CodeUnknown        Code = "UNKNOWN"
)

// Service identifiers used across errors, credentials, and API routes.
const (
	ServiceAirtable = "airtable"
	ServiceSheets   = "sheets"
)

// OAuthError indicates the upstream service rejected our credentials.
// Never retried; the caller marks the connection as needing re-auth.
type OAuthError struct {
	Service string
	Reason  string
}

func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s oauth error: %s", e.Service, e.Reason)
}

// RateLimitError indicates the upstream throttled us (429 or quota)
type RateLimitError struct {
	Service    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limited, retry after %s", e.Service, e.RetryAfter)
	}
	return fmt.Sprintf("%s rate limited", e.Service)
}

// NetworkError wraps transport failures and 5xx responses
type NetworkError struct {
	Service string
	Op      string
	Err     error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ValidationError indicates the upstream rejected a value we sent, or a
// value could not be coerced to the target field type. Never retried.
type ValidationError struct {
	Service  string
	RecordID string
	Field    string
	Message  string
}

func (e *ValidationError) Error() string {
	switch {
	case e.RecordID != "" && e.Field != "":
		return fmt.Sprintf("%s validation error on record %s field %q: %s", e.Service, e.RecordID, e.Field, e.Message)
	case e.Field != "":
		return fmt.Sprintf("%s validation error on field %q: %s", e.Service, e.Field, e.Message)
	default:
		return fmt.Sprintf("%s validation error: %s", e.Service, e.Message)
	}
}

// UnresolvedLinkError indicates a linked-record name had no match in the
// target table while the mapping runs in strict mode.
type UnresolvedLinkError struct {
	Name  string
	Table string
}

func (e *UnresolvedLinkError) Error() string {
	return fmt.Sprintf("linked record %q not found in table %s", e.Name, e.Table)
}

// SubscriptionRequiredError gates sync execution on an active plan
type SubscriptionRequiredError struct {
	Reason string
}

func (e *SubscriptionRequiredError) Error() string {
	return fmt.Sprintf("subscription required: %s", e.Reason)
}

// ConcurrencyConflictError indicates a sync is already running for the
// same configuration.
type ConcurrencyConflictError struct {
	ConfigID string
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("sync already running for config %s", e.ConfigID)
}

// ReauthRequiredError indicates stored credentials are unusable until the
// user reconnects the service.
type ReauthRequiredError struct {
	Service string
}

func (e *ReauthRequiredError) Error() string {
	return fmt.Sprintf("%s connection requires re-authentication", e.Service)
}

// CodeOf maps err to its taxonomy code, CodeUnknown if unclassified
func CodeOf(err error) Code {
	var (
		oauthErr  *OAuthError
		rateErr   *RateLimitError
		netErr    *NetworkError
		valErr    *ValidationError
		linkErr   *UnresolvedLinkError
		subErr    *SubscriptionRequiredError
		concErr   *ConcurrencyConflictError
		reauthErr *ReauthRequiredError
	)
	switch {
	case errors.As(err, &oauthErr):
		return CodeOAuth
	case errors.As(err, &rateErr):
		return CodeRateLimit
	case errors.As(err, &netErr):
		return CodeNetwork
	case errors.As(err, &valErr):
		return CodeValidation
	case errors.As(err, &linkErr):
		return CodeUnresolvedLink
	case errors.As(err, &subErr):
		return CodeSubscription
	case errors.As(err, &concErr):
		return CodeConcurrency
	case errors.As(err, &reauthErr):
		return CodeReauth
	default:
		return CodeUnknown
	}
}

// UserMessage renders err as an actionable message for end users, without
// leaking internal diagnostics.
func UserMessage(err error) string {
	var (
		oauthErr  *OAuthError
		rateErr   *RateLimitError
		netErr    *NetworkError
		valErr    *ValidationError
		linkErr   *UnresolvedLinkError
		subErr    *SubscriptionRequiredError
		concErr   *ConcurrencyConflictError
		reauthErr *ReauthRequiredError
	)
	switch {
	case errors.As(err, &oauthErr):
		return fmt.Sprintf("Authentication failed. Please reconnect your %s account.", displayName(oauthErr.Service))
	case errors.As(err, &reauthErr):
		return fmt.Sprintf("Your %s connection has expired. Please reconnect it.", displayName(reauthErr.Service))
	case errors.As(err, &rateErr):
		return fmt.Sprintf("%s is limiting requests right now. The sync will retry automatically.", displayName(rateErr.Service))
	case errors.As(err, &netErr):
		return fmt.Sprintf("Could not reach %s. Please try again in a few minutes.", displayName(netErr.Service))
	case errors.As(err, &valErr):
		if valErr.Field != "" {
			return fmt.Sprintf("A value could not be written to the field %q. Check the field type mapping.", valErr.Field)
		}
		return "Some records contain values the destination could not accept."
	case errors.As(err, &linkErr):
		return fmt.Sprintf("The linked record %q was not found. Create it first or switch the mapping to lenient mode.", linkErr.Name)
	case errors.As(err, &subErr):
		return "An active subscription is required to run syncs. Please update your billing settings."
	case errors.As(err, &concErr):
		return "A sync is already running for this configuration. Please wait for it to finish."
	default:
		return "The sync failed due to an unexpected error. Our team has been notified."
	}
}

func displayName(service string) string {
	switch service {
	case ServiceAirtable:
		return "Airtable"
	case ServiceSheets:
		return "Google Sheets"
	default:
		return service
	}
}
