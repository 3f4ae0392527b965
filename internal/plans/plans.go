// Package plans defines subscription tiers and the gates derived from
// them: monthly record quotas, config-count limits, and minimum
// scheduling intervals.
package plans

import (
	"time"

	"github.com/erauner12/tablebridge/internal/store"
	"github.com/erauner12/tablebridge/internal/syncerr"
)

// Plan names match the app_user.plan column
type Plan string

const (
	Starter  Plan = "starter"
	Pro      Plan = "pro"
	Business Plan = "business"
)

// Limits are the per-tier ceilings. MonthlyRecords == 0 means unlimited.
type Limits struct {
	MonthlyRecords int
	MaxConfigs     int
	MinInterval    time.Duration
}

// For returns the tier's limits. Unknown plan names get Starter limits
// so a bad billing write can only under-provision, never over.
func For(p Plan) Limits {
	switch p {
	case Pro:
		return Limits{MonthlyRecords: 5000, MaxConfigs: 3, MinInterval: 5 * time.Minute}
	case Business:
		return Limits{MonthlyRecords: 0, MaxConfigs: 10, MinInterval: 5 * time.Minute}
	default:
		return Limits{MonthlyRecords: 1000, MaxConfigs: 1, MinInterval: 15 * time.Minute}
	}
}

// CheckSubscription decides whether the user may run syncs at all.
// Returns SubscriptionRequiredError when not.
func CheckSubscription(user *store.AppUser, now time.Time) error {
	if user == nil {
		return &syncerr.SubscriptionRequiredError{Reason: "no account on record"}
	}
	switch user.SubscriptionStatus {
	case "active":
		return nil
	case "trialing":
		if user.TrialEndsAt != nil && now.Before(*user.TrialEndsAt) {
			return nil
		}
		return &syncerr.SubscriptionRequiredError{Reason: "trial expired"}
	default:
		return &syncerr.SubscriptionRequiredError{Reason: "subscription inactive"}
	}
}

// UsageLevel grades a month's record count against the quota
type UsageLevel int

const (
	UsageOK UsageLevel = iota
	// UsageWarning is 80% or more of the quota
	UsageWarning
	// UsageExceeded is at or past the quota, runs pause
	UsageExceeded
)

// RecordUsage grades synced records against l's monthly quota
func RecordUsage(l Limits, synced int) UsageLevel {
	if l.MonthlyRecords <= 0 {
		return UsageOK
	}
	if synced >= l.MonthlyRecords {
		return UsageExceeded
	}
	if 100*synced >= 80*l.MonthlyRecords {
		return UsageWarning
	}
	return UsageOK
}

// CanCreateConfig reports whether one more config fits the tier
func CanCreateConfig(l Limits, existing int) bool {
	return existing < l.MaxConfigs
}
