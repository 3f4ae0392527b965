package plans

import (
	"errors"
	"testing"
	"time"

	"github.com/erauner12/tablebridge/internal/store"
	"github.com/erauner12/tablebridge/internal/syncerr"
)

func TestForLimits(t *testing.T) {
	tests := []struct {
		plan Plan
		want Limits
	}{
		{Starter, Limits{MonthlyRecords: 1000, MaxConfigs: 1, MinInterval: 15 * time.Minute}},
		{Pro, Limits{MonthlyRecords: 5000, MaxConfigs: 3, MinInterval: 5 * time.Minute}},
		{Business, Limits{MonthlyRecords: 0, MaxConfigs: 10, MinInterval: 5 * time.Minute}},
		{Plan("enterprise-draft"), Limits{MonthlyRecords: 1000, MaxConfigs: 1, MinInterval: 15 * time.Minute}},
	}
	for _, tc := range tests {
		if got := For(tc.plan); got != tc.want {
			t.Errorf("For(%s) = %+v, want %+v", tc.plan, got, tc.want)
		}
	}
}

func TestCheckSubscription(t *testing.T) {
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(48 * time.Hour)
	past := now.Add(-48 * time.Hour)

	tests := []struct {
		name    string
		user    *store.AppUser
		blocked bool
	}{
		{"active subscription", &store.AppUser{SubscriptionStatus: "active"}, false},
		{"trial still running", &store.AppUser{SubscriptionStatus: "trialing", TrialEndsAt: &future}, false},
		{"trial expired", &store.AppUser{SubscriptionStatus: "trialing", TrialEndsAt: &past}, true},
		{"trial without end date", &store.AppUser{SubscriptionStatus: "trialing"}, true},
		{"inactive", &store.AppUser{SubscriptionStatus: "inactive"}, true},
		{"no user row", nil, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckSubscription(tc.user, now)
			if !tc.blocked {
				if err != nil {
					t.Fatalf("unexpected gate: %v", err)
				}
				return
			}
			var subErr *syncerr.SubscriptionRequiredError
			if !errors.As(err, &subErr) {
				t.Fatalf("expected SubscriptionRequiredError, got %v", err)
			}
		})
	}
}

func TestRecordUsage(t *testing.T) {
	starter := For(Starter)

	tests := []struct {
		synced int
		want   UsageLevel
	}{
		{0, UsageOK},
		{799, UsageOK},
		{800, UsageWarning},
		{999, UsageWarning},
		{1000, UsageExceeded},
		{5000, UsageExceeded},
	}
	for _, tc := range tests {
		if got := RecordUsage(starter, tc.synced); got != tc.want {
			t.Errorf("RecordUsage(starter, %d) = %d, want %d", tc.synced, got, tc.want)
		}
	}

	if got := RecordUsage(For(Business), 10_000_000); got != UsageOK {
		t.Errorf("business quota should be unlimited, got %d", got)
	}
}

func TestCanCreateConfig(t *testing.T) {
	if !CanCreateConfig(For(Starter), 0) {
		t.Error("first config should fit the starter tier")
	}
	if CanCreateConfig(For(Starter), 1) {
		t.Error("second config should not fit the starter tier")
	}
	if !CanCreateConfig(For(Business), 9) || CanCreateConfig(For(Business), 10) {
		t.Error("business tier caps at 10 configs")
	}
}
