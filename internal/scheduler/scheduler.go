// Package scheduler sweeps active sync configs on a fixed interval and
// dispatches the ones that are due. Per-config pacing comes from the
// owner's plan, so a shorter sweep interval never runs a config more
// often than its plan allows.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/erauner12/tablebridge/internal/engine"
	"github.com/erauner12/tablebridge/internal/metrics"
	"github.com/erauner12/tablebridge/internal/plans"
	"github.com/erauner12/tablebridge/internal/store"
	"github.com/erauner12/tablebridge/internal/syncerr"
)

const (
	defaultInterval = 5 * time.Minute
	defaultParallel = 4

	skipNotDue     = "not_due"
	skipPaused     = "paused"
	skipLocked     = "locked"
	skipGated      = "gated"
	skipUserLookup = "user_lookup"
	skipRefused    = "refused"
)

// ConfigLister supplies the sweep set; *store.ConfigService satisfies it.
type ConfigLister interface {
	ListActive(ctx context.Context) ([]store.SyncConfig, error)
}

// UserStore resolves config owners for plan pacing.
type UserStore interface {
	Get(ctx context.Context, id string) (*store.AppUser, error)
}

// SyncRunner runs one config; *engine.Runner satisfies it.
type SyncRunner interface {
	Run(ctx context.Context, cfg *store.SyncConfig, trigger store.Trigger, opts engine.RunOptions) (*engine.RunResult, error)
}

// Scheduler drives scheduled runs. Zero fields fall back to defaults
// the same way engine.Runner's do.
type Scheduler struct {
	Configs ConfigLister
	Users   UserStore
	Runner  SyncRunner
	Metrics *metrics.SyncMetrics // optional

	// Interval is the sweep period
	Interval time.Duration
	// Parallel bounds concurrent runs per sweep
	Parallel int
	Clock    clockwork.Clock
}

func (s *Scheduler) clock() clockwork.Clock {
	if s.Clock == nil {
		return clockwork.NewRealClock()
	}
	return s.Clock
}

func (s *Scheduler) interval() time.Duration {
	if s.Interval <= 0 {
		return defaultInterval
	}
	return s.Interval
}

func (s *Scheduler) parallel() int {
	if s.Parallel <= 0 {
		return defaultParallel
	}
	return s.Parallel
}

// Run blocks sweeping until ctx is canceled. Sweeps never overlap: a
// slow sweep delays the next tick rather than stacking runs.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := s.clock().NewTicker(s.interval())
	defer ticker.Stop()

	log.Ctx(ctx).Info().Dur("interval", s.interval()).Msg("scheduler started")
	for {
		select {
		case <-ctx.Done():
			log.Ctx(ctx).Info().Msg("scheduler stopped")
			return
		case <-ticker.Chan():
			s.Sweep(ctx)
		}
	}
}

// Sweep lists active configs and runs every one that is due. Exported
// so an operator endpoint or test can force a pass.
func (s *Scheduler) Sweep(ctx context.Context) {
	configs, err := s.Configs.ListActive(ctx)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("scheduler sweep: listing configs")
		return
	}
	if len(configs) == 0 {
		return
	}

	now := s.clock().Now()
	users := make(map[string]*store.AppUser)

	var g errgroup.Group
	g.SetLimit(s.parallel())
	dispatched := 0
	for i := range configs {
		cfg := &configs[i]
		if paused(cfg.LastSyncStatus) {
			s.skip(ctx, cfg, skipPaused)
			continue
		}
		user, ok := users[cfg.UserID]
		if !ok {
			user, err = s.Users.Get(ctx, cfg.UserID)
			if err != nil {
				log.Ctx(ctx).Error().Err(err).
					Str("config", cfg.ID.String()).
					Str("user", cfg.UserID).
					Msg("scheduler sweep: loading owner")
				s.skip(ctx, cfg, skipUserLookup)
				continue
			}
			users[cfg.UserID] = user
		}
		if !due(cfg, plans.For(plans.Plan(user.Plan)), now) {
			s.skip(ctx, cfg, skipNotDue)
			continue
		}

		dispatched++
		g.Go(func() error {
			s.dispatch(ctx, cfg)
			return nil
		})
	}
	_ = g.Wait()

	if dispatched > 0 {
		log.Ctx(ctx).Info().
			Int("eligible", len(configs)).
			Int("dispatched", dispatched).
			Msg("scheduler sweep finished")
	}
}

func (s *Scheduler) dispatch(ctx context.Context, cfg *store.SyncConfig) {
	res, err := s.Runner.Run(ctx, cfg, store.TriggerScheduled, engine.RunOptions{})
	if err == nil {
		log.Ctx(ctx).Debug().
			Str("config", cfg.ID.String()).
			Str("status", res.Status).
			Msg("scheduled run finished")
		return
	}

	var concErr *syncerr.ConcurrencyConflictError
	var subErr *syncerr.SubscriptionRequiredError
	switch {
	case errors.As(err, &concErr):
		// A manual run beat us to the lock; the next sweep retries.
		s.skip(ctx, cfg, skipLocked)
	case errors.As(err, &subErr):
		s.skip(ctx, cfg, skipGated)
	default:
		s.skip(ctx, cfg, skipRefused)
		log.Ctx(ctx).Error().Err(err).
			Str("config", cfg.ID.String()).
			Msg("scheduled run refused")
	}
}

func (s *Scheduler) skip(ctx context.Context, cfg *store.SyncConfig, reason string) {
	if s.Metrics != nil {
		s.Metrics.SchedulerSkips.WithLabelValues(reason).Inc()
	}
	if reason != skipNotDue {
		log.Ctx(ctx).Debug().
			Str("config", cfg.ID.String()).
			Str("reason", reason).
			Msg("scheduled run skipped")
	}
}

// due applies the plan's minimum interval against the last completed
// run. Configs that never ran are always due.
func due(cfg *store.SyncConfig, limits plans.Limits, now time.Time) bool {
	if cfg.LastSyncAt == nil {
		return true
	}
	return now.Sub(*cfg.LastSyncAt) >= limits.MinInterval
}

// paused reports whether a previous run latched the config off the
// schedule. Manual triggers and reconnecting clear the latch.
func paused(status string) bool {
	switch status {
	case store.StatusPausedReauth, store.StatusPausedLimit, store.StatusPausedSubscription:
		return true
	}
	return false
}
