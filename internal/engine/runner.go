package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/tablebridge/internal/changeset"
	"github.com/erauner12/tablebridge/internal/metrics"
	"github.com/erauner12/tablebridge/internal/plans"
	"github.com/erauner12/tablebridge/internal/store"
	"github.com/erauner12/tablebridge/internal/syncerr"
)

// RunOptions tune one run
type RunOptions struct {
	// DryRun reports the pending changes without writing
	DryRun bool
	// Initial marks a first sync: extra rows and records on the target
	// are removed regardless of the config flags
	Initial bool
}

// ClientFactory returns API clients bound to one user's credentials
type ClientFactory func(userID string) (SourceA, SourceB)

// The store interfaces keep the runner testable; the *store services
// satisfy them directly.

type UserStore interface {
	Get(ctx context.Context, id string) (*store.AppUser, error)
}

type ConfigStore interface {
	UpdateOutcome(ctx context.Context, id uuid.UUID, status, errMsg string) error
}

type LogStore interface {
	Open(ctx context.Context, configID uuid.UUID, trigger store.Trigger, direction store.Direction) (*store.SyncLog, error)
	Close(ctx context.Context, lg *store.SyncLog) error
}

type CheckpointStore interface {
	Get(ctx context.Context, configID uuid.UUID) (map[string]changeset.CheckpointEntry, error)
	Put(ctx context.Context, configID uuid.UUID, entries map[string]changeset.CheckpointEntry) error
}

type UsageStore interface {
	Get(ctx context.Context, userID, month string) (*store.UsageStats, error)
	AddRecordsSynced(ctx context.Context, userID, month string, n int) error
}

// ReauthMarker flags a credential the upstream API rejected mid-run
type ReauthMarker interface {
	MarkNeedsReauth(ctx context.Context, userID, service, reason string) error
}

// Runner wraps the executors with everything around a run: the
// subscription and usage gates, the advisory lock, the run deadline,
// checkpoint persistence, usage accounting, and metrics.
type Runner struct {
	Users       UserStore
	Configs     ConfigStore
	Logs        LogStore
	Checkpoints CheckpointStore
	Usage       UsageStore
	Clients     ClientFactory
	Reauth      ReauthMarker         // optional
	Metrics     *metrics.SyncMetrics // optional

	// IDColumn is the zero-based index of the hidden record id column
	IDColumn int
	// MaxTries bounds attempts per upstream call
	MaxTries int
	// CallTimeout bounds each upstream call attempt
	CallTimeout time.Duration
	// RunDeadline bounds the whole run; exceeding it ends PARTIAL
	RunDeadline time.Duration
	Clock       clockwork.Clock
}

func (r *Runner) clock() clockwork.Clock {
	if r.Clock == nil {
		return clockwork.NewRealClock()
	}
	return r.Clock
}

func (r *Runner) deadline() time.Duration {
	if r.RunDeadline <= 0 {
		return 10 * time.Minute
	}
	return r.RunDeadline
}

// Run executes one sync run end to end. It returns an error only when
// the run was refused before starting: the subscription or usage gate,
// a concurrent run holding the lock, or a store failure. Execution
// failures land in the result's status and errors instead.
func (r *Runner) Run(ctx context.Context, cfg *store.SyncConfig, trigger store.Trigger, opts RunOptions) (*RunResult, error) {
	now := r.clock().Now()

	user, err := r.Users.Get(ctx, cfg.UserID)
	if err != nil {
		return nil, err
	}
	if err := plans.CheckSubscription(user, now); err != nil {
		r.pause(ctx, cfg, store.StatusPausedSubscription, err)
		return nil, err
	}

	limits := plans.For(plans.Plan(user.Plan))
	month := store.Month(now)
	usage, err := r.Usage.Get(ctx, cfg.UserID, month)
	if err != nil {
		return nil, err
	}
	var usageWarning string
	switch plans.RecordUsage(limits, usage.RecordsSynced) {
	case plans.UsageExceeded:
		gateErr := &syncerr.SubscriptionRequiredError{
			Reason: fmt.Sprintf("monthly record limit of %d reached", limits.MonthlyRecords),
		}
		r.pause(ctx, cfg, store.StatusPausedLimit, gateErr)
		return nil, gateErr
	case plans.UsageWarning:
		usageWarning = fmt.Sprintf("%d of %d monthly synced records used", usage.RecordsSynced, limits.MonthlyRecords)
	}

	lg, err := r.Logs.Open(ctx, cfg.ID, trigger, cfg.Direction)
	if err != nil {
		return nil, err
	}

	var checkpoint map[string]changeset.CheckpointEntry
	if cfg.Direction == store.DirectionBidirectional {
		checkpoint, err = r.Checkpoints.Get(ctx, cfg.ID)
		if err != nil {
			r.closeFailed(ctx, cfg, lg, err)
			return nil, err
		}
	}

	runCfg := *cfg
	if opts.Initial {
		runCfg.DeleteExtraRows = true
		runCfg.DeleteExtraRecords = true
	}

	a, b := r.Clients(cfg.UserID)
	run := &Sync{
		A:           a,
		B:           b,
		Cfg:         &runCfg,
		IDColumn:    r.IDColumn,
		MaxTries:    r.MaxTries,
		CallTimeout: r.CallTimeout,
		DryRun:      opts.DryRun,
		Clock:       r.clock(),
	}

	if r.Metrics != nil {
		r.Metrics.RunsInFlight.Inc()
		defer r.Metrics.RunsInFlight.Dec()
	}
	log.Ctx(ctx).Info().
		Str("config", cfg.ID.String()).
		Str("direction", string(cfg.Direction)).
		Str("trigger", string(trigger)).
		Bool("dry_run", opts.DryRun).
		Msg("sync run starting")

	runCtx, cancel := context.WithTimeout(ctx, r.deadline())
	defer cancel()
	res, next, runErr := run.Execute(runCtx, checkpoint)

	status := store.StatusSuccess
	confStatus := store.StatusSuccess
	confErr := ""
	switch {
	case runErr == nil:
		if res.ErrorCount > 0 {
			status = store.StatusPartial
			confErr = res.Errors[0]
		}
		confStatus = status
	case isAuthErr(runErr):
		status = store.StatusFailed
		confStatus = store.StatusPausedReauth
		confErr = syncerr.UserMessage(runErr)
		res.appendError(confErr)
		r.flagReauth(ctx, cfg.UserID, runErr)
	case runCtx.Err() != nil && ctx.Err() == nil:
		status = store.StatusPartial
		confStatus = store.StatusPartial
		confErr = fmt.Sprintf("run exceeded the %s deadline", r.deadline())
		res.appendError(confErr)
	default:
		status = store.StatusFailed
		confStatus = store.StatusFailed
		confErr = runErr.Error()
		res.appendError(confErr)
	}
	res.Status = status

	if next != nil && !opts.DryRun {
		if err := r.Checkpoints.Put(ctx, cfg.ID, next); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("config", cfg.ID.String()).Msg("checkpoint not saved")
			res.appendError(fmt.Sprintf("save checkpoint: %v", err))
			if status == store.StatusSuccess {
				status = store.StatusPartial
				confStatus = store.StatusPartial
				res.Status = status
			}
		}
	}

	if !opts.DryRun && res.Synced() > 0 {
		if err := r.Usage.AddRecordsSynced(ctx, cfg.UserID, month, res.Synced()); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("user", cfg.UserID).Msg("usage not recorded")
		}
	}

	if usageWarning != "" {
		res.Warnings = append(res.Warnings, usageWarning)
	}

	lg.Status = status
	lg.RecordsSynced = res.Synced()
	lg.RecordsFailed = res.ErrorCount
	lg.Errors = res.Errors
	lg.Warnings = len(res.Warnings)
	lg.Conflicts = res.Conflicts
	if err := r.Logs.Close(ctx, lg); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("config", cfg.ID.String()).Msg("sync log not closed")
	}
	res.StartedAt = lg.StartedAt
	if lg.CompletedAt != nil {
		res.CompletedAt = *lg.CompletedAt
	} else {
		res.CompletedAt = r.clock().Now()
	}

	if err := r.Configs.UpdateOutcome(ctx, cfg.ID, confStatus, confErr); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("config", cfg.ID.String()).Msg("config outcome not recorded")
	}

	r.observe(res)
	log.Ctx(ctx).Info().
		Str("config", cfg.ID.String()).
		Str("status", status).
		Int("synced", res.Synced()).
		Int("failed", res.ErrorCount).
		Dur("took", res.Duration()).
		Msg("sync run finished")
	return res, nil
}

// pause latches a gate refusal onto the config
func (r *Runner) pause(ctx context.Context, cfg *store.SyncConfig, status string, cause error) {
	log.Ctx(ctx).Warn().Err(cause).
		Str("config", cfg.ID.String()).
		Str("status", status).
		Msg("sync refused")
	if err := r.Configs.UpdateOutcome(ctx, cfg.ID, status, syncerr.UserMessage(cause)); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("config", cfg.ID.String()).Msg("config outcome not recorded")
	}
}

// flagReauth marks the failing service's credential. Refresh failures
// are flagged by the credential manager already; this covers tokens the
// API rejected mid-run.
func (r *Runner) flagReauth(ctx context.Context, userID string, runErr error) {
	if r.Reauth == nil {
		return
	}
	var oauthErr *syncerr.OAuthError
	if !errors.As(runErr, &oauthErr) {
		return
	}
	service := store.ServiceAirtable
	if oauthErr.Service == syncerr.ServiceSheets {
		service = store.ServiceGoogle
	}
	if err := r.Reauth.MarkNeedsReauth(ctx, userID, service, oauthErr.Reason); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("user", userID).Msg("reauth flag not recorded")
	}
}

// closeFailed releases the lock after a failure between Open and Execute
func (r *Runner) closeFailed(ctx context.Context, cfg *store.SyncConfig, lg *store.SyncLog, cause error) {
	lg.Status = store.StatusFailed
	lg.Errors = []string{cause.Error()}
	lg.RecordsFailed = 1
	if err := r.Logs.Close(ctx, lg); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("config", cfg.ID.String()).Msg("sync log not closed")
	}
	if err := r.Configs.UpdateOutcome(ctx, cfg.ID, store.StatusFailed, cause.Error()); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("config", cfg.ID.String()).Msg("config outcome not recorded")
	}
}

func (r *Runner) observe(res *RunResult) {
	if r.Metrics == nil {
		return
	}
	dir := string(res.Direction)
	r.Metrics.RunsTotal.WithLabelValues(dir, res.Status).Inc()
	r.Metrics.RunDuration.WithLabelValues(dir).Observe(res.Duration().Seconds())
	if n := res.Synced(); n > 0 {
		r.Metrics.RecordsSynced.WithLabelValues(dir).Add(float64(n))
	}
	if res.ErrorCount > 0 {
		r.Metrics.RecordErrors.Add(float64(res.ErrorCount))
	}
	if res.Conflicts == nil {
		return
	}
	for decision, n := range map[string]int{
		"use_a":  res.Conflicts.AirtableWins,
		"use_b":  res.Conflicts.SheetsWins,
		"delete": res.Conflicts.Deletes,
		"skip":   res.Conflicts.Skipped,
	} {
		if n > 0 {
			r.Metrics.ConflictsResolved.WithLabelValues(decision).Add(float64(n))
		}
	}
}
