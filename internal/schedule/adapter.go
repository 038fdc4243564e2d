// Package schedule turns persisted Scheduled Entries into timed dispatches.
//
// Every firing of an entry gets a fresh runner id. Progress state is keyed
// by runner id, so before a new firing starts the previous runner's progress
// hashes are deleted; the entry id itself never changes.
package schedule

import (
	"context"
	"time"

	"github.com/duke-git/lancet/v2/random"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Autumn-27/ScopeSentry-sub000/internal/apperr"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/database/redisdb"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/dispatch"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/keys"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/store"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/timeutil"
	"github.com/Autumn-27/ScopeSentry-sub000/pkg/types"
)

// runnerIDLength is the length of generated runner ids.
const runnerIDLength = 15

// Dispatcher is what a firing hands its work to.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) error
	DispatchPageMonitoring(ctx context.Context, nodes []string, all bool) error
}

// Adapter binds Scheduled Entries to a Timer.
type Adapter struct {
	timer      Timer
	entries    store.ScheduleStore
	jobs       store.JobStore
	dispatcher Dispatcher
	rdb        redis.UniversalClient
	loc        *time.Location
	logger     *zap.Logger

	// base is the context firings run under.
	base     context.Context
	now      func() time.Time
	newRunID func() types.RunID
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// WithRunIDs overrides runner id generation.
func WithRunIDs(gen func() types.RunID) Option {
	return func(a *Adapter) { a.newRunID = gen }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// NewAdapter creates an adapter. Firings run under ctx.
func NewAdapter(ctx context.Context, timer Timer, entries store.ScheduleStore, jobs store.JobStore,
	dispatcher Dispatcher, rdb redis.UniversalClient, loc *time.Location, opts ...Option) *Adapter {
	a := &Adapter{
		timer:      timer,
		entries:    entries,
		jobs:       jobs,
		dispatcher: dispatcher,
		rdb:        rdb,
		loc:        loc,
		logger:     zap.NewNop(),
		base:       ctx,
		now:        time.Now,
		newRunID: func() types.RunID {
			return types.RunID(random.RandString(runnerIDLength))
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// TriggerFor derives the timer trigger of an entry.
func TriggerFor(e *types.ScheduledEntry) Trigger {
	if e.CycleType == types.CycleCron {
		return Trigger{Cron: e.Cron}
	}
	return Trigger{Every: time.Duration(e.Hour) * time.Hour}
}

// Start registers every enabled entry. Entries that fail to register are
// logged and skipped.
func (a *Adapter) Start(ctx context.Context) error {
	entries, err := a.entries.ListEnabled(ctx)
	if err != nil {
		a.logger.Error("load scheduled entries failed", zap.Error(err))
		return err
	}
	for _, e := range entries {
		if err := a.register(e); err != nil {
			a.logger.Error("register scheduled entry failed", zap.String("job_id", string(e.ID)), zap.Error(err))
		}
	}
	a.logger.Info("scheduled entries loaded", zap.Int("count", len(entries)))
	return nil
}

func (a *Adapter) register(e *types.ScheduledEntry) error {
	id := e.ID
	return a.timer.Schedule(id, TriggerFor(e), func() {
		if err := a.Fire(a.base, id); err != nil {
			a.logger.Error("scheduled firing failed", zap.String("job_id", string(id)), zap.Error(err))
		}
	})
}

// Enable schedules an entry and marks it enabled.
func (a *Adapter) Enable(ctx context.Context, id types.JobID) error {
	e, err := a.entries.GetEntry(ctx, id)
	if err != nil {
		return err
	}
	if err := a.register(e); err != nil {
		a.logger.Error("enable scheduled entry failed", zap.String("job_id", string(id)), zap.Error(err))
		return err
	}
	return a.entries.SetEnabled(ctx, id, true)
}

// Disable cancels an entry's schedule and marks it disabled. Runs already
// dispatched keep going.
func (a *Adapter) Disable(ctx context.Context, id types.JobID) error {
	if err := a.timer.Cancel(id); err != nil && !apperr.Is(err, apperr.KindNotFound) {
		a.logger.Error("disable scheduled entry failed", zap.String("job_id", string(id)), zap.Error(err))
		return err
	}
	return a.entries.SetEnabled(ctx, id, false)
}

// Every runs fn on a fixed interval under a fixed id. Used for
// background maintenance such as progress refresh and deduplication.
func (a *Adapter) Every(id types.JobID, every time.Duration, fn func(ctx context.Context) error) error {
	return a.timer.Schedule(id, Trigger{Every: every}, func() {
		if err := fn(a.base); err != nil {
			a.logger.Error("background job failed", zap.String("job_id", string(id)), zap.Error(err))
		}
	})
}

// Fire runs one firing of an entry.
func (a *Adapter) Fire(ctx context.Context, id types.JobID) error {
	log := a.logger.With(zap.String("job_id", string(id)))

	e, err := a.entries.GetEntry(ctx, id)
	if err != nil {
		log.Error("load scheduled entry failed", zap.Error(err))
		return err
	}
	now := a.now()
	next := a.nextRun(e, now)

	if e.Type == types.EntryTypePageMonitoring {
		if err := a.entries.SaveFiring(ctx, id, timeutil.Format(now, a.loc), next, e.RunnerID); err != nil {
			log.Error("save firing failed", zap.Error(err))
			return err
		}
		return a.dispatcher.DispatchPageMonitoring(ctx, e.Node, e.AllNode)
	}

	kind, ok := e.Type.JobKind()
	if !ok {
		return apperr.Validation("schedule.Fire", "unknown entry type %q", e.Type)
	}
	job, err := a.jobs.GetJob(ctx, kind, id)
	if err != nil {
		log.Error("load job failed", zap.Error(err))
		return err
	}

	if prev := e.RunnerID; purgesPrevious(kind, id, prev) {
		if err := a.purgeProgress(ctx, prev); err != nil {
			log.Error("purge previous runner failed", zap.String("run_id", string(prev)), zap.Error(err))
			return apperr.Transient("schedule.Fire", err)
		}
	}

	run := a.newRunID()
	if err := a.entries.SaveFiring(ctx, id, timeutil.Format(now, a.loc), next, run); err != nil {
		log.Error("save firing failed", zap.Error(err))
		return err
	}
	log.Info("scheduled firing", zap.String("run_id", string(run)), zap.String("next", next))

	return a.dispatcher.Dispatch(ctx, dispatch.RequestFor(job, run, dispatch.ReplaceOnline))
}

// purgesPrevious reports whether a firing drops the progress of the previous
// runner. A scan entry's id doubles as the on-demand run of its task, whose
// progress is left alone; projects always start clean.
func purgesPrevious(kind types.JobKind, id types.JobID, prev types.RunID) bool {
	if prev == "" {
		return false
	}
	return kind == types.JobKindProject || prev != id.OnDemandRun()
}

func (a *Adapter) nextRun(e *types.ScheduledEntry, now time.Time) string {
	if t, err := a.timer.NextRunTime(e.ID); err == nil && !t.IsZero() {
		return timeutil.Format(t, a.loc)
	}
	if e.CycleType != types.CycleCron && e.Hour > 0 {
		return timeutil.Format(now.Add(time.Duration(e.Hour)*time.Hour), a.loc)
	}
	return ""
}

func (a *Adapter) purgeProgress(ctx context.Context, run types.RunID) error {
	matched, err := redisdb.ScanKeys(ctx, a.rdb, keys.ProgressPattern(run))
	if err != nil || len(matched) == 0 {
		return err
	}
	return a.rdb.Del(ctx, matched...).Err()
}
