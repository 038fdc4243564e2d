// Package progress reports how far a run has got.
//
// Agents push one entry onto TaskInfo:tmp:<run> per finished target and
// write per-target phase timestamps into TaskInfo:progress:<run>:<target>.
// The tracker only reads those keys; the percentage it computes is persisted
// back onto the Job Definition.
package progress

import (
	"context"
	"errors"

	"github.com/duke-git/lancet/v2/mathutil"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Autumn-27/ScopeSentry-sub000/internal/apperr"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/keys"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/store"
	"github.com/Autumn-27/ScopeSentry-sub000/pkg/types"
)

// Complete is the percentage of a finished run.
const Complete = 100.0

// refreshConcurrency bounds parallel store calls during Refresh.
const refreshConcurrency = 8

// Percent converts a completion count into a percentage rounded to one
// decimal. Counts above taskNum clamp to 100; a non-positive taskNum is 0.
func Percent(completed, taskNum int64) float64 {
	if taskNum <= 0 || completed <= 0 {
		return 0
	}
	p := mathutil.RoundToFloat(float64(completed)/float64(taskNum)*100, 1)
	if p > Complete {
		return Complete
	}
	return p
}

// Tracker computes and persists run progress.
type Tracker struct {
	rdb    redis.UniversalClient
	jobs   store.JobStore
	logger *zap.Logger
}

// NewTracker creates a tracker.
func NewTracker(rdb redis.UniversalClient, jobs store.JobStore, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{rdb: rdb, jobs: jobs, logger: logger.Named("progress")}
}

// Progress returns the percentage of a job's run. An empty run reads the
// on-demand run of the job. Reaching 100 persists the end time written by
// the last agent.
func (t *Tracker) Progress(ctx context.Context, kind types.JobKind, id types.JobID, run types.RunID) (float64, error) {
	job, err := t.jobs.GetJob(ctx, kind, id)
	if err != nil {
		return 0, err
	}
	if run == "" {
		run = id.OnDemandRun()
	}
	p, _, err := t.update(ctx, job, run)
	return p, err
}

// update computes the percentage of run and writes it onto job. ok is false
// when the run has no completion counter yet.
func (t *Tracker) update(ctx context.Context, job *types.JobDefinition, run types.RunID) (float64, bool, error) {
	count, err := t.rdb.LLen(ctx, keys.Completed(run)).Result()
	if err != nil {
		return 0, false, apperr.Transient("progress", err)
	}
	p := Percent(count, int64(job.TaskNum))

	var endTime string
	if p == Complete {
		endTime, err = t.rdb.Get(ctx, keys.EndTime(run)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return 0, false, apperr.Transient("progress", err)
		}
	}
	if p != job.Progress || endTime != "" {
		if err := t.jobs.SaveProgress(ctx, job.Kind, job.ID, p, endTime); err != nil {
			return 0, false, err
		}
	}
	return p, count > 0, nil
}

// Detail reads per-target phase spans of run. Targets without a progress
// hash report every phase as not started. Nothing is written.
func (t *Tracker) Detail(ctx context.Context, run types.RunID, targets []string) ([]types.TargetProgress, error) {
	if len(targets) == 0 {
		return []types.TargetProgress{}, nil
	}
	pipe := t.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(targets))
	for i, target := range targets {
		cmds[i] = pipe.HGetAll(ctx, keys.Progress(run, target))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, apperr.Transient("progress.Detail", err)
	}

	out := make([]types.TargetProgress, len(targets))
	for i, target := range targets {
		fields := cmds[i].Val()
		phases := make(map[types.Phase]types.PhaseSpan, len(types.Phases))
		for _, ph := range types.Phases {
			phases[ph] = types.PhaseSpan{
				Start: fields[ph.HashField()+"_start"],
				End:   fields[ph.HashField()+"_end"],
			}
		}
		out[i] = types.TargetProgress{Target: target, Phases: phases}
	}
	return out, nil
}

// Refresh recomputes progress of every unfinished task. Failures of single
// jobs are collected and do not stop the others.
func (t *Tracker) Refresh(ctx context.Context) error {
	jobs, err := t.jobs.ListUnfinished(ctx)
	if err != nil {
		t.logger.Error("list unfinished jobs failed", zap.Error(err))
		return err
	}

	errs := make([]error, len(jobs))
	var g errgroup.Group
	g.SetLimit(refreshConcurrency)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			if _, _, err := t.update(ctx, job, job.ID.OnDemandRun()); err != nil {
				t.logger.Warn("refresh progress failed", zap.String("job_id", string(job.ID)), zap.Error(err))
				errs[i] = err
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := multierr.Combine(errs...); err != nil {
		return apperr.Partial("progress.Refresh", err)
	}
	t.logger.Debug("progress refreshed", zap.Int("jobs", len(jobs)))
	return nil
}
