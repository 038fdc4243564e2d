package schedule

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/Autumn-27/ScopeSentry-sub000/internal/apperr"
	"github.com/Autumn-27/ScopeSentry-sub000/pkg/types"
)

// Trigger describes when an entry fires: either every Every, or on a
// standard five-field cron expression.
type Trigger struct {
	Every time.Duration
	Cron  string
}

// Validate checks that exactly one of Every and Cron is usable.
func (t Trigger) Validate() error {
	switch {
	case t.Cron != "" && t.Every > 0:
		return fmt.Errorf("trigger has both interval and cron")
	case t.Cron != "":
		if _, err := cron.ParseStandard(t.Cron); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", t.Cron, err)
		}
		return nil
	case t.Every <= 0:
		return fmt.Errorf("interval must be positive")
	}
	return nil
}

// Timer is the scheduling primitive the adapter is built on. Ids are
// logical entry ids; scheduling an id twice replaces the first schedule.
type Timer interface {
	Schedule(id types.JobID, trigger Trigger, fn func()) error
	Cancel(id types.JobID) error
	NextRunTime(id types.JobID) (time.Time, error)
}

// jobNamespace derives stable gocron job identifiers from entry ids.
var jobNamespace = uuid.MustParse("9b0e0c53-8f25-4f39-9d7e-5a1d1f0c6a21")

// GocronTimer implements Timer on a gocron scheduler.
type GocronTimer struct {
	s gocron.Scheduler

	mu  sync.Mutex
	ids map[types.JobID]uuid.UUID
}

// NewGocronTimer creates and starts a scheduler in loc.
func NewGocronTimer(loc *time.Location) (*GocronTimer, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(loc))
	if err != nil {
		return nil, fmt.Errorf("创建调度器失败: %w", err)
	}
	s.Start()
	return &GocronTimer{s: s, ids: make(map[types.JobID]uuid.UUID)}, nil
}

func (g *GocronTimer) Schedule(id types.JobID, trigger Trigger, fn func()) error {
	if err := trigger.Validate(); err != nil {
		return apperr.Validation("schedule", "%s: %v", id, err)
	}
	var def gocron.JobDefinition
	if trigger.Cron != "" {
		def = gocron.CronJob(trigger.Cron, false)
	} else {
		def = gocron.DurationJob(trigger.Every)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	jobID := uuid.NewSHA1(jobNamespace, []byte(id))
	opts := []gocron.JobOption{
		gocron.WithName(string(id)),
		gocron.WithIdentifier(jobID),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	// 已存在时原地更新，失败则保留原调度
	var err error
	if _, ok := g.ids[id]; ok {
		_, err = g.s.Update(jobID, def, gocron.NewTask(fn), opts...)
	} else {
		_, err = g.s.NewJob(def, gocron.NewTask(fn), opts...)
	}
	if err != nil {
		return fmt.Errorf("添加调度任务 %s 失败: %w", id, err)
	}
	g.ids[id] = jobID
	return nil
}

func (g *GocronTimer) Cancel(id types.JobID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	jobID, ok := g.ids[id]
	if !ok {
		return apperr.NotFound("schedule.Cancel", "no schedule for %s", id)
	}
	delete(g.ids, id)
	return g.s.RemoveJob(jobID)
}

func (g *GocronTimer) NextRunTime(id types.JobID) (time.Time, error) {
	g.mu.Lock()
	jobID, ok := g.ids[id]
	g.mu.Unlock()
	if !ok {
		return time.Time{}, apperr.NotFound("schedule.NextRunTime", "no schedule for %s", id)
	}
	for _, j := range g.s.Jobs() {
		if j.ID() == jobID {
			return j.NextRun()
		}
	}
	return time.Time{}, apperr.NotFound("schedule.NextRunTime", "no schedule for %s", id)
}

// Shutdown stops the scheduler and waits for running jobs.
func (g *GocronTimer) Shutdown() error {
	return g.s.Shutdown()
}
