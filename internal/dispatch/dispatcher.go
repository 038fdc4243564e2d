// Package dispatch fans scan jobs out to worker nodes.
//
// A dispatch clears every artifact of the run it is about to start, pushes
// the target list onto one shared pending queue and pushes one descriptor per
// node. Nodes drain the shared queue concurrently, so work is balanced by
// whoever pops first rather than partitioned up front. Nothing is rolled back
// when a push fails half way; dispatching the same run again converges
// because it always clears first.
package dispatch

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/duke-git/lancet/v2/slice"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Autumn-27/ScopeSentry-sub000/internal/apperr"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/database/redisdb"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/keys"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/store"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/timeutil"
	"github.com/Autumn-27/ScopeSentry-sub000/pkg/types"
)

// NodeResolver is the part of the node registry the dispatcher needs.
type NodeResolver interface {
	ListOnline(ctx context.Context) ([]string, error)
	ListActive(ctx context.Context) ([]string, error)
}

// CommandSender sends control commands to nodes.
type CommandSender interface {
	Send(ctx context.Context, target string, t types.CommandType, content string) error
}

// NodePolicy decides how "all nodes" is resolved.
type NodePolicy int

const (
	// MergeActive adds every non-disabled node to the explicit list.
	// Used by on-demand scan tasks.
	MergeActive NodePolicy = iota
	// ReplaceOnline replaces the explicit list with the online nodes.
	// Used by projects, scheduled firings and page monitoring.
	ReplaceOnline
)

// PolicyFor returns the on-demand node policy of a job kind.
func PolicyFor(kind types.JobKind) NodePolicy {
	if kind == types.JobKindProject {
		return ReplaceOnline
	}
	return MergeActive
}

// Request is one dispatch.
type Request struct {
	Run      types.RunID
	Options  types.ScanOptions
	Nodes    []string
	AllNodes bool
	Policy   NodePolicy
	Targets  []string
}

// Dispatcher pushes jobs onto node queues.
type Dispatcher struct {
	rdb      redis.UniversalClient
	nodes    NodeResolver
	jobs     store.JobStore
	pages    store.PageMonitorSource
	commands CommandSender
	logger   *zap.Logger
	loc      *time.Location
	now      func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock overrides time.Now and the zone task times are written in.
func WithClock(now func() time.Time, loc *time.Location) Option {
	return func(d *Dispatcher) { d.now, d.loc = now, loc }
}

// New creates a dispatcher.
func New(rdb redis.UniversalClient, nodes NodeResolver, jobs store.JobStore, pages store.PageMonitorSource, commands CommandSender, logger *zap.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		rdb:      rdb,
		nodes:    nodes,
		jobs:     jobs,
		pages:    pages,
		commands: commands,
		logger:   logger,
		loc:      time.Local,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch resets the run and fans it out. It returns nil only when every
// step succeeded. Validation and node resolution happen before anything is
// written, so a NotFound or Validation error leaves the store untouched.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) error {
	log := d.logger.With(zap.String("run_id", string(req.Run)))

	if len(req.Targets) == 0 {
		return apperr.Validation("dispatch", "run %s has no targets", req.Run)
	}
	desc := types.NewJobDescriptor(req.Run, req.Options)
	if err := desc.Validate(); err != nil {
		return apperr.Validation("dispatch", "invalid descriptor: %v", err)
	}
	payload, err := sonic.MarshalString(desc)
	if err != nil {
		return apperr.Validation("dispatch", "encode descriptor: %v", err)
	}

	nodes, err := d.resolve(ctx, req.Nodes, req.AllNodes, req.Policy)
	if err != nil {
		log.Error("resolve nodes failed", zap.Error(err))
		return err
	}
	if len(nodes) == 0 {
		return apperr.NotFound("dispatch", "no nodes available for run %s", req.Run)
	}

	if err := d.purge(ctx, req.Run); err != nil {
		log.Error("reset run failed", zap.Error(err))
		return apperr.Transient("dispatch", err)
	}

	pipe := d.rdb.Pipeline()
	pipe.LPush(ctx, keys.Pending(req.Run), toAny(req.Targets)...)
	for _, name := range nodes {
		pipe.RPush(ctx, keys.NodeTask(name), payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Error("push job failed", zap.Error(err))
		return apperr.Transient("dispatch", err)
	}

	log.Info("job dispatched", zap.Strings("nodes", nodes), zap.Int("targets", len(req.Targets)))
	return nil
}

// DispatchJob dispatches a stored Job Definition on demand, using the job
// id as run id. Re-running it is how a job is retested.
func (d *Dispatcher) DispatchJob(ctx context.Context, kind types.JobKind, id types.JobID) error {
	job, err := d.jobs.GetJob(ctx, kind, id)
	if err != nil {
		d.logger.Error("load job failed", zap.String("job_id", string(id)), zap.Error(err))
		return err
	}
	if err := d.Dispatch(ctx, RequestFor(job, id.OnDemandRun(), PolicyFor(kind))); err != nil {
		return err
	}
	if kind != types.JobKindTask {
		return nil
	}
	// 重新测试：进度清零、状态置为运行中
	if err := d.jobs.ResetJob(ctx, id, timeutil.Format(d.now(), d.loc)); err != nil {
		d.logger.Error("reset task failed", zap.String("job_id", string(id)), zap.Error(err))
		return err
	}
	return nil
}

// RequestFor builds a dispatch request for a stored job.
func RequestFor(job *types.JobDefinition, run types.RunID, policy NodePolicy) Request {
	targets := NormalizeTargets(job.Targets())
	return Request{
		Run:      run,
		Options:  job.ScanOptions,
		Nodes:    job.Node,
		AllNodes: job.AllNode,
		Policy:   policy,
		Targets:  ParseIgnore(job.Ignore).Filter(targets),
	}
}

func (d *Dispatcher) resolve(ctx context.Context, explicit []string, all bool, policy NodePolicy) ([]string, error) {
	nodes := slice.Unique(slice.Filter(explicit, func(_ int, n string) bool { return n != "" }))
	if !all {
		return nodes, nil
	}
	switch policy {
	case ReplaceOnline:
		return d.nodes.ListOnline(ctx)
	default:
		active, err := d.nodes.ListActive(ctx)
		if err != nil {
			return nil, err
		}
		return slice.Union(nodes, active), nil
	}
}

// Purge deletes every artifact of a run: pending queue, completion
// counter, end marker, progress hashes and duplicate markers.
func (d *Dispatcher) Purge(ctx context.Context, run types.RunID) error {
	if err := d.purge(ctx, run); err != nil {
		d.logger.Error("purge run failed", zap.String("run_id", string(run)), zap.Error(err))
		return apperr.Transient("dispatch.Purge", err)
	}
	return nil
}

func (d *Dispatcher) purge(ctx context.Context, run types.RunID) error {
	del := keys.RunArtifacts(run)
	for _, pattern := range []string{keys.ProgressPattern(run), keys.DuplicatesPattern(run)} {
		matched, err := redisdb.ScanKeys(ctx, d.rdb, pattern)
		if err != nil {
			return err
		}
		del = append(del, matched...)
	}
	// 分批删除，避免单条 DEL 过大
	for _, batch := range slice.Chunk(del, 500) {
		if err := d.rdb.Del(ctx, batch...).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Stop purges a run, marks its task paused and tells every node to stop it.
// Descriptors already queued on nodes are not withdrawn. Runs of scheduled
// firings have no task document, so a missing task is not an error.
func (d *Dispatcher) Stop(ctx context.Context, run types.RunID) error {
	if err := d.Purge(ctx, run); err != nil {
		return err
	}
	return d.Pause(ctx, types.JobID(run))
}

// Pause marks a task paused and tells every node to stop it, keeping the
// pending queue so Resume can continue where the nodes left off.
func (d *Dispatcher) Pause(ctx context.Context, id types.JobID) error {
	err := d.jobs.SetJobStatus(ctx, id, types.JobStatusPaused)
	if err != nil && !apperr.Is(err, apperr.KindNotFound) {
		d.logger.Error("pause task failed", zap.String("job_id", string(id)), zap.Error(err))
		return err
	}
	return d.commands.Send(ctx, types.BroadcastTarget, types.CommandStopTask, string(id))
}

// Resume marks a paused task running and pushes its descriptor to the
// assigned nodes again. The run is not purged, so nodes continue draining
// whatever is left in the pending queue. Finished tasks are rejected.
func (d *Dispatcher) Resume(ctx context.Context, id types.JobID) error {
	log := d.logger.With(zap.String("job_id", string(id)))

	job, err := d.jobs.GetJob(ctx, types.JobKindTask, id)
	if err != nil {
		log.Error("load task failed", zap.Error(err))
		return err
	}
	if job.Progress >= 100 {
		return apperr.Validation("dispatch.Resume", "task %s is already finished", id)
	}
	desc := types.NewJobDescriptor(id.OnDemandRun(), job.ScanOptions)
	desc.IsStart = true
	payload, err := sonic.MarshalString(desc)
	if err != nil {
		return apperr.Validation("dispatch.Resume", "encode descriptor: %v", err)
	}
	nodes, err := d.resolve(ctx, job.Node, job.AllNode, MergeActive)
	if err != nil {
		log.Error("resolve nodes failed", zap.Error(err))
		return err
	}
	if len(nodes) == 0 {
		return apperr.NotFound("dispatch.Resume", "no nodes available for task %s", id)
	}

	pipe := d.rdb.Pipeline()
	for _, name := range nodes {
		pipe.RPush(ctx, keys.NodeTask(name), payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Error("push resumed task failed", zap.Error(err))
		return apperr.Transient("dispatch.Resume", err)
	}
	if err := d.jobs.SetJobStatus(ctx, id, types.JobStatusRunning); err != nil {
		log.Error("mark task running failed", zap.Error(err))
		return err
	}
	log.Info("task resumed", zap.Strings("nodes", nodes))
	return nil
}

// Redeliver re-pushes every unfinished task assigned to node. Used when a
// node re-registers after a restart and has lost its in-memory queue.
func (d *Dispatcher) Redeliver(ctx context.Context, node string) error {
	jobs, err := d.jobs.ListAssigned(ctx, node)
	if err != nil {
		d.logger.Error("list assigned jobs failed", zap.String("node", node), zap.Error(err))
		return err
	}
	if len(jobs) == 0 {
		return nil
	}

	payloads := make([]any, 0, len(jobs))
	for _, job := range jobs {
		p, err := sonic.MarshalString(types.NewJobDescriptor(job.ID.OnDemandRun(), job.ScanOptions))
		if err != nil {
			return apperr.Validation("dispatch.Redeliver", "encode descriptor: %v", err)
		}
		payloads = append(payloads, p)
	}
	if err := d.rdb.RPush(ctx, keys.NodeTask(node), payloads...).Err(); err != nil {
		d.logger.Error("redeliver failed", zap.String("node", node), zap.Error(err))
		return apperr.Transient("dispatch.Redeliver", err)
	}
	d.logger.Info("redelivered unfinished jobs", zap.String("node", node), zap.Int("jobs", len(jobs)))
	return nil
}

// DispatchPageMonitoring replaces the page monitoring target list and
// notifies the selected nodes. An empty URL set does nothing.
func (d *Dispatcher) DispatchPageMonitoring(ctx context.Context, explicit []string, all bool) error {
	run := types.PageMonitoringID.OnDemandRun()
	log := d.logger.With(zap.String("run_id", string(run)))

	pages, err := d.pages.ListMonitoredPages(ctx)
	if err != nil {
		log.Error("load monitored pages failed", zap.Error(err))
		return err
	}
	if len(pages) == 0 {
		log.Debug("no monitored pages")
		return nil
	}
	targets := make([]any, 0, len(pages))
	for _, p := range pages {
		s, err := sonic.MarshalString(p)
		if err != nil {
			return apperr.Validation("dispatch.PageMonitoring", "encode page: %v", err)
		}
		targets = append(targets, s)
	}

	nodes, err := d.resolve(ctx, explicit, all, ReplaceOnline)
	if err != nil {
		log.Error("resolve nodes failed", zap.Error(err))
		return err
	}
	if len(nodes) == 0 {
		return apperr.NotFound("dispatch.PageMonitoring", "no nodes available for page monitoring")
	}

	payload, _ := sonic.MarshalString(types.PageMonitorDescriptor{
		ID:   string(types.PageMonitoringID),
		Type: string(types.PageMonitoringID),
	})
	pipe := d.rdb.Pipeline()
	pipe.Del(ctx, keys.Pending(run))
	pipe.LPush(ctx, keys.Pending(run), targets...)
	for _, name := range nodes {
		pipe.RPush(ctx, keys.NodeTask(name), payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Error("push page monitoring failed", zap.Error(err))
		return apperr.Transient("dispatch.PageMonitoring", err)
	}
	log.Info("page monitoring dispatched", zap.Strings("nodes", nodes), zap.Int("pages", len(pages)))
	return nil
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
