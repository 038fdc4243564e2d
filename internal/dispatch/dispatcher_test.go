package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Autumn-27/ScopeSentry-sub000/internal/apperr"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/store/memstore"
	"github.com/Autumn-27/ScopeSentry-sub000/pkg/types"
)

type fakeNodes struct {
	online []string
	active []string
	err    error
}

func (f *fakeNodes) ListOnline(ctx context.Context) ([]string, error) { return f.online, f.err }
func (f *fakeNodes) ListActive(ctx context.Context) ([]string, error) { return f.active, f.err }

type sentCommand struct {
	target  string
	typ     types.CommandType
	content string
}

type fakeCommands struct{ sent []sentCommand }

func (f *fakeCommands) Send(ctx context.Context, target string, t types.CommandType, content string) error {
	f.sent = append(f.sent, sentCommand{target, t, content})
	return nil
}

type fixture struct {
	mr    *miniredis.Miniredis
	store *memstore.Store
	nodes *fakeNodes
	cmds  *fakeCommands
	d     *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &fixture{
		mr:    mr,
		store: memstore.New(),
		nodes: &fakeNodes{},
		cmds:  &fakeCommands{},
	}
	now := func() time.Time { return time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC) }
	f.d = New(rdb, f.nodes, f.store, f.store, f.cmds, nil, WithClock(now, time.UTC))
	return f
}

func (f *fixture) list(t *testing.T, key string) []string {
	t.Helper()
	if !f.mr.Exists(key) {
		return nil
	}
	items, err := f.mr.List(key)
	require.NoError(t, err)
	return items
}

func decodeDescriptor(t *testing.T, raw string) types.JobDescriptor {
	t.Helper()
	var d types.JobDescriptor
	require.NoError(t, sonic.UnmarshalString(raw, &d))
	return d
}

func TestDispatchFanOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.d.Dispatch(ctx, Request{
		Run:     "job-1",
		Nodes:   []string{"n1"},
		Options: types.ScanOptions{SubdomainScan: true},
		Targets: []string{"a", "b", "c"},
	})
	require.NoError(t, err)

	msgs := f.list(t, "NodeTask:n1")
	require.Len(t, msgs, 1)
	desc := decodeDescriptor(t, msgs[0])
	assert.Equal(t, "job-1", desc.TaskId)
	assert.True(t, desc.SubdomainScan)
	assert.Equal(t, "scan", desc.Type)

	assert.ElementsMatch(t, []string{"a", "b", "c"}, f.list(t, "TaskInfo:job-1"))
}

func TestDispatchResetsPreviousRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := Request{Run: "job-1", Nodes: []string{"n1"}, Targets: []string{"a", "b", "c"}}

	require.NoError(t, f.d.Dispatch(ctx, req))

	// artifacts written by workers during the first run
	_, _ = f.mr.Lpush("TaskInfo:tmp:job-1", "a")
	require.NoError(t, f.mr.Set("TaskInfo:time:job-1", "2024-01-01 00:00:00"))
	f.mr.HSet("TaskInfo:progress:job-1:a", "scan_start", "x")
	f.mr.HSet("duplicates:job-1:url", "k", "v")
	_, _ = f.mr.Lpush("duplicates:url:job-1", "k")
	f.mr.HSet("TaskInfo:progress:job-2:a", "scan_start", "x")

	req.Targets = []string{"d", "e"}
	require.NoError(t, f.d.Dispatch(ctx, req))

	assert.ElementsMatch(t, []string{"d", "e"}, f.list(t, "TaskInfo:job-1"))
	for _, k := range []string{
		"TaskInfo:tmp:job-1",
		"TaskInfo:time:job-1",
		"TaskInfo:progress:job-1:a",
		"duplicates:job-1:url",
		"duplicates:url:job-1",
	} {
		assert.False(t, f.mr.Exists(k), k)
	}
	assert.True(t, f.mr.Exists("TaskInfo:progress:job-2:a"), "other runs are untouched")
	assert.Len(t, f.list(t, "NodeTask:n1"), 2)
}

func TestDispatchNoNodesHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	f.mr.HSet("TaskInfo:progress:job-1:a", "scan_start", "x")

	err := f.d.Dispatch(context.Background(), Request{Run: "job-1", AllNodes: true, Targets: []string{"a"}})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.True(t, f.mr.Exists("TaskInfo:progress:job-1:a"))
	assert.False(t, f.mr.Exists("TaskInfo:job-1"))
}

func TestDispatchValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.d.Dispatch(ctx, Request{Run: "job-1", Nodes: []string{"n1"}})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	err = f.d.Dispatch(ctx, Request{Nodes: []string{"n1"}, Targets: []string{"a"}})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	err = f.d.Dispatch(ctx, Request{
		Run:     "job-1",
		Nodes:   []string{"n1"},
		Targets: []string{"a"},
		Options: types.ScanOptions{PortScan: true},
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.False(t, f.mr.Exists("NodeTask:n1"))
}

func TestDispatchResolverFailure(t *testing.T) {
	f := newFixture(t)
	f.nodes.err = apperr.Transient("node.ListActive", errors.New("down"))

	err := f.d.Dispatch(context.Background(), Request{Run: "job-1", AllNodes: true, Targets: []string{"a"}})
	assert.True(t, apperr.Is(err, apperr.KindTransient))
}

func TestAllNodesPolicies(t *testing.T) {
	f := newFixture(t)
	f.nodes.online = []string{"n1"}
	f.nodes.active = []string{"n1", "stale"}
	ctx := context.Background()

	require.NoError(t, f.d.Dispatch(ctx, Request{
		Run: "scan", AllNodes: true, Policy: MergeActive,
		Nodes: []string{"manual"}, Targets: []string{"a"},
	}))
	for _, n := range []string{"manual", "n1", "stale"} {
		assert.Len(t, f.list(t, "NodeTask:"+n), 1, n)
	}

	require.NoError(t, f.d.Dispatch(ctx, Request{
		Run: "proj", AllNodes: true, Policy: ReplaceOnline,
		Nodes: []string{"manual"}, Targets: []string{"a"},
	}))
	assert.Len(t, f.list(t, "NodeTask:n1"), 2)
	assert.Len(t, f.list(t, "NodeTask:manual"), 1)
	assert.Len(t, f.list(t, "NodeTask:stale"), 1)
}

func TestPolicyFor(t *testing.T) {
	assert.Equal(t, MergeActive, PolicyFor(types.JobKindTask))
	assert.Equal(t, ReplaceOnline, PolicyFor(types.JobKindProject))
}

func TestDispatchJob(t *testing.T) {
	f := newFixture(t)
	f.store.PutJob(&types.JobDefinition{
		ID:     "task-1",
		Kind:   types.JobKindTask,
		Target: "http://a.com\n\nb.com\r\nhttps://a.com\nskip.me\ndev.c.com",
		Ignore: "skip.me\n*.c.com",
		Node:   []string{"n1"},
	})

	require.NoError(t, f.d.DispatchJob(context.Background(), types.JobKindTask, "task-1"))
	assert.ElementsMatch(t, []string{"a.com", "b.com"}, f.list(t, "TaskInfo:task-1"))

	err := f.d.DispatchJob(context.Background(), types.JobKindTask, "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestRetestResetsFinishedTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutJob(&types.JobDefinition{
		ID: "task-1", Target: "a.com", Node: []string{"n1"},
		Progress: 100, Status: types.JobStatusPaused, EndTime: "2026-01-01 00:00:00", CreateTime: "2026-01-01 00:00:00",
	})

	require.NoError(t, f.d.DispatchJob(ctx, types.JobKindTask, "task-1"))

	job, err := f.store.GetJob(ctx, types.JobKindTask, "task-1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, job.Progress)
	assert.Empty(t, job.EndTime)
	assert.Equal(t, types.JobStatusRunning, job.Status)
	assert.Equal(t, "2026-10-15 08:00:00", job.CreateTime)

	unfinished, err := f.store.ListUnfinished(ctx)
	require.NoError(t, err)
	require.Len(t, unfinished, 1)

	// a restarted node gets the retested task back
	f.mr.Del("NodeTask:n1")
	require.NoError(t, f.d.Redeliver(ctx, "n1"))
	msgs := f.list(t, "NodeTask:n1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "task-1", decodeDescriptor(t, msgs[0]).TaskId)
}

func TestFailedRetestKeepsTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutJob(&types.JobDefinition{ID: "task-1", Target: "a.com", AllNode: true, Progress: 100, EndTime: "t0"})

	err := f.d.DispatchJob(ctx, types.JobKindTask, "task-1")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	job, err := f.store.GetJob(ctx, types.JobKindTask, "task-1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, job.Progress)
	assert.Equal(t, "t0", job.EndTime)
}

func TestRedeliver(t *testing.T) {
	f := newFixture(t)
	f.store.PutJob(&types.JobDefinition{ID: "t1", Node: []string{"n1"}, Status: 1})
	f.store.PutJob(&types.JobDefinition{ID: "t2", AllNode: true, Status: 1})
	f.store.PutJob(&types.JobDefinition{ID: "t3", Node: []string{"n1"}, Status: 1, Progress: 100})

	require.NoError(t, f.d.Redeliver(context.Background(), "n1"))

	msgs := f.list(t, "NodeTask:n1")
	ids := []string{}
	for _, m := range msgs {
		ids = append(ids, decodeDescriptor(t, m).TaskId)
	}
	assert.ElementsMatch(t, []string{"t1", "t2"}, ids)

	require.NoError(t, f.d.Redeliver(context.Background(), "idle"))
	assert.False(t, f.mr.Exists("NodeTask:idle"))
}

func TestStop(t *testing.T) {
	f := newFixture(t)
	_, _ = f.mr.Lpush("TaskInfo:job-1", "a")
	f.mr.HSet("TaskInfo:progress:job-1:a", "scan_start", "x")

	require.NoError(t, f.d.Stop(context.Background(), "job-1"))
	assert.False(t, f.mr.Exists("TaskInfo:job-1"))
	assert.False(t, f.mr.Exists("TaskInfo:progress:job-1:a"))
	assert.Equal(t, []sentCommand{{"all", types.CommandStopTask, "job-1"}}, f.cmds.sent)
}

func TestStoppedTaskIsNotRedelivered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutJob(&types.JobDefinition{ID: "task-1", Target: "a.com", Node: []string{"n1"}, Status: types.JobStatusRunning})

	require.NoError(t, f.d.Stop(ctx, "task-1"))
	job, err := f.store.GetJob(ctx, types.JobKindTask, "task-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPaused, job.Status)

	require.NoError(t, f.d.Redeliver(ctx, "n1"))
	assert.False(t, f.mr.Exists("NodeTask:n1"))
}

func TestPauseAndResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.nodes.active = []string{"n2"}
	f.store.PutJob(&types.JobDefinition{
		ID: "task-1", Target: "a.com\nb.com", Node: []string{"n1"}, AllNode: true,
		Status: types.JobStatusRunning, Progress: 50,
	})
	_, _ = f.mr.Lpush("TaskInfo:task-1", "b.com")
	_, _ = f.mr.Lpush("TaskInfo:tmp:task-1", "a.com")

	require.NoError(t, f.d.Pause(ctx, "task-1"))
	assert.Equal(t, []sentCommand{{"all", types.CommandStopTask, "task-1"}}, f.cmds.sent)
	assert.Equal(t, []string{"b.com"}, f.list(t, "TaskInfo:task-1"), "pause keeps the pending queue")

	require.NoError(t, f.d.Resume(ctx, "task-1"))
	for _, n := range []string{"n1", "n2"} {
		msgs := f.list(t, "NodeTask:"+n)
		require.Len(t, msgs, 1, n)
		desc := decodeDescriptor(t, msgs[0])
		assert.Equal(t, "task-1", desc.TaskId)
		assert.True(t, desc.IsStart)
	}
	assert.Equal(t, []string{"b.com"}, f.list(t, "TaskInfo:task-1"))
	assert.Equal(t, []string{"a.com"}, f.list(t, "TaskInfo:tmp:task-1"))

	job, err := f.store.GetJob(ctx, types.JobKindTask, "task-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusRunning, job.Status)
}

func TestResumeRejectsFinishedTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutJob(&types.JobDefinition{ID: "done", Node: []string{"n1"}, Status: types.JobStatusPaused, Progress: 100})

	assert.True(t, apperr.Is(f.d.Resume(ctx, "done"), apperr.KindValidation))
	assert.True(t, apperr.Is(f.d.Resume(ctx, "missing"), apperr.KindNotFound))
	assert.False(t, f.mr.Exists("NodeTask:n1"))
}

func TestStopScheduledRunWithoutTask(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.d.Stop(context.Background(), "runner-abc"))
	assert.Equal(t, []sentCommand{{"all", types.CommandStopTask, "runner-abc"}}, f.cmds.sent)
}

func TestDispatchPageMonitoring(t *testing.T) {
	f := newFixture(t)
	f.nodes.online = []string{"n1", "n2"}
	ctx := context.Background()

	// nothing monitored yet
	require.NoError(t, f.d.DispatchPageMonitoring(ctx, nil, true))
	assert.False(t, f.mr.Exists("NodeTask:n1"))

	_, _ = f.mr.Lpush("TaskInfo:page_monitoring", "stale")
	f.store.SetMonitoredPages([]types.PageMonitorTarget{
		{URL: "http://a/app.js", Hash: "h1", StatusCode: 200, MD5: "m1"},
		{URL: "http://b/app.js", Hash: "h2", StatusCode: 404},
	})
	require.NoError(t, f.d.DispatchPageMonitoring(ctx, nil, true))

	pending := f.list(t, "TaskInfo:page_monitoring")
	require.Len(t, pending, 2)
	assert.NotContains(t, pending, "stale")
	var page types.PageMonitorTarget
	require.NoError(t, sonic.UnmarshalString(pending[1], &page))
	assert.Equal(t, "http://a/app.js", page.URL)

	for _, n := range []string{"n1", "n2"} {
		msgs := f.list(t, "NodeTask:"+n)
		require.Len(t, msgs, 1)
		assert.JSONEq(t, `{"ID":"page_monitoring","type":"page_monitoring"}`, msgs[0])
	}

	f.nodes.online = nil
	err := f.d.DispatchPageMonitoring(ctx, nil, true)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
