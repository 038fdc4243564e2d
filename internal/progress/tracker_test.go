package progress

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Autumn-27/ScopeSentry-sub000/internal/apperr"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/keys"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/store/memstore"
	"github.com/Autumn-27/ScopeSentry-sub000/pkg/types"
)

func newTracker(t *testing.T) (*Tracker, *miniredis.Miniredis, *memstore.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	st := memstore.New()
	return NewTracker(rdb, st, nil), mr, st
}

func complete(t *testing.T, mr *miniredis.Miniredis, run types.RunID, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := mr.Lpush(keys.Completed(run), "done")
		require.NoError(t, err)
	}
}

func TestPercent(t *testing.T) {
	tests := []struct {
		name      string
		completed int64
		taskNum   int64
		want      float64
	}{
		{"none", 0, 3, 0},
		{"one third", 1, 3, 33.3},
		{"two thirds", 2, 3, 66.7},
		{"done", 3, 3, 100},
		{"overshoot clamps", 5, 3, 100},
		{"no targets", 2, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Percent(tt.completed, tt.taskNum))
		})
	}
}

func TestProgressPersists(t *testing.T) {
	tr, mr, st := newTracker(t)
	ctx := context.Background()
	st.PutJob(&types.JobDefinition{ID: "job-1", Kind: types.JobKindTask, TaskNum: 4})

	complete(t, mr, "job-1", 1)
	p, err := tr.Progress(ctx, types.JobKindTask, "job-1", "")
	require.NoError(t, err)
	assert.Equal(t, 25.0, p)

	job, err := st.GetJob(ctx, types.JobKindTask, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 25.0, job.Progress)
	assert.Empty(t, job.EndTime)
}

func TestProgressCompleteRecordsEndTime(t *testing.T) {
	tr, mr, st := newTracker(t)
	ctx := context.Background()
	st.PutJob(&types.JobDefinition{ID: "job-1", Kind: types.JobKindProject, TaskNum: 2})

	complete(t, mr, "run-x", 2)
	require.NoError(t, mr.Set(keys.EndTime("run-x"), "2024-05-01 09:00:00"))

	p, err := tr.Progress(ctx, types.JobKindProject, "job-1", "run-x")
	require.NoError(t, err)
	assert.Equal(t, Complete, p)

	job, err := st.GetJob(ctx, types.JobKindProject, "job-1")
	require.NoError(t, err)
	assert.Equal(t, Complete, job.Progress)
	assert.Equal(t, "2024-05-01 09:00:00", job.EndTime)
}

func TestProgressUnknownJob(t *testing.T) {
	tr, _, _ := newTracker(t)
	_, err := tr.Progress(context.Background(), types.JobKindTask, "nope", "")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestDetail(t *testing.T) {
	tr, mr, _ := newTracker(t)
	mr.HSet(keys.Progress("run-1", "a.com"),
		"subdomain_start", "t1", "subdomain_end", "t2",
		"portScan_start", "t3",
		"scan_start", "t0",
	)
	before := mr.Keys()

	got, err := tr.Detail(context.Background(), "run-1", []string{"a.com", "b.com"})
	require.NoError(t, err)
	require.Len(t, got, 2)

	a := got[0]
	assert.Equal(t, "a.com", a.Target)
	assert.Len(t, a.Phases, len(types.Phases))
	assert.Equal(t, types.PhaseFinished, a.Phases[types.PhaseSubdomain].Status())
	assert.Equal(t, types.PhaseRunning, a.Phases[types.PhasePortScan].Status())
	assert.Equal(t, types.PhaseRunning, a.Phases[types.PhaseAll].Status())
	assert.Equal(t, types.PhaseNotStarted, a.Phases[types.PhaseCrawler].Status())

	for _, ph := range types.Phases {
		assert.Equal(t, types.PhaseNotStarted, got[1].Phases[ph].Status())
	}
	assert.Equal(t, before, mr.Keys())
}

func TestRefresh(t *testing.T) {
	tr, mr, st := newTracker(t)
	ctx := context.Background()
	st.PutJob(&types.JobDefinition{ID: "running", TaskNum: 2, Progress: 10})
	st.PutJob(&types.JobDefinition{ID: "untouched", TaskNum: 2, Progress: 10})
	st.PutJob(&types.JobDefinition{ID: "finishing", TaskNum: 1})
	complete(t, mr, "running", 1)
	complete(t, mr, "finishing", 1)
	require.NoError(t, mr.Set(keys.EndTime("finishing"), "2024-05-01 10:00:00"))

	require.NoError(t, tr.Refresh(ctx))

	get := func(id types.JobID) *types.JobDefinition {
		j, err := st.GetJob(ctx, types.JobKindTask, id)
		require.NoError(t, err)
		return j
	}
	assert.Equal(t, 50.0, get("running").Progress)
	assert.Equal(t, 0.0, get("untouched").Progress)
	assert.Equal(t, Complete, get("finishing").Progress)
	assert.Equal(t, "2024-05-01 10:00:00", get("finishing").EndTime)
}
