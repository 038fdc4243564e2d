package node

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Autumn-27/ScopeSentry-sub000/internal/apperr"
	"github.com/Autumn-27/ScopeSentry-sub000/pkg/types"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRegistry(t *testing.T) (*miniredis.Miniredis, *Registry, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := &fakeClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	reg := NewRegistry(rdb, 50*time.Second, time.UTC, WithClock(clock.Now))
	return mr, reg, clock
}

func TestLazyTimeoutScenario(t *testing.T) {
	mr, reg, clock := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Heartbeat(ctx, types.HeartbeatInfo{Name: "n1", Version: "1.5", MaxTaskNum: 7}))

	clock.Advance(5 * time.Second)
	online, err := reg.ListOnline(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"n1"}, online)

	clock.Advance(595 * time.Second)
	online, err = reg.ListOnline(ctx)
	require.NoError(t, err)
	assert.Empty(t, online)
	assert.Equal(t, "3", mr.HGet("node:n1", "state"))

	// a second read with no further elapsed time agrees
	nodes, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, types.NodeStateTimedOut, nodes[0].State)
	assert.Equal(t, 7, nodes[0].MaxTaskNum)
	assert.Equal(t, "1.5", nodes[0].Version)
	assert.Equal(t, "3", mr.HGet("node:n1", "state"))
}

func TestHeartbeatRevivesTimedOutNode(t *testing.T) {
	_, reg, clock := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Heartbeat(ctx, types.HeartbeatInfo{Name: "n1"}))
	clock.Advance(time.Hour)
	n, err := reg.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStateTimedOut, n.State)

	require.NoError(t, reg.Heartbeat(ctx, types.HeartbeatInfo{Name: "n1"}))
	n, err = reg.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStateOnline, n.State)
	assert.True(t, clock.Now().Equal(n.LastHeartbeat))
}

func TestDisabledNodeIgnoresHeartbeat(t *testing.T) {
	mr, reg, clock := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Heartbeat(ctx, types.HeartbeatInfo{Name: "n1", Version: "1"}))
	require.NoError(t, reg.SetState(ctx, "n1", false))

	clock.Advance(time.Second)
	require.NoError(t, reg.Heartbeat(ctx, types.HeartbeatInfo{Name: "n1", Version: "2"}))
	assert.Equal(t, "2", mr.HGet("node:n1", "state"))
	assert.Equal(t, "1", mr.HGet("node:n1", "version"))
}

func TestSetStateTransitions(t *testing.T) {
	mr, reg, clock := newTestRegistry(t)
	ctx := context.Background()

	err := reg.SetState(ctx, "ghost", true)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	require.NoError(t, reg.Heartbeat(ctx, types.HeartbeatInfo{Name: "n1"}))
	require.NoError(t, reg.SetState(ctx, "n1", false))
	assert.Equal(t, "2", mr.HGet("node:n1", "state"))

	require.NoError(t, reg.SetState(ctx, "n1", true))
	assert.Equal(t, "1", mr.HGet("node:n1", "state"))

	// re-enabled with a stale heartbeat: the next read times it out
	clock.Advance(time.Minute)
	online, err := reg.ListOnline(ctx)
	require.NoError(t, err)
	assert.Empty(t, online)

	// enabling a timed-out node is a no-op
	require.NoError(t, reg.SetState(ctx, "n1", true))
	assert.Equal(t, "3", mr.HGet("node:n1", "state"))
}

func TestListActiveIncludesTimedOut(t *testing.T) {
	_, reg, clock := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Heartbeat(ctx, types.HeartbeatInfo{Name: "stale"}))
	clock.Advance(time.Hour)
	require.NoError(t, reg.Heartbeat(ctx, types.HeartbeatInfo{Name: "fresh"}))
	require.NoError(t, reg.Heartbeat(ctx, types.HeartbeatInfo{Name: "off"}))
	require.NoError(t, reg.SetState(ctx, "off", false))

	active, err := reg.ListActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh", "stale"}, active)

	online, err := reg.ListOnline(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, online)

	all, err := reg.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh", "off", "stale"}, all)
}

func TestMissingHeartbeatTimeCountsAsStale(t *testing.T) {
	mr, reg, _ := newTestRegistry(t)
	mr.HSet("node:legacy", "state", "1")

	online, err := reg.ListOnline(context.Background())
	require.NoError(t, err)
	assert.Empty(t, online)
	assert.Equal(t, "3", mr.HGet("node:legacy", "state"))
}

func TestRemove(t *testing.T) {
	mr, reg, _ := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Heartbeat(ctx, types.HeartbeatInfo{Name: "n1"}))
	_, err := mr.RPush("log:n1", "line")
	require.NoError(t, err)

	require.NoError(t, reg.Remove(ctx, "n1"))
	assert.False(t, mr.Exists("node:n1"))
	assert.False(t, mr.Exists("log:n1"))

	assert.True(t, apperr.Is(reg.Remove(ctx, "n1"), apperr.KindNotFound))
}

func TestHeartbeatRequiresName(t *testing.T) {
	_, reg, _ := newTestRegistry(t)
	err := reg.Heartbeat(context.Background(), types.HeartbeatInfo{})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestStoreFailureIsTransient(t *testing.T) {
	mr, reg, _ := newTestRegistry(t)
	mr.Close()

	_, err := reg.List(context.Background())
	assert.True(t, apperr.Is(err, apperr.KindTransient))
}
