package command

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Autumn-27/ScopeSentry-sub000/internal/apperr"
	"github.com/Autumn-27/ScopeSentry-sub000/pkg/types"
)

type staticNodes struct {
	names []string
	err   error
}

func (s staticNodes) Names(ctx context.Context) ([]string, error) { return s.names, s.err }

func newTestChannel(t *testing.T, nodes NodeLister) (*miniredis.Miniredis, *Channel) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewChannel(rdb, nodes, nil)
}

func decode(t *testing.T, raw string) types.Message {
	t.Helper()
	var m types.Message
	require.NoError(t, sonic.UnmarshalString(raw, &m))
	return m
}

func TestSendSingleNode(t *testing.T) {
	mr, ch := newTestChannel(t, staticNodes{})
	ctx := context.Background()

	require.NoError(t, ch.Send(ctx, "n1", types.CommandRestart, ""))
	require.NoError(t, ch.Send(ctx, "n1", types.CommandInstallPlugin, "plugin-hash"))

	items, err := mr.List("refresh_config:n1")
	require.NoError(t, err)
	require.Len(t, items, 2)

	first := decode(t, items[0])
	assert.Equal(t, types.Message{Name: "n1", Type: types.CommandRestart}, first)
	assert.NotContains(t, items[0], "content")

	second := decode(t, items[1])
	assert.Equal(t, "plugin-hash", second.Content)
}

func TestBroadcastReachesEveryRegisteredNode(t *testing.T) {
	mr, ch := newTestChannel(t, staticNodes{names: []string{"n1", "n2", "dead"}})

	require.NoError(t, ch.Send(context.Background(), types.BroadcastTarget, types.CommandPoc, ""))

	for _, n := range []string{"n1", "n2", "dead"} {
		items, err := mr.List("refresh_config:" + n)
		require.NoError(t, err)
		require.Len(t, items, 1)
		msg := decode(t, items[0])
		assert.Equal(t, "all", msg.Name)
		assert.Equal(t, types.CommandPoc, msg.Type)
	}
}

func TestBroadcastListFailure(t *testing.T) {
	_, ch := newTestChannel(t, staticNodes{err: apperr.Transient("node.Names", errors.New("down"))})
	err := ch.Send(context.Background(), types.BroadcastTarget, types.CommandPoc, "")
	assert.True(t, apperr.Is(err, apperr.KindTransient))
}

func TestSendValidation(t *testing.T) {
	_, ch := newTestChannel(t, staticNodes{})
	assert.True(t, apperr.Is(ch.Send(context.Background(), "", types.CommandPoc, ""), apperr.KindValidation))
	assert.True(t, apperr.Is(ch.Send(context.Background(), "n1", "", ""), apperr.KindValidation))
}

func TestObserversRunAfterSend(t *testing.T) {
	_, ch := newTestChannel(t, staticNodes{names: []string{"n1"}})
	var seen []types.Message
	ch.Observe(types.CommandProject, func(ctx context.Context, msg types.Message) {
		seen = append(seen, msg)
	})
	ctx := context.Background()

	require.NoError(t, ch.Send(ctx, types.BroadcastTarget, types.CommandProject, ""))
	require.NoError(t, ch.Send(ctx, types.BroadcastTarget, types.CommandFinger, ""))

	require.Len(t, seen, 1)
	assert.Equal(t, types.CommandProject, seen[0].Type)
}

func TestSendStoreDown(t *testing.T) {
	mr, ch := newTestChannel(t, staticNodes{})
	mr.Close()
	err := ch.Send(context.Background(), "n1", types.CommandRestart, "")
	assert.True(t, apperr.Is(err, apperr.KindTransient))
}
