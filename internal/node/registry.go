package node

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Autumn-27/ScopeSentry-sub000/internal/apperr"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/database/redisdb"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/keys"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/timeutil"
	"github.com/Autumn-27/ScopeSentry-sub000/pkg/types"
)

// 节点哈希字段
const (
	fieldState      = "state"
	fieldUpdateTime = "updateTime"
	fieldVersion    = "version"
	fieldMaxTaskNum = "maxTaskNum"
	fieldRunning    = "running"
	fieldFinished   = "finished"
	fieldCPUNum     = "cpuNum"
	fieldMemNum     = "memNum"
)

// Registry reads and writes node:<name> hashes.
type Registry struct {
	rdb     redis.UniversalClient
	timeout time.Duration
	loc     *time.Location
	now     func() time.Time
	logger  *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates a registry. timeout is the heartbeat staleness
// threshold, loc the timezone heartbeat timestamps are written in.
func NewRegistry(rdb redis.UniversalClient, timeout time.Duration, loc *time.Location, opts ...Option) *Registry {
	r := &Registry{
		rdb:     rdb,
		timeout: timeout,
		loc:     loc,
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// List returns every registered node, sorted by name. Online nodes whose
// heartbeat is older than the timeout are persisted as timed out first.
func (r *Registry) List(ctx context.Context) ([]types.Node, error) {
	nodes, err := r.list(ctx)
	if err != nil {
		r.logger.Error("list nodes failed", zap.Error(err))
		return nil, apperr.Transient("node.List", err)
	}
	return nodes, nil
}

func (r *Registry) list(ctx context.Context) ([]types.Node, error) {
	nodeKeys, err := redisdb.ScanKeys(ctx, r.rdb, keys.NodePattern)
	if err != nil {
		return nil, err
	}
	if len(nodeKeys) == 0 {
		return []types.Node{}, nil
	}

	pipe := r.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(nodeKeys))
	for i, k := range nodeKeys {
		cmds[i] = pipe.HGetAll(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	now := r.now()
	nodes := make([]types.Node, 0, len(nodeKeys))
	for i, k := range nodeKeys {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			// 扫描与读取之间被删除
			continue
		}
		n := r.parse(keys.NodeName(k), fields)
		if n.State == types.NodeStateOnline && r.stale(n, fields, now) {
			if err := r.rdb.HSet(ctx, k, fieldState, types.NodeStateTimedOut.Code()).Err(); err != nil {
				return nil, err
			}
			r.logger.Info("node timed out",
				zap.String("node", n.Name),
				zap.Time("last_heartbeat", n.LastHeartbeat))
			n.State = types.NodeStateTimedOut
		}
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	return nodes, nil
}

// stale reports whether an online node's heartbeat is older than the
// timeout. A missing or unreadable timestamp counts as stale.
func (r *Registry) stale(n types.Node, fields map[string]string, now time.Time) bool {
	if _, ok := fields[fieldUpdateTime]; !ok || n.LastHeartbeat.IsZero() {
		return true
	}
	return now.Sub(n.LastHeartbeat) > r.timeout
}

func (r *Registry) parse(name string, fields map[string]string) types.Node {
	n := types.Node{
		Name:    name,
		State:   types.ParseNodeState(fields[fieldState]),
		Version: fields[fieldVersion],
		CPUNum:  fields[fieldCPUNum],
		MemNum:  fields[fieldMemNum],
	}
	n.MaxTaskNum, _ = strconv.Atoi(fields[fieldMaxTaskNum])
	n.Running, _ = strconv.ParseInt(fields[fieldRunning], 10, 64)
	n.Finished, _ = strconv.ParseInt(fields[fieldFinished], 10, 64)
	if ts, ok := fields[fieldUpdateTime]; ok {
		t, err := timeutil.Parse(ts, r.loc)
		if err != nil {
			r.logger.Warn("invalid node heartbeat time", zap.String("node", name), zap.String("value", ts))
		} else {
			n.LastHeartbeat = t
		}
	}
	return n
}

func (r *Registry) names(ctx context.Context, op string, keep func(types.NodeState) bool) ([]string, error) {
	nodes, err := r.list(ctx)
	if err != nil {
		r.logger.Error("list nodes failed", zap.String("op", op), zap.Error(err))
		return nil, apperr.Transient(op, err)
	}
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if keep(n.State) {
			out = append(out, n.Name)
		}
	}
	return out, nil
}

// ListOnline returns the names of online nodes after lazy correction.
func (r *Registry) ListOnline(ctx context.Context) ([]string, error) {
	return r.names(ctx, "node.ListOnline", func(s types.NodeState) bool {
		return s == types.NodeStateOnline
	})
}

// ListActive returns the names of every node that is not disabled.
// Timed-out nodes are included, so "all nodes" jobs are also queued for
// nodes that may be dead; their queues drain when they come back.
func (r *Registry) ListActive(ctx context.Context) ([]string, error) {
	return r.names(ctx, "node.ListActive", func(s types.NodeState) bool {
		return s != types.NodeStateDisabled
	})
}

// Names returns every registered node name regardless of state.
func (r *Registry) Names(ctx context.Context) ([]string, error) {
	nodeKeys, err := redisdb.ScanKeys(ctx, r.rdb, keys.NodePattern)
	if err != nil {
		return nil, apperr.Transient("node.Names", err)
	}
	out := make([]string, 0, len(nodeKeys))
	for _, k := range nodeKeys {
		out = append(out, keys.NodeName(k))
	}
	sort.Strings(out)
	return out, nil
}

// Get returns a single node, applying the same lazy correction as List.
func (r *Registry) Get(ctx context.Context, name string) (*types.Node, error) {
	fields, err := r.rdb.HGetAll(ctx, keys.Node(name)).Result()
	if err != nil {
		return nil, apperr.Transient("node.Get", err)
	}
	if len(fields) == 0 {
		return nil, apperr.NotFound("node.Get", "node not found: %s", name)
	}
	n := r.parse(name, fields)
	if n.State == types.NodeStateOnline && r.stale(n, fields, r.now()) {
		if err := r.rdb.HSet(ctx, keys.Node(name), fieldState, types.NodeStateTimedOut.Code()).Err(); err != nil {
			return nil, apperr.Transient("node.Get", err)
		}
		n.State = types.NodeStateTimedOut
	}
	return &n, nil
}

// Heartbeat records a node heartbeat, creating the node on first contact.
// A disabled node keeps its state and the heartbeat is dropped.
func (r *Registry) Heartbeat(ctx context.Context, hb types.HeartbeatInfo) error {
	if hb.Name == "" {
		return apperr.Validation("node.Heartbeat", "node name is required")
	}
	key := keys.Node(hb.Name)
	state, err := r.rdb.HGet(ctx, key, fieldState).Result()
	if err != nil && err != redis.Nil {
		r.logger.Error("heartbeat failed", zap.String("node", hb.Name), zap.Error(err))
		return apperr.Transient("node.Heartbeat", err)
	}
	if types.ParseNodeState(state) == types.NodeStateDisabled {
		r.logger.Debug("heartbeat ignored for disabled node", zap.String("node", hb.Name))
		return nil
	}

	err = r.rdb.HSet(ctx, key,
		fieldState, types.NodeStateOnline.Code(),
		fieldUpdateTime, timeutil.Format(r.now(), r.loc),
		fieldVersion, hb.Version,
		fieldMaxTaskNum, hb.MaxTaskNum,
		fieldRunning, hb.Running,
		fieldFinished, hb.Finished,
		fieldCPUNum, hb.CPUNum,
		fieldMemNum, hb.MemNum,
	).Err()
	if err != nil {
		r.logger.Error("heartbeat failed", zap.String("node", hb.Name), zap.Error(err))
		return apperr.Transient("node.Heartbeat", err)
	}
	return nil
}

// SetState enables or disables a node. Disabling works from any state.
// Enabling only moves a disabled node back to online; the next read times
// it out again if it has not heartbeated recently. Enabling a node that is
// already online or timed out changes nothing.
func (r *Registry) SetState(ctx context.Context, name string, enabled bool) error {
	key := keys.Node(name)
	state, err := r.rdb.HGet(ctx, key, fieldState).Result()
	if err == redis.Nil {
		return apperr.NotFound("node.SetState", "node not found: %s", name)
	}
	if err != nil {
		r.logger.Error("set node state failed", zap.String("node", name), zap.Error(err))
		return apperr.Transient("node.SetState", err)
	}

	var next types.NodeState
	switch {
	case !enabled:
		next = types.NodeStateDisabled
	case types.ParseNodeState(state) == types.NodeStateDisabled:
		next = types.NodeStateOnline
	default:
		return nil
	}
	if err := r.rdb.HSet(ctx, key, fieldState, next.Code()).Err(); err != nil {
		r.logger.Error("set node state failed", zap.String("node", name), zap.Error(err))
		return apperr.Transient("node.SetState", err)
	}
	r.logger.Info("node state changed", zap.String("node", name), zap.String("state", string(next)))
	return nil
}

// Remove deletes a node and its log buffer.
func (r *Registry) Remove(ctx context.Context, name string) error {
	pipe := r.rdb.TxPipeline()
	nodeDel := pipe.Del(ctx, keys.Node(name))
	pipe.Del(ctx, keys.Log(name))
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("remove node failed", zap.String("node", name), zap.Error(err))
		return apperr.Transient("node.Remove", err)
	}
	if nodeDel.Val() == 0 {
		return apperr.NotFound("node.Remove", "node not found: %s", name)
	}
	r.logger.Info("node removed", zap.String("node", name))
	return nil
}
