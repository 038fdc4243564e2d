// Package command pushes control commands onto per-node refresh_config queues.
//
// Delivery is push-only: the queue is FIFO, consumed by the node agent, and
// nothing is acknowledged. A command sent to a node that never comes back
// stays in its queue.
package command

import (
	"context"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Autumn-27/ScopeSentry-sub000/internal/apperr"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/keys"
	"github.com/Autumn-27/ScopeSentry-sub000/pkg/types"
)

// NodeLister lists every registered node regardless of liveness.
type NodeLister interface {
	Names(ctx context.Context) ([]string, error)
}

// Observer is notified after a command has been queued.
type Observer func(ctx context.Context, msg types.Message)

// Channel sends commands to nodes.
type Channel struct {
	rdb    redis.UniversalClient
	nodes  NodeLister
	logger *zap.Logger

	mu        sync.RWMutex
	observers map[types.CommandType][]Observer
}

// NewChannel creates a command channel.
func NewChannel(rdb redis.UniversalClient, nodes NodeLister, logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{
		rdb:       rdb,
		nodes:     nodes,
		logger:    logger,
		observers: make(map[types.CommandType][]Observer),
	}
}

// Observe registers fn for commands of type t. Observers run synchronously
// after the command has been pushed to at least one queue.
func (c *Channel) Observe(t types.CommandType, fn Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers[t] = append(c.observers[t], fn)
}

// Send queues a command for target, which is a node name or
// types.BroadcastTarget for every registered node.
func (c *Channel) Send(ctx context.Context, target string, t types.CommandType, content string) error {
	if target == "" || t == "" {
		return apperr.Validation("command.Send", "target and type are required")
	}

	msg := types.Message{Name: target, Type: t, Content: content}
	payload, err := sonic.MarshalString(msg)
	if err != nil {
		return apperr.Validation("command.Send", "encode message: %v", err)
	}

	names := []string{target}
	if target == types.BroadcastTarget {
		if names, err = c.nodes.Names(ctx); err != nil {
			c.logger.Error("send command failed", zap.String("type", string(t)), zap.Error(err))
			return err
		}
	}

	var errs error
	sent := 0
	for _, name := range names {
		if err := c.rdb.RPush(ctx, keys.RefreshConfig(name), payload).Err(); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		sent++
	}
	if errs != nil {
		c.logger.Error("send command failed",
			zap.String("target", target),
			zap.String("type", string(t)),
			zap.Int("sent", sent),
			zap.Error(errs))
		if sent == 0 {
			return apperr.Transient("command.Send", errs)
		}
		return apperr.Partial("command.Send", errs)
	}

	c.logger.Debug("command sent", zap.String("target", target), zap.String("type", string(t)), zap.Int("nodes", sent))
	c.notify(ctx, msg)
	return nil
}

func (c *Channel) notify(ctx context.Context, msg types.Message) {
	c.mu.RLock()
	obs := append([]Observer(nil), c.observers[msg.Type]...)
	c.mu.RUnlock()
	for _, fn := range obs {
		fn(ctx, msg)
	}
}
