package node

import (
	"context"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Autumn-27/ScopeSentry-sub000/internal/keys"
	"github.com/Autumn-27/ScopeSentry-sub000/pkg/types"
)

// registerMarker is the log line an agent prints after (re)registering.
const registerMarker = "Register Success"

// RegisterHook is invoked when a node announces it has registered.
type RegisterHook func(ctx context.Context, node string) error

// LogSubscriber consumes the logs pub/sub channel, buffers each line and
// fires the register hook when a node comes (back) up.
type LogSubscriber struct {
	rdb        redis.UniversalClient
	buffer     *LogBuffer
	onRegister RegisterHook
	logger     *zap.Logger
	retry      time.Duration
}

// NewLogSubscriber creates a subscriber. onRegister may be nil.
func NewLogSubscriber(rdb redis.UniversalClient, buffer *LogBuffer, onRegister RegisterHook, logger *zap.Logger) *LogSubscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSubscriber{
		rdb:        rdb,
		buffer:     buffer,
		onRegister: onRegister,
		logger:     logger,
		retry:      time.Second,
	}
}

// Run subscribes until ctx is cancelled, resubscribing after connection loss.
func (s *LogSubscriber) Run(ctx context.Context) {
	s.logger.Info("subscribed to node logs", zap.String("channel", keys.LogChannel))
	for {
		s.consume(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.retry):
			s.logger.Warn("log subscription lost, reconnecting")
		}
	}
}

func (s *LogSubscriber) consume(ctx context.Context) {
	pubsub := s.rdb.Subscribe(ctx, keys.LogChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := s.Handle(ctx, msg.Payload); err != nil {
				s.logger.Error("handle node log failed", zap.Error(err))
			}
		}
	}
}

// Handle processes one published log message.
func (s *LogSubscriber) Handle(ctx context.Context, payload string) error {
	var entry types.NodeLog
	if err := sonic.UnmarshalString(payload, &entry); err != nil {
		return err
	}
	if entry.Name == "" {
		return nil
	}

	if strings.Contains(entry.Log, registerMarker) && s.onRegister != nil {
		if err := s.onRegister(ctx, entry.Name); err != nil {
			s.logger.Error("redeliver after register failed", zap.String("node", entry.Name), zap.Error(err))
		}
	}
	return s.buffer.Append(ctx, entry.Name, entry.Log)
}
