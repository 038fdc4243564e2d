package node

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/Autumn-27/ScopeSentry-sub000/internal/apperr"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/keys"
)

// LogBuffer keeps the most recent log lines of each node in log:<name>.
// When a buffer grows past its limit it is dropped and starts over.
type LogBuffer struct {
	rdb   redis.UniversalClient
	limit int64
}

// NewLogBuffer creates a buffer capped at limit lines per node.
func NewLogBuffer(rdb redis.UniversalClient, limit int64) *LogBuffer {
	return &LogBuffer{rdb: rdb, limit: limit}
}

// Append adds one line for a node.
func (b *LogBuffer) Append(ctx context.Context, name, line string) error {
	key := keys.Log(name)
	n, err := b.rdb.RPush(ctx, key, line).Result()
	if err != nil {
		return apperr.Transient("node.AppendLog", err)
	}
	if n > b.limit {
		if err := b.rdb.Del(ctx, key).Err(); err != nil {
			return apperr.Transient("node.AppendLog", err)
		}
	}
	return nil
}

// Read returns the buffered lines of a node. Agents publish lines with
// their own terminators, so they are concatenated as is.
func (b *LogBuffer) Read(ctx context.Context, name string) (string, error) {
	lines, err := b.rdb.LRange(ctx, keys.Log(name), 0, -1).Result()
	if err != nil {
		return "", apperr.Transient("node.Logs", err)
	}
	return strings.Join(lines, ""), nil
}
