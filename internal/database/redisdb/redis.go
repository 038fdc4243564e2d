// Package redisdb 创建并检查 Redis 连接。
package redisdb

import (
	"context"
	"fmt"

	"github.com/duke-git/lancet/v2/slice"
	"github.com/redis/go-redis/v9"

	"github.com/Autumn-27/ScopeSentry-sub000/internal/config"
)

// Open 创建 Redis 客户端并测试连接
func Open(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return client, nil
}

// ScanKeys 使用 SCAN 遍历匹配的键，避免 KEYS 阻塞服务端
func ScanKeys(ctx context.Context, rdb redis.UniversalClient, pattern string) ([]string, error) {
	var (
		out    []string
		cursor uint64
	)
	for {
		keys, next, err := rdb.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return nil, err
		}
		out = append(out, keys...)
		if next == 0 {
			// SCAN 可能跨游标重复返回同一个键
			return slice.Unique(out), nil
		}
		cursor = next
	}
}
