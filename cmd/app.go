package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Autumn-27/ScopeSentry-sub000/internal/cache"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/command"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/config"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/database/mongodb"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/database/redisdb"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/dedup"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/dispatch"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/logger"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/node"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/progress"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/store"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/store/memstore"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/store/mongostore"
	"github.com/Autumn-27/ScopeSentry-sub000/pkg/types"
)

// components 是控制面的全部组件
type components struct {
	cfg    *config.Config
	log    *zap.Logger
	loc    *time.Location
	rdb    redis.UniversalClient
	store  store.Store
	closer []func() error

	registry   *node.Registry
	logs       *node.LogBuffer
	channel    *command.Channel
	projects   *cache.ProjectIndex
	dispatcher *dispatch.Dispatcher
	tracker    *progress.Tracker
	dedup      *dedup.Engine
}

// newComponents 连接存储并组装组件。inMemory 时使用内嵌 Redis 和内存文档存储。
func newComponents(ctx context.Context, cfg *config.Config, inMemory bool) (*components, error) {
	c := &components{
		cfg: cfg,
		log: logger.Init(&cfg.Log),
		loc: cfg.System.Location(),
	}
	if err := c.connect(ctx, inMemory); err != nil {
		_ = c.Close()
		return nil, err
	}

	c.registry = node.NewRegistry(c.rdb, cfg.System.NodeTimeout, c.loc, node.WithLogger(c.log.Named("node")))
	c.logs = node.NewLogBuffer(c.rdb, cfg.System.TotalLogs)
	c.channel = command.NewChannel(c.rdb, c.registry, c.log.Named("command"))
	c.projects = cache.NewProjectIndex(c.store)
	c.channel.Observe(types.CommandProject, c.projects.OnCommand)
	c.dispatcher = dispatch.New(c.rdb, c.registry, c.store, c.store, c.channel, c.log.Named("dispatch"),
		dispatch.WithClock(time.Now, c.loc))
	c.tracker = progress.NewTracker(c.rdb, c.store, c.log)
	c.dedup = dedup.NewEngine(c.store, c.store, cfg.Dedup.Workers, c.log)
	return c, nil
}

func (c *components) connect(ctx context.Context, inMemory bool) error {
	if inMemory {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("启动内嵌 Redis 失败: %w", err)
		}
		c.closer = append(c.closer, func() error { mr.Close(); return nil })
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		c.closer = append(c.closer, rdb.Close)
		c.rdb = rdb
		c.store = memstore.New()
		c.log.Warn("running with in-memory storage, nothing is persisted")
		return nil
	}

	rdb, err := redisdb.Open(ctx, &c.cfg.Redis)
	if err != nil {
		return err
	}
	c.closer = append(c.closer, rdb.Close)
	c.rdb = rdb

	client, db, err := mongodb.Open(ctx, &c.cfg.MongoDB)
	if err != nil {
		return err
	}
	c.closer = append(c.closer, func() error { return disconnect(client) })
	c.store = mongostore.New(db)
	return nil
}

func disconnect(client *mongo.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return client.Disconnect(ctx)
}

// Close 按创建的逆序释放连接
func (c *components) Close() error {
	var errs error
	for i := len(c.closer) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, c.closer[i]())
	}
	c.closer = nil
	logger.Sync()
	return errs
}
