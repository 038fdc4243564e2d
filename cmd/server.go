package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Autumn-27/ScopeSentry-sub000/internal/api"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/apperr"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/node"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/schedule"
	"github.com/Autumn-27/ScopeSentry-sub000/pkg/types"
)

// progressRefreshID 是进度刷新后台任务的调度 id
const progressRefreshID types.JobID = "progress_refresh"

var serverAddress string

// serverCmd 启动控制面
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动控制面服务",
	Long: `启动控制面：HTTP 控制接口、周期调度、进度刷新、定时去重以及节点日志订阅。

节点通过 Redis 上报心跳与日志，任务与指令通过 Redis 队列下发。`,
	Example: `  # 使用默认配置启动
  scopesentry server

  # 指定配置文件与监听地址
  scopesentry server --config config.yaml --address :8082

  # 内存模式（无需 Redis/MongoDB）
  scopesentry server --memory`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().StringVar(&serverAddress, "address", "", "HTTP 服务地址")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("address") {
		cfg.Server.Address = serverAddress
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := newComponents(ctx, cfg, memory)
	if err != nil {
		return err
	}
	defer c.Close()

	timer, err := schedule.NewGocronTimer(c.loc)
	if err != nil {
		return err
	}
	defer func() {
		if err := timer.Shutdown(); err != nil {
			c.log.Warn("scheduler shutdown failed", zap.Error(err))
		}
	}()

	adapter := schedule.NewAdapter(ctx, timer, c.store, c.store, c.dispatcher, c.rdb, c.loc,
		schedule.WithLogger(c.log.Named("schedule")))
	if err := adapter.Start(ctx); err != nil {
		return fmt.Errorf("加载计划任务失败: %w", err)
	}
	if err := adapter.Every(progressRefreshID, cfg.Scheduler.ProgressInterval, c.tracker.Refresh); err != nil {
		return fmt.Errorf("注册进度刷新失败: %w", err)
	}
	if err := scheduleDedup(ctx, c, adapter); err != nil {
		return err
	}

	subscriber := node.NewLogSubscriber(c.rdb, c.logs, c.dispatcher.Redeliver, c.log.Named("node"))
	server := api.NewServer(&cfg.Server, api.Deps{
		Nodes:     c.registry,
		Logs:      c.logs,
		Commands:  c.channel,
		Jobs:      c.store,
		Dispatch:  c.dispatcher,
		Progress:  c.tracker,
		Scheduler: adapter,
		Dedup:     c.dedup,
		Projects:  c.projects,
	}, c.loc, c.log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		subscriber.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return server.Run(gctx)
	})

	c.log.Info("control plane started",
		zap.String("version", Version),
		zap.String("address", cfg.Server.Address),
		zap.Bool("memory", memory),
	)
	err = g.Wait()
	c.log.Info("control plane stopped")
	return err
}

// scheduleDedup 按去重配置注册周期去重任务
func scheduleDedup(ctx context.Context, c *components, adapter *schedule.Adapter) error {
	settings, err := c.store.GetDedupSettings(ctx)
	if apperr.Is(err, apperr.KindNotFound) {
		c.log.Info("no deduplication config, periodic dedup disabled")
		return nil
	}
	if err != nil {
		return fmt.Errorf("加载去重配置失败: %w", err)
	}
	if !settings.Enabled || settings.Hour <= 0 {
		return nil
	}
	return adapter.Every(types.DeduplicationID, time.Duration(settings.Hour)*time.Hour, func(ctx context.Context) error {
		_, err := c.dedup.RunConfigured(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}
