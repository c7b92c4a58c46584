package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"multibot/internal/config"
	"multibot/internal/store"
)

// Options 注入外部协作方：策略模块与交易所客户端。
// 模拟模式下客户端可以留空，引擎会退回到纸面交易客户端。
type Options struct {
	Strategies []Strategy
	Quotes     QuoteClient
	Orders     OrderClient
}

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
	opts   Options
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store, opts Options) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
		opts:   opts,
	}
}

// Run 构建引擎并驱动策略循环、心跳与监控接口，直到上下文取消。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("交易引擎已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.Int("strategies", len(a.opts.Strategies)),
		zap.Bool("simulation", a.cfg.Execution.Simulation),
	)

	eng, err := newEngine(engineConfig{
		risk:      a.cfg.Risk,
		execution: a.cfg.Execution,
	}, a.opts, a.logger, a.store)
	if err != nil {
		return err
	}

	if len(a.opts.Strategies) == 0 {
		a.logger.Warn("未注册任何策略，引擎仅提供台账与监控服务")
	}

	if a.cfg.Monitor.Enabled {
		if err := startMonitorServer(ctx, eng.Ledger(), eng.Monitor(), a.cfg.Monitor.Port, a.logger); err != nil {
			return err
		}
	}

	loopInterval := a.cfg.Scheduler.LoopInterval
	if loopInterval <= 0 {
		loopInterval = 30 * time.Second
	}
	heartbeatInterval := a.cfg.Scheduler.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = time.Minute
	}

	if err := eng.Heartbeat(ctx); err != nil {
		a.logger.Error("首次心跳失败", zap.Error(err))
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		ticker := time.NewTicker(loopInterval)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return groupCtx.Err()
			case <-ticker.C:
				if err := eng.Tick(groupCtx); err != nil {
					a.logger.Error("执行调度失败", zap.Error(err))
				}
			}
		}
	})

	group.Go(func() error {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return groupCtx.Err()
			case <-ticker.C:
				if err := eng.Heartbeat(groupCtx); err != nil {
					a.logger.Warn("心跳上报失败", zap.Error(err))
				}
			}
		}
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}

	a.logger.Info("系统收到退出信号，正在停止")
	return nil
}
