package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"multibot/internal/config"
	"multibot/internal/execution"
	"multibot/internal/ledger"
	"multibot/internal/monitor"
	"multibot/internal/risk"
	"multibot/internal/store"
)

// engine 串联风控闸门、成交校验与持仓台账：策略提出意图，闸门放行，
// 订单经外部客户端成交，校验器分类回报，只有被接受的结果才会写入台账。
type engine struct {
	gate       *risk.Gate
	validator  *execution.Validator
	repo       *ledger.Repository
	monitor    *monitor.Service
	quotes     QuoteClient
	orders     OrderClient
	strategies []Strategy
	feeRate    decimal.Decimal
	logger     *zap.Logger
	startedAt  time.Time
}

type engineConfig struct {
	risk      config.RiskConfig
	execution config.ExecutionConfig
}

func newEngine(cfg engineConfig, opts Options, logger *zap.Logger, store *store.Store) (*engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	gate, err := risk.NewGate(cfg.risk)
	if err != nil {
		return nil, fmt.Errorf("初始化风控闸门失败: %w", err)
	}

	repo, err := ledger.NewRepository(store, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化持仓台账失败: %w", err)
	}

	monitorSvc, err := monitor.NewService(store, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化监控服务失败: %w", err)
	}

	quotes := opts.Quotes
	orders := opts.Orders
	if cfg.execution.Simulation {
		logger.Info("引擎处于模拟模式，使用纸面交易客户端")
		paper := newPaperClient(logger)
		if quotes == nil {
			quotes = paper
		}
		if orders == nil {
			orders = paper
		}
	}
	if quotes == nil || orders == nil {
		return nil, errors.New("非模拟模式必须注入行情与下单客户端")
	}

	return &engine{
		gate:       gate,
		validator:  execution.NewValidator(cfg.execution, logger),
		repo:       repo,
		monitor:    monitorSvc,
		quotes:     quotes,
		orders:     orders,
		strategies: opts.Strategies,
		feeRate:    decimal.NewFromFloat(cfg.risk.FeeRate),
		logger:     logger,
		startedAt:  time.Now().UTC(),
	}, nil
}

// Ledger 暴露台账仓库，供监控接口复用。
func (e *engine) Ledger() *ledger.Repository {
	return e.repo
}

// Monitor 暴露监控服务。
func (e *engine) Monitor() *monitor.Service {
	return e.monitor
}

// Tick 对每个策略执行一轮评估与入账。单个策略的失败不影响其余策略，
// 但台账写入失败会中断本轮并向上抛出，避免带着不一致状态继续。
func (e *engine) Tick(ctx context.Context) error {
	now := time.Now().UTC()

	for _, strat := range e.strategies {
		if err := e.runStrategy(ctx, strat, now); err != nil {
			return err
		}
	}

	return nil
}

func (e *engine) runStrategy(ctx context.Context, strat Strategy, now time.Time) error {
	name := strat.Name()

	if !e.gate.CanTrade(now) {
		e.monitor.RecordRiskBlock(ctx, name, "", "当前时刻不在允许的交易时段内")
		return nil
	}

	quote, err := e.quoteFor(ctx, strat)
	if err != nil {
		e.monitor.RecordError(ctx, "获取报价失败", err, map[string]interface{}{"strategy": name})
		e.logger.Warn("获取报价失败", zap.String("strategy", name), zap.Error(err))
		return nil
	}

	intent, err := strat.Evaluate(ctx, quote, e.repo)
	if err != nil {
		e.monitor.RecordError(ctx, "策略评估失败", err, map[string]interface{}{"strategy": name})
		e.logger.Warn("策略评估失败", zap.String("strategy", name), zap.Error(err))
		return nil
	}
	if intent == nil {
		return nil
	}

	var target *ledger.Position
	if intent.Side == execution.OrderSideSell {
		pos, blocked, err := e.admitSell(ctx, name, *intent)
		if err != nil {
			return err
		}
		if blocked {
			return nil
		}
		target = pos
	}

	fill, err := e.orders.PlaceOrder(ctx, *intent)
	if err != nil {
		e.monitor.RecordError(ctx, "下单失败", err, map[string]interface{}{"strategy": name, "symbol": intent.Symbol})
		e.logger.Warn("下单失败", zap.String("strategy", name), zap.Error(err))
		return nil
	}
	fill.ExpectedPrice = intent.Price

	outcome := e.validator.Validate(fill)
	e.monitor.RecordFillValidation(ctx, name, fill, outcome)

	if !outcome.Accepted() {
		e.logger.Warn("成交未被接受，不写入台账",
			zap.String("strategy", name),
			zap.String("symbol", intent.Symbol),
			zap.String("status", string(outcome.Status)),
			zap.String("reason", outcome.Message),
		)
		return nil
	}

	// 入账一律使用校验器回报的实际成交量，而非下单量。
	return e.settle(ctx, name, *intent, outcome, target)
}

// admitSell 为卖出意图定位先进先出的平仓目标并执行利润闸门。
func (e *engine) admitSell(ctx context.Context, strategy string, intent Intent) (*ledger.Position, bool, error) {
	open, err := e.repo.OpenPositions(ctx, intent.Symbol)
	if err != nil {
		return nil, false, err
	}

	var target *ledger.Position
	for i := range open {
		if open[i].Strategy == strategy {
			target = &open[i]
			break
		}
	}
	if target == nil {
		e.monitor.RecordRiskBlock(ctx, strategy, intent.Symbol, "没有可平的持仓")
		return nil, true, nil
	}

	ok, profitPct := e.gate.CheckProfitGuard(intent.Price, target.BuyPrice)
	if !ok {
		reason := fmt.Sprintf("扣费后利润 %s%% 低于最小阈值", profitPct.StringFixed(4))
		e.monitor.RecordRiskBlock(ctx, strategy, intent.Symbol, reason)
		e.logger.Debug("利润闸门拦截卖出",
			zap.String("strategy", strategy),
			zap.String("symbol", intent.Symbol),
			zap.String("profit_pct", profitPct.StringFixed(4)),
		)
		return nil, true, nil
	}

	return target, false, nil
}

// settle 将已接受的成交写入台账：买入建仓、卖出平掉最旧持仓，并追加成交记录。
func (e *engine) settle(ctx context.Context, strategy string, intent Intent, outcome execution.Outcome, target *ledger.Position) error {
	fee := outcome.AverageFillPrice.Mul(outcome.FilledAmount).Mul(e.feeRate)

	var positionID *int64

	switch intent.Side {
	case execution.OrderSideBuy:
		id, err := e.repo.OpenPosition(ctx, intent.Symbol, strategy, outcome.AverageFillPrice, outcome.FilledAmount)
		if err != nil {
			e.monitor.RecordError(ctx, "建仓失败", err, map[string]interface{}{"strategy": strategy, "symbol": intent.Symbol})
			return err
		}
		positionID = &id
		e.monitor.RecordPositionOpen(ctx, id, strategy, intent.Symbol, outcome.AverageFillPrice.Mul(outcome.FilledAmount).String())

	case execution.OrderSideSell:
		result, err := e.repo.ClosePosition(ctx, target.ID, outcome.AverageFillPrice)
		switch {
		case err == nil:
			positionID = &target.ID
			e.monitor.RecordPositionClose(ctx, strategy, intent.Symbol, result)
		case errors.Is(err, ledger.ErrAlreadyClosed):
			// 并发平仓竞争的失败方：显式空操作，利润不重复入账，成交仍需留痕。
			positionID = &target.ID
			e.logger.Warn("持仓已被并发平掉", zap.Int64("position_id", target.ID), zap.String("strategy", strategy))
		default:
			e.monitor.RecordError(ctx, "平仓失败", err, map[string]interface{}{"strategy": strategy, "position_id": target.ID})
			return err
		}
	}

	if _, err := e.repo.LogTrade(ctx, ledger.TradeEntry{
		Strategy:   strategy,
		Symbol:     intent.Symbol,
		Side:       string(intent.Side),
		Price:      outcome.AverageFillPrice,
		Amount:     outcome.FilledAmount,
		Fee:        fee,
		PositionID: positionID,
	}); err != nil {
		e.monitor.RecordError(ctx, "记录成交失败", err, map[string]interface{}{"strategy": strategy, "symbol": intent.Symbol})
		return err
	}

	return nil
}

// Heartbeat 为每个策略上报一次存活状态。
func (e *engine) Heartbeat(ctx context.Context) error {
	now := time.Now().UTC()

	balance, err := e.orders.WalletBalance(ctx)
	if err != nil {
		e.logger.Warn("获取钱包余额失败", zap.Error(err))
		balance = decimal.Zero
	}

	for _, strat := range e.strategies {
		name := strat.Name()

		pnl, err := e.repo.PnLSummary(ctx, name)
		if err != nil {
			return err
		}
		trades, err := e.repo.TradeCount(ctx, name)
		if err != nil {
			return err
		}

		if err := e.repo.UpsertBotStatus(ctx, ledger.BotStatus{
			Strategy:      name,
			Status:        "RUNNING",
			StartedAt:     e.startedAt,
			LastHeartbeat: now,
			TotalTrades:   trades,
			TotalPnL:      pnl,
			WalletBalance: balance,
		}); err != nil {
			return err
		}
	}

	return nil
}

func (e *engine) quoteFor(ctx context.Context, strat Strategy) (Quote, error) {
	symbol := strat.Symbol()

	price, err := e.quotes.LastPrice(ctx, symbol)
	if err != nil {
		return Quote{}, err
	}

	return Quote{
		Symbol:      symbol,
		Price:       price,
		RetrievedAt: time.Now().UTC(),
	}, nil
}
