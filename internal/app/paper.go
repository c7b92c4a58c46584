package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"multibot/internal/execution"
)

// paperClient 在模拟模式下同时充当行情与下单边界：订单按意图价格
// 立即全额成交，并在本地维护一份钱包余额。
type paperClient struct {
	mu      sync.Mutex
	balance decimal.Decimal
	prices  map[string]decimal.Decimal
	logger  *zap.Logger
}

func newPaperClient(logger *zap.Logger) *paperClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &paperClient{
		balance: decimal.NewFromInt(10000),
		prices:  make(map[string]decimal.Decimal),
		logger:  logger,
	}
}

// LastPrice 返回该品种最近一次成交价；没有历史成交时返回错误，
// 模拟模式下的首个报价必须由策略或调用方注入。
func (c *paperClient) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	price, ok := c.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("paper: 品种 %s 暂无报价", symbol)
	}
	return price, nil
}

// SetPrice 注入模拟报价。
func (c *paperClient) SetPrice(symbol string, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[symbol] = price
}

// PlaceOrder 以意图价格立即全额成交并更新模拟余额。
func (c *paperClient) PlaceOrder(ctx context.Context, intent Intent) (execution.OrderFill, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value := intent.Price.Mul(intent.Amount)
	if intent.Side == execution.OrderSideBuy {
		if c.balance.LessThan(value) {
			return execution.OrderFill{}, fmt.Errorf("paper: 余额不足: balance=%s cost=%s", c.balance, value)
		}
		c.balance = c.balance.Sub(value)
	} else {
		c.balance = c.balance.Add(value)
	}
	c.prices[intent.Symbol] = intent.Price

	c.logger.Debug("模拟成交",
		zap.String("symbol", intent.Symbol),
		zap.String("side", string(intent.Side)),
		zap.String("price", intent.Price.String()),
		zap.String("amount", intent.Amount.String()),
	)

	return execution.OrderFill{
		Symbol:           intent.Symbol,
		Side:             intent.Side,
		ExpectedPrice:    intent.Price,
		AverageFillPrice: intent.Price,
		FilledAmount:     intent.Amount,
		TotalAmount:      intent.Amount,
		PlacedAt:         time.Now().UTC(),
	}, nil
}

// WalletBalance 返回模拟钱包余额。
func (c *paperClient) WalletBalance(ctx context.Context) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance, nil
}
