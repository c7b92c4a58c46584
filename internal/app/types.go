package app

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"multibot/internal/execution"
	"multibot/internal/ledger"
)

// Quote 为一次外部取回的最新报价。
type Quote struct {
	Symbol      string
	Price       decimal.Decimal
	RetrievedAt time.Time
}

// Intent 为策略产出的交易意图：品种、方向、期望价与数量。
type Intent struct {
	Symbol string
	Side   execution.OrderSide
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// LedgerView 为策略可见的只读台账视图，先进先出的退出顺序依赖
// OpenPositions 的排序约定。
type LedgerView interface {
	OpenPositions(ctx context.Context, symbol string) ([]ledger.Position, error)
	TotalExposure(ctx context.Context, symbol, strategy string) (decimal.Decimal, error)
}

// Strategy 抽象外部策略模块：引擎只消费其意图，不关心信号逻辑。
type Strategy interface {
	Name() string
	Symbol() string
	Evaluate(ctx context.Context, quote Quote, view LedgerView) (*Intent, error)
}

// QuoteClient 抽象行情边界，报价由外部客户端提前取回。
type QuoteClient interface {
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// OrderClient 抽象下单边界，返回交易所的成交回报。
type OrderClient interface {
	PlaceOrder(ctx context.Context, intent Intent) (execution.OrderFill, error)
	WalletBalance(ctx context.Context) (decimal.Decimal, error)
}
