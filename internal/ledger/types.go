package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus 表示持仓状态，仅允许 OPEN 到 CLOSED 的单次迁移。
type PositionStatus string

const (
	StatusOpen   PositionStatus = "OPEN"
	StatusClosed PositionStatus = "CLOSED"
)

// Position 为一笔持仓的持久化记录。Cost 在建仓时固定为 buy_price*amount，
// 之后永不重算；平仓后记录被软关闭保留，不做物理删除。
type Position struct {
	ID            int64
	Symbol        string
	Strategy      string
	BuyPrice      decimal.Decimal
	BuyTimestamp  time.Time
	Amount        decimal.Decimal
	Cost          decimal.Decimal
	Status        PositionStatus
	SellPrice     decimal.Decimal
	SellTimestamp time.Time
	Profit        decimal.Decimal
}

// IsOpen 判断持仓是否仍然打开。
func (p Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// Trade 为一次成交的只追加记录，创建后不可修改、不可删除。
// PositionID 仅为弱引用，被引用的持仓可能已经平仓甚至不存在。
type Trade struct {
	ID         int64
	Timestamp  time.Time
	Strategy   string
	Symbol     string
	Side       string
	Price      decimal.Decimal
	Amount     decimal.Decimal
	Cost       decimal.Decimal
	Fee        decimal.Decimal
	PositionID *int64
}

// TradeEntry 为 LogTrade 的输入。
type TradeEntry struct {
	Strategy   string
	Symbol     string
	Side       string
	Price      decimal.Decimal
	Amount     decimal.Decimal
	Fee        decimal.Decimal
	PositionID *int64
}

// CloseResult 为平仓操作的结果。
type CloseResult struct {
	PositionID int64
	SellValue  decimal.Decimal
	Profit     decimal.Decimal
	ProfitPct  decimal.Decimal
}

// BotStatus 为单个策略的存活状态，每策略一行，后写覆盖。
type BotStatus struct {
	Strategy      string
	Status        string
	StartedAt     time.Time
	LastHeartbeat time.Time
	TotalTrades   int64
	TotalPnL      decimal.Decimal
	WalletBalance decimal.Decimal
}
