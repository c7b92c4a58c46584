package execution

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide 表示下单方向。
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus 表示订单校验后的状态。单个订单从 PENDING 出发，
// 恰好进入 FILLED、PARTIAL、CANCELLED、FAILED 之一。
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusFilled    OrderStatus = "FILLED"
	StatusPartial   OrderStatus = "PARTIAL"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusFailed    OrderStatus = "FAILED"
)

// OrderFill 描述交易所对一笔订单的成交回报，由外部客户端提前取回。
type OrderFill struct {
	Symbol           string
	Side             OrderSide
	ExpectedPrice    decimal.Decimal
	AverageFillPrice decimal.Decimal
	FilledAmount     decimal.Decimal
	TotalAmount      decimal.Decimal
	PlacedAt         time.Time
}

// Outcome 为单次成交校验的瞬时结果，每次调用重新生成，不做持久化。
//
// FilledAmount 为允许入账的实际成交量：接受类结果回报交易所的真实成交量，
// FAILED 一律回报 0；调用方更新台账时必须使用该值而非下单量。
type Outcome struct {
	Success          bool
	Status           OrderStatus
	FilledAmount     decimal.Decimal
	AverageFillPrice decimal.Decimal
	SlippagePct      decimal.Decimal
	Elapsed          time.Duration
	Message          string
}

// Accepted 表示结果是否允许写入台账。
func (o Outcome) Accepted() bool {
	return o.Success
}
