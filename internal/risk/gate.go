package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"multibot/internal/config"
)

// Gate 执行下单前的准入检查：交易时段窗口与扣费后的最小利润约束。
// 所有判断均为输入与配置的纯函数，不产生任何副作用。
type Gate struct {
	minProfitPct decimal.Decimal
	feeRate      decimal.Decimal

	// 窗口边界为当日分钟数，windowed=false 表示全天可交易。
	windowed    bool
	windowStart int
	windowEnd   int
}

// NewGate 根据配置创建风控闸门。
func NewGate(cfg config.RiskConfig) (*Gate, error) {
	g := &Gate{
		minProfitPct: decimal.NewFromFloat(cfg.MinProfitPct),
		feeRate:      decimal.NewFromFloat(cfg.FeeRate),
	}

	if cfg.TradeWindowStart == "" && cfg.TradeWindowEnd == "" {
		return g, nil
	}

	start, err := parseClock(cfg.TradeWindowStart)
	if err != nil {
		return nil, fmt.Errorf("risk: 解析 trade_window_start 失败: %w", err)
	}
	end, err := parseClock(cfg.TradeWindowEnd)
	if err != nil {
		return nil, fmt.Errorf("risk: 解析 trade_window_end 失败: %w", err)
	}

	g.windowed = true
	g.windowStart = start
	g.windowEnd = end
	return g, nil
}

// CanTrade 判断给定时刻是否落在允许交易的窗口内。
// start > end 表示窗口跨越午夜，即"晚于 start 或早于 end"。
func (g *Gate) CanTrade(now time.Time) bool {
	if !g.windowed {
		return true
	}

	minute := now.Hour()*60 + now.Minute()
	if g.windowStart <= g.windowEnd {
		return minute >= g.windowStart && minute <= g.windowEnd
	}
	return minute >= g.windowStart || minute <= g.windowEnd
}

// CheckProfitGuard 判断按当前价卖出是否在扣除双边手续费后仍满足最小利润率。
// 返回是否可盈利以及净利润百分比；任一价格非正时视为不可盈利。
func (g *Gate) CheckProfitGuard(currentPrice, buyPrice decimal.Decimal) (bool, decimal.Decimal) {
	if !currentPrice.IsPositive() || !buyPrice.IsPositive() {
		return false, decimal.Zero
	}

	one := decimal.NewFromInt(1)
	cost := buyPrice.Mul(one.Add(g.feeRate))
	net := currentPrice.Mul(one.Sub(g.feeRate))

	profitPct := net.Sub(cost).Div(cost).Mul(decimal.NewFromInt(100))
	return profitPct.GreaterThanOrEqual(g.minProfitPct), profitPct
}

func parseClock(value string) (int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
