package execution

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"multibot/internal/config"
)

// Validator 对订单成交回报做事后分类，约束滑点与超时带来的资金风险。
// 校验器本身不阻塞、不休眠，只依据回报中携带的下单时间计算耗时；
// 轮询与重试节奏由外部调度方负责。CANCELLED 为一次性终态，不得自动重试。
type Validator struct {
	maxSlippagePct   decimal.Decimal
	fillTimeout      time.Duration
	partialThreshold decimal.Decimal
	logger           *zap.Logger
	now              func() time.Time
}

// NewValidator 根据配置创建成交校验器。
func NewValidator(cfg config.ExecutionConfig, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		maxSlippagePct:   decimal.NewFromFloat(cfg.MaxSlippagePct),
		fillTimeout:      cfg.FillTimeout,
		partialThreshold: decimal.NewFromFloat(cfg.PartialFillThreshold),
		logger:           logger,
		now:              time.Now,
	}
}

// Validate 按固定顺序对一次成交回报分类：先做滑点否决，再按超时与
// 成交比例归入终态。FAILED/CANCELLED 属于不接受结果，调用方不得据此
// 创建或修改任何持仓。
func (v *Validator) Validate(fill OrderFill) Outcome {
	slippagePct := slippagePercent(fill.ExpectedPrice, fill.AverageFillPrice)

	if slippagePct.GreaterThan(v.maxSlippagePct) {
		outcome := Outcome{
			Success:          false,
			Status:           StatusFailed,
			FilledAmount:     decimal.Zero,
			AverageFillPrice: fill.AverageFillPrice,
			SlippagePct:      slippagePct,
			Message: fmt.Sprintf("滑点 %s%% 超过上限 %s%%，拒绝成交",
				slippagePct.StringFixed(4), v.maxSlippagePct.String()),
		}
		v.logger.Warn("成交校验失败：滑点超限",
			zap.String("symbol", fill.Symbol),
			zap.String("expected_price", fill.ExpectedPrice.String()),
			zap.String("actual_price", fill.AverageFillPrice.String()),
			zap.String("slippage_pct", slippagePct.String()),
		)
		return outcome
	}

	elapsed := v.now().Sub(fill.PlacedAt)
	fillPct := fillPercent(fill.FilledAmount, fill.TotalAmount)

	outcome := Outcome{
		FilledAmount:     fill.FilledAmount,
		AverageFillPrice: fill.AverageFillPrice,
		SlippagePct:      slippagePct,
		Elapsed:          elapsed,
	}

	if elapsed > v.fillTimeout {
		if fillPct.LessThan(v.partialThreshold) {
			outcome.Success = false
			outcome.Status = StatusCancelled
			outcome.Message = fmt.Sprintf("成交超时（%s），成交比例 %s 低于 %s，撤单",
				elapsed.Truncate(time.Second), fillPct.StringFixed(4), v.partialThreshold.String())
			v.logger.Warn("成交校验失败：超时撤单",
				zap.String("symbol", fill.Symbol),
				zap.Duration("elapsed", elapsed),
				zap.String("fill_pct", fillPct.String()),
			)
			return outcome
		}

		outcome.Success = true
		outcome.Status = StatusPartial
		outcome.Message = fmt.Sprintf("成交超时（%s），按已成交 %s 接受部分成交",
			elapsed.Truncate(time.Second), fill.FilledAmount.String())
		return outcome
	}

	if fillPct.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		outcome.Success = true
		outcome.Status = StatusFilled
		outcome.Message = "订单完全成交"
		return outcome
	}

	outcome.Success = true
	outcome.Status = StatusPartial
	outcome.Message = fmt.Sprintf("订单部分成交，比例 %s", fillPct.StringFixed(4))
	return outcome
}

// slippagePercent 计算相对滑点百分比；expected 为 0 时返回 0，避免除零。
func slippagePercent(expected, actual decimal.Decimal) decimal.Decimal {
	if expected.IsZero() {
		return decimal.Zero
	}
	return actual.Sub(expected).Abs().Div(expected).Mul(decimal.NewFromInt(100))
}

func fillPercent(filled, total decimal.Decimal) decimal.Decimal {
	if total.IsZero() {
		return decimal.Zero
	}
	return filled.Div(total)
}
