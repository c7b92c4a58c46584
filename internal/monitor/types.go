package monitor

import (
	"time"

	"multibot/internal/execution"
	"multibot/internal/ledger"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventRiskBlock      EventType = "risk_block"
	EventFillValidation EventType = "fill_validation"
	EventPositionOpen   EventType = "position_open"
	EventPositionClose  EventType = "position_close"
	EventError          EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// RiskBlockPayload 记录一次被风控拦截的交易意图。
type RiskBlockPayload struct {
	Strategy string `json:"strategy"`
	Symbol   string `json:"symbol"`
	Reason   string `json:"reason"`
}

// FillValidationPayload 记录一次成交校验的输入与结果。
type FillValidationPayload struct {
	Strategy string              `json:"strategy"`
	Fill     execution.OrderFill `json:"fill"`
	Outcome  execution.Outcome   `json:"outcome"`
}

// PositionOpenPayload 记录一次建仓。
type PositionOpenPayload struct {
	PositionID int64  `json:"position_id"`
	Strategy   string `json:"strategy"`
	Symbol     string `json:"symbol"`
	Cost       string `json:"cost"`
}

// PositionClosePayload 记录一次平仓。
type PositionClosePayload struct {
	Result   ledger.CloseResult `json:"result"`
	Strategy string             `json:"strategy"`
	Symbol   string             `json:"symbol"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
