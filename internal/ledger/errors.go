package ledger

import "errors"

var (
	// ErrPositionNotFound 表示平仓目标不存在，属于上游记账缺陷，必须向上抛出。
	ErrPositionNotFound = errors.New("ledger: position not found")

	// ErrAlreadyClosed 表示持仓已被平掉，调用方应视为显式空操作，严禁重复入账利润。
	ErrAlreadyClosed = errors.New("ledger: position already closed")

	// ErrBotStatusNotFound 表示策略尚未上报过状态。
	ErrBotStatusNotFound = errors.New("ledger: bot status not found")
)
