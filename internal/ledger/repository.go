package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"multibot/internal/store"
)

// Repository 为持仓与成交历史的唯一持久化入口。所有金额以十进制字符串
// 存储并在 Go 侧用定点数运算，保证任意多笔交易后成本与利润可精确还原；
// 所有查询一律使用参数绑定，过滤条件不拼接进 SQL 文本。
type Repository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRepository 创建台账仓库并初始化表结构。
func NewRepository(store *store.Store, logger *zap.Logger) (*Repository, error) {
	if store == nil {
		return nil, errors.New("ledger: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Repository{
		db:     store.DB(),
		logger: logger,
	}

	if err := r.initSchema(); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Repository) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			strategy TEXT NOT NULL,
			buy_price TEXT NOT NULL,
			buy_timestamp TEXT NOT NULL,
			amount TEXT NOT NULL,
			cost TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'OPEN',
			sell_price TEXT,
			sell_timestamp TEXT,
			profit TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_status_symbol ON positions(status, symbol);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_entry ON positions(buy_timestamp);`,
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			strategy TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			price TEXT NOT NULL,
			amount TEXT NOT NULL,
			cost TEXT NOT NULL,
			fee TEXT NOT NULL,
			position_id INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_strategy ON trades(strategy);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);`,
		`CREATE TABLE IF NOT EXISTS bot_status (
			strategy TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			last_heartbeat TEXT NOT NULL,
			total_trades INTEGER NOT NULL DEFAULT 0,
			total_pnl TEXT NOT NULL DEFAULT '0',
			wallet_balance TEXT NOT NULL DEFAULT '0'
		);`,
	}

	for _, stmt := range schema {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("ledger: 初始化表结构失败: %w", err)
		}
	}

	return nil
}

// OpenPosition 创建一笔 OPEN 持仓并返回其编号，cost 固定为 price*amount。
func (r *Repository) OpenPosition(ctx context.Context, symbol, strategy string, price, amount decimal.Decimal) (int64, error) {
	if symbol == "" || strategy == "" {
		return 0, errors.New("ledger: symbol 与 strategy 不能为空")
	}
	if !price.IsPositive() || !amount.IsPositive() {
		return 0, fmt.Errorf("ledger: 建仓价格与数量必须为正: price=%s amount=%s", price, amount)
	}

	cost := price.Mul(amount)
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("ledger: 开启事务失败: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO positions (symbol, strategy, buy_price, buy_timestamp, amount, cost, status)
		 VALUES (?, ?, ?, ?, ?, ?, 'OPEN')`,
		symbol, strategy, price.String(), now, amount.String(), cost.String(),
	)
	if err != nil {
		err = fmt.Errorf("ledger: 写入持仓失败: %w", err)
		return 0, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		err = fmt.Errorf("ledger: 获取持仓编号失败: %w", err)
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("ledger: 提交事务失败: %w", err)
	}

	r.logger.Info("建仓完成",
		zap.Int64("position_id", id),
		zap.String("symbol", symbol),
		zap.String("strategy", strategy),
		zap.String("cost", cost.String()),
	)

	return id, nil
}

// ClosePosition 对指定持仓平仓并返回已实现利润。状态迁移通过
// `UPDATE ... WHERE status='OPEN'` 的比较替换完成：目标行不存在返回
// ErrPositionNotFound，已被并发平仓返回 ErrAlreadyClosed，利润不会重复入账。
func (r *Repository) ClosePosition(ctx context.Context, positionID int64, sellPrice decimal.Decimal) (CloseResult, error) {
	var result CloseResult

	if !sellPrice.IsPositive() {
		return result, fmt.Errorf("ledger: 平仓价格必须为正: %s", sellPrice)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("ledger: 开启事务失败: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var (
		amountStr string
		costStr   string
		status    string
	)
	row := tx.QueryRowContext(ctx, `SELECT amount, cost, status FROM positions WHERE id = ?`, positionID)
	switch scanErr := row.Scan(&amountStr, &costStr, &status); {
	case scanErr == nil:
	case errors.Is(scanErr, sql.ErrNoRows):
		err = fmt.Errorf("%w: id=%d", ErrPositionNotFound, positionID)
		return result, err
	default:
		err = fmt.Errorf("ledger: 查询持仓失败: %w", scanErr)
		return result, err
	}

	if PositionStatus(status) != StatusOpen {
		err = fmt.Errorf("%w: id=%d", ErrAlreadyClosed, positionID)
		return result, err
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		err = fmt.Errorf("ledger: 解析持仓数量失败: %w", err)
		return result, err
	}
	cost, err := decimal.NewFromString(costStr)
	if err != nil {
		err = fmt.Errorf("ledger: 解析持仓成本失败: %w", err)
		return result, err
	}

	sellValue := sellPrice.Mul(amount)
	profit := sellValue.Sub(cost)
	profitPct := decimal.Zero
	if !cost.IsZero() {
		profitPct = profit.Div(cost).Mul(decimal.NewFromInt(100))
	}

	now := time.Now().UTC().Format(time.RFC3339)
	res, execErr := tx.ExecContext(ctx,
		`UPDATE positions SET status = 'CLOSED', sell_price = ?, sell_timestamp = ?, profit = ?
		 WHERE id = ? AND status = 'OPEN'`,
		sellPrice.String(), now, profit.String(), positionID,
	)
	if execErr != nil {
		err = fmt.Errorf("ledger: 更新持仓状态失败: %w", execErr)
		return result, err
	}

	affected, affErr := res.RowsAffected()
	if affErr != nil {
		err = fmt.Errorf("ledger: 读取影响行数失败: %w", affErr)
		return result, err
	}
	if affected == 0 {
		err = fmt.Errorf("%w: id=%d", ErrAlreadyClosed, positionID)
		return result, err
	}

	if err = tx.Commit(); err != nil {
		return result, fmt.Errorf("ledger: 提交事务失败: %w", err)
	}

	result = CloseResult{
		PositionID: positionID,
		SellValue:  sellValue,
		Profit:     profit,
		ProfitPct:  profitPct,
	}

	r.logger.Info("平仓完成",
		zap.Int64("position_id", positionID),
		zap.String("profit", profit.String()),
		zap.String("profit_pct", profitPct.StringFixed(4)),
	)

	return result, nil
}

// LogTrade 无条件追加一条成交记录并返回其编号。
func (r *Repository) LogTrade(ctx context.Context, entry TradeEntry) (int64, error) {
	if entry.Strategy == "" || entry.Symbol == "" || entry.Side == "" {
		return 0, errors.New("ledger: strategy、symbol、side 不能为空")
	}

	cost := entry.Price.Mul(entry.Amount)
	now := time.Now().UTC().Format(time.RFC3339)

	var positionID sql.NullInt64
	if entry.PositionID != nil {
		positionID = sql.NullInt64{Int64: *entry.PositionID, Valid: true}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("ledger: 开启事务失败: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO trades (timestamp, strategy, symbol, side, price, amount, cost, fee, position_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		now, entry.Strategy, entry.Symbol, entry.Side,
		entry.Price.String(), entry.Amount.String(), cost.String(), entry.Fee.String(),
		positionID,
	)
	if err != nil {
		err = fmt.Errorf("ledger: 写入成交记录失败: %w", err)
		return 0, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		err = fmt.Errorf("ledger: 获取成交编号失败: %w", err)
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("ledger: 提交事务失败: %w", err)
	}

	return id, nil
}

// TradeCount 返回匹配的成交记录条数；strategy 为空表示不过滤。
func (r *Repository) TradeCount(ctx context.Context, strategy string) (int64, error) {
	query := `SELECT COUNT(*) FROM trades`
	args := make([]interface{}, 0, 1)
	if strategy != "" {
		query += ` WHERE strategy = ?`
		args = append(args, strategy)
	}

	var count int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ledger: 统计成交记录失败: %w", err)
	}
	return count, nil
}

// OpenPositions 返回当前打开的持仓，按建仓时间先进先出排序；
// symbol 为空时返回全部品种。策略依赖该顺序实现"先平最旧"的退出。
func (r *Repository) OpenPositions(ctx context.Context, symbol string) ([]Position, error) {
	query := `SELECT id, symbol, strategy, buy_price, buy_timestamp, amount, cost, status, sell_price, sell_timestamp, profit
		FROM positions WHERE status = 'OPEN'`
	args := make([]interface{}, 0, 1)
	if symbol != "" {
		query += ` AND symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY buy_timestamp ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: 查询持仓失败: %w", err)
	}
	defer rows.Close()

	positions := make([]Position, 0, 16)
	for rows.Next() {
		pos, scanErr := scanPosition(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: 读取持仓失败: %w", err)
	}

	return positions, nil
}

// TotalExposure 汇总匹配的 OPEN 持仓成本；symbol/strategy 为空表示不过滤。
// 求和在 Go 侧用定点数完成，避免 SQL 浮点聚合引入误差。
func (r *Repository) TotalExposure(ctx context.Context, symbol, strategy string) (decimal.Decimal, error) {
	query := `SELECT cost FROM positions WHERE status = 'OPEN'`
	args := make([]interface{}, 0, 2)
	if symbol != "" {
		query += ` AND symbol = ?`
		args = append(args, symbol)
	}
	if strategy != "" {
		query += ` AND strategy = ?`
		args = append(args, strategy)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: 查询持仓成本失败: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var costStr string
		if scanErr := rows.Scan(&costStr); scanErr != nil {
			return decimal.Zero, fmt.Errorf("ledger: 解析持仓成本失败: %w", scanErr)
		}
		cost, parseErr := decimal.NewFromString(costStr)
		if parseErr != nil {
			return decimal.Zero, fmt.Errorf("ledger: 解析持仓成本失败: %w", parseErr)
		}
		total = total.Add(cost)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("ledger: 读取持仓成本失败: %w", err)
	}

	return total, nil
}

// PnLSummary 汇总匹配的 CLOSED 持仓的已实现利润；strategy 为空表示不过滤。
func (r *Repository) PnLSummary(ctx context.Context, strategy string) (decimal.Decimal, error) {
	query := `SELECT profit FROM positions WHERE status = 'CLOSED' AND profit IS NOT NULL`
	args := make([]interface{}, 0, 1)
	if strategy != "" {
		query += ` AND strategy = ?`
		args = append(args, strategy)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: 查询已实现利润失败: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var profitStr string
		if scanErr := rows.Scan(&profitStr); scanErr != nil {
			return decimal.Zero, fmt.Errorf("ledger: 解析利润失败: %w", scanErr)
		}
		profit, parseErr := decimal.NewFromString(profitStr)
		if parseErr != nil {
			return decimal.Zero, fmt.Errorf("ledger: 解析利润失败: %w", parseErr)
		}
		total = total.Add(profit)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("ledger: 读取利润失败: %w", err)
	}

	return total, nil
}

// UpsertBotStatus 以策略为主键写入存活状态，后写覆盖先写。
func (r *Repository) UpsertBotStatus(ctx context.Context, bs BotStatus) error {
	if bs.Strategy == "" {
		return errors.New("ledger: strategy 不能为空")
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO bot_status (strategy, status, started_at, last_heartbeat, total_trades, total_pnl, wallet_balance)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(strategy) DO UPDATE SET
			status = excluded.status,
			last_heartbeat = excluded.last_heartbeat,
			total_trades = excluded.total_trades,
			total_pnl = excluded.total_pnl,
			wallet_balance = excluded.wallet_balance`,
		bs.Strategy, bs.Status,
		bs.StartedAt.UTC().Format(time.RFC3339), bs.LastHeartbeat.UTC().Format(time.RFC3339),
		bs.TotalTrades, bs.TotalPnL.String(), bs.WalletBalance.String(),
	)
	if err != nil {
		return fmt.Errorf("ledger: 写入策略状态失败: %w", err)
	}

	return nil
}

// BotStatusFor 返回指定策略的存活状态。
func (r *Repository) BotStatusFor(ctx context.Context, strategy string) (BotStatus, error) {
	var (
		bs            BotStatus
		startedStr    string
		heartbeatStr  string
		totalPnLStr   string
		walletBalance string
	)

	row := r.db.QueryRowContext(ctx,
		`SELECT strategy, status, started_at, last_heartbeat, total_trades, total_pnl, wallet_balance
		 FROM bot_status WHERE strategy = ?`, strategy)
	switch err := row.Scan(&bs.Strategy, &bs.Status, &startedStr, &heartbeatStr, &bs.TotalTrades, &totalPnLStr, &walletBalance); {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		return bs, fmt.Errorf("%w: %s", ErrBotStatusNotFound, strategy)
	default:
		return bs, fmt.Errorf("ledger: 查询策略状态失败: %w", err)
	}

	bs.StartedAt = parseTimestamp(startedStr)
	bs.LastHeartbeat = parseTimestamp(heartbeatStr)

	var err error
	if bs.TotalPnL, err = decimal.NewFromString(totalPnLStr); err != nil {
		return bs, fmt.Errorf("ledger: 解析累计盈亏失败: %w", err)
	}
	if bs.WalletBalance, err = decimal.NewFromString(walletBalance); err != nil {
		return bs, fmt.Errorf("ledger: 解析钱包余额失败: %w", err)
	}

	return bs, nil
}

// AllBotStatus 返回全部策略的存活状态，供监控接口使用。
func (r *Repository) AllBotStatus(ctx context.Context) ([]BotStatus, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT strategy, status, started_at, last_heartbeat, total_trades, total_pnl, wallet_balance
		 FROM bot_status ORDER BY strategy ASC`)
	if err != nil {
		return nil, fmt.Errorf("ledger: 查询策略状态失败: %w", err)
	}
	defer rows.Close()

	statuses := make([]BotStatus, 0, 4)
	for rows.Next() {
		var (
			bs            BotStatus
			startedStr    string
			heartbeatStr  string
			totalPnLStr   string
			walletBalance string
		)
		if scanErr := rows.Scan(&bs.Strategy, &bs.Status, &startedStr, &heartbeatStr, &bs.TotalTrades, &totalPnLStr, &walletBalance); scanErr != nil {
			return nil, fmt.Errorf("ledger: 解析策略状态失败: %w", scanErr)
		}
		bs.StartedAt = parseTimestamp(startedStr)
		bs.LastHeartbeat = parseTimestamp(heartbeatStr)
		if bs.TotalPnL, err = decimal.NewFromString(totalPnLStr); err != nil {
			return nil, fmt.Errorf("ledger: 解析累计盈亏失败: %w", err)
		}
		if bs.WalletBalance, err = decimal.NewFromString(walletBalance); err != nil {
			return nil, fmt.Errorf("ledger: 解析钱包余额失败: %w", err)
		}
		statuses = append(statuses, bs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: 读取策略状态失败: %w", err)
	}

	return statuses, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row rowScanner) (Position, error) {
	var (
		pos       Position
		buyPrice  string
		buyTime   string
		amount    string
		cost      string
		status    string
		sellPrice sql.NullString
		sellTime  sql.NullString
		profit    sql.NullString
	)

	if err := row.Scan(&pos.ID, &pos.Symbol, &pos.Strategy, &buyPrice, &buyTime, &amount, &cost, &status, &sellPrice, &sellTime, &profit); err != nil {
		return pos, fmt.Errorf("ledger: 解析持仓记录失败: %w", err)
	}

	var err error
	if pos.BuyPrice, err = decimal.NewFromString(buyPrice); err != nil {
		return pos, fmt.Errorf("ledger: 解析买入价失败: %w", err)
	}
	if pos.Amount, err = decimal.NewFromString(amount); err != nil {
		return pos, fmt.Errorf("ledger: 解析数量失败: %w", err)
	}
	if pos.Cost, err = decimal.NewFromString(cost); err != nil {
		return pos, fmt.Errorf("ledger: 解析成本失败: %w", err)
	}

	pos.BuyTimestamp = parseTimestamp(buyTime)
	pos.Status = PositionStatus(status)

	if sellPrice.Valid {
		if pos.SellPrice, err = decimal.NewFromString(sellPrice.String); err != nil {
			return pos, fmt.Errorf("ledger: 解析卖出价失败: %w", err)
		}
	}
	if sellTime.Valid {
		pos.SellTimestamp = parseTimestamp(sellTime.String)
	}
	if profit.Valid {
		if pos.Profit, err = decimal.NewFromString(profit.String); err != nil {
			return pos, fmt.Errorf("ledger: 解析利润失败: %w", err)
		}
	}

	return pos, nil
}

func parseTimestamp(value string) time.Time {
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return ts
}
