package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了交易引擎运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// RiskConfig 管理交易前风控参数。
//
// TradeWindowStart/TradeWindowEnd 使用 "HH:MM" 格式；两者均为空表示全天可交易，
// start > end 表示窗口跨越午夜。
type RiskConfig struct {
	MinProfitPct     float64 `mapstructure:"min_profit_pct"`
	FeeRate          float64 `mapstructure:"fee_rate"`
	TradeWindowStart string  `mapstructure:"trade_window_start"`
	TradeWindowEnd   string  `mapstructure:"trade_window_end"`
}

// ExecutionConfig 控制成交校验行为。
type ExecutionConfig struct {
	MaxSlippagePct       float64       `mapstructure:"max_slippage_pct"`
	FillTimeout          time.Duration `mapstructure:"fill_timeout"`
	PartialFillThreshold float64       `mapstructure:"partial_fill_threshold"`
	Simulation           bool          `mapstructure:"simulation"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// SchedulerConfig 控制策略循环与心跳节奏。
type SchedulerConfig struct {
	LoopInterval      time.Duration `mapstructure:"loop_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// MonitorConfig 控制只读监控接口。
type MonitorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Risk.MinProfitPct < 0 {
		err = multierr.Append(err, errors.New("risk.min_profit_pct 不能为负"))
	}
	if c.Risk.FeeRate < 0 || c.Risk.FeeRate >= 1 {
		err = multierr.Append(err, errors.New("risk.fee_rate 必须位于[0,1)"))
	}
	if (c.Risk.TradeWindowStart == "") != (c.Risk.TradeWindowEnd == "") {
		err = multierr.Append(err, errors.New("risk.trade_window_start 与 trade_window_end 必须同时配置或同时为空"))
	}
	if c.Execution.MaxSlippagePct <= 0 {
		err = multierr.Append(err, errors.New("execution.max_slippage_pct 必须大于0"))
	}
	if c.Execution.FillTimeout <= 0 {
		err = multierr.Append(err, errors.New("execution.fill_timeout 必须大于0"))
	}
	if c.Execution.PartialFillThreshold <= 0 || c.Execution.PartialFillThreshold > 1 {
		err = multierr.Append(err, errors.New("execution.partial_fill_threshold 必须位于(0,1]"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Scheduler.LoopInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.loop_interval 必须大于0"))
	}
	if c.Scheduler.HeartbeatInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.heartbeat_interval 必须大于0"))
	}
	if c.Monitor.Enabled && (c.Monitor.Port <= 0 || c.Monitor.Port > 65535) {
		err = multierr.Append(err, errors.New("monitor.port 必须位于(0,65535]"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
