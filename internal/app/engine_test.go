package app

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"multibot/internal/config"
	"multibot/internal/execution"
	"multibot/internal/monitor"
	"multibot/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.NewSQLite(config.DatabaseConfig{
		InMemory:     true,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func defaultRiskCfg() config.RiskConfig {
	return config.RiskConfig{MinProfitPct: 0.5, FeeRate: 0.001}
}

func defaultExecCfg() config.ExecutionConfig {
	return config.ExecutionConfig{
		MaxSlippagePct:       0.5,
		FillTimeout:          120 * time.Second,
		PartialFillThreshold: 0.5,
	}
}

type fakeStrategy struct {
	name    string
	symbol  string
	intents []*Intent
}

func (s *fakeStrategy) Name() string   { return s.name }
func (s *fakeStrategy) Symbol() string { return s.symbol }

func (s *fakeStrategy) Evaluate(ctx context.Context, quote Quote, view LedgerView) (*Intent, error) {
	if len(s.intents) == 0 {
		return nil, nil
	}
	intent := s.intents[0]
	s.intents = s.intents[1:]
	return intent, nil
}

type fakeClient struct {
	price   decimal.Decimal
	placeFn func(Intent) (execution.OrderFill, error)
	placed  []Intent
}

func (c *fakeClient) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return c.price, nil
}

func (c *fakeClient) PlaceOrder(ctx context.Context, intent Intent) (execution.OrderFill, error) {
	c.placed = append(c.placed, intent)
	if c.placeFn != nil {
		return c.placeFn(intent)
	}
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

func (c *fakeClient) WalletBalance(ctx context.Context) (decimal.Decimal, error) {
	return decimal.NewFromInt(10000), nil
}

func newTestEngine(t *testing.T, riskCfg config.RiskConfig, strategies []Strategy, client *fakeClient) *engine {
	t.Helper()

	eng, err := newEngine(engineConfig{
		risk:      riskCfg,
		execution: defaultExecCfg(),
	}, Options{
		Strategies: strategies,
		Quotes:     client,
		Orders:     client,
	}, nil, newTestStore(t))
	if err != nil {
		t.Fatalf("newEngine returned error: %v", err)
	}
	return eng
}

func TestTick_AcceptedBuyOpensPositionAndLogsTrade(t *testing.T) {
	ctx := context.Background()

	strat := &fakeStrategy{
		name:   "GridBot",
		symbol: "BTC/USDT",
		intents: []*Intent{{
			Symbol: "BTC/USDT",
			Side:   execution.OrderSideBuy,
			Price:  decimal.RequireFromString("30000"),
			Amount: decimal.RequireFromString("0.01"),
		}},
	}
	client := &fakeClient{price: decimal.RequireFromString("30000")}
	eng := newTestEngine(t, defaultRiskCfg(), []Strategy{strat}, client)

	if err := eng.Tick(ctx); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}

	open, err := eng.repo.OpenPositions(ctx, "BTC/USDT")
	if err != nil {
		t.Fatalf("OpenPositions returned error: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected one open position, got %d", len(open))
	}
	if !open[0].Cost.Equal(decimal.RequireFromString("300")) {
		t.Errorf("expected cost 300, got %s", open[0].Cost)
	}

	count, err := eng.repo.TradeCount(ctx, "GridBot")
	if err != nil {
		t.Fatalf("TradeCount returned error: %v", err)
	}
	if count != 1 {
		t.Errorf("expected one trade record, got %d", count)
	}
}

func TestTick_SlippageRejectionLeavesLedgerUntouched(t *testing.T) {
	ctx := context.Background()

	strat := &fakeStrategy{
		name:   "GridBot",
		symbol: "BTC/USDT",
		intents: []*Intent{{
			Symbol: "BTC/USDT",
			Side:   execution.OrderSideBuy,
			Price:  decimal.RequireFromString("100"),
			Amount: decimal.RequireFromString("1"),
		}},
	}
	client := &fakeClient{
		price: decimal.RequireFromString("100"),
		placeFn: func(intent Intent) (execution.OrderFill, error) {
			// 实际成交价偏离 1%，超过 0.5% 上限。
			return execution.OrderFill{
				Symbol:           intent.Symbol,
				Side:             intent.Side,
				ExpectedPrice:    intent.Price,
				AverageFillPrice: decimal.RequireFromString("101"),
				FilledAmount:     intent.Amount,
				TotalAmount:      intent.Amount,
				PlacedAt:         time.Now().UTC(),
			}, nil
		},
	}
	eng := newTestEngine(t, defaultRiskCfg(), []Strategy{strat}, client)

	if err := eng.Tick(ctx); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}

	open, err := eng.repo.OpenPositions(ctx, "")
	if err != nil {
		t.Fatalf("OpenPositions returned error: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("expected no positions after rejected fill, got %d", len(open))
	}

	count, err := eng.repo.TradeCount(ctx, "")
	if err != nil {
		t.Fatalf("TradeCount returned error: %v", err)
	}
	if count != 0 {
		t.Errorf("expected no trade records after rejected fill, got %d", count)
	}

	events, err := eng.monitor.ListEvents(ctx, monitor.EventFillValidation, 10)
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected one fill_validation event, got %d", len(events))
	}
}

func TestTick_SellClosesOldestPositionFirst(t *testing.T) {
	ctx := context.Background()

	strat := &fakeStrategy{
		name:   "GridBot",
		symbol: "BTC/USDT",
		intents: []*Intent{{
			Symbol: "BTC/USDT",
			Side:   execution.OrderSideSell,
			Price:  decimal.RequireFromString("120"),
			Amount: decimal.RequireFromString("1"),
		}},
	}
	client := &fakeClient{price: decimal.RequireFromString("120")}
	eng := newTestEngine(t, defaultRiskCfg(), []Strategy{strat}, client)

	oldest, err := eng.repo.OpenPosition(ctx, "BTC/USDT", "GridBot", decimal.RequireFromString("100"), decimal.RequireFromString("1"))
	if err != nil {
		t.Fatalf("OpenPosition returned error: %v", err)
	}
	newest, err := eng.repo.OpenPosition(ctx, "BTC/USDT", "GridBot", decimal.RequireFromString("110"), decimal.RequireFromString("1"))
	if err != nil {
		t.Fatalf("OpenPosition returned error: %v", err)
	}

	if err := eng.Tick(ctx); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}

	open, err := eng.repo.OpenPositions(ctx, "BTC/USDT")
	if err != nil {
		t.Fatalf("OpenPositions returned error: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected one remaining position, got %d", len(open))
	}
	if open[0].ID != newest {
		t.Errorf("expected oldest position %d to close first, remaining %d", oldest, open[0].ID)
	}

	pnl, err := eng.repo.PnLSummary(ctx, "GridBot")
	if err != nil {
		t.Fatalf("PnLSummary returned error: %v", err)
	}
	if !pnl.Equal(decimal.RequireFromString("20")) {
		t.Errorf("expected realized pnl 20 (sell 120 vs cost 100), got %s", pnl)
	}
}

func TestTick_ProfitGuardBlocksUnprofitableSell(t *testing.T) {
	ctx := context.Background()

	strat := &fakeStrategy{
		name:   "GridBot",
		symbol: "BTC/USDT",
		intents: []*Intent{{
			Symbol: "BTC/USDT",
			Side:   execution.OrderSideSell,
			Price:  decimal.RequireFromString("100.1"),
			Amount: decimal.RequireFromString("1"),
		}},
	}
	client := &fakeClient{price: decimal.RequireFromString("100.1")}
	eng := newTestEngine(t, defaultRiskCfg(), []Strategy{strat}, client)

	if _, err := eng.repo.OpenPosition(ctx, "BTC/USDT", "GridBot", decimal.RequireFromString("100"), decimal.RequireFromString("1")); err != nil {
		t.Fatalf("OpenPosition returned error: %v", err)
	}

	if err := eng.Tick(ctx); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}

	if len(client.placed) != 0 {
		t.Errorf("expected no order placed for unprofitable sell, got %d", len(client.placed))
	}

	open, err := eng.repo.OpenPositions(ctx, "BTC/USDT")
	if err != nil {
		t.Fatalf("OpenPositions returned error: %v", err)
	}
	if len(open) != 1 {
		t.Errorf("expected position to remain open, got %d open", len(open))
	}

	events, err := eng.monitor.ListEvents(ctx, monitor.EventRiskBlock, 10)
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected one risk_block event, got %d", len(events))
	}
}

func TestTick_OutsideTradingWindowBlocksEverything(t *testing.T) {
	ctx := context.Background()

	// 构造一个不含当前时刻的窗口。闸门以 UTC 判定，窗口也用 UTC 计算。
	now := time.Now().UTC()
	start := now.Add(2 * time.Hour).Format("15:04")
	end := now.Add(3 * time.Hour).Format("15:04")

	riskCfg := defaultRiskCfg()
	riskCfg.TradeWindowStart = start
	riskCfg.TradeWindowEnd = end

	strat := &fakeStrategy{
		name:   "GridBot",
		symbol: "BTC/USDT",
		intents: []*Intent{{
			Symbol: "BTC/USDT",
			Side:   execution.OrderSideBuy,
			Price:  decimal.RequireFromString("100"),
			Amount: decimal.RequireFromString("1"),
		}},
	}
	client := &fakeClient{price: decimal.RequireFromString("100")}
	eng := newTestEngine(t, riskCfg, []Strategy{strat}, client)

	if err := eng.Tick(ctx); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}

	if len(client.placed) != 0 {
		t.Errorf("expected no orders outside trading window, got %d", len(client.placed))
	}

	events, err := eng.monitor.ListEvents(ctx, monitor.EventRiskBlock, 10)
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected one risk_block event, got %d", len(events))
	}
}

func TestTick_SellWithoutOpenPositionIsBlocked(t *testing.T) {
	ctx := context.Background()

	strat := &fakeStrategy{
		name:   "GridBot",
		symbol: "BTC/USDT",
		intents: []*Intent{{
			Symbol: "BTC/USDT",
			Side:   execution.OrderSideSell,
			Price:  decimal.RequireFromString("120"),
			Amount: decimal.RequireFromString("1"),
		}},
	}
	client := &fakeClient{price: decimal.RequireFromString("120")}
	eng := newTestEngine(t, defaultRiskCfg(), []Strategy{strat}, client)

	if err := eng.Tick(ctx); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}

	if len(client.placed) != 0 {
		t.Errorf("expected no order without a position to close, got %d", len(client.placed))
	}
}

func TestHeartbeat_WritesBotStatus(t *testing.T) {
	ctx := context.Background()

	strat := &fakeStrategy{name: "GridBot", symbol: "BTC/USDT"}
	client := &fakeClient{price: decimal.RequireFromString("100")}
	eng := newTestEngine(t, defaultRiskCfg(), []Strategy{strat}, client)

	if err := eng.Heartbeat(ctx); err != nil {
		t.Fatalf("Heartbeat returned error: %v", err)
	}

	status, err := eng.repo.BotStatusFor(ctx, "GridBot")
	if err != nil {
		t.Fatalf("BotStatusFor returned error: %v", err)
	}
	if status.Status != "RUNNING" {
		t.Errorf("expected status RUNNING, got %s", status.Status)
	}
	if !status.WalletBalance.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("expected wallet balance 10000, got %s", status.WalletBalance)
	}
	if status.LastHeartbeat.IsZero() {
		t.Errorf("expected heartbeat timestamp to be set")
	}
}
