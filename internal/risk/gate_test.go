package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"multibot/internal/config"
)

func TestCanTrade_UnrestrictedByDefault(t *testing.T) {
	gate, err := NewGate(config.RiskConfig{MinProfitPct: 0.5, FeeRate: 0.001})
	if err != nil {
		t.Fatalf("NewGate returned error: %v", err)
	}

	for hour := 0; hour < 24; hour++ {
		now := time.Date(2024, 5, 1, hour, 30, 0, 0, time.UTC)
		if !gate.CanTrade(now) {
			t.Errorf("expected unrestricted gate to allow trading at %02d:30", hour)
		}
	}
}

func TestCanTrade_NormalWindow(t *testing.T) {
	gate, err := NewGate(config.RiskConfig{
		TradeWindowStart: "09:00",
		TradeWindowEnd:   "17:00",
	})
	if err != nil {
		t.Fatalf("NewGate returned error: %v", err)
	}

	cases := []struct {
		hour, minute int
		want         bool
	}{
		{8, 59, false},
		{9, 0, true},
		{12, 30, true},
		{17, 0, true},
		{17, 1, false},
		{23, 0, false},
	}
	for _, tc := range cases {
		now := time.Date(2024, 5, 1, tc.hour, tc.minute, 0, 0, time.UTC)
		if got := gate.CanTrade(now); got != tc.want {
			t.Errorf("CanTrade(%02d:%02d) = %v, want %v", tc.hour, tc.minute, got, tc.want)
		}
	}
}

func TestCanTrade_WindowWrapsMidnight(t *testing.T) {
	gate, err := NewGate(config.RiskConfig{
		TradeWindowStart: "22:00",
		TradeWindowEnd:   "02:00",
	})
	if err != nil {
		t.Fatalf("NewGate returned error: %v", err)
	}

	cases := []struct {
		hour, minute int
		want         bool
	}{
		{21, 59, false},
		{22, 0, true},
		{23, 30, true},
		{0, 0, true},
		{1, 59, true},
		{2, 0, true},
		{2, 1, false},
		{12, 0, false},
	}
	for _, tc := range cases {
		now := time.Date(2024, 5, 1, tc.hour, tc.minute, 0, 0, time.UTC)
		if got := gate.CanTrade(now); got != tc.want {
			t.Errorf("CanTrade(%02d:%02d) = %v, want %v", tc.hour, tc.minute, got, tc.want)
		}
	}
}

func TestNewGate_RejectsBadWindow(t *testing.T) {
	if _, err := NewGate(config.RiskConfig{TradeWindowStart: "25:00", TradeWindowEnd: "02:00"}); err == nil {
		t.Fatalf("expected error for invalid window start")
	}
}

func TestCheckProfitGuard_FeeAwareMath(t *testing.T) {
	gate, err := NewGate(config.RiskConfig{MinProfitPct: 0.5, FeeRate: 0.001})
	if err != nil {
		t.Fatalf("NewGate returned error: %v", err)
	}

	// cost = 100*(1.001) = 100.1, net = 101*(0.999) = 100.899
	// profit_pct = (100.899-100.1)/100.1*100 ≈ 0.7982%
	ok, pct := gate.CheckProfitGuard(decimal.NewFromInt(101), decimal.NewFromInt(100))
	if !ok {
		t.Fatalf("expected profitable outcome, got pct=%s", pct)
	}

	want := decimal.RequireFromString("0.7982")
	if pct.Sub(want).Abs().GreaterThan(decimal.RequireFromString("0.0001")) {
		t.Errorf("unexpected profit pct: got %s want ~%s", pct, want)
	}
}

func TestCheckProfitGuard_BelowThreshold(t *testing.T) {
	gate, err := NewGate(config.RiskConfig{MinProfitPct: 0.5, FeeRate: 0.001})
	if err != nil {
		t.Fatalf("NewGate returned error: %v", err)
	}

	// 原始价差 0.3%，扣费后低于 0.5% 阈值。
	ok, pct := gate.CheckProfitGuard(decimal.RequireFromString("100.3"), decimal.NewFromInt(100))
	if ok {
		t.Fatalf("expected unprofitable outcome, got pct=%s", pct)
	}
	if !pct.LessThan(decimal.RequireFromString("0.5")) {
		t.Errorf("expected pct below threshold, got %s", pct)
	}
}

func TestCheckProfitGuard_ExactThresholdPasses(t *testing.T) {
	gate, err := NewGate(config.RiskConfig{MinProfitPct: 0, FeeRate: 0})
	if err != nil {
		t.Fatalf("NewGate returned error: %v", err)
	}

	ok, pct := gate.CheckProfitGuard(decimal.NewFromInt(100), decimal.NewFromInt(100))
	if !ok {
		t.Fatalf("expected break-even to satisfy zero threshold")
	}
	if !pct.IsZero() {
		t.Errorf("expected zero pct, got %s", pct)
	}
}

func TestCheckProfitGuard_GuardsNonPositivePrices(t *testing.T) {
	gate, err := NewGate(config.RiskConfig{MinProfitPct: 0.5, FeeRate: 0.001})
	if err != nil {
		t.Fatalf("NewGate returned error: %v", err)
	}

	cases := []struct {
		current, buy decimal.Decimal
	}{
		{decimal.Zero, decimal.NewFromInt(100)},
		{decimal.NewFromInt(100), decimal.Zero},
		{decimal.NewFromInt(-1), decimal.NewFromInt(100)},
		{decimal.NewFromInt(100), decimal.NewFromInt(-1)},
	}
	for _, tc := range cases {
		ok, pct := gate.CheckProfitGuard(tc.current, tc.buy)
		if ok || !pct.IsZero() {
			t.Errorf("CheckProfitGuard(%s, %s) = (%v, %s), want (false, 0)", tc.current, tc.buy, ok, pct)
		}
	}
}
