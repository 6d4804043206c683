package execution

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/paper-engine/internal/tier"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// --- Fill price tests ---

func TestFillPrice_BuyLargeTier(t *testing.T) {
	m := DefaultModel()
	fill, err := m.FillPrice("BTC", d(50000), Buy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fill.ActualPrice.Equal(d(50040)) {
		t.Errorf("expected actual price 50040, got %s", fill.ActualPrice)
	}
	if fill.Tier != tier.Large {
		t.Errorf("expected large tier, got %s", fill.Tier)
	}
	// |50040 - 50000| * 50000
	if !fill.SlippageCost.Equal(d(2000000)) {
		t.Errorf("expected slippage cost 2000000, got %s", fill.SlippageCost)
	}
}

func TestFillPrice_SellWorksAgainstTrader(t *testing.T) {
	m := DefaultModel()
	tests := []struct {
		symbol string
		rate   float64
	}{
		{"ETH", 0.0008},
		{"SOL", 0.0015},
		{"PEPE", 0.0035},
	}
	for _, tt := range tests {
		buy, _ := m.FillPrice(tt.symbol, d(100), Buy)
		sell, _ := m.FillPrice(tt.symbol, d(100), Sell)
		if !buy.ActualPrice.Equal(d(100).Mul(decimal.NewFromInt(1).Add(d(tt.rate)))) {
			t.Errorf("%s buy: got %s", tt.symbol, buy.ActualPrice)
		}
		if !sell.ActualPrice.Equal(d(100).Mul(decimal.NewFromInt(1).Sub(d(tt.rate)))) {
			t.Errorf("%s sell: got %s", tt.symbol, sell.ActualPrice)
		}
		if !buy.ActualPrice.GreaterThan(d(100)) || !sell.ActualPrice.LessThan(d(100)) {
			t.Errorf("%s: slippage must work against the trader", tt.symbol)
		}
	}
}

func TestFillPrice_Deterministic(t *testing.T) {
	m := DefaultModel()
	a, _ := m.FillPrice("LINK", d(13.37), Buy)
	b, _ := m.FillPrice("LINK", d(13.37), Buy)
	if !a.ActualPrice.Equal(b.ActualPrice) || !a.SlippageCost.Equal(b.SlippageCost) {
		t.Errorf("fills differ for identical inputs: %+v vs %+v", a, b)
	}
}

func TestFillPrice_InvalidInputs(t *testing.T) {
	m := DefaultModel()
	if _, err := m.FillPrice("BTC", d(0), Buy); !errors.Is(err, ErrInvalidPrice) {
		t.Errorf("expected ErrInvalidPrice for zero price, got %v", err)
	}
	if _, err := m.FillPrice("BTC", d(-1), Sell); !errors.Is(err, ErrInvalidPrice) {
		t.Errorf("expected ErrInvalidPrice for negative price, got %v", err)
	}
	if _, err := m.FillPrice("BTC", d(1), Side("hold")); err == nil {
		t.Error("expected error for unknown side")
	}
}

// --- Fee tests ---

func TestFee_DefaultRate(t *testing.T) {
	m := DefaultModel()
	fee, err := m.Fee(d(1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fee.Equal(d(2.6)) {
		t.Errorf("expected fee 2.6, got %s", fee)
	}
	if _, err := m.Fee(d(-5)); !errors.Is(err, ErrInvalidNotional) {
		t.Errorf("expected ErrInvalidNotional, got %v", err)
	}
}

// --- Constructor tests ---

func TestNewModel_CustomRates(t *testing.T) {
	tiers, _ := tier.NewClassifier([]string{"BTC"}, []string{"ETH"})
	m, err := NewModel(tiers, map[tier.Tier]decimal.Decimal{tier.Mid: d(0.002)}, d(0.001))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.SlippageRate(tier.Mid).Equal(d(0.002)) {
		t.Errorf("expected mid rate 0.002, got %s", m.SlippageRate(tier.Mid))
	}
	// Missing tiers fall back to defaults.
	if !m.SlippageRate(tier.Small).Equal(DefaultSlippage[tier.Small]) {
		t.Errorf("expected default small rate, got %s", m.SlippageRate(tier.Small))
	}
	if m.Tier("ETH") != tier.Mid {
		t.Errorf("expected ETH to be mid under custom tiers")
	}
}

func TestNewModel_InvalidRates(t *testing.T) {
	if _, err := NewModel(nil, nil, d(1)); !errors.Is(err, ErrInvalidRate) {
		t.Errorf("expected ErrInvalidRate for fee=1, got %v", err)
	}
	_, err := NewModel(nil, map[tier.Tier]decimal.Decimal{tier.Large: d(-0.01)}, DefaultFeeRate)
	if !errors.Is(err, ErrInvalidRate) {
		t.Errorf("expected ErrInvalidRate for negative slippage, got %v", err)
	}
}
