package exitrule

import (
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/paper-engine/internal/tier"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func ptr(f float64) *decimal.Decimal {
	v := d(f)
	return &v
}

func TestResolve_Defaults(t *testing.T) {
	r, err := NewResolver(nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		symbol, strategy string
		sl, tp, trail    float64
	}{
		{"BTC", "dca", 0.06, 0.10, 0.03},
		{"BTC/USD", "SWING", 0.04, 0.08, 0.02},
		{"SOL", "channel", 0.04, 0.07, 0.02},
		{"PEPE", "dca", 0.12, 0.25, 0.06},
		{"PEPE", "momentum", 0.12, 0.25, 0.06}, // unknown → dca
		{"ETH", "", 0.06, 0.10, 0.03},
	}
	for _, tt := range tests {
		got := r.Resolve(tt.symbol, tt.strategy)
		if !got.StopLossPct.Equal(d(tt.sl)) || !got.TakeProfitPct.Equal(d(tt.tp)) ||
			!got.TrailingStopPct.Equal(d(tt.trail)) {
			t.Errorf("Resolve(%s, %s) = %+v, want sl=%v tp=%v trail=%v",
				tt.symbol, tt.strategy, got, tt.sl, tt.tp, tt.trail)
		}
	}
}

func TestDefaultTable_WiderForLowerLiquidity(t *testing.T) {
	table := DefaultTable()
	for _, s := range Strategies {
		large, mid, small := table[tier.Large][s], table[tier.Mid][s], table[tier.Small][s]
		if !(large.StopLossPct.LessThan(mid.StopLossPct) && mid.StopLossPct.LessThan(small.StopLossPct)) {
			t.Errorf("%s: stop loss should widen from large to small tier", s)
		}
		if !(large.TakeProfitPct.LessThan(mid.TakeProfitPct) && mid.TakeProfitPct.LessThan(small.TakeProfitPct)) {
			t.Errorf("%s: take profit should widen from large to small tier", s)
		}
	}
}

func TestNewResolver_PartialOverrideMerges(t *testing.T) {
	r, err := NewResolver(nil, Overrides{
		tier.Mid: {"Swing": {StopLossPct: ptr(0.05)}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := r.ResolveTier(tier.Mid, "swing")
	if !got.StopLossPct.Equal(d(0.05)) {
		t.Errorf("expected overridden stop loss 0.05, got %s", got.StopLossPct)
	}
	if !got.TakeProfitPct.Equal(d(0.12)) {
		t.Errorf("expected default take profit 0.12, got %s", got.TakeProfitPct)
	}
	// Other cells keep their defaults.
	if !r.ResolveTier(tier.Large, "swing").StopLossPct.Equal(d(0.04)) {
		t.Error("override leaked into another tier")
	}
}

func TestNewResolver_RejectsInvalidTable(t *testing.T) {
	tests := []struct {
		name string
		o    Overrides
		want error
	}{
		{"stop loss zero", Overrides{tier.Large: {"dca": {StopLossPct: ptr(0)}}}, ErrInvalidStopLoss},
		{"stop loss one", Overrides{tier.Large: {"dca": {StopLossPct: ptr(1)}}}, ErrInvalidStopLoss},
		{"take profit negative", Overrides{tier.Small: {"channel": {TakeProfitPct: ptr(-0.1)}}}, ErrInvalidTakeProfit},
		{"trailing too wide", Overrides{tier.Mid: {"dca": {TrailingStopPct: ptr(1.5)}}}, ErrInvalidTrailingStop},
	}
	for _, tt := range tests {
		_, err := NewResolver(nil, tt.o)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
	}
}

func TestNewResolver_RejectsUnknownKeys(t *testing.T) {
	if _, err := NewResolver(nil, Overrides{"huge": {"dca": {}}}); err == nil {
		t.Error("expected error for unknown tier")
	}
	if _, err := NewResolver(nil, Overrides{tier.Large: {"scalp": {}}}); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestResolve_ConcurrentSafe(t *testing.T) {
	r, _ := NewResolver(nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = r.Resolve("BTC", "swing")
			}
		}()
	}
	wg.Wait()
}
