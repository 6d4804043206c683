// Package execution implements the execution-cost model for paper fills:
// tier-dependent slippage on the fill price plus a flat proportional fee.
//
// The model is deterministic and stateless once built. All monetary values
// use shopspring/decimal, never float64.
package execution

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/paper-engine/internal/tier"
)

var (
	// ErrInvalidPrice is returned when the market price is not positive.
	ErrInvalidPrice = errors.New("execution: market price must be positive")

	// ErrInvalidNotional is returned for a negative fee notional.
	ErrInvalidNotional = errors.New("execution: notional must not be negative")

	// ErrInvalidRate is returned when a configured rate is outside [0, 1).
	ErrInvalidRate = errors.New("execution: rate must be in [0, 1)")
)

// Side is the direction of a fill.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Default rates.
var (
	DefaultFeeRate = decimal.RequireFromString("0.0026")

	DefaultSlippage = map[tier.Tier]decimal.Decimal{
		tier.Large: decimal.RequireFromString("0.0008"),
		tier.Mid:   decimal.RequireFromString("0.0015"),
		tier.Small: decimal.RequireFromString("0.0035"),
	}
)

// Fill is the outcome of pricing one order.
type Fill struct {
	Side         Side            `json:"side"`
	Tier         tier.Tier       `json:"tier"`
	MarketPrice  decimal.Decimal `json:"market_price"`
	ActualPrice  decimal.Decimal `json:"actual_price"`
	SlippageRate decimal.Decimal `json:"slippage_rate"`
	// SlippageCost is |actual − market| × market. Reporting only: P&L uses
	// ActualPrice, which already carries the slippage.
	SlippageCost decimal.Decimal `json:"slippage_cost"`
}

// Model prices fills for a set of liquidity tiers.
type Model struct {
	tiers    *tier.Classifier
	slippage map[tier.Tier]decimal.Decimal
	feeRate  decimal.Decimal
}

// NewModel creates a cost model. Tiers missing from slippage fall back to
// DefaultSlippage.
func NewModel(tiers *tier.Classifier, slippage map[tier.Tier]decimal.Decimal, feeRate decimal.Decimal) (*Model, error) {
	if err := checkRate(feeRate); err != nil {
		return nil, fmt.Errorf("fee rate: %w", err)
	}
	rates := make(map[tier.Tier]decimal.Decimal, len(tier.All))
	for _, t := range tier.All {
		r, ok := slippage[t]
		if !ok {
			r = DefaultSlippage[t]
		}
		if err := checkRate(r); err != nil {
			return nil, fmt.Errorf("slippage rate for %s: %w", t, err)
		}
		rates[t] = r
	}
	if tiers == nil {
		tiers = tier.Default()
	}
	return &Model{tiers: tiers, slippage: rates, feeRate: feeRate}, nil
}

// DefaultModel uses the built-in tiers and rates.
func DefaultModel() *Model {
	m, _ := NewModel(tier.Default(), DefaultSlippage, DefaultFeeRate)
	return m
}

// Tier returns the liquidity tier the model uses for symbol.
func (m *Model) Tier(symbol string) tier.Tier {
	return m.tiers.Of(symbol)
}

// SlippageRate returns the configured rate for a tier.
func (m *Model) SlippageRate(t tier.Tier) decimal.Decimal {
	return m.slippage[t]
}

// FeeRate returns the proportional fee rate.
func (m *Model) FeeRate() decimal.Decimal {
	return m.feeRate
}

// FillPrice computes the slippage-adjusted price of an order. Slippage always
// works against the trader:
//
//	buy:  actual = market × (1 + rate)
//	sell: actual = market × (1 − rate)
func (m *Model) FillPrice(symbol string, marketPrice decimal.Decimal, side Side) (Fill, error) {
	if !marketPrice.IsPositive() {
		return Fill{}, ErrInvalidPrice
	}

	t := m.tiers.Of(symbol)
	rate := m.slippage[t]
	one := decimal.NewFromInt(1)

	var actual decimal.Decimal
	switch side {
	case Buy:
		actual = marketPrice.Mul(one.Add(rate))
	case Sell:
		actual = marketPrice.Mul(one.Sub(rate))
	default:
		return Fill{}, fmt.Errorf("execution: unknown side %q", side)
	}

	return Fill{
		Side:         side,
		Tier:         t,
		MarketPrice:  marketPrice,
		ActualPrice:  actual,
		SlippageRate: rate,
		SlippageCost: actual.Sub(marketPrice).Abs().Mul(marketPrice),
	}, nil
}

// Fee returns the trading fee on a USD notional.
func (m *Model) Fee(usdValue decimal.Decimal) (decimal.Decimal, error) {
	if usdValue.IsNegative() {
		return decimal.Zero, ErrInvalidNotional
	}
	return usdValue.Mul(m.feeRate), nil
}

func checkRate(r decimal.Decimal) error {
	if r.IsNegative() || r.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return ErrInvalidRate
	}
	return nil
}
