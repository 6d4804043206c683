// Package limits enforces the capital and concurrency limits checked before
// a paper position is opened.
//
// Several strategies share one capital pool. The limiter keeps any single
// strategy, symbol or order from monopolising it: one position per symbol, a
// global and a per-strategy position cap, a maximum fraction of the balance
// per order, and enough balance to pay the entry fee.
package limits

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrPositionExists is returned when the symbol already has an open position.
	ErrPositionExists = errors.New("limits: position already open for symbol")

	// ErrMaxPositionsReached is returned when the global position cap is hit.
	ErrMaxPositionsReached = errors.New("limits: max open positions reached")

	// ErrMaxStrategyPositionsReached is returned when the strategy's cap is hit.
	ErrMaxStrategyPositionsReached = errors.New("limits: max open positions for strategy reached")

	// ErrPositionTooLarge is returned when the order exceeds the allowed
	// fraction of the available balance.
	ErrPositionTooLarge = errors.New("limits: position too large for balance")

	// ErrInsufficientBalance is returned when the balance cannot cover the
	// order plus its entry fee.
	ErrInsufficientBalance = errors.New("limits: insufficient balance")
)

// Defaults.
var (
	DefaultMaxPositions        = 10
	DefaultMaxPerStrategy      = 4
	DefaultMaxPositionFraction = decimal.RequireFromString("0.5")
)

// PositionLimiter checks open-position preconditions. It holds no state of
// its own; the caller passes the current open set and balance.
type PositionLimiter struct {
	// MaxPositions is the maximum number of open positions overall.
	MaxPositions int

	// MaxPerStrategy is the maximum number of open positions per strategy tag.
	MaxPerStrategy int

	// MaxFraction is the largest share of the balance a single order may use.
	MaxFraction decimal.Decimal
}

// NewPositionLimiter creates a limiter. Non-positive values fall back to the
// defaults.
func NewPositionLimiter(maxPositions, maxPerStrategy int, maxFraction decimal.Decimal) *PositionLimiter {
	if maxPositions < 1 {
		maxPositions = DefaultMaxPositions
	}
	if maxPerStrategy < 1 {
		maxPerStrategy = DefaultMaxPerStrategy
	}
	if !maxFraction.IsPositive() {
		maxFraction = DefaultMaxPositionFraction
	}
	return &PositionLimiter{
		MaxPositions:   maxPositions,
		MaxPerStrategy: maxPerStrategy,
		MaxFraction:    maxFraction,
	}
}

// Order describes a position about to be opened.
type Order struct {
	Symbol   string
	Strategy string
	USD      decimal.Decimal
	Fee      decimal.Decimal
}

// CheckOpen validates an order against the open set (symbol → strategy) and
// the available balance. Checks run in a fixed order and the first failure
// is returned.
func (l *PositionLimiter) CheckOpen(o Order, open map[string]string, balance decimal.Decimal) error {
	// 1. One position per symbol.
	if _, ok := open[o.Symbol]; ok {
		return ErrPositionExists
	}

	// 2. Global cap.
	if len(open) >= l.MaxPositions {
		return ErrMaxPositionsReached
	}

	// 3. Per-strategy cap.
	perStrategy := 0
	for _, s := range open {
		if s == o.Strategy {
			perStrategy++
		}
	}
	if perStrategy >= l.MaxPerStrategy {
		return ErrMaxStrategyPositionsReached
	}

	// 4. Size relative to balance.
	if o.USD.GreaterThan(balance.Mul(l.MaxFraction)) {
		return ErrPositionTooLarge
	}

	// 5. Balance covers order plus fee.
	if o.USD.Add(o.Fee).GreaterThan(balance) {
		return ErrInsufficientBalance
	}

	return nil
}
