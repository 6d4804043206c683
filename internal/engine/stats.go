package engine

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/paper-engine/internal/model"
	"github.com/atmx/paper-engine/internal/pair"
)

// Stats returns the portfolio accounting view. It never mutates state.
func (e *Engine) Stats() model.PortfolioStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	positionsValue := decimal.Zero
	for _, p := range e.positions {
		positionsValue = positionsValue.Add(p.USDValue)
	}
	totalValue := e.balance.Add(positionsValue)
	totalPnL := totalValue.Sub(e.initial)

	winRate := decimal.Zero
	if e.totalTrades > 0 {
		winRate = decimal.NewFromInt(int64(e.winningTrades)).Div(decimal.NewFromInt(int64(e.totalTrades)))
	}

	return model.PortfolioStats{
		Balance:         e.balance,
		InitialBalance:  e.initial,
		PositionsValue:  positionsValue,
		TotalValue:      totalValue,
		TotalPnL:        totalPnL,
		TotalPnLPercent: totalPnL.Div(e.initial).Mul(hundred),
		RealizedPnL:     e.realizedLocked(),
		OpenPositions:   len(e.positions),
		TotalTrades:     e.totalTrades,
		WinningTrades:   e.winningTrades,
		WinRate:         winRate,
		TotalFees:       e.totalFees,
		TotalSlippage:   e.totalSlippage,
	}
}

// realizedLocked derives realized P&L from the capital identity
//
//	balance + Σ open(usd_value + fees_paid) = initial + realized
//
// so it stays exact even when the trade log is not loaded. Caller holds mu.
func (e *Engine) realizedLocked() decimal.Decimal {
	committed := decimal.Zero
	for _, p := range e.positions {
		committed = committed.Add(p.USDValue).Add(p.FeesPaid)
	}
	return e.balance.Add(committed).Sub(e.initial)
}

// Unrealized marks open positions to market. Positions without a price are
// left out of the result.
func (e *Engine) Unrealized(prices map[string]decimal.Decimal) model.Valuation {
	canon := make(map[string]decimal.Decimal, len(prices))
	for s, p := range prices {
		canon[pair.Normalize(s)] = p
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	v := model.Valuation{
		BySymbol:      make(map[string]decimal.Decimal),
		UnrealizedPnL: decimal.Zero,
		MarketValue:   decimal.Zero,
	}
	for s, p := range e.positions {
		price, ok := canon[s]
		if !ok {
			continue
		}
		value := p.Amount.Mul(price)
		pnl := value.Sub(p.USDValue)
		v.BySymbol[s] = pnl
		v.UnrealizedPnL = v.UnrealizedPnL.Add(pnl)
		v.MarketValue = v.MarketValue.Add(value)
	}
	return v
}

// Positions returns copies of the open positions sorted by symbol.
func (e *Engine) Positions() []model.Position {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]model.Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Position returns a copy of the open position for symbol.
func (e *Engine) Position(symbol string) (model.Position, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, ok := e.positions[pair.Normalize(symbol)]
	if !ok {
		return model.Position{}, false
	}
	return *p, true
}

// Trades returns the closed-trade log in close order.
func (e *Engine) Trades() []model.Trade {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]model.Trade, len(e.trades))
	copy(out, e.trades)
	return out
}

// Snapshot returns the persistable state as of the last serialization point.
func (e *Engine) Snapshot() *model.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked()
}
