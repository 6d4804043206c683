package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/paper-engine/internal/metrics"
	"github.com/atmx/paper-engine/internal/model"
	"github.com/atmx/paper-engine/internal/pair"
)

// exitReason applies the exit checks to a position whose peak has already
// been raised to price. The order is a fixed tie-break: stop loss, trailing
// stop, take profit, then hold time.
func (e *Engine) exitReason(p *model.Position, price decimal.Decimal, now time.Time, maxHold time.Duration) (model.ExitReason, bool) {
	if price.LessThanOrEqual(p.StopLoss) {
		return model.ExitStopLoss, true
	}
	guard := p.EntryPrice.Mul(decimal.NewFromInt(1).Add(e.trailingGuard))
	if price.LessThanOrEqual(p.TrailingStopPrice()) && p.HighestPrice.GreaterThan(guard) {
		return model.ExitTrailingStop, true
	}
	if price.GreaterThanOrEqual(p.TakeProfit) {
		return model.ExitTakeProfit, true
	}
	if now.Sub(p.EntryTime) >= maxHold {
		return model.ExitTimeExit, true
	}
	return "", false
}

// Evaluate runs one price tick over the open positions, in symbol order.
// Positions without a price are skipped. Each priced position has its peak
// raised, then the first matching exit closes it. maxHold <= 0 uses the
// engine's configured hold limit.
//
// Peak changes are persisted before Evaluate returns. On a store failure
// Evaluate stops, rolls back the uncommitted peaks and returns the trades
// closed so far together with an error wrapping ErrNotCommitted.
func (e *Engine) Evaluate(ctx context.Context, prices map[string]decimal.Decimal, maxHold time.Duration) ([]model.Trade, error) {
	start := time.Now()
	defer func() {
		metrics.EvaluateLatency.WithLabelValues(e.id).Observe(time.Since(start).Seconds())
	}()

	if maxHold <= 0 {
		maxHold = e.maxHold
	}

	canon := make(map[string]decimal.Decimal, len(prices))
	for s, p := range prices {
		canon[pair.Normalize(s)] = p
	}

	e.mu.Lock()
	defer e.unlockAndEmit(ctx)

	symbols := make([]string, 0, len(e.positions))
	for s := range e.positions {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	now := e.now()
	var closed []model.Trade

	// Peaks raised since the last successful save, with their prior values.
	pending := make(map[string]decimal.Decimal)
	rollback := func() {
		for s, old := range pending {
			if p, ok := e.positions[s]; ok {
				p.HighestPrice = old
			}
		}
	}

	for _, symbol := range symbols {
		price, ok := canon[symbol]
		if !ok || !price.IsPositive() {
			continue
		}
		p := e.positions[symbol]

		if price.GreaterThan(p.HighestPrice) {
			if _, seen := pending[symbol]; !seen {
				pending[symbol] = p.HighestPrice
			}
			p.HighestPrice = price
		}

		reason, hit := e.exitReason(p, price, now, maxHold)
		if !hit {
			continue
		}

		// A failed close restores the pre-close state, which still holds
		// the raised peaks.
		trade, err := e.closeLocked(ctx, symbol, price, reason)
		if err != nil {
			rollback()
			return closed, fmt.Errorf("evaluate %s: %w", symbol, err)
		}
		closed = append(closed, *trade)
		pending = make(map[string]decimal.Decimal)
	}

	if len(pending) > 0 {
		prev := e.snapshotLocked()
		for s, old := range pending {
			prev.Positions[indexOf(prev.Positions, s)].HighestPrice = old
		}
		if err := e.persistLocked(ctx, "evaluate", prev); err != nil {
			return closed, err
		}
	}

	return closed, nil
}

func indexOf(positions []model.Position, symbol string) int {
	return sort.Search(len(positions), func(i int) bool {
		return positions[i].Symbol >= symbol
	})
}
