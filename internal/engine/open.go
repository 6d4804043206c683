package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/paper-engine/internal/execution"
	"github.com/atmx/paper-engine/internal/limits"
	"github.com/atmx/paper-engine/internal/metrics"
	"github.com/atmx/paper-engine/internal/model"
	"github.com/atmx/paper-engine/internal/notify"
	"github.com/atmx/paper-engine/internal/pair"
)

// OpenRequest asks the engine to open a long position.
type OpenRequest struct {
	Symbol      string
	Strategy    string
	USDAmount   decimal.Decimal
	MarketPrice decimal.Decimal

	// StopLossPct and TakeProfitPct override the resolved exit rule when set.
	StopLossPct   *decimal.Decimal
	TakeProfitPct *decimal.Decimal

	// Confidence is the optional signal confidence, carried to the trade.
	Confidence *float64
}

// validate checks the request shape and returns the canonical symbol.
func (r OpenRequest) validate() (string, error) {
	if strings.TrimSpace(r.Symbol) == "" {
		return "", fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	}
	p, err := pair.Parse(r.Symbol)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidOrder, err)
	}
	if !r.USDAmount.IsPositive() {
		return "", fmt.Errorf("%w: usd amount must be positive, got %s", ErrInvalidOrder, r.USDAmount)
	}
	if !r.MarketPrice.IsPositive() {
		return "", fmt.Errorf("%w: market price must be positive, got %s", ErrInvalidOrder, r.MarketPrice)
	}
	one := decimal.NewFromInt(1)
	if sl := r.StopLossPct; sl != nil && (!sl.IsPositive() || sl.GreaterThanOrEqual(one)) {
		return "", fmt.Errorf("%w: stop loss pct must be in (0, 1), got %s", ErrInvalidOrder, sl)
	}
	if tp := r.TakeProfitPct; tp != nil && !tp.IsPositive() {
		return "", fmt.Errorf("%w: take profit pct must be positive, got %s", ErrInvalidOrder, tp)
	}
	return p.Symbol, nil
}

// OpenPosition opens a position for req. Precondition failures return one
// of the limit errors with no side effects. The position is persisted before
// OpenPosition returns.
func (e *Engine) OpenPosition(ctx context.Context, req OpenRequest) (*model.Position, error) {
	symbol, err := req.validate()
	if err != nil {
		metrics.OpenRejections.WithLabelValues(e.id, rejectReason(err)).Inc()
		return nil, err
	}
	strategy := strings.ToLower(strings.TrimSpace(req.Strategy))

	e.mu.Lock()
	defer e.unlockAndEmit(ctx)

	entryFee, err := e.costs.Fee(req.USDAmount)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOrder, err)
	}

	open := make(map[string]string, len(e.positions))
	for s, p := range e.positions {
		open[s] = p.Strategy
	}
	order := limits.Order{Symbol: symbol, Strategy: strategy, USD: req.USDAmount, Fee: entryFee}
	if err := e.limiter.CheckOpen(order, open, e.balance); err != nil {
		metrics.OpenRejections.WithLabelValues(e.id, rejectReason(err)).Inc()
		e.logger.Info("open rejected",
			"symbol", symbol,
			"strategy", strategy,
			"usd", req.USDAmount.String(),
			"balance", e.balance.String(),
			"reason", err,
		)
		return nil, err
	}

	rule := e.rules.Resolve(symbol, strategy)
	if req.StopLossPct != nil {
		rule.StopLossPct = *req.StopLossPct
	}
	if req.TakeProfitPct != nil {
		rule.TakeProfitPct = *req.TakeProfitPct
	}

	fill, err := e.costs.FillPrice(symbol, req.MarketPrice, execution.Buy)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOrder, err)
	}

	one := decimal.NewFromInt(1)
	actual := fill.ActualPrice
	pos := &model.Position{
		Symbol:          symbol,
		Strategy:        strategy,
		Tier:            string(fill.Tier),
		EntryPrice:      actual,
		Amount:          req.USDAmount.Div(actual),
		USDValue:        req.USDAmount,
		EntryTime:       e.now(),
		StopLoss:        actual.Mul(one.Sub(rule.StopLossPct)),
		TakeProfit:      actual.Mul(one.Add(rule.TakeProfitPct)),
		TrailingStopPct: rule.TrailingStopPct,
		HighestPrice:    actual,
		FeesPaid:        entryFee,
		TradeGroupID:    uuid.New().String(),
		Confidence:      req.Confidence,
	}

	prev := e.snapshotLocked()
	e.positions[symbol] = pos
	e.balance = e.balance.Sub(req.USDAmount).Sub(entryFee)
	e.totalFees = e.totalFees.Add(entryFee)
	e.totalSlippage = e.totalSlippage.Add(fill.SlippageCost)

	if err := e.persistLocked(ctx, "open", prev); err != nil {
		return nil, err
	}

	metrics.PositionsOpened.WithLabelValues(e.id, strategy, pos.Tier).Inc()
	metrics.FeesPaid.WithLabelValues(e.id).Add(entryFee.InexactFloat64())
	metrics.SlippageCost.WithLabelValues(e.id).Add(fill.SlippageCost.InexactFloat64())
	e.updateGauges()

	e.logger.Info("position opened",
		"symbol", symbol,
		"strategy", strategy,
		"tier", pos.Tier,
		"trade_group_id", pos.TradeGroupID,
		"market_price", req.MarketPrice.String(),
		"entry_price", actual.String(),
		"amount", pos.Amount.String(),
		"usd", pos.USDValue.String(),
		"fee", entryFee.String(),
		"stop_loss", pos.StopLoss.String(),
		"take_profit", pos.TakeProfit.String(),
		"balance", e.balance.String(),
	)

	e.queueLocked(notify.Event{
		Type:         notify.PositionOpened,
		Symbol:       symbol,
		Strategy:     strategy,
		Tier:         pos.Tier,
		TradeGroupID: pos.TradeGroupID,
		Price:        actual.String(),
		USDValue:     pos.USDValue.String(),
		Fee:          entryFee.String(),
		Balance:      e.balance.String(),
		Time:         pos.EntryTime,
	}, map[string]any{
		"event":         notify.PositionOpened,
		"symbol":        symbol,
		"strategy":      strategy,
		"market_price":  req.MarketPrice.String(),
		"entry_price":   actual.String(),
		"slippage_cost": fill.SlippageCost.String(),
		"fee":           entryFee.String(),
		"stop_loss":     pos.StopLoss.String(),
		"take_profit":   pos.TakeProfit.String(),
	})

	cp := *pos
	return &cp, nil
}
