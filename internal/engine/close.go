package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/paper-engine/internal/execution"
	"github.com/atmx/paper-engine/internal/metrics"
	"github.com/atmx/paper-engine/internal/model"
	"github.com/atmx/paper-engine/internal/notify"
	"github.com/atmx/paper-engine/internal/pair"
)

var hundred = decimal.NewFromInt(100)

// ClosePosition closes the open position for symbol at a sell-side fill of
// price. The state and the trade log are persisted before it returns.
func (e *Engine) ClosePosition(ctx context.Context, symbol string, price decimal.Decimal, reason model.ExitReason) (*model.Trade, error) {
	if _, err := model.ParseExitReason(string(reason)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOrder, err)
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("%w: price must be positive, got %s", ErrInvalidOrder, price)
	}

	e.mu.Lock()
	defer e.unlockAndEmit(ctx)

	return e.closeLocked(ctx, pair.Normalize(symbol), price, reason)
}

// closeLocked is the single close path shared by ClosePosition and
// Evaluate. Caller holds mu.
func (e *Engine) closeLocked(ctx context.Context, symbol string, price decimal.Decimal, reason model.ExitReason) (*model.Trade, error) {
	pos, ok := e.positions[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchPosition, symbol)
	}

	fill, err := e.costs.FillPrice(symbol, price, execution.Sell)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOrder, err)
	}
	exitValue := pos.Amount.Mul(fill.ActualPrice)
	exitFee, err := e.costs.Fee(exitValue)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOrder, err)
	}

	pnl := exitValue.Sub(pos.USDValue).Sub(pos.FeesPaid.Add(exitFee))
	trade := model.Trade{
		Symbol:          pos.Symbol,
		Strategy:        pos.Strategy,
		Tier:            pos.Tier,
		EntryPrice:      pos.EntryPrice,
		ExitPrice:       fill.ActualPrice,
		Amount:          pos.Amount,
		USDValue:        pos.USDValue,
		EntryTime:       pos.EntryTime,
		ExitTime:        e.now(),
		StopLoss:        pos.StopLoss,
		TakeProfit:      pos.TakeProfit,
		TrailingStopPct: pos.TrailingStopPct,
		HighestPrice:    pos.HighestPrice,
		EntryFee:        pos.FeesPaid,
		ExitFee:         exitFee,
		PnLUSD:          pnl,
		PnLPercent:      pnl.Div(pos.USDValue).Mul(hundred),
		ExitReason:      reason,
		TradeGroupID:    pos.TradeGroupID,
		Confidence:      pos.Confidence,
	}

	prev := e.snapshotLocked()
	tradesLen := len(e.trades)

	delete(e.positions, symbol)
	e.balance = e.balance.Add(exitValue).Sub(exitFee)
	e.totalFees = e.totalFees.Add(exitFee)
	e.totalSlippage = e.totalSlippage.Add(fill.SlippageCost)
	e.totalTrades++
	if pnl.IsPositive() {
		e.winningTrades++
	}
	e.trades = append(e.trades, trade)

	appendTrade := func(ctx context.Context) error {
		return e.store.AppendTrade(ctx, &trade)
	}
	if err := e.persistLocked(ctx, "close", prev, appendTrade); err != nil {
		e.trades = e.trades[:tradesLen]
		return nil, err
	}

	metrics.PositionsClosed.WithLabelValues(e.id, trade.Strategy, string(reason)).Inc()
	metrics.FeesPaid.WithLabelValues(e.id).Add(exitFee.InexactFloat64())
	metrics.SlippageCost.WithLabelValues(e.id).Add(fill.SlippageCost.InexactFloat64())
	metrics.RealizedPnL.WithLabelValues(e.id).Set(e.realizedLocked().InexactFloat64())
	e.updateGauges()

	e.logger.Info("position closed",
		"symbol", symbol,
		"strategy", trade.Strategy,
		"trade_group_id", trade.TradeGroupID,
		"reason", string(reason),
		"market_price", price.String(),
		"exit_price", trade.ExitPrice.String(),
		"pnl_usd", pnl.String(),
		"pnl_percent", trade.PnLPercent.StringFixed(2),
		"hold", trade.HoldDuration().String(),
		"balance", e.balance.String(),
	)

	e.queueLocked(notify.Event{
		Type:         notify.PositionClosed,
		Symbol:       symbol,
		Strategy:     trade.Strategy,
		Tier:         trade.Tier,
		TradeGroupID: trade.TradeGroupID,
		Price:        trade.ExitPrice.String(),
		USDValue:     trade.USDValue.String(),
		Fee:          exitFee.String(),
		PnLUSD:       pnl.String(),
		PnLPercent:   trade.PnLPercent.StringFixed(2),
		Reason:       string(reason),
		Balance:      e.balance.String(),
		Time:         trade.ExitTime,
	}, map[string]any{
		"event":         notify.PositionClosed,
		"symbol":        symbol,
		"strategy":      trade.Strategy,
		"reason":        string(reason),
		"market_price":  price.String(),
		"exit_price":    trade.ExitPrice.String(),
		"slippage_cost": fill.SlippageCost.String(),
		"exit_fee":      exitFee.String(),
		"pnl_usd":       pnl.String(),
		"hold_seconds":  int64(trade.HoldDuration().Seconds()),
	})

	return &trade, nil
}
