// Package model defines the core domain types shared across the paper engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitStopLoss     ExitReason = "stop_loss"
	ExitTrailingStop ExitReason = "trailing_stop"
	ExitTakeProfit   ExitReason = "take_profit"
	ExitTimeExit     ExitReason = "time_exit"
	ExitManual       ExitReason = "manual"
)

// ParseExitReason validates a caller-supplied exit reason.
func ParseExitReason(s string) (ExitReason, error) {
	switch r := ExitReason(strings.ToLower(strings.TrimSpace(s))); r {
	case ExitStopLoss, ExitTrailingStop, ExitTakeProfit, ExitTimeExit, ExitManual:
		return r, nil
	default:
		return "", fmt.Errorf("model: unknown exit reason %q", s)
	}
}

// Position is an open exposure. It is owned by the engine while open; only
// HighestPrice changes after creation.
type Position struct {
	Symbol          string          `json:"symbol"`
	Strategy        string          `json:"strategy"`
	Tier            string          `json:"tier"`
	EntryPrice      decimal.Decimal `json:"entry_price"` // fill price after slippage
	Amount          decimal.Decimal `json:"amount"`      // quantity held
	USDValue        decimal.Decimal `json:"usd_value"`   // capital committed at entry
	EntryTime       time.Time       `json:"entry_time"`
	StopLoss        decimal.Decimal `json:"stop_loss"`
	TakeProfit      decimal.Decimal `json:"take_profit"`
	TrailingStopPct decimal.Decimal `json:"trailing_stop_pct"`
	HighestPrice    decimal.Decimal `json:"highest_price"`
	FeesPaid        decimal.Decimal `json:"fees_paid"`
	TradeGroupID    string          `json:"trade_group_id"`
	Confidence      *float64        `json:"confidence,omitempty"`
}

// TrailingStopPrice is the exit level implied by the current peak.
func (p *Position) TrailingStopPrice() decimal.Decimal {
	return p.HighestPrice.Mul(decimal.NewFromInt(1).Sub(p.TrailingStopPct))
}

// Trade is an immutable closed round-trip.
type Trade struct {
	Symbol          string          `json:"symbol"`
	Strategy        string          `json:"strategy"`
	Tier            string          `json:"tier"`
	EntryPrice      decimal.Decimal `json:"entry_price"`
	ExitPrice       decimal.Decimal `json:"exit_price"`
	Amount          decimal.Decimal `json:"amount"`
	USDValue        decimal.Decimal `json:"usd_value"`
	EntryTime       time.Time       `json:"entry_time"`
	ExitTime        time.Time       `json:"exit_time"`
	StopLoss        decimal.Decimal `json:"stop_loss"`
	TakeProfit      decimal.Decimal `json:"take_profit"`
	TrailingStopPct decimal.Decimal `json:"trailing_stop_pct"`
	HighestPrice    decimal.Decimal `json:"highest_price"`
	EntryFee        decimal.Decimal `json:"entry_fee"`
	ExitFee         decimal.Decimal `json:"exit_fee"`
	PnLUSD          decimal.Decimal `json:"pnl_usd"` // net of entry and exit fees
	PnLPercent      decimal.Decimal `json:"pnl_percent"`
	ExitReason      ExitReason      `json:"exit_reason"`
	TradeGroupID    string          `json:"trade_group_id"`
	Confidence      *float64        `json:"confidence,omitempty"`
}

// HoldDuration is the time between entry and exit fills.
func (t *Trade) HoldDuration() time.Duration {
	return t.ExitTime.Sub(t.EntryTime)
}

// Snapshot is the persisted engine state: capital, counters and the full
// open-position set. Positions are kept sorted by symbol.
type Snapshot struct {
	EngineID       string          `json:"engine_id"`
	Balance        decimal.Decimal `json:"balance"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	Positions      []Position      `json:"positions"`
	TotalTrades    int             `json:"total_trades"`
	WinningTrades  int             `json:"winning_trades"`
	TotalFees      decimal.Decimal `json:"total_fees"`
	TotalSlippage  decimal.Decimal `json:"total_slippage"`
	SavedAt        time.Time       `json:"saved_at"`
}

// Clone returns a deep copy so stores never share position slices with the engine.
func (s *Snapshot) Clone() *Snapshot {
	cp := *s
	cp.Positions = make([]Position, len(s.Positions))
	copy(cp.Positions, s.Positions)
	return &cp
}

// PortfolioStats is the derived, read-only accounting view.
type PortfolioStats struct {
	Balance         decimal.Decimal `json:"balance"`
	InitialBalance  decimal.Decimal `json:"initial_balance"`
	PositionsValue  decimal.Decimal `json:"positions_value"` // Σ usd_value of open positions
	TotalValue      decimal.Decimal `json:"total_value"`
	TotalPnL        decimal.Decimal `json:"total_pnl"`
	TotalPnLPercent decimal.Decimal `json:"total_pnl_percent"`
	RealizedPnL     decimal.Decimal `json:"realized_pnl"`
	OpenPositions   int             `json:"open_positions"`
	TotalTrades     int             `json:"total_trades"`
	WinningTrades   int             `json:"winning_trades"`
	WinRate         decimal.Decimal `json:"win_rate"` // fraction, 0 with no trades
	TotalFees       decimal.Decimal `json:"total_fees"`
	TotalSlippage   decimal.Decimal `json:"total_slippage"`
}

// Valuation is a mark-to-market view of open positions at given prices.
type Valuation struct {
	BySymbol      map[string]decimal.Decimal `json:"by_symbol"`      // unrealized P&L per priced position
	UnrealizedPnL decimal.Decimal            `json:"unrealized_pnl"` // Σ BySymbol
	MarketValue   decimal.Decimal            `json:"market_value"`   // Σ amount * price
}
