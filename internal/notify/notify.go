// Package notify delivers lifecycle events to observers: WebSocket clients,
// the structured log and an audit trail. Delivery is best effort; a failing
// sink never blocks or fails a trade.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Event types.
const (
	PositionOpened = "position_opened"
	PositionClosed = "position_closed"
)

// Event is a lifecycle notification. Monetary fields are decimal strings.
type Event struct {
	Type         string    `json:"type"`
	EngineID     string    `json:"engine_id,omitempty"`
	Symbol       string    `json:"symbol"`
	Strategy     string    `json:"strategy"`
	Tier         string    `json:"tier,omitempty"`
	TradeGroupID string    `json:"trade_group_id"`
	Price        string    `json:"price"`
	USDValue     string    `json:"usd_value,omitempty"`
	Fee          string    `json:"fee,omitempty"`
	PnLUSD       string    `json:"pnl_usd,omitempty"`
	PnLPercent   string    `json:"pnl_percent,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Balance      string    `json:"balance"`
	Time         time.Time `json:"time"`
}

// Notifier receives lifecycle events.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Auditor records an immutable audit line per trade group.
type Auditor interface {
	Record(ctx context.Context, tradeGroupID string, fields map[string]any) error
}

// Multi fans an event out to several notifiers. Every sink is tried; the
// errors are joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes events to a slog logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log sink. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(ctx context.Context, ev Event) error {
	s.logger.InfoContext(ctx, "paper event",
		"type", ev.Type,
		"symbol", ev.Symbol,
		"strategy", ev.Strategy,
		"trade_group_id", ev.TradeGroupID,
		"price", ev.Price,
		"pnl_usd", ev.PnLUSD,
		"reason", ev.Reason,
		"balance", ev.Balance,
	)
	return nil
}

// SlogAuditor writes audit records as structured log lines.
type SlogAuditor struct {
	logger *slog.Logger
}

// NewSlogAuditor creates an auditor. A nil logger uses slog.Default().
func NewSlogAuditor(logger *slog.Logger) *SlogAuditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditor{logger: logger.With("component", "audit")}
}

func (a *SlogAuditor) Record(ctx context.Context, tradeGroupID string, fields map[string]any) error {
	attrs := make([]any, 0, 2+2*len(fields))
	attrs = append(attrs, "trade_group_id", tradeGroupID)
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	a.logger.InfoContext(ctx, "audit", attrs...)
	return nil
}
