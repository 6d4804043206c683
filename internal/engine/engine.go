// Package engine implements the paper-trading lifecycle: opening positions
// at slippage-adjusted prices, evaluating exits on every price tick, closing
// positions into immutable trades, and keeping capital accounting exact.
//
// An Engine owns its state. Several engines may run side by side in one
// process; each persists under its own id. Every mutation is persisted
// synchronously before it is acknowledged, and rolled back when the store
// fails. All monetary values use shopspring/decimal.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/paper-engine/internal/execution"
	"github.com/atmx/paper-engine/internal/exitrule"
	"github.com/atmx/paper-engine/internal/limits"
	"github.com/atmx/paper-engine/internal/metrics"
	"github.com/atmx/paper-engine/internal/model"
	"github.com/atmx/paper-engine/internal/notify"
	"github.com/atmx/paper-engine/internal/store"
)

// Defaults.
var (
	DefaultID             = "default"
	DefaultInitialBalance = decimal.NewFromInt(10000)
	DefaultMaxHold        = 72 * time.Hour

	// DefaultTrailingGuard is how far the peak must rise above entry before
	// the trailing stop may fire.
	DefaultTrailingGuard = decimal.RequireFromString("0.001")
)

// Config holds the engine's collaborators and parameters. Nil collaborators
// fall back to the built-in defaults; a nil Store keeps state in memory.
type Config struct {
	ID             string
	InitialBalance decimal.Decimal
	Costs          *execution.Model
	Rules          *exitrule.Resolver
	Limiter        *limits.PositionLimiter
	Store          store.Store
	TrailingGuard  *decimal.Decimal // nil uses DefaultTrailingGuard
	MaxHold        time.Duration
}

// Option configures optional engine behaviour.
type Option func(*Engine)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithNotifier sets the lifecycle event sink.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithAuditor sets the audit trail sink.
func WithAuditor(a notify.Auditor) Option {
	return func(e *Engine) { e.auditor = a }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine is a single paper-trading account. Mutating operations are
// serialized by mu; reads take the read lock and observe the state at the
// last serialization point.
type Engine struct {
	id            string
	costs         *execution.Model
	rules         *exitrule.Resolver
	limiter       *limits.PositionLimiter
	store         store.Store
	notifier      notify.Notifier
	auditor       notify.Auditor
	logger        *slog.Logger
	now           func() time.Time
	trailingGuard decimal.Decimal
	maxHold       time.Duration

	mu            sync.RWMutex
	balance       decimal.Decimal
	initial       decimal.Decimal
	positions     map[string]*model.Position
	trades        []model.Trade
	totalTrades   int
	winningTrades int
	totalFees     decimal.Decimal
	totalSlippage decimal.Decimal
	outbox        []queuedEvent
}

// New creates an engine with a fresh account. Call Load to restore a
// previously persisted one.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.ID == "" {
		cfg.ID = DefaultID
	}
	if cfg.InitialBalance.IsZero() {
		cfg.InitialBalance = DefaultInitialBalance
	}
	if !cfg.InitialBalance.IsPositive() {
		return nil, fmt.Errorf("engine: initial balance must be positive, got %s", cfg.InitialBalance)
	}
	if cfg.Costs == nil {
		cfg.Costs = execution.DefaultModel()
	}
	if cfg.Rules == nil {
		r, err := exitrule.NewResolver(nil, nil)
		if err != nil {
			return nil, err
		}
		cfg.Rules = r
	}
	if cfg.Limiter == nil {
		cfg.Limiter = limits.NewPositionLimiter(0, 0, decimal.Zero)
	}
	if cfg.Store == nil {
		cfg.Store = store.NewMemoryStore()
	}
	guard := DefaultTrailingGuard
	if cfg.TrailingGuard != nil {
		guard = *cfg.TrailingGuard
	}
	if guard.IsNegative() {
		return nil, fmt.Errorf("engine: trailing guard must not be negative, got %s", guard)
	}
	if cfg.MaxHold <= 0 {
		cfg.MaxHold = DefaultMaxHold
	}

	e := &Engine{
		id:            cfg.ID,
		costs:         cfg.Costs,
		rules:         cfg.Rules,
		limiter:       cfg.Limiter,
		store:         cfg.Store,
		now:           func() time.Time { return time.Now().UTC() },
		trailingGuard: guard,
		maxHold:       cfg.MaxHold,
		balance:       cfg.InitialBalance,
		initial:       cfg.InitialBalance,
		positions:     make(map[string]*model.Position),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "engine", "engine", e.id)
	e.updateGauges()
	return e, nil
}

// ID returns the engine id used to key persisted state.
func (e *Engine) ID() string {
	return e.id
}

// Load restores the last persisted state. With nothing persisted the fresh
// account is kept and Load returns nil. Positions come back verbatim: peak
// prices, exit levels and trade group ids are never recomputed.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.store.LoadState(ctx)
	if errors.Is(err, store.ErrNoState) {
		e.logger.Info("no persisted state, starting fresh", "balance", e.balance.String())
		return nil
	}
	if err != nil {
		return fmt.Errorf("engine: load state: %w", err)
	}
	if !snap.InitialBalance.IsPositive() {
		return fmt.Errorf("engine: persisted initial balance %s is not positive", snap.InitialBalance)
	}

	trades, err := e.store.LoadTrades(ctx)
	if err != nil {
		return fmt.Errorf("engine: load trades: %w", err)
	}

	e.restoreLocked(snap)
	e.trades = trades
	e.updateGauges()

	e.logger.Info("state restored",
		"balance", e.balance.String(),
		"open_positions", len(e.positions),
		"total_trades", e.totalTrades,
		"trade_log", len(trades),
	)
	return nil
}

// snapshotLocked captures the persistable state. Caller holds mu.
func (e *Engine) snapshotLocked() *model.Snapshot {
	positions := make([]model.Position, 0, len(e.positions))
	for _, p := range e.positions {
		positions = append(positions, *p)
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Symbol < positions[j].Symbol
	})

	return &model.Snapshot{
		EngineID:       e.id,
		Balance:        e.balance,
		InitialBalance: e.initial,
		Positions:      positions,
		TotalTrades:    e.totalTrades,
		WinningTrades:  e.winningTrades,
		TotalFees:      e.totalFees,
		TotalSlippage:  e.totalSlippage,
		SavedAt:        e.now(),
	}
}

// restoreLocked replaces the in-memory state with snap. Caller holds mu.
func (e *Engine) restoreLocked(snap *model.Snapshot) {
	e.balance = snap.Balance
	e.initial = snap.InitialBalance
	e.totalTrades = snap.TotalTrades
	e.winningTrades = snap.WinningTrades
	e.totalFees = snap.TotalFees
	e.totalSlippage = snap.TotalSlippage

	e.positions = make(map[string]*model.Position, len(snap.Positions))
	for i := range snap.Positions {
		p := snap.Positions[i]
		e.positions[p.Symbol] = &p
	}
}

// persistTimeout bounds the store writes of one mutation.
const persistTimeout = 15 * time.Second

// persistLocked saves the current state, then runs any follow-up writes.
// On failure the state is rolled back to prev, a compensating save of prev
// is attempted, and the returned error wraps ErrNotCommitted. Caller holds mu.
//
// The writes run detached from ctx's cancellation: once the first write has
// started, a cancelled request must not stop the rest of the mutation or its
// compensation half way.
func (e *Engine) persistLocked(ctx context.Context, op string, prev *model.Snapshot, after ...func(context.Context) error) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	err := e.store.SaveState(wctx, e.snapshotLocked())
	if err == nil {
		for _, fn := range after {
			if err = fn(wctx); err != nil {
				break
			}
		}
	}
	if err == nil {
		return nil
	}

	e.restoreLocked(prev)
	metrics.PersistFailures.WithLabelValues(e.id, op).Inc()

	cctx, ccancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer ccancel()
	if cerr := e.store.SaveState(cctx, prev); cerr != nil {
		e.logger.Error("compensating save failed", "op", op, "err", cerr)
	}
	e.logger.Error("mutation rolled back", "op", op, "err", err)
	return fmt.Errorf("%w: %s: %w", ErrNotCommitted, op, err)
}

type queuedEvent struct {
	ev    notify.Event
	audit map[string]any
}

// queueLocked records an event and an audit record for delivery once mu is
// released. Caller holds mu.
func (e *Engine) queueLocked(ev notify.Event, audit map[string]any) {
	ev.EngineID = e.id
	e.outbox = append(e.outbox, queuedEvent{ev: ev, audit: audit})
}

// unlockAndEmit releases mu, then delivers the events queued while it was
// held. Sinks therefore never run under the engine lock.
func (e *Engine) unlockAndEmit(ctx context.Context) {
	out := e.outbox
	e.outbox = nil
	e.mu.Unlock()

	for _, q := range out {
		e.emit(ctx, q.ev, q.audit)
	}
}

// emit delivers an event and an audit record. Failures are logged and
// dropped; they never affect the trade.
func (e *Engine) emit(ctx context.Context, ev notify.Event, audit map[string]any) {
	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, ev); err != nil {
			metrics.NotifyFailures.WithLabelValues("notifier").Inc()
			e.logger.Warn("notification failed", "type", ev.Type, "symbol", ev.Symbol, "err", err)
		}
	}
	if e.auditor != nil {
		if err := e.auditor.Record(ctx, ev.TradeGroupID, audit); err != nil {
			metrics.NotifyFailures.WithLabelValues("auditor").Inc()
			e.logger.Warn("audit record failed", "trade_group_id", ev.TradeGroupID, "err", err)
		}
	}
}

// updateGauges publishes balance and open-position count. Caller holds mu
// or owns e.
func (e *Engine) updateGauges() {
	metrics.OpenPositions.WithLabelValues(e.id).Set(float64(len(e.positions)))
	metrics.Balance.WithLabelValues(e.id).Set(e.balance.InexactFloat64())
}
