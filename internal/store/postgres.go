package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/paper-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// The snapshot is kept as one JSONB document per engine; closed trades are
// rows with NUMERIC columns for exact decimal precision.
type PostgresStore struct {
	pool     *pgxpool.Pool
	engineID string
}

// NewPostgresStore creates a new PostgreSQL-backed store for one engine.
func NewPostgresStore(pool *pgxpool.Pool, engineID string) *PostgresStore {
	return &PostgresStore{pool: pool, engineID: engineID}
}

const schema = `
CREATE TABLE IF NOT EXISTS engine_state (
	engine_id TEXT PRIMARY KEY,
	snapshot  JSONB NOT NULL,
	saved_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS paper_trades (
	seq               BIGSERIAL,
	trade_group_id    TEXT PRIMARY KEY,
	engine_id         TEXT NOT NULL,
	symbol            TEXT NOT NULL,
	strategy          TEXT NOT NULL,
	tier              TEXT NOT NULL,
	entry_price       NUMERIC NOT NULL,
	exit_price        NUMERIC NOT NULL,
	amount            NUMERIC NOT NULL,
	usd_value         NUMERIC NOT NULL,
	entry_time        TIMESTAMPTZ NOT NULL,
	exit_time         TIMESTAMPTZ NOT NULL,
	stop_loss         NUMERIC NOT NULL,
	take_profit       NUMERIC NOT NULL,
	trailing_stop_pct NUMERIC NOT NULL,
	highest_price     NUMERIC NOT NULL,
	entry_fee         NUMERIC NOT NULL,
	exit_fee          NUMERIC NOT NULL,
	pnl_usd           NUMERIC NOT NULL,
	pnl_percent       NUMERIC NOT NULL,
	exit_reason       TEXT NOT NULL,
	confidence        DOUBLE PRECISION
);

CREATE INDEX IF NOT EXISTS paper_trades_engine_seq ON paper_trades (engine_id, seq);
`

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveState(ctx context.Context, snap *model.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO engine_state (engine_id, snapshot, saved_at)
		 VALUES ($1, $2::JSONB, $3)
		 ON CONFLICT (engine_id) DO UPDATE
		 SET snapshot = EXCLUDED.snapshot, saved_at = EXCLUDED.saved_at`,
		s.engineID, string(data), snap.SavedAt,
	)
	if err != nil {
		return fmt.Errorf("save state %s: %w", s.engineID, err)
	}
	return nil
}

func (s *PostgresStore) LoadState(ctx context.Context) (*model.Snapshot, error) {
	var data string
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot::TEXT FROM engine_state WHERE engine_id = $1`, s.engineID).
		Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoState
	}
	if err != nil {
		return nil, fmt.Errorf("load state %s: %w", s.engineID, err)
	}

	var snap model.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", s.engineID, err)
	}
	return &snap, nil
}

func (s *PostgresStore) AppendTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO paper_trades (
			trade_group_id, engine_id, symbol, strategy, tier,
			entry_price, exit_price, amount, usd_value,
			entry_time, exit_time,
			stop_loss, take_profit, trailing_stop_pct, highest_price,
			entry_fee, exit_fee, pnl_usd, pnl_percent,
			exit_reason, confidence)
		 VALUES ($1, $2, $3, $4, $5,
		         $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC,
		         $10, $11,
		         $12::NUMERIC, $13::NUMERIC, $14::NUMERIC, $15::NUMERIC,
		         $16::NUMERIC, $17::NUMERIC, $18::NUMERIC, $19::NUMERIC,
		         $20, $21)
		 ON CONFLICT (trade_group_id) DO NOTHING`,
		t.TradeGroupID, s.engineID, t.Symbol, t.Strategy, t.Tier,
		t.EntryPrice.String(), t.ExitPrice.String(), t.Amount.String(), t.USDValue.String(),
		t.EntryTime, t.ExitTime,
		t.StopLoss.String(), t.TakeProfit.String(), t.TrailingStopPct.String(), t.HighestPrice.String(),
		t.EntryFee.String(), t.ExitFee.String(), t.PnLUSD.String(), t.PnLPercent.String(),
		string(t.ExitReason), t.Confidence,
	)
	if err != nil {
		return fmt.Errorf("append trade %s: %w", t.TradeGroupID, err)
	}
	return nil
}

func (s *PostgresStore) LoadTrades(ctx context.Context) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT trade_group_id, symbol, strategy, tier,
		        entry_price::TEXT, exit_price::TEXT, amount::TEXT, usd_value::TEXT,
		        entry_time, exit_time,
		        stop_loss::TEXT, take_profit::TEXT, trailing_stop_pct::TEXT, highest_price::TEXT,
		        entry_fee::TEXT, exit_fee::TEXT, pnl_usd::TEXT, pnl_percent::TEXT,
		        exit_reason, confidence
		 FROM paper_trades WHERE engine_id = $1 ORDER BY seq`, s.engineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

// pgxRows is the subset of pgx.Rows used by scanTrades.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanTrades(rows pgxRows) ([]model.Trade, error) {
	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var reason string
		var nums [12]string

		if err := rows.Scan(&t.TradeGroupID, &t.Symbol, &t.Strategy, &t.Tier,
			&nums[0], &nums[1], &nums[2], &nums[3],
			&t.EntryTime, &t.ExitTime,
			&nums[4], &nums[5], &nums[6], &nums[7],
			&nums[8], &nums[9], &nums[10], &nums[11],
			&reason, &t.Confidence); err != nil {
			return nil, err
		}

		dst := []*decimal.Decimal{
			&t.EntryPrice, &t.ExitPrice, &t.Amount, &t.USDValue,
			&t.StopLoss, &t.TakeProfit, &t.TrailingStopPct, &t.HighestPrice,
			&t.EntryFee, &t.ExitFee, &t.PnLUSD, &t.PnLPercent,
		}
		for i, p := range dst {
			v, err := decimal.NewFromString(nums[i])
			if err != nil {
				return nil, fmt.Errorf("trade %s: column %d: %w", t.TradeGroupID, i, err)
			}
			*p = v
		}
		t.ExitReason = model.ExitReason(reason)

		trades = append(trades, t)
	}
	return trades, rows.Err()
}
