package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/paper-engine/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sampleSnapshot() *model.Snapshot {
	conf := 0.72
	return &model.Snapshot{
		EngineID:       "test",
		Balance:        d("8997.4"),
		InitialBalance: d("10000"),
		Positions: []model.Position{{
			Symbol:          "BTC",
			Strategy:        "dca",
			Tier:            "large",
			EntryPrice:      d("50040"),
			Amount:          d("0.0199840127897682"),
			USDValue:        d("1000"),
			EntryTime:       time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
			StopLoss:        d("47037.6"),
			TakeProfit:      d("55044"),
			TrailingStopPct: d("0.03"),
			HighestPrice:    d("51234.5678"),
			FeesPaid:        d("2.6"),
			TradeGroupID:    "tg-1",
			Confidence:      &conf,
		}},
		TotalTrades:   3,
		WinningTrades: 2,
		TotalFees:     d("12.345678901234"),
		TotalSlippage: d("2000000"),
		SavedAt:       time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC),
	}
}

func sampleTrade(id string) *model.Trade {
	return &model.Trade{
		Symbol:          "ETH",
		Strategy:        "swing",
		Tier:            "large",
		EntryPrice:      d("3002.4"),
		ExitPrice:       d("3297.36"),
		Amount:          d("0.3330668798294698"),
		USDValue:        d("1000"),
		EntryTime:       time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		ExitTime:        time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC),
		StopLoss:        d("2882.304"),
		TakeProfit:      d("3242.592"),
		TrailingStopPct: d("0.02"),
		HighestPrice:    d("3297.36"),
		EntryFee:        d("2.6"),
		ExitFee:         d("2.855"),
		PnLUSD:          d("92.7"),
		PnLPercent:      d("9.27"),
		ExitReason:      model.ExitTakeProfit,
		TradeGroupID:    id,
	}
}

func assertSnapshotEqual(t *testing.T, want, got *model.Snapshot) {
	t.Helper()
	if !got.Balance.Equal(want.Balance) || !got.InitialBalance.Equal(want.InitialBalance) {
		t.Errorf("balance mismatch: want %s/%s got %s/%s",
			want.Balance, want.InitialBalance, got.Balance, got.InitialBalance)
	}
	if got.TotalTrades != want.TotalTrades || got.WinningTrades != want.WinningTrades {
		t.Errorf("counter mismatch: want %d/%d got %d/%d",
			want.TotalTrades, want.WinningTrades, got.TotalTrades, got.WinningTrades)
	}
	if !got.TotalFees.Equal(want.TotalFees) || !got.TotalSlippage.Equal(want.TotalSlippage) {
		t.Errorf("totals mismatch: got fees=%s slippage=%s", got.TotalFees, got.TotalSlippage)
	}
	if len(got.Positions) != len(want.Positions) {
		t.Fatalf("expected %d positions, got %d", len(want.Positions), len(got.Positions))
	}
	for i := range want.Positions {
		w, g := want.Positions[i], got.Positions[i]
		if g.TradeGroupID != w.TradeGroupID || !g.HighestPrice.Equal(w.HighestPrice) ||
			!g.StopLoss.Equal(w.StopLoss) || !g.TakeProfit.Equal(w.TakeProfit) ||
			!g.Amount.Equal(w.Amount) || !g.EntryTime.Equal(w.EntryTime) {
			t.Errorf("position %d mismatch:\nwant %+v\ngot  %+v", i, w, g)
		}
		if (w.Confidence == nil) != (g.Confidence == nil) ||
			(w.Confidence != nil && *w.Confidence != *g.Confidence) {
			t.Errorf("position %d confidence mismatch", i)
		}
	}
}

// --- MemoryStore ---

func TestMemoryStore_NoState(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.LoadState(context.Background()); !errors.Is(err, ErrNoState) {
		t.Errorf("expected ErrNoState, got %v", err)
	}
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	snap := sampleSnapshot()

	if err := s.SaveState(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Mutating the caller's copy must not leak into the store.
	snap.Positions[0].HighestPrice = d("1")

	got, err := s.LoadState(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	assertSnapshotEqual(t, sampleSnapshot(), got)
}

func TestMemoryStore_AppendTradeIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := 0; i < 3; i++ {
		if err := s.AppendTrade(ctx, sampleTrade("tg-1")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	s.AppendTrade(ctx, sampleTrade("tg-2"))

	trades, _ := s.LoadTrades(ctx)
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if trades[0].TradeGroupID != "tg-1" || trades[1].TradeGroupID != "tg-2" {
		t.Errorf("trades out of order: %s, %s", trades[0].TradeGroupID, trades[1].TradeGroupID)
	}
}

func TestMemoryStore_Fail(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	boom := errors.New("disk on fire")
	s.SetFail(boom)

	if err := s.SaveState(ctx, sampleSnapshot()); !errors.Is(err, boom) {
		t.Errorf("expected injected error, got %v", err)
	}
	if err := s.AppendTrade(ctx, sampleTrade("x")); !errors.Is(err, boom) {
		t.Errorf("expected injected error, got %v", err)
	}

	s.SetFail(nil)
	if err := s.SaveState(ctx, sampleSnapshot()); err != nil {
		t.Errorf("expected recovery, got %v", err)
	}
}

// --- FileStore ---

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewFileStore(dir, "paper")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.LoadState(ctx); !errors.Is(err, ErrNoState) {
		t.Errorf("expected ErrNoState on fresh dir, got %v", err)
	}

	if err := s.SaveState(ctx, sampleSnapshot()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.AppendTrade(ctx, sampleTrade("tg-1")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen as a restarted process would.
	s2, err := NewFileStore(dir, "paper")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.LoadState(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	assertSnapshotEqual(t, sampleSnapshot(), got)

	// Appending the same trade after restart is still a no-op.
	if err := s2.AppendTrade(ctx, sampleTrade("tg-1")); err != nil {
		t.Fatalf("append: %v", err)
	}
	s2.AppendTrade(ctx, sampleTrade("tg-2"))

	trades, err := s2.LoadTrades(ctx)
	if err != nil {
		t.Fatalf("load trades: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	want := sampleTrade("tg-1")
	if !trades[0].PnLUSD.Equal(want.PnLUSD) || !trades[0].Amount.Equal(want.Amount) ||
		trades[0].ExitReason != want.ExitReason {
		t.Errorf("trade did not round-trip: %+v", trades[0])
	}
}

func TestFileStore_NoTempFilesLeft(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewFileStore(dir, "paper")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	for i := 0; i < 5; i++ {
		if err := s.SaveState(ctx, sampleSnapshot()); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	entries, _ := os.ReadDir(filepath.Join(dir, "paper"))
	for _, e := range entries {
		if e.Name() != stateFile && e.Name() != tradesFile {
			t.Errorf("unexpected file left behind: %s", e.Name())
		}
	}
}

func TestFileStore_CorruptTradeLog(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "paper")
	os.MkdirAll(root, 0o755)
	os.WriteFile(filepath.Join(root, tradesFile), []byte("{not json}\n"), 0o644)

	if _, err := NewFileStore(dir, "paper"); err == nil {
		t.Error("expected error for corrupt trade log")
	}
}

func TestFileStore_TornFinalLineDropped(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "paper")
	os.MkdirAll(root, 0o755)

	first, _ := json.Marshal(sampleTrade("tg-1"))
	first = append(first, '\n')
	path := filepath.Join(root, tradesFile)
	os.WriteFile(path, append(append([]byte{}, first...), []byte(`{"symbol":"ETH","strat`)...), 0o644)

	s, err := NewFileStore(dir, "paper")
	if err != nil {
		t.Fatalf("open after torn append: %v", err)
	}
	defer s.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != int64(len(first)) {
		t.Errorf("torn line not truncated: size %d, want %d", info.Size(), len(first))
	}

	ctx := context.Background()
	if err := s.AppendTrade(ctx, sampleTrade("tg-2")); err != nil {
		t.Fatalf("append: %v", err)
	}
	trades, err := s.LoadTrades(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(trades) != 2 || trades[0].TradeGroupID != "tg-1" || trades[1].TradeGroupID != "tg-2" {
		t.Errorf("unexpected trade log: %+v", trades)
	}
}

func TestFileStore_UnterminatedFinalLineKept(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "paper")
	os.MkdirAll(root, 0o755)

	line, _ := json.Marshal(sampleTrade("tg-1"))
	os.WriteFile(filepath.Join(root, tradesFile), line, 0o644)

	s, err := NewFileStore(dir, "paper")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.AppendTrade(ctx, sampleTrade("tg-2")); err != nil {
		t.Fatalf("append: %v", err)
	}
	trades, err := s.LoadTrades(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(trades) != 2 || trades[1].TradeGroupID != "tg-2" {
		t.Errorf("unexpected trade log: %+v", trades)
	}
}

func TestFileStore_CorruptMiddleLineStillFails(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "paper")
	os.MkdirAll(root, 0o755)

	good, _ := json.Marshal(sampleTrade("tg-1"))
	body := append([]byte("{\"symbol\":\"ETH\",\"strat\n"), good...)
	os.WriteFile(filepath.Join(root, tradesFile), append(body, '\n'), 0o644)

	if _, err := NewFileStore(dir, "paper"); err == nil {
		t.Error("expected error for a corrupt line before the end of the log")
	}
}
