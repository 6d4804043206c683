package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/atmx/paper-engine/internal/model"
)

const (
	stateFile  = "state.json"
	tradesFile = "trades.jsonl"
)

// FileStore implements Store with two files per engine under dir/<engineID>:
// state.json, rewritten atomically on every save, and trades.jsonl, an
// append-only log with one trade per line. Both are fsynced before a write
// returns.
type FileStore struct {
	dir    string
	logger *slog.Logger

	mu     sync.Mutex
	trades *os.File
	seen   map[string]bool
}

// NewFileStore opens (creating if needed) the files for engineID.
func NewFileStore(dir, engineID string) (*FileStore, error) {
	root := filepath.Join(dir, engineID)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("file store: create dir: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(root, tradesFile), os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("file store: open trade log: %w", err)
	}

	s := &FileStore{
		dir:    root,
		logger: slog.Default().With("component", "store", "engine", engineID),
		trades: f,
		seen:   make(map[string]bool),
	}
	existing, err := s.readTrades()
	if err != nil {
		f.Close()
		return nil, err
	}
	for _, t := range existing {
		s.seen[t.TradeGroupID] = true
	}
	return s, nil
}

func (s *FileStore) SaveState(_ context.Context, snap *model.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("file store: marshal state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, stateFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("file store: create temp: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("file store: write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("file store: sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file store: close state: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, stateFile)); err != nil {
		return fmt.Errorf("file store: replace state: %w", err)
	}
	return nil
}

func (s *FileStore) LoadState(_ context.Context) (*model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, stateFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoState
	}
	if err != nil {
		return nil, fmt.Errorf("file store: read state: %w", err)
	}

	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("file store: decode state: %w", err)
	}
	return &snap, nil
}

func (s *FileStore) AppendTrade(_ context.Context, trade *model.Trade) error {
	data, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("file store: marshal trade: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seen[trade.TradeGroupID] {
		return nil
	}
	if _, err := s.trades.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("file store: write trade: %w", err)
	}
	if err := s.trades.Sync(); err != nil {
		return fmt.Errorf("file store: sync trade log: %w", err)
	}
	s.seen[trade.TradeGroupID] = true
	return nil
}

func (s *FileStore) LoadTrades(_ context.Context) ([]model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readTrades()
}

// Close closes the trade log.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trades.Close()
}

// readTrades scans the log from the start. A final line without its newline
// is the remains of an append cut short by a crash: it is dropped when it
// does not decode, and terminated when it does. Corruption anywhere else is
// an error. Caller holds mu (or owns s).
func (s *FileStore) readTrades() ([]model.Trade, error) {
	if _, err := s.trades.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("file store: seek trade log: %w", err)
	}

	var trades []model.Trade
	r := bufio.NewReaderSize(s.trades, 64*1024)
	var offset int64
	for lineNum := 1; ; lineNum++ {
		line, err := r.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("file store: scan trade log: %w", err)
		}
		complete := err == nil

		if body := bytes.TrimSpace(line); len(body) > 0 {
			var t model.Trade
			if derr := json.Unmarshal(body, &t); derr != nil {
				if complete {
					return nil, fmt.Errorf("file store: decode trade line %d: %w", lineNum, derr)
				}
				if terr := s.trades.Truncate(offset); terr != nil {
					return nil, fmt.Errorf("file store: truncate torn trade line %d: %w", lineNum, terr)
				}
				s.logger.Warn("dropped torn trade log line", "line", lineNum, "bytes", len(line), "err", derr)
				break
			}
			trades = append(trades, t)
			if !complete {
				if _, werr := s.trades.Write([]byte{'\n'}); werr != nil {
					return nil, fmt.Errorf("file store: terminate trade line %d: %w", lineNum, werr)
				}
			}
		}
		offset += int64(len(line))
		if !complete {
			break
		}
	}

	if _, err := s.trades.Seek(0, io.SeekEnd); err != nil {
		return nil, fmt.Errorf("file store: seek trade log: %w", err)
	}
	return trades, nil
}
