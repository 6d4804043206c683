// Package api provides the HTTP handlers for driving a paper engine:
// opening and closing positions, feeding price ticks, and querying the
// account.
//
// All monetary values use shopspring/decimal and are encoded as JSON strings.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/paper-engine/internal/engine"
	"github.com/atmx/paper-engine/internal/model"
)

// Service exposes one engine over HTTP. The engine serializes mutations
// itself, so handlers hold no locks.
type Service struct {
	engine *engine.Engine
	logger *slog.Logger
}

// NewService creates a new API service. A nil logger uses slog.Default().
func NewService(eng *engine.Engine, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		engine: eng,
		logger: logger.With("component", "api"),
	}
}

// Routes registers the handlers on r. Mount it under /api/v1.
func (s *Service) Routes(r chi.Router) {
	r.Get("/stats", s.GetStats)
	r.Get("/positions", s.ListPositions)
	r.Post("/positions", s.OpenPosition)
	r.Post("/positions/{symbol}/close", s.ClosePosition)
	r.Post("/tick", s.Tick)
	r.Post("/valuation", s.Valuation)
	r.Get("/trades", s.ListTrades)
}

// --- Request/Response types ---

// OpenPositionRequest is the JSON body for POST /positions.
type OpenPositionRequest struct {
	Symbol        string           `json:"symbol"`   // "BTC", "ETH/USD", "SOL-USDT"
	Strategy      string           `json:"strategy"` // dca, swing or channel; others resolve as dca
	USDAmount     decimal.Decimal  `json:"usd_amount"`
	MarketPrice   decimal.Decimal  `json:"market_price"`
	StopLossPct   *decimal.Decimal `json:"stop_loss_pct,omitempty"`   // fraction; overrides the rule table
	TakeProfitPct *decimal.Decimal `json:"take_profit_pct,omitempty"` // fraction; overrides the rule table
	Confidence    *float64         `json:"confidence,omitempty"`
}

// ClosePositionRequest is the JSON body for POST /positions/{symbol}/close.
type ClosePositionRequest struct {
	Price  decimal.Decimal `json:"price"`
	Reason string          `json:"reason,omitempty"` // defaults to manual
}

// TickRequest is the JSON body for POST /tick.
type TickRequest struct {
	Prices  map[string]decimal.Decimal `json:"prices"`
	MaxHold string                     `json:"max_hold,omitempty"` // Go duration; empty uses the engine default
}

// TickResponse is the JSON body returned from POST /tick.
type TickResponse struct {
	Closed []model.Trade        `json:"closed"`
	Stats  model.PortfolioStats `json:"stats"`
}

// ValuationRequest is the JSON body for POST /valuation.
type ValuationRequest struct {
	Prices map[string]decimal.Decimal `json:"prices"`
}

// --- HTTP Handlers ---

// GetStats handles GET /api/v1/stats
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats())
}

// ListPositions handles GET /api/v1/positions
// Returns the open positions sorted by symbol.
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Positions())
}

// ListTrades handles GET /api/v1/trades
// Returns the closed-trade log, optionally filtered by ?strategy=<tag>.
func (s *Service) ListTrades(w http.ResponseWriter, r *http.Request) {
	trades := s.engine.Trades()

	if strategy := r.URL.Query().Get("strategy"); strategy != "" {
		filtered := []model.Trade{}
		for _, t := range trades {
			if strings.EqualFold(t.Strategy, strategy) {
				filtered = append(filtered, t)
			}
		}
		trades = filtered
	}

	writeJSON(w, http.StatusOK, trades)
}

// OpenPosition handles POST /api/v1/positions
func (s *Service) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var req OpenPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	pos, err := s.engine.OpenPosition(r.Context(), engine.OpenRequest{
		Symbol:        req.Symbol,
		Strategy:      req.Strategy,
		USDAmount:     req.USDAmount,
		MarketPrice:   req.MarketPrice,
		StopLossPct:   req.StopLossPct,
		TakeProfitPct: req.TakeProfitPct,
		Confidence:    req.Confidence,
	})
	if err != nil {
		s.fail(w, "open position", err)
		return
	}

	writeJSON(w, http.StatusCreated, pos)
}

// ClosePosition handles POST /api/v1/positions/{symbol}/close
// The symbol may be URL-escaped ("BTC%2FUSD") or use a dash ("BTC-USD").
func (s *Service) ClosePosition(w http.ResponseWriter, r *http.Request) {
	symbol, err := url.PathUnescape(chi.URLParam(r, "symbol"))
	if err != nil {
		writeError(w, "invalid symbol", http.StatusBadRequest)
		return
	}

	var req ClosePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	reason := model.ExitManual
	if req.Reason != "" {
		reason, err = model.ParseExitReason(req.Reason)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	trade, err := s.engine.ClosePosition(r.Context(), symbol, req.Price, reason)
	if err != nil {
		s.fail(w, "close position", err)
		return
	}

	writeJSON(w, http.StatusOK, trade)
}

// Tick handles POST /api/v1/tick
// Evaluates every open position against the price snapshot and returns the
// trades it closed. On a store failure the response carries both the error
// and the trades that were committed before it.
func (s *Service) Tick(w http.ResponseWriter, r *http.Request) {
	var req TickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var maxHold time.Duration
	if req.MaxHold != "" {
		d, err := time.ParseDuration(req.MaxHold)
		if err != nil || d <= 0 {
			writeError(w, "max_hold must be a positive duration", http.StatusBadRequest)
			return
		}
		maxHold = d
	}

	closed, err := s.engine.Evaluate(r.Context(), req.Prices, maxHold)
	if closed == nil {
		closed = []model.Trade{}
	}
	if err != nil {
		s.logger.Error("tick failed", "err", err, "closed", len(closed))
		writeJSON(w, statusFor(err), map[string]any{
			"error":  err.Error(),
			"closed": closed,
		})
		return
	}

	writeJSON(w, http.StatusOK, TickResponse{
		Closed: closed,
		Stats:  s.engine.Stats(),
	})
}

// Valuation handles POST /api/v1/valuation
// Marks open positions to the supplied prices without changing state.
func (s *Service) Valuation(w http.ResponseWriter, r *http.Request) {
	var req ValuationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Unrealized(req.Prices))
}

// --- Helpers ---

// fail logs server-side failures and writes the mapped error response.
func (s *Service) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", "err", err)
	}
	writeError(w, err.Error(), status)
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidOrder):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNoSuchPosition):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrPositionExists),
		errors.Is(err, engine.ErrMaxPositionsReached),
		errors.Is(err, engine.ErrMaxStrategyPositionsReached),
		errors.Is(err, engine.ErrPositionTooLarge),
		errors.Is(err, engine.ErrInsufficientBalance):
		return http.StatusConflict
	case errors.Is(err, engine.ErrNotCommitted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
