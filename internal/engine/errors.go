package engine

import (
	"errors"

	"github.com/atmx/paper-engine/internal/limits"
)

// Open-position precedence failures. They carry no side effects.
var (
	ErrPositionExists              = limits.ErrPositionExists
	ErrMaxPositionsReached         = limits.ErrMaxPositionsReached
	ErrMaxStrategyPositionsReached = limits.ErrMaxStrategyPositionsReached
	ErrPositionTooLarge            = limits.ErrPositionTooLarge
	ErrInsufficientBalance         = limits.ErrInsufficientBalance
)

var (
	// ErrNoSuchPosition is returned when closing a symbol with no open position.
	ErrNoSuchPosition = errors.New("engine: no open position for symbol")

	// ErrInvalidOrder is returned for malformed requests: empty symbol,
	// non-positive amount or price, out-of-range overrides, unknown reason.
	ErrInvalidOrder = errors.New("engine: invalid order")

	// ErrNotCommitted wraps a store failure. The in-memory mutation was rolled
	// back and the caller must treat the operation as not having happened.
	ErrNotCommitted = errors.New("engine: mutation not committed")
)

// rejectReason maps a precondition error to a metrics label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrPositionExists):
		return "position_exists"
	case errors.Is(err, ErrMaxPositionsReached):
		return "max_positions"
	case errors.Is(err, ErrMaxStrategyPositionsReached):
		return "max_strategy_positions"
	case errors.Is(err, ErrPositionTooLarge):
		return "too_large"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrInvalidOrder):
		return "invalid"
	default:
		return "other"
	}
}
