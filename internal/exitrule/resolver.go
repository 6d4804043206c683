// Package exitrule resolves the stop-loss, take-profit and trailing-stop
// percentages attached to a new position. Rules are looked up by liquidity
// tier × strategy; lower-liquidity tiers get wider exits.
package exitrule

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/atmx/paper-engine/internal/tier"
)

// Strategy tags with their own rule columns. Anything else resolves as DCA.
const (
	StrategyDCA     = "dca"
	StrategySwing   = "swing"
	StrategyChannel = "channel"
)

// Strategies lists the strategies that own a rule column.
var Strategies = []string{StrategyDCA, StrategySwing, StrategyChannel}

var (
	ErrInvalidStopLoss     = errors.New("exitrule: stop loss pct must be in (0, 1)")
	ErrInvalidTakeProfit   = errors.New("exitrule: take profit pct must be positive")
	ErrInvalidTrailingStop = errors.New("exitrule: trailing stop pct must be in (0, 1)")
)

// Rule is a set of exit percentages expressed as fractions (0.06 = 6%).
type Rule struct {
	StopLossPct     decimal.Decimal `json:"stop_loss_pct"`
	TakeProfitPct   decimal.Decimal `json:"take_profit_pct"`
	TrailingStopPct decimal.Decimal `json:"trailing_stop_pct"`
}

// Validate checks that the rule keeps stop_loss < entry < take_profit for a
// long position and that the trailing stop is a proper fraction.
func (r Rule) Validate() error {
	one := decimal.NewFromInt(1)
	if !r.StopLossPct.IsPositive() || r.StopLossPct.GreaterThanOrEqual(one) {
		return ErrInvalidStopLoss
	}
	if !r.TakeProfitPct.IsPositive() {
		return ErrInvalidTakeProfit
	}
	if !r.TrailingStopPct.IsPositive() || r.TrailingStopPct.GreaterThanOrEqual(one) {
		return ErrInvalidTrailingStop
	}
	return nil
}

// Override is a partial rule from configuration. Nil fields keep the default.
type Override struct {
	StopLossPct     *decimal.Decimal
	TakeProfitPct   *decimal.Decimal
	TrailingStopPct *decimal.Decimal
}

func (o Override) apply(r Rule) Rule {
	if o.StopLossPct != nil {
		r.StopLossPct = *o.StopLossPct
	}
	if o.TakeProfitPct != nil {
		r.TakeProfitPct = *o.TakeProfitPct
	}
	if o.TrailingStopPct != nil {
		r.TrailingStopPct = *o.TrailingStopPct
	}
	return r
}

// Table maps tier → strategy → rule.
type Table map[tier.Tier]map[string]Rule

// Overrides maps tier → strategy → partial rule.
type Overrides map[tier.Tier]map[string]Override

// Resolver holds a complete, validated rule table. It is immutable after
// construction and safe for concurrent use.
type Resolver struct {
	tiers *tier.Classifier
	table Table
}

// NewResolver merges overrides over DefaultTable and validates every cell.
// Unknown tiers or strategies in overrides are rejected rather than ignored.
func NewResolver(tiers *tier.Classifier, overrides Overrides) (*Resolver, error) {
	table := DefaultTable()
	for t, byStrategy := range overrides {
		column, ok := table[t]
		if !ok {
			return nil, fmt.Errorf("exitrule: unknown tier %q", t)
		}
		for s, o := range byStrategy {
			key := strings.ToLower(s)
			base, ok := column[key]
			if !ok {
				return nil, fmt.Errorf("exitrule: unknown strategy %q for tier %s", s, t)
			}
			column[key] = o.apply(base)
		}
	}

	for _, t := range tier.All {
		for _, s := range Strategies {
			if err := table[t][s].Validate(); err != nil {
				return nil, fmt.Errorf("%s/%s: %w", t, s, err)
			}
		}
	}

	if tiers == nil {
		tiers = tier.Default()
	}
	return &Resolver{tiers: tiers, table: table}, nil
}

// Resolve returns the exit rule for a symbol traded by strategy.
func (r *Resolver) Resolve(symbol, strategy string) Rule {
	return r.ResolveTier(r.tiers.Of(symbol), strategy)
}

// ResolveTier returns the rule for a tier and strategy.
func (r *Resolver) ResolveTier(t tier.Tier, strategy string) Rule {
	column, ok := r.table[t]
	if !ok {
		column = r.table[tier.Small]
	}
	return column[NormalizeStrategy(strategy)]
}

// NormalizeStrategy lower-cases a strategy tag and maps unknown tags to DCA.
func NormalizeStrategy(strategy string) string {
	s := strings.ToLower(strings.TrimSpace(strategy))
	for _, known := range Strategies {
		if s == known {
			return s
		}
	}
	return StrategyDCA
}
