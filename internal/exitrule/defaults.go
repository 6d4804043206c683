package exitrule

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/paper-engine/internal/tier"
)

func rule(sl, tp, trail string) Rule {
	return Rule{
		StopLossPct:     decimal.RequireFromString(sl),
		TakeProfitPct:   decimal.RequireFromString(tp),
		TrailingStopPct: decimal.RequireFromString(trail),
	}
}

// DefaultTable returns a fresh copy of the built-in rule table.
func DefaultTable() Table {
	return Table{
		tier.Large: {
			StrategyDCA:     rule("0.06", "0.10", "0.03"),
			StrategySwing:   rule("0.04", "0.08", "0.02"),
			StrategyChannel: rule("0.03", "0.05", "0.015"),
		},
		tier.Mid: {
			StrategyDCA:     rule("0.08", "0.15", "0.04"),
			StrategySwing:   rule("0.06", "0.12", "0.03"),
			StrategyChannel: rule("0.04", "0.07", "0.02"),
		},
		tier.Small: {
			StrategyDCA:     rule("0.12", "0.25", "0.06"),
			StrategySwing:   rule("0.09", "0.18", "0.045"),
			StrategyChannel: rule("0.06", "0.10", "0.03"),
		},
	}
}
