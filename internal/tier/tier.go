// Package tier classifies assets into liquidity tiers. The tier selects both
// the slippage rate of a fill and the width of a position's exit rules.
package tier

import (
	"fmt"
	"strings"

	"github.com/atmx/paper-engine/internal/pair"
)

// Tier is a liquidity/market-cap classification.
type Tier string

const (
	Large Tier = "large"
	Mid   Tier = "mid"
	Small Tier = "small"
)

// All lists the tiers from most to least liquid.
var All = []Tier{Large, Mid, Small}

// Parse validates a tier name.
func Parse(s string) (Tier, error) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(s))); t {
	case Large, Mid, Small:
		return t, nil
	default:
		return "", fmt.Errorf("tier: unknown tier %q", s)
	}
}

// DefaultLarge and DefaultMid are the built-in membership lists.
var (
	DefaultLarge = []string{"BTC", "ETH"}
	DefaultMid   = []string{
		"SOL", "XRP", "ADA", "DOT", "AVAX", "LINK", "MATIC", "LTC",
		"BCH", "ATOM", "UNI", "DOGE", "XLM", "TRX", "NEAR",
	}
)

// Classifier maps base assets to tiers by static membership. It is
// immutable after construction and safe for concurrent use.
type Classifier struct {
	members map[string]Tier
}

// NewClassifier builds a classifier from the large and mid membership lists.
// Anything not listed is Small. An asset listed in both is an error.
func NewClassifier(large, mid []string) (*Classifier, error) {
	c := &Classifier{members: make(map[string]Tier, len(large)+len(mid))}
	for _, s := range large {
		c.members[pair.Base(s)] = Large
	}
	for _, s := range mid {
		base := pair.Base(s)
		if c.members[base] == Large {
			return nil, fmt.Errorf("tier: %s listed as both large and mid", base)
		}
		c.members[base] = Mid
	}
	return c, nil
}

// Default returns a classifier over the built-in lists.
func Default() *Classifier {
	c, _ := NewClassifier(DefaultLarge, DefaultMid)
	return c
}

// Of returns the tier of symbol. A concatenated symbol such as "FOOUSD" is
// split when its base is a listed member.
func (c *Classifier) Of(symbol string) Tier {
	p, err := pair.ParseWith(symbol, func(base string) bool {
		_, ok := c.members[base]
		return ok
	})
	if err != nil {
		return Small
	}
	if t, ok := c.members[p.Base]; ok {
		return t
	}
	return Small
}
