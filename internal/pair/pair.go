// Package pair normalises trading symbols so that "btc/usd", "BTC-USD" and
// "XBTUSD" key the same open position, and "BTC" and "BTC/USDT" resolve to
// the same liquidity tier.
//
// A concatenated symbol is only split when the remaining base is a known
// asset, so names such as "STETH" or "FDUSD" are kept as they are.
package pair

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Quote currencies recognised as a suffix of a concatenated pair.
var quotes = []string{"USDT", "USDC", "USD", "EUR", "BTC", "ETH"}

// Exchange-specific base aliases.
var aliases = map[string]string{
	"XBT":  "BTC",
	"XXBT": "BTC",
	"XETH": "ETH",
	"XDG":  "DOGE",
}

// Base assets a concatenated symbol may be split on, besides the aliases.
var knownBases = map[string]bool{
	"BTC": true, "ETH": true, "SOL": true, "XRP": true, "ADA": true,
	"DOT": true, "AVAX": true, "LINK": true, "MATIC": true, "LTC": true,
	"BCH": true, "ATOM": true, "UNI": true, "DOGE": true, "XLM": true,
	"TRX": true, "NEAR": true, "BNB": true, "ETC": true, "FIL": true,
}

// symbolRegex matches: BASE, BASE/QUOTE, BASE-QUOTE or BASE_QUOTE.
// Example: BTC/USD
var symbolRegex = regexp.MustCompile(`^([A-Z0-9]{2,12})(?:[/\-_:]([A-Z0-9]{2,6}))?$`)

var ErrInvalidSymbol = errors.New("pair: invalid symbol")

// Pair is a parsed trading symbol.
type Pair struct {
	Symbol string `json:"symbol"` // canonical key, e.g. "BTC/USD" or "BTC"
	Base   string `json:"base"`
	Quote  string `json:"quote,omitempty"`
}

// Parse parses and validates a symbol. A concatenated form such as
// "ETHUSDT" is split on a quote suffix when the rest is a known base.
func Parse(symbol string) (*Pair, error) {
	return ParseWith(symbol, nil)
}

// ParseWith is Parse with extra base assets, reported by known, that a
// concatenated symbol may be split on. known may be nil.
func ParseWith(symbol string, known func(base string) bool) (*Pair, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	matches := symbolRegex.FindStringSubmatch(s)
	if matches == nil {
		return nil, fmt.Errorf("%w: %q (expected BASE or BASE/QUOTE)", ErrInvalidSymbol, symbol)
	}

	base, quote := matches[1], matches[2]
	if quote == "" {
		base, quote = splitQuote(base, known)
	}
	if alias, ok := aliases[base]; ok {
		base = alias
	}

	p := &Pair{Base: base, Quote: quote, Symbol: base}
	if quote != "" {
		p.Symbol = base + "/" + quote
	}
	return p, nil
}

// Normalize returns the canonical symbol, or the upper-cased input when it
// cannot be parsed.
func Normalize(symbol string) string {
	p, err := Parse(symbol)
	if err != nil {
		return strings.ToUpper(strings.TrimSpace(symbol))
	}
	return p.Symbol
}

// Base returns the base asset of symbol.
func Base(symbol string) string {
	p, err := Parse(symbol)
	if err != nil {
		return strings.ToUpper(strings.TrimSpace(symbol))
	}
	return p.Base
}

func splitQuote(s string, known func(string) bool) (string, string) {
	for _, q := range quotes {
		if len(s) <= len(q)+1 || !strings.HasSuffix(s, q) {
			continue
		}
		base := strings.TrimSuffix(s, q)
		if _, ok := aliases[base]; ok || knownBases[base] || (known != nil && known(base)) {
			return base, q
		}
	}
	return s, ""
}
