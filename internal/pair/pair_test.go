package pair

import (
	"errors"
	"testing"
)

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		in     string
		symbol string
		base   string
		quote  string
	}{
		{"BTC", "BTC", "BTC", ""},
		{"btc", "BTC", "BTC", ""},
		{"BTC/USD", "BTC/USD", "BTC", "USD"},
		{"eth-usdt", "ETH/USDT", "ETH", "USDT"},
		{"SOL_USDC", "SOL/USDC", "SOL", "USDC"},
		{"XBTUSD", "BTC/USD", "BTC", "USD"},
		{"ETHBTC", "ETH/BTC", "ETH", "BTC"},
		{" dotusd ", "DOT/USD", "DOT", "USD"},
		{"XDG/EUR", "DOGE/EUR", "DOGE", "EUR"},
		// Suffixes that belong to the asset name are not split.
		{"STETH", "STETH", "STETH", ""},
		{"cbeth", "CBETH", "CBETH", ""},
		{"FDUSD", "FDUSD", "FDUSD", ""},
		{"PYUSD", "PYUSD", "PYUSD", ""},
		{"RENBTC", "RENBTC", "RENBTC", ""},
		{"STETH/USD", "STETH/USD", "STETH", "USD"},
	}
	for _, tt := range tests {
		p, err := Parse(tt.in)
		if err != nil {
			t.Errorf("Parse(%q): unexpected error: %v", tt.in, err)
			continue
		}
		if p.Symbol != tt.symbol || p.Base != tt.base || p.Quote != tt.quote {
			t.Errorf("Parse(%q) = %+v, want symbol=%s base=%s quote=%s",
				tt.in, *p, tt.symbol, tt.base, tt.quote)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []string{
		"",
		"B",
		"BTC/",
		"BTC//USD",
		"BTC USD",
		"$$$",
	}
	for _, in := range tests {
		_, err := Parse(in)
		if !errors.Is(err, ErrInvalidSymbol) {
			t.Errorf("Parse(%q): expected ErrInvalidSymbol, got %v", in, err)
		}
	}
}

func TestNormalize_FallsBackToUpper(t *testing.T) {
	if got := Normalize("weird symbol"); got != "WEIRD SYMBOL" {
		t.Errorf("expected upper-cased fallback, got %q", got)
	}
	if got := Base("xbt/usd"); got != "BTC" {
		t.Errorf("expected base BTC, got %q", got)
	}
}

func TestParseWith_ExtraBases(t *testing.T) {
	known := func(base string) bool { return base == "PEPE" }

	p, err := ParseWith("pepeusdt", known)
	if err != nil {
		t.Fatalf("ParseWith: %v", err)
	}
	if p.Symbol != "PEPE/USDT" || p.Base != "PEPE" {
		t.Errorf("ParseWith(pepeusdt) = %+v", *p)
	}

	if got := Normalize("PEPEUSDT"); got != "PEPEUSDT" {
		t.Errorf("unknown base must be kept verbatim, got %q", got)
	}
}
