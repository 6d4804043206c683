package tier

import "testing"

func TestClassifier_Default(t *testing.T) {
	c := Default()

	tests := []struct {
		symbol string
		want   Tier
	}{
		{"BTC", Large},
		{"btc/usd", Large},
		{"XBTUSD", Large},
		{"ETH-USDT", Large},
		{"SOL", Mid},
		{"DOGE/USD", Mid},
		{"PEPE", Small},
		{"STETH", Small},
		{"", Small},
	}
	for _, tt := range tests {
		if got := c.Of(tt.symbol); got != tt.want {
			t.Errorf("Of(%q) = %s, want %s", tt.symbol, got, tt.want)
		}
	}
}

func TestClassifier_ListedAssetNames(t *testing.T) {
	c, err := NewClassifier([]string{"BTC"}, []string{"STETH", "PEPE"})
	if err != nil {
		t.Fatalf("classifier: %v", err)
	}

	tests := []struct {
		symbol string
		want   Tier
	}{
		{"STETH", Mid},
		{"steth/usd", Mid},
		{"PEPEUSDT", Mid},
		{"ST", Small},
		{"CBETH", Small},
	}
	for _, tt := range tests {
		if got := c.Of(tt.symbol); got != tt.want {
			t.Errorf("Of(%q) = %s, want %s", tt.symbol, got, tt.want)
		}
	}
}

func TestNewClassifier_Overlap(t *testing.T) {
	_, err := NewClassifier([]string{"BTC"}, []string{"btc/usd"})
	if err == nil {
		t.Fatal("expected error for asset in both large and mid")
	}
}

func TestParse(t *testing.T) {
	if tr, err := Parse(" MID "); err != nil || tr != Mid {
		t.Errorf("Parse(MID) = %s, %v", tr, err)
	}
	if _, err := Parse("huge"); err == nil {
		t.Error("expected error for unknown tier")
	}
}
