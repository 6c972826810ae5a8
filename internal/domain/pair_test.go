package domain

import (
	"errors"
	"testing"
)

func TestParseCurrencyPair(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  CurrencyPair
	}{
		{"underscore", "BTC_USD", CurrencyPair{"BTC", "USD"}},
		{"lower case", "btc_usd", CurrencyPair{"BTC", "USD"}},
		{"slash", "DOGE/BTC", CurrencyPair{"DOGE", "BTC"}},
		{"dash", "ltc-cad", CurrencyPair{"LTC", "CAD"}},
		{"whitespace", "  eth_eur ", CurrencyPair{"ETH", "EUR"}},
		{"degenerate", "BTC_BTC", CurrencyPair{"BTC", "BTC"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCurrencyPair(tt.input)
			if err != nil {
				t.Fatalf("ParseCurrencyPair(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseCurrencyPair(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseCurrencyPair_Invalid(t *testing.T) {
	for _, input := range []string{"", "BTCUSD", "_USD", "BTC_", "BT$_USD", "BTC_US D"} {
		if _, err := ParseCurrencyPair(input); !errors.Is(err, ErrInvalidPair) {
			t.Errorf("ParseCurrencyPair(%q) error = %v, want ErrInvalidPair", input, err)
		}
	}
}

func TestCurrencyPair_Inverse(t *testing.T) {
	p := NewCurrencyPair("doge", "usd")
	inv := p.Inverse()
	if inv.String() != "USD_DOGE" {
		t.Errorf("Inverse() = %s, want USD_DOGE", inv)
	}
	if inv.Inverse() != p {
		t.Error("Inverse of inverse should be the original pair")
	}
}
