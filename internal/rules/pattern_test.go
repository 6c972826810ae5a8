package rules

import (
	"testing"
)

func TestPattern_Shape(t *testing.T) {
	tests := []struct {
		pattern         string
		wantShape       Shape
		wantSpecificity int
	}{
		{"BTC_USD", ExactExact, 2},
		{"BTC_X", ExactWildcard, 1},
		{"X_USD", WildcardExact, 1},
		{"X_X", WildcardWildcard, 0},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			shape := Pattern(pair(tt.pattern)).Shape()
			if shape != tt.wantShape {
				t.Errorf("Shape() = %v, want %v", shape, tt.wantShape)
			}
			if got := shape.Specificity(); got != tt.wantSpecificity {
				t.Errorf("Specificity() = %d, want %d", got, tt.wantSpecificity)
			}
		})
	}

	if ExactWildcard.Specificity() != WildcardExact.Specificity() {
		t.Error("one wildcard on either side should rank the same")
	}
}

func TestSelectRule(t *testing.T) {
	tests := []struct {
		name        string
		rules       []string
		query       string
		wantOK      bool
		wantIndex   int
		wantPair    string
		wantInverse bool
	}{
		{
			name:      "equal specificity goes to the first declared (base first)",
			rules:     []string{"BTC_X = bitstamp(BTC_X)", "X_USD = kraken(X_USD)"},
			query:     "BTC_USD",
			wantOK:    true,
			wantIndex: 0,
			wantPair:  "BTC_USD",
		},
		{
			name:      "equal specificity goes to the first declared (quote first)",
			rules:     []string{"X_USD = kraken(X_USD)", "BTC_X = bitstamp(BTC_X)"},
			query:     "BTC_USD",
			wantOK:    true,
			wantIndex: 0,
			wantPair:  "BTC_USD",
		},
		{
			name:      "exact pattern wins whatever its position",
			rules:     []string{"X_X = coinaverage(X_X)", "BTC_X = bitstamp(BTC_X)", "BTC_USD = gdax(BTC_USD)"},
			query:     "BTC_USD",
			wantOK:    true,
			wantIndex: 2,
			wantPair:  "BTC_USD",
		},
		{
			name:      "one wildcard beats two",
			rules:     []string{"X_X = coinaverage(X_X)", "X_USD = kraken(X_USD)"},
			query:     "BTC_USD",
			wantOK:    true,
			wantIndex: 1,
			wantPair:  "BTC_USD",
		},
		{
			name:      "direct X_X beats an exact inverse match",
			rules:     []string{"USD_BTC = kraken(USD_BTC)", "X_X = coinaverage(X_X)"},
			query:     "BTC_USD",
			wantOK:    true,
			wantIndex: 1,
			wantPair:  "BTC_USD",
		},
		{
			name:        "inverse used when nothing matches directly",
			rules:       []string{"USD_BTC = kraken(USD_BTC)"},
			query:       "BTC_USD",
			wantOK:      true,
			wantIndex:   0,
			wantPair:    "USD_BTC",
			wantInverse: true,
		},
		{
			name:        "inverse fallback still picks the most specific",
			rules:       []string{"X_BTC = bitstamp(X_BTC)", "USD_BTC = kraken(USD_BTC)"},
			query:       "BTC_USD",
			wantOK:      true,
			wantIndex:   1,
			wantPair:    "USD_BTC",
			wantInverse: true,
		},
		{
			name:   "no match either way",
			rules:  []string{"ETH_X = kraken(ETH_X)"},
			query:  "BTC_USD",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := mustParse(t, tt.rules...)

			match, ok := rs.SelectRule(pair(tt.query))
			if ok != tt.wantOK {
				t.Fatalf("SelectRule(%s) ok = %v, want %v", tt.query, ok, tt.wantOK)
			}
			if !ok {
				if match.Statement != nil {
					t.Errorf("no match should carry no statement, got %s", match.Statement)
				}
				return
			}
			if match.Statement != &rs.Statements[tt.wantIndex] {
				t.Errorf("Statement = %s, want %s", match.Statement, &rs.Statements[tt.wantIndex])
			}
			if match.Inverse != tt.wantInverse {
				t.Errorf("Inverse = %v, want %v", match.Inverse, tt.wantInverse)
			}
			if match.Pair != pair(tt.wantPair) {
				t.Errorf("Pair = %s, want %s", match.Pair, tt.wantPair)
			}
		})
	}
}
