package domain

import (
	"fmt"
	"strings"
)

// CurrencyPair is an ordered (base, quote) pair of upper-cased currency codes.
type CurrencyPair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// NewCurrencyPair creates a pair, upper-casing both codes.
func NewCurrencyPair(base, quote string) CurrencyPair {
	return CurrencyPair{Base: strings.ToUpper(base), Quote: strings.ToUpper(quote)}
}

// ParseCurrencyPair parses "BTC_USD". "BTC/USD" and "BTC-USD" are accepted as well.
func ParseCurrencyPair(s string) (CurrencyPair, error) {
	s = strings.TrimSpace(s)
	idx := strings.IndexAny(s, "_/-")
	if idx < 0 {
		return CurrencyPair{}, fmt.Errorf("%w: %q", ErrInvalidPair, s)
	}
	base, quote := s[:idx], s[idx+1:]
	if !IsCurrencyCode(base) || !IsCurrencyCode(quote) {
		return CurrencyPair{}, fmt.Errorf("%w: %q", ErrInvalidPair, s)
	}
	return NewCurrencyPair(base, quote), nil
}

// MustParseCurrencyPair is like ParseCurrencyPair but panics on error. Intended for tests and constants.
func MustParseCurrencyPair(s string) CurrencyPair {
	p, err := ParseCurrencyPair(s)
	if err != nil {
		panic(err)
	}
	return p
}

// IsCurrencyCode reports whether s is a non-empty alphanumeric code.
func IsCurrencyCode(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !isAlnum(r) {
			return false
		}
	}
	return true
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// Inverse returns the pair with base and quote swapped.
func (p CurrencyPair) Inverse() CurrencyPair {
	return CurrencyPair{Base: p.Quote, Quote: p.Base}
}

func (p CurrencyPair) String() string {
	return p.Base + "_" + p.Quote
}
