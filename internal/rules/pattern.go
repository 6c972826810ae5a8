package rules

import "rate_rules/internal/domain"

// Pattern is a currency pair whose sides may be the Wildcard.
type Pattern domain.CurrencyPair

// Shape is the closed set of pattern forms.
type Shape int

const (
	WildcardWildcard Shape = iota
	ExactWildcard
	WildcardExact
	ExactExact
)

func (s Shape) String() string {
	switch s {
	case ExactExact:
		return "exact/exact"
	case ExactWildcard:
		return "exact/wildcard"
	case WildcardExact:
		return "wildcard/exact"
	default:
		return "wildcard/wildcard"
	}
}

// Specificity orders shapes: exact/exact beats one wildcard side, which beats two.
func (s Shape) Specificity() int {
	switch s {
	case ExactExact:
		return 2
	case ExactWildcard, WildcardExact:
		return 1
	default:
		return 0
	}
}

// Shape classifies the pattern.
func (p Pattern) Shape() Shape {
	switch {
	case p.Base != Wildcard && p.Quote != Wildcard:
		return ExactExact
	case p.Base != Wildcard:
		return ExactWildcard
	case p.Quote != Wildcard:
		return WildcardExact
	default:
		return WildcardWildcard
	}
}

// Matches reports whether pair fits the pattern.
func (p Pattern) Matches(pair domain.CurrencyPair) bool {
	return (p.Base == Wildcard || p.Base == pair.Base) &&
		(p.Quote == Wildcard || p.Quote == pair.Quote)
}

func (p Pattern) String() string {
	return domain.CurrencyPair(p).String()
}

// bind replaces the wildcard sides of a pair written inside an expression
// with the sides of the pair the rule is evaluated for: BTC_X bound to
// DOGE_USD is BTC_USD.
func bind(p, to domain.CurrencyPair) domain.CurrencyPair {
	if p.Base == Wildcard {
		p.Base = to.Base
	}
	if p.Quote == Wildcard {
		p.Quote = to.Quote
	}
	return p
}
