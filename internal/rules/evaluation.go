package rules

import (
	"strings"

	"rate_rules/internal/domain"

	"github.com/shopspring/decimal"
)

// ExchangeRate identifies a rate to be supplied by an exchange.
type ExchangeRate struct {
	Exchange string // lower-cased
	Pair     domain.CurrencyPair
}

func (r ExchangeRate) String() string {
	return r.Exchange + "(" + r.Pair.String() + ")"
}

// RateStore holds the rates an evaluation depends on. It is owned by a single
// Evaluation and is not safe for concurrent mutation.
type RateStore struct {
	rates map[ExchangeRate]decimal.Decimal
	deps  []ExchangeRate
}

// NewRateStore creates an empty store.
func NewRateStore() *RateStore {
	return &RateStore{rates: make(map[ExchangeRate]decimal.Decimal)}
}

func key(exchange string, pair domain.CurrencyPair) ExchangeRate {
	return ExchangeRate{Exchange: strings.ToLower(exchange), Pair: pair}
}

// SetRate records or overwrites the rate of pair on exchange.
func (s *RateStore) SetRate(exchange string, pair domain.CurrencyPair, rate decimal.Decimal) {
	s.rates[key(exchange, pair)] = rate
}

// Rate returns the stored rate, if any.
func (s *RateStore) Rate(exchange string, pair domain.CurrencyPair) (decimal.Decimal, bool) {
	rate, ok := s.rates[key(exchange, pair)]
	return rate, ok
}

// Dependencies lists the lookups of the evaluation in the order they appear.
func (s *RateStore) Dependencies() []ExchangeRate {
	out := make([]ExchangeRate, len(s.deps))
	copy(out, s.deps)
	return out
}

// Missing lists the dependencies that have no rate yet.
func (s *RateStore) Missing() []ExchangeRate {
	var out []ExchangeRate
	for _, dep := range s.deps {
		if _, ok := s.rates[dep]; !ok {
			out = append(out, dep)
		}
	}
	return out
}

// String joins the dependencies with commas: bittrex(DOGE_BTC),gdax(BTC_USD)
func (s *RateStore) String() string {
	parts := make([]string, len(s.deps))
	for i, dep := range s.deps {
		parts[i] = dep.String()
	}
	return strings.Join(parts, ",")
}

func (s *RateStore) addDependency(dep ExchangeRate) {
	for _, d := range s.deps {
		if d == dep {
			return
		}
	}
	s.deps = append(s.deps, dep)
}

// Evaluation is the flattened rule of a single pair together with the rates
// supplied so far. It is meant for a single writer at a time.
type Evaluation struct {
	Pair          domain.CurrencyPair
	ExchangeRates *RateStore

	// Value is set only after a Reevaluate that resolved the whole expression.
	Value    *decimal.Decimal
	HasError bool

	expr   Expr
	errors []ErrorKind
}

func newEvaluation(pair domain.CurrencyPair, expr Expr) *Evaluation {
	store := NewRateStore()
	Walk(expr, func(e Expr) {
		if l, ok := e.(Lookup); ok {
			store.addDependency(key(l.Exchange, l.Pair))
		}
	})
	return &Evaluation{Pair: pair, ExchangeRates: store, expr: expr}
}

// Expr returns the flattened expression.
func (ev *Evaluation) Expr() Expr {
	return ev.expr
}

// Reevaluate computes the expression with the rates currently in the store.
// It returns true when the expression fully resolved to Value.
func (ev *Evaluation) Reevaluate() bool {
	ev.errors = ev.errors[:0]
	v, ok := ev.eval(ev.expr)
	if ok {
		ev.Value = &v
	} else {
		ev.Value = nil
	}
	ev.HasError = !ok
	return ok
}

// Errors lists the problems found by the last Reevaluate, first occurrence first.
func (ev *Evaluation) Errors() []ErrorKind {
	out := make([]ErrorKind, len(ev.errors))
	copy(out, ev.errors)
	return out
}

func (ev *Evaluation) fail(kind ErrorKind) {
	for _, k := range ev.errors {
		if k == kind {
			return
		}
	}
	ev.errors = append(ev.errors, kind)
}

// eval visits every node even after a failure so Errors is complete.
func (ev *Evaluation) eval(e Expr) (decimal.Decimal, bool) {
	switch n := e.(type) {
	case Literal:
		return n.Value, true
	case Lookup:
		rate, ok := ev.ExchangeRates.Rate(n.Exchange, n.Pair)
		if !ok {
			ev.fail(RateUnavailable)
		}
		return rate, ok
	case Failure:
		ev.fail(n.Kind)
		return decimal.Zero, false
	case Group:
		return ev.eval(n.Inner)
	case Negate:
		v, ok := ev.eval(n.Inner)
		return v.Neg(), ok
	case Binary:
		left, lok := ev.eval(n.Left)
		right, rok := ev.eval(n.Right)
		if !lok || !rok {
			return decimal.Zero, false
		}
		switch n.Op {
		case Add:
			return left.Add(right), true
		case Sub:
			return left.Sub(right), true
		case Mul:
			return left.Mul(right), true
		case Div:
			if right.IsZero() {
				ev.fail(DivisionByZero)
				return decimal.Zero, false
			}
			return left.Div(right), true
		}
	}
	// PairRef never survives flattening
	return decimal.Zero, false
}

func (ev *Evaluation) String() string {
	return ev.ToString(false)
}

// ToString renders the flattened rule. When resolved is set, lookups are
// replaced by their known rates or an ERR_RATE_UNAVAILABLE marker; the
// arithmetic itself is never folded.
func (ev *Evaluation) ToString(resolved bool) string {
	if !resolved {
		return format(ev.expr, nil)
	}
	return format(ev.expr, ev.ExchangeRates)
}
