package rules

import (
	"rate_rules/internal/domain"

	"github.com/shopspring/decimal"
)

// GetRuleFor builds the evaluation of pair: the selected rule with every pair
// reference flattened, the reciprocal applied for inverse matches and the
// global multiplier applied last. Failures are embedded as error leaves, so
// the result is always displayable.
func (rs *RuleSet) GetRuleFor(pair domain.CurrencyPair) *Evaluation {
	r := resolver{rules: rs, maxNesting: rs.MaxNesting}

	var flat Expr
	if match, ok := rs.SelectRule(pair); ok {
		flat, _ = r.flatten(match.Statement.Expr, match.Pair, 0)
		if match.Inverse {
			flat = reciprocal(flat)
		}
	} else {
		flat = Failure{Kind: NoRuleMatch, Pair: pair}
	}

	if !rs.GlobalMultiplier.Equal(decimal.NewFromInt(1)) {
		flat = Binary{Op: Mul, Left: group(flat), Right: Literal{Value: rs.GlobalMultiplier}}
	}

	ev := newEvaluation(pair, flat)
	ev.Reevaluate()
	return ev
}

type resolver struct {
	rules      *RuleSet
	maxNesting int
}

// flatten rewrites e, evaluated for pair at the given nesting depth. The
// second result reports that a nested expansion overflowed; the reference
// written in the queried rule (depth 0) absorbs it into a single error leaf.
func (r resolver) flatten(e Expr, pair domain.CurrencyPair, depth int) (Expr, bool) {
	switch n := e.(type) {
	case Lookup:
		return Lookup{Exchange: n.Exchange, Pair: bind(n.Pair, pair)}, false
	case PairRef:
		target := bind(n.Pair, pair)
		expanded, overflow := r.expand(target, depth+1)
		if overflow && depth == 0 {
			return Failure{Kind: TooMuchNestedCalls, Pair: target}, false
		}
		return expanded, overflow
	case Binary:
		left, lo := r.flatten(n.Left, pair, depth)
		right, ro := r.flatten(n.Right, pair, depth)
		return Binary{Op: n.Op, Left: left, Right: right}, lo || ro
	case Negate:
		inner, overflow := r.flatten(n.Inner, pair, depth)
		return Negate{Inner: inner}, overflow
	case Group:
		inner, overflow := r.flatten(n.Inner, pair, depth)
		return Group{Inner: inner}, overflow
	default:
		return e, false
	}
}

func (r resolver) expand(target domain.CurrencyPair, depth int) (Expr, bool) {
	if depth > r.maxNesting {
		return Failure{Kind: TooMuchNestedCalls, Pair: target}, true
	}
	match, ok := r.rules.SelectRule(target)
	if !ok {
		return Failure{Kind: NoRuleMatch, Pair: target}, false
	}
	inner, overflow := r.flatten(match.Statement.Expr, match.Pair, depth)
	if match.Inverse {
		inner = reciprocal(inner)
	}
	return inner, overflow
}
