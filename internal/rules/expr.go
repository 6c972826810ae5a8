package rules

import (
	"strings"

	"rate_rules/internal/domain"

	"github.com/shopspring/decimal"
)

// Expr is a node of a rule expression tree. Trees are immutable: rewriting
// always builds new nodes.
type Expr interface {
	String() string
	exprNode()
}

// Op is a binary arithmetic operator.
type Op byte

const (
	Add Op = '+'
	Sub Op = '-'
	Mul Op = '*'
	Div Op = '/'
)

func (o Op) String() string { return string(o) }

// Precedence levels, loosest first.
const (
	precAdditive = iota + 1
	precMultiplicative
	precUnary
	precAtom
)

func (o Op) precedence() int {
	if o == Mul || o == Div {
		return precMultiplicative
	}
	return precAdditive
}

// Literal is a decimal constant.
type Literal struct {
	Value decimal.Decimal
}

// Lookup is a rate that has to be supplied by an exchange, written name(PAIR).
type Lookup struct {
	Exchange string
	Pair     domain.CurrencyPair
}

// PairRef references the rule of another currency pair. It only exists before flattening.
type PairRef struct {
	Pair domain.CurrencyPair
}

// Binary applies Op to Left and Right.
type Binary struct {
	Op    Op
	Left  Expr
	Right Expr
}

// Negate is unary minus.
type Negate struct {
	Inner Expr
}

// Group is a parenthesised sub-expression, either written in the source or
// forced by reciprocal and multiplier wrapping.
type Group struct {
	Inner Expr
}

// Failure is an error leaf baked into a flattened tree. It never resolves.
type Failure struct {
	Kind ErrorKind
	Pair domain.CurrencyPair
}

func (Literal) exprNode() {}
func (Lookup) exprNode()  {}
func (PairRef) exprNode() {}
func (Binary) exprNode()  {}
func (Negate) exprNode()  {}
func (Group) exprNode()   {}
func (Failure) exprNode() {}

func (e Literal) String() string { return format(e, nil) }
func (e Lookup) String() string  { return format(e, nil) }
func (e PairRef) String() string { return format(e, nil) }
func (e Binary) String() string  { return format(e, nil) }
func (e Negate) String() string  { return format(e, nil) }
func (e Group) String() string   { return format(e, nil) }
func (e Failure) String() string { return format(e, nil) }

func precedenceOf(e Expr) int {
	switch n := e.(type) {
	case Binary:
		return n.Op.precedence()
	case Negate:
		return precUnary
	default:
		return precAtom
	}
}

// isAtomic reports whether e renders as a single primary.
func isAtomic(e Expr) bool {
	return precedenceOf(e) == precAtom
}

func group(e Expr) Expr {
	if isAtomic(e) {
		return e
	}
	return Group{Inner: e}
}

// reciprocal builds 1 / e.
func reciprocal(e Expr) Expr {
	return Binary{Op: Div, Left: Literal{Value: decimal.NewFromInt(1)}, Right: group(e)}
}

// Walk visits e and its children depth-first, left to right.
func Walk(e Expr, fn func(Expr)) {
	fn(e)
	switch n := e.(type) {
	case Binary:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case Negate:
		Walk(n.Inner, fn)
	case Group:
		Walk(n.Inner, fn)
	}
}

// format renders e. With a nil store lookups are shown symbolically,
// otherwise they are replaced by their stored rate or an ERR_RATE_UNAVAILABLE marker.
func format(e Expr, rates *RateStore) string {
	var sb strings.Builder
	p := printer{sb: &sb, rates: rates}
	p.print(e)
	return sb.String()
}

type printer struct {
	sb    *strings.Builder
	rates *RateStore
}

func (p printer) print(e Expr) {
	switch n := e.(type) {
	case Literal:
		p.sb.WriteString(n.Value.String())
	case Lookup:
		if p.rates == nil {
			p.sb.WriteString(n.Exchange + "(" + n.Pair.String() + ")")
			return
		}
		if rate, ok := p.rates.Rate(n.Exchange, n.Pair); ok {
			p.sb.WriteString(rate.String())
			return
		}
		p.sb.WriteString(RateUnavailable.String() + "(" + n.Exchange + ", " + n.Pair.String() + ")")
	case PairRef:
		p.sb.WriteString(n.Pair.String())
	case Failure:
		p.sb.WriteString(n.Kind.String() + "(" + n.Pair.String() + ")")
	case Group:
		p.sb.WriteByte('(')
		p.print(n.Inner)
		p.sb.WriteByte(')')
	case Negate:
		p.sb.WriteByte('-')
		p.child(n.Inner, precedenceOf(n.Inner) < precUnary)
	case Binary:
		prec := n.Op.precedence()
		p.child(n.Left, precedenceOf(n.Left) < prec)
		p.sb.WriteString(" " + n.Op.String() + " ")
		// an equal-precedence right operand keeps its grouping so the tree survives a re-parse
		p.child(n.Right, precedenceOf(n.Right) <= prec)
	}
}

func (p printer) child(e Expr, paren bool) {
	if paren {
		p.sb.WriteByte('(')
	}
	p.print(e)
	if paren {
		p.sb.WriteByte(')')
	}
}
