package rules

import (
	"strings"

	"rate_rules/internal/domain"

	"github.com/shopspring/decimal"
)

// DefaultMaxNesting bounds how deep pair references are expanded.
const DefaultMaxNesting = 3

// Wildcard is the pattern code matching any currency.
const Wildcard = "X"

// Statement is one parsed rule line with the comments written directly above it.
type Statement struct {
	Comments []string
	Pattern  Pattern
	Expr     Expr
}

func (s Statement) String() string {
	return s.Pattern.String() + " = " + s.Expr.String() + ";"
}

// RuleSet is an ordered list of statements. Statements are read-only once
// parsed; GlobalMultiplier and MaxNesting are caller configuration read at
// every GetRuleFor call.
type RuleSet struct {
	Statements       []Statement
	TrailingComments []string

	// GlobalMultiplier scales every evaluation when it differs from 1. Zero is a
	// real multiplier: a bare RuleSet literal multiplies everything by 0, so
	// build rule sets with NewRuleSet or Parse.
	GlobalMultiplier decimal.Decimal

	// MaxNesting is the deepest pair-reference expansion allowed.
	MaxNesting int
}

// NewRuleSet returns an empty rule set with default settings.
func NewRuleSet() *RuleSet {
	return &RuleSet{
		GlobalMultiplier: decimal.NewFromInt(1),
		MaxNesting:       DefaultMaxNesting,
	}
}

// String renders the canonical text of the rule set. Parsing the result
// yields an equivalent rule set.
func (rs *RuleSet) String() string {
	var lines []string
	for _, stmt := range rs.Statements {
		lines = append(lines, stmt.Comments...)
		lines = append(lines, stmt.String())
	}
	lines = append(lines, rs.TrailingComments...)
	return strings.Join(lines, "\n")
}

// Match is the statement selected for a pair.
type Match struct {
	Statement *Statement

	// Pair is the pair the statement matched, the inverse of the query when Inverse is set.
	Pair    domain.CurrencyPair
	Inverse bool
}

// SelectRule finds the most specific statement for pair, falling back to
// the inverse pair. Ties go to the statement declared first.
func (rs *RuleSet) SelectRule(pair domain.CurrencyPair) (Match, bool) {
	if stmt := rs.bestCandidate(pair); stmt != nil {
		return Match{Statement: stmt, Pair: pair}, true
	}
	inv := pair.Inverse()
	if stmt := rs.bestCandidate(inv); stmt != nil {
		return Match{Statement: stmt, Pair: inv, Inverse: true}, true
	}
	return Match{}, false
}

func (rs *RuleSet) bestCandidate(pair domain.CurrencyPair) *Statement {
	var best *Statement
	for i := range rs.Statements {
		stmt := &rs.Statements[i]
		if !stmt.Pattern.Matches(pair) {
			continue
		}
		if best == nil || stmt.Pattern.Shape().Specificity() > best.Pattern.Shape().Specificity() {
			best = stmt
		}
	}
	return best
}
