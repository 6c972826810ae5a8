package rules

import "fmt"

// ErrorKind classifies why an expression could not be resolved.
type ErrorKind int

const (
	// NoRuleMatch: no statement matches the pair or its inverse.
	NoRuleMatch ErrorKind = iota + 1
	// TooMuchNestedCalls: pair references nest deeper than RuleSet.MaxNesting.
	TooMuchNestedCalls
	// RateUnavailable: an exchange rate has not been supplied yet.
	RateUnavailable
	// DivisionByZero: a divisor resolved to zero.
	DivisionByZero
)

// String returns the marker used when the error is rendered inside an expression
func (k ErrorKind) String() string {
	switch k {
	case NoRuleMatch:
		return "ERR_NO_RULE_MATCH"
	case TooMuchNestedCalls:
		return "ERR_TOO_MUCH_NESTED_CALLS"
	case RateUnavailable:
		return "ERR_RATE_UNAVAILABLE"
	case DivisionByZero:
		return "ERR_DIVISION_BY_ZERO"
	default:
		return "ERR_UNKNOWN"
	}
}

// SyntaxError describes why a rule set could not be parsed.
type SyntaxError struct {
	Line int // 1-based
	Col  int // 1-based
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d, col %d: %s", e.Line, e.Col, e.Msg)
}
