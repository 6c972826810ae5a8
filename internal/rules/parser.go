package rules

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// TryParse parses rule-set text. It reports false on any syntax error.
func TryParse(text string) (*RuleSet, bool) {
	rs, err := Parse(text)
	if err != nil {
		return nil, false
	}
	return rs, true
}

// Parse parses rule-set text, one statement or comment per line:
//
//	// comment, attached to the next statement
//	PATTERN = EXPRESSION [;]
//
// The returned error is a *SyntaxError.
func Parse(text string) (*RuleSet, error) {
	rs := NewRuleSet()
	var pending []string

	for i, raw := range strings.Split(text, "\n") {
		lineNo := i + 1
		line := strings.TrimSpace(raw)
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "//"):
			pending = append(pending, line)
			continue
		}

		tokens, err := tokenize(line, lineNo)
		if err != nil {
			return nil, err
		}
		p := &parser{tokens: tokens, line: lineNo}
		stmt, err := p.statement()
		if err != nil {
			return nil, err
		}
		stmt.Comments = pending
		pending = nil
		rs.Statements = append(rs.Statements, stmt)
	}

	rs.TrailingComments = pending
	return rs, nil
}

type parser struct {
	tokens []token
	pos    int
	line   int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) errorf(tok token, format string, args ...any) error {
	return &SyntaxError{Line: p.line, Col: tok.col, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expect(kind tokenKind) (token, error) {
	tok := p.next()
	if tok.kind != kind {
		return tok, p.errorf(tok, "expected %s, got %s", kind, tok.kind)
	}
	return tok, nil
}

// statement := PAIR '=' expr [';'] EOF
func (p *parser) statement() (Statement, error) {
	head, err := p.expect(tokPair)
	if err != nil {
		return Statement{}, err
	}
	if _, err := p.expect(tokAssign); err != nil {
		return Statement{}, err
	}
	expr, err := p.additive()
	if err != nil {
		return Statement{}, err
	}
	if p.peek().kind == tokSemicolon {
		p.next()
	}
	if tok := p.next(); tok.kind != tokEOF {
		return Statement{}, p.errorf(tok, "unexpected %s after expression", tok.kind)
	}
	return Statement{Pattern: Pattern(head.pair), Expr: expr}, nil
}

// additive := multiplicative (('+' | '-') multiplicative)*
func (p *parser) additive() (Expr, error) {
	left, err := p.multiplicative()
	if err != nil {
		return nil, err
	}
	for {
		var op Op
		switch p.peek().kind {
		case tokPlus:
			op = Add
		case tokMinus:
			op = Sub
		default:
			return left, nil
		}
		p.next()
		right, err := p.multiplicative()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: op, Left: left, Right: right}
	}
}

// multiplicative := unary (('*' | '/') unary)*
func (p *parser) multiplicative() (Expr, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		var op Op
		switch p.peek().kind {
		case tokStar:
			op = Mul
		case tokSlash:
			op = Div
		default:
			return left, nil
		}
		p.next()
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: op, Left: left, Right: right}
	}
}

// unary := '-' unary | primary
func (p *parser) unary() (Expr, error) {
	if p.peek().kind == tokMinus {
		p.next()
		inner, err := p.unary()
		if err != nil {
			return nil, err
		}
		return Negate{Inner: inner}, nil
	}
	return p.primary()
}

// primary := NUMBER | PAIR | IDENT '(' PAIR ')' | '(' additive ')'
func (p *parser) primary() (Expr, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		v, err := decimal.NewFromString(tok.text)
		if err != nil {
			return nil, p.errorf(tok, "invalid number %q", tok.text)
		}
		return Literal{Value: v}, nil
	case tokPair:
		return PairRef{Pair: tok.pair}, nil
	case tokIdent:
		if _, err := p.expect(tokLParen); err != nil {
			return nil, err
		}
		arg, err := p.expect(tokPair)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return Lookup{Exchange: strings.ToLower(tok.text), Pair: arg.pair}, nil
	case tokLParen:
		inner, err := p.additive()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return Group{Inner: inner}, nil
	}
	return nil, p.errorf(tok, "unexpected %s", tok.kind)
}
