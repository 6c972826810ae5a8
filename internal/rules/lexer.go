package rules

import (
	"fmt"
	"strings"

	"rate_rules/internal/domain"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokPair
	tokLParen
	tokRParen
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokAssign
	tokSemicolon
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of line"
	case tokNumber:
		return "number"
	case tokIdent:
		return "identifier"
	case tokPair:
		return "currency pair"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokPlus:
		return "'+'"
	case tokMinus:
		return "'-'"
	case tokStar:
		return "'*'"
	case tokSlash:
		return "'/'"
	case tokAssign:
		return "'='"
	case tokSemicolon:
		return "';'"
	}
	return "unknown"
}

type token struct {
	kind tokenKind
	text string
	pair domain.CurrencyPair // tokPair only, upper-cased
	col  int                 // 1-based
}

var punctuation = map[byte]tokenKind{
	'(': tokLParen,
	')': tokRParen,
	'+': tokPlus,
	'-': tokMinus,
	'*': tokStar,
	'/': tokSlash,
	'=': tokAssign,
	';': tokSemicolon,
}

// tokenize splits a single statement line into tokens, always ending with tokEOF.
func tokenize(line string, lineNo int) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(line) {
		c := line[i]
		if c == ' ' || c == '\t' || c == '\r' {
			i++
			continue
		}
		if kind, ok := punctuation[c]; ok {
			tokens = append(tokens, token{kind: kind, text: string(c), col: i + 1})
			i++
			continue
		}
		if !isWordByte(c) {
			return nil, &SyntaxError{Line: lineNo, Col: i + 1, Msg: fmt.Sprintf("unexpected character %q", c)}
		}

		start := i
		for i < len(line) && isWordByte(line[i]) {
			i++
		}
		tok, err := classifyWord(line[start:i], start+1)
		if err != nil {
			return nil, &SyntaxError{Line: lineNo, Col: start + 1, Msg: err.Error()}
		}
		tokens = append(tokens, tok)
	}
	return append(tokens, token{kind: tokEOF, col: len(line) + 1}), nil
}

func isWordByte(c byte) bool {
	return c == '_' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// classifyWord decides whether a run of word bytes is a pair, a number or an identifier.
func classifyWord(word string, col int) (token, error) {
	if strings.ContainsRune(word, '_') {
		base, quote, _ := strings.Cut(word, "_")
		if !domain.IsCurrencyCode(base) || !domain.IsCurrencyCode(quote) {
			return token{}, fmt.Errorf("malformed currency pair %q", word)
		}
		return token{kind: tokPair, text: word, pair: domain.NewCurrencyPair(base, quote), col: col}, nil
	}
	if isNumber(word) {
		return token{kind: tokNumber, text: word, col: col}, nil
	}
	if domain.IsCurrencyCode(word) && !isDigit(word[0]) {
		return token{kind: tokIdent, text: word, col: col}, nil
	}
	return token{}, fmt.Errorf("malformed token %q", word)
}

// isNumber accepts digits with an optional fractional part: 12, 1.02
func isNumber(s string) bool {
	intPart, frac, hasDot := strings.Cut(s, ".")
	if !allDigits(intPart) {
		return false
	}
	return !hasDot || allDigits(frac)
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
