package parser

import (
	"fmt"
	"strings"
	"unicode"
)

// tokenKind classifies condition-language tokens.
type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokOp     // == != > >= < <= + - * / % && || ! ? :
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokLBrace
	tokRBrace
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lexer tokenizes the condition mini-language.
type lexer struct {
	src    string
	pos    int
	tokens []token
}

func lex(src string) ([]token, error) {
	lx := &lexer{src: src}
	if err := lx.run(); err != nil {
		return nil, err
	}
	return lx.tokens, nil
}

func (lx *lexer) run() error {
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			lx.pos++
		case c >= '0' && c <= '9':
			lx.lexNumber()
		case c == '"' || c == '\'':
			if err := lx.lexString(c); err != nil {
				return err
			}
		case isIdentStart(rune(c)):
			lx.lexIdent()
		case c == '(':
			lx.emit(tokLParen, "(")
		case c == ')':
			lx.emit(tokRParen, ")")
		case c == '[':
			lx.emit(tokLBracket, "[")
		case c == ']':
			lx.emit(tokRBracket, "]")
		case c == '{':
			lx.emit(tokLBrace, "{")
		case c == '}':
			lx.emit(tokRBrace, "}")
		case c == ',':
			lx.emit(tokComma, ",")
		default:
			if op, n := lx.matchOp(); n > 0 {
				lx.tokens = append(lx.tokens, token{kind: tokOp, text: op, pos: lx.pos})
				lx.pos += n
			} else {
				return fmt.Errorf("%w: unexpected character %q at offset %d", ErrInvalidExpression, string(c), lx.pos)
			}
		}
	}
	lx.tokens = append(lx.tokens, token{kind: tokEOF, pos: lx.pos})
	return nil
}

func (lx *lexer) emit(kind tokenKind, text string) {
	lx.tokens = append(lx.tokens, token{kind: kind, text: text, pos: lx.pos})
	lx.pos += len(text)
}

// matchOp matches the longest multi-character operator at the cursor.
func (lx *lexer) matchOp() (string, int) {
	rest := lx.src[lx.pos:]
	for _, op := range []string{"==", "!=", ">=", "<=", "&&", "||", ">", "<", "+", "-", "*", "/", "%", "!", "?", ":"} {
		if strings.HasPrefix(rest, op) {
			return op, len(op)
		}
	}
	return "", 0
}

func (lx *lexer) lexNumber() {
	start := lx.pos
	seenDot := false
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		if c >= '0' && c <= '9' {
			lx.pos++
			continue
		}
		if c == '.' && !seenDot && lx.pos+1 < len(lx.src) && lx.src[lx.pos+1] >= '0' && lx.src[lx.pos+1] <= '9' {
			seenDot = true
			lx.pos++
			continue
		}
		break
	}
	lx.tokens = append(lx.tokens, token{kind: tokNumber, text: lx.src[start:lx.pos], pos: start})
}

func (lx *lexer) lexString(quote byte) error {
	start := lx.pos
	lx.pos++ // opening quote
	var sb strings.Builder
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		if c == '\\' && lx.pos+1 < len(lx.src) {
			next := lx.src[lx.pos+1]
			switch next {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			default:
				sb.WriteByte(next)
			}
			lx.pos += 2
			continue
		}
		if c == quote {
			lx.pos++
			lx.tokens = append(lx.tokens, token{kind: tokString, text: sb.String(), pos: start})
			return nil
		}
		sb.WriteByte(c)
		lx.pos++
	}
	return fmt.Errorf("%w: unterminated string at offset %d", ErrInvalidExpression, start)
}

// lexIdent consumes an identifier or dotted path (a.b.c). Keywords are
// resolved by the parser, not here.
func (lx *lexer) lexIdent() {
	start := lx.pos
	for lx.pos < len(lx.src) {
		c := rune(lx.src[lx.pos])
		if isIdentPart(c) {
			lx.pos++
			continue
		}
		// Dotted path segment: dot followed by an identifier start.
		if c == '.' && lx.pos+1 < len(lx.src) && isIdentStart(rune(lx.src[lx.pos+1])) {
			lx.pos++
			continue
		}
		break
	}
	lx.tokens = append(lx.tokens, token{kind: tokIdent, text: lx.src[start:lx.pos], pos: start})
}

func isIdentStart(c rune) bool {
	return c == '_' || unicode.IsLetter(c)
}

func isIdentPart(c rune) bool {
	return c == '_' || unicode.IsLetter(c) || unicode.IsDigit(c)
}
