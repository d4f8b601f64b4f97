package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/corintai/corint/internal/ast"
	"github.com/corintai/corint/internal/value"
)

// reserved identifiers that can never be variable paths.
var reservedWords = map[string]struct{}{
	"true": {}, "false": {}, "null": {},
	"in": {}, "not": {}, "and": {}, "or": {},
	"contains": {}, "starts_with": {}, "ends_with": {},
}

// ParseCondition parses the shorthand condition string form, e.g.
// `amount > 100 and country in ["XX", "YY"]`.
func ParseCondition(src string) (ast.Expr, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &condParser{src: src, tokens: tokens}
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if !p.at(tokEOF) {
		return nil, p.errorf("trailing input %q", p.peek().text)
	}
	return expr, nil
}

// ParseTemplate parses a template string with `{path}` interpolation into a
// template expression. Substitutions are rewritten to variable references.
func ParseTemplate(src string) (*ast.Template, error) {
	var parts []ast.TemplatePart
	var text strings.Builder
	for i := 0; i < len(src); {
		if src[i] == '{' {
			end := strings.IndexByte(src[i:], '}')
			if end < 0 {
				return nil, fmt.Errorf("%w: unclosed substitution in template %q", ErrInvalidExpression, src)
			}
			path := strings.TrimSpace(src[i+1 : i+end])
			if path == "" {
				return nil, fmt.Errorf("%w: empty substitution in template %q", ErrInvalidExpression, src)
			}
			if text.Len() > 0 {
				parts = append(parts, ast.TemplatePart{Text: text.String()})
				text.Reset()
			}
			parts = append(parts, ast.TemplatePart{Path: path})
			i += end + 1
			continue
		}
		text.WriteByte(src[i])
		i++
	}
	if text.Len() > 0 {
		parts = append(parts, ast.TemplatePart{Text: text.String()})
	}
	return &ast.Template{Parts: parts}, nil
}

// condParser is a recursive-descent parser over the token stream.
//
// Precedence, loosest first: ternary, or, and, not, comparison,
// additive, multiplicative, unary minus, primary.
type condParser struct {
	src    string
	tokens []token
	pos    int
}

func (p *condParser) peek() token { return p.tokens[p.pos] }

func (p *condParser) at(kind tokenKind) bool { return p.peek().kind == kind }

func (p *condParser) atOp(text string) bool {
	t := p.peek()
	return t.kind == tokOp && t.text == text
}

func (p *condParser) atKeyword(word string) bool {
	t := p.peek()
	return t.kind == tokIdent && t.text == word
}

func (p *condParser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *condParser) expect(kind tokenKind, what string) (token, error) {
	if !p.at(kind) {
		return token{}, p.errorf("expected %s, got %q", what, p.peek().text)
	}
	return p.next(), nil
}

func (p *condParser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s in %q", ErrInvalidExpression, fmt.Sprintf(format, args...), p.src)
}

func (p *condParser) parseExpr() (ast.Expr, error) {
	return p.parseTernary()
}

func (p *condParser) parseTernary() (ast.Expr, error) {
	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.atOp("?") {
		return cond, nil
	}
	p.next()
	then, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectOp(":"); err != nil {
		return nil, err
	}
	els, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &ast.Ternary{Cond: cond, Then: then, Else: els}, nil
}

func (p *condParser) expectOp(text string) (token, error) {
	if !p.atOp(text) {
		return token{}, p.errorf("expected %q, got %q", text, p.peek().text)
	}
	return p.next(), nil
}

func (p *condParser) parseOr() (ast.Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("or") || p.atOp("||") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &ast.Logical{Op: ast.LogicalOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *condParser) parseAnd() (ast.Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("and") || p.atOp("&&") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &ast.Logical{Op: ast.LogicalAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *condParser) parseNot() (ast.Expr, error) {
	// `not in` belongs to the comparison below, so only treat `not` as a
	// prefix when it does not immediately bind a membership test.
	if (p.atKeyword("not") || p.atOp("!")) && !p.nextIsIn() {
		p.next()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &ast.Unary{Op: ast.UnaryNot, Operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *condParser) nextIsIn() bool {
	t := p.tokens[p.pos+1]
	return t.kind == tokIdent && t.text == "in"
}

func (p *condParser) parseComparison() (ast.Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	op, ok := p.comparisonOp()
	if !ok {
		return left, nil
	}
	right, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	return &ast.Compare{Op: op, Left: left, Right: right}, nil
}

// comparisonOp consumes a comparison operator if one is next.
func (p *condParser) comparisonOp() (value.CompareOp, bool) {
	t := p.peek()
	if t.kind == tokOp {
		switch t.text {
		case "==", "!=", ">", ">=", "<", "<=":
			p.next()
			return value.CompareOp(t.text), true
		}
		return "", false
	}
	if t.kind != tokIdent {
		return "", false
	}
	switch t.text {
	case "in":
		p.next()
		return value.OpIn, true
	case "not":
		if p.nextIsIn() {
			p.next()
			p.next()
			return value.OpNotIn, true
		}
	case "contains":
		p.next()
		return value.OpContains, true
	case "starts_with":
		p.next()
		return value.OpStartsWith, true
	case "ends_with":
		p.next()
		return value.OpEndsWith, true
	}
	return "", false
}

func (p *condParser) parseAdditive() (ast.Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.atOp("+") || p.atOp("-") {
		op := value.ArithOp(p.next().text)
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &ast.Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *condParser) parseMultiplicative() (ast.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.atOp("*") || p.atOp("/") || p.atOp("%") {
		op := value.ArithOp(p.next().text)
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &ast.Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *condParser) parseUnary() (ast.Expr, error) {
	if p.atOp("-") {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.Unary{Op: ast.UnaryNeg, Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *condParser) parsePrimary() (ast.Expr, error) {
	t := p.peek()
	switch t.kind {
	case tokNumber:
		p.next()
		n, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.errorf("invalid number %q", t.text)
		}
		return &ast.Literal{Value: value.Number(n)}, nil

	case tokString:
		p.next()
		return &ast.Literal{Value: value.String(t.text)}, nil

	case tokIdent:
		return p.parseIdent()

	case tokLParen:
		p.next()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		return inner, nil

	case tokLBracket:
		return p.parseListLiteral()

	case tokLBrace:
		// `{path}` template substitution rewrites to a variable reference.
		p.next()
		ident, err := p.expect(tokIdent, "path")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRBrace, "}"); err != nil {
			return nil, err
		}
		return &ast.VarRef{Path: ident.text}, nil

	default:
		return nil, p.errorf("unexpected token %q", t.text)
	}
}

func (p *condParser) parseIdent() (ast.Expr, error) {
	t := p.next()
	switch t.text {
	case "true":
		return &ast.Literal{Value: value.Bool(true)}, nil
	case "false":
		return &ast.Literal{Value: value.Bool(false)}, nil
	case "null":
		return &ast.Literal{Value: value.Null()}, nil
	}
	if _, reserved := reservedWords[t.text]; reserved {
		return nil, p.errorf("reserved word %q cannot be used as a value", t.text)
	}
	// Function call.
	if p.at(tokLParen) && !strings.Contains(t.text, ".") {
		p.next()
		var args []ast.Expr
		for !p.at(tokRParen) {
			arg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.at(tokComma) {
				p.next()
			}
		}
		if _, err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		return &ast.Call{Name: t.text, Args: args}, nil
	}
	return &ast.VarRef{Path: t.text}, nil
}

func (p *condParser) parseListLiteral() (ast.Expr, error) {
	p.next() // [
	var items []ast.Expr
	for !p.at(tokRBracket) {
		item, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if p.at(tokComma) {
			p.next()
			continue
		}
		break
	}
	if _, err := p.expect(tokRBracket, "]"); err != nil {
		return nil, err
	}
	return &ast.Call{Name: "list", Args: items}, nil
}
