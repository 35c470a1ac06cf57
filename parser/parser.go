package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseError reports a syntax error with the byte offset where it was
// detected.
type ParseError struct {
	Position int
	Message  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at position %d: %s", e.Position, e.Message)
}

var aggregateFuncs = map[string]struct{}{
	"COUNT": {}, "SUM": {}, "AVG": {}, "MIN": {}, "MAX": {},
}

type parser struct {
	lex  *lexer
	cur  token
	peek token
}

// Parse turns a query string into its AST. The returned error is
// always a *ParseError when the input is malformed.
func Parse(input string) (*Query, error) {
	p := &parser{lex: newLexer(input)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	q, err := p.parseQuery()
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (p *parser) advance() error {
	p.cur = p.peek
	p.peek = p.lex.nextToken()
	if p.peek.Typ == tError {
		return &ParseError{Position: p.peek.Pos, Message: p.peek.Val}
	}
	return nil
}

func (p *parser) errorf(pos int, format string, args ...any) error {
	return &ParseError{Position: pos, Message: fmt.Sprintf(format, args...)}
}

func (p *parser) expectKeyword(kw string) error {
	if p.cur.Typ != tKeyword || p.cur.Val != kw {
		return p.errorf(p.cur.Pos, "expected %s, got %q", kw, p.cur.Val)
	}
	return p.advance()
}

func (p *parser) expectSymbol(sym string) error {
	if p.cur.Typ != tSymbol || p.cur.Val != sym {
		return p.errorf(p.cur.Pos, "expected %q, got %q", sym, p.cur.Val)
	}
	return p.advance()
}

func (p *parser) isKeyword(kw string) bool {
	return p.cur.Typ == tKeyword && p.cur.Val == kw
}

func (p *parser) isSymbol(sym string) bool {
	return p.cur.Typ == tSymbol && p.cur.Val == sym
}

func (p *parser) parseQuery() (*Query, error) {
	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}

	q := &Query{}
	items, err := p.parseSelectList()
	if err != nil {
		return nil, err
	}
	q.Select = items

	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	if p.cur.Typ != tIdent {
		return nil, p.errorf(p.cur.Pos, "expected table name, got %q", p.cur.Val)
	}
	q.From = p.cur.Val
	if err := p.advance(); err != nil {
		return nil, err
	}

	if p.isKeyword("WHERE") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		pred, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		q.Where = pred
	}

	if p.isKeyword("GROUP") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		cols, err := p.parseColumnList()
		if err != nil {
			return nil, err
		}
		q.GroupBy = cols
	}

	if p.isKeyword("ORDER") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		keys, err := p.parseOrderList()
		if err != nil {
			return nil, err
		}
		q.OrderBy = keys
	}

	if p.isKeyword("LIMIT") {
		limitPos := p.cur.Pos
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.Typ != tNumber {
			return nil, p.errorf(p.cur.Pos, "expected row count after LIMIT, got %q", p.cur.Val)
		}
		n, err := strconv.ParseInt(p.cur.Val, 10, 64)
		if err != nil {
			return nil, p.errorf(p.cur.Pos, "LIMIT count must be an integer, got %q", p.cur.Val)
		}
		if n < 0 {
			return nil, p.errorf(limitPos, "LIMIT count must not be negative")
		}
		q.Limit = &n
		if err := p.advance(); err != nil {
			return nil, err
		}
	}

	if p.isSymbol(";") {
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if p.cur.Typ != tEOF {
		return nil, p.errorf(p.cur.Pos, "unexpected trailing input %q", p.cur.Val)
	}
	return q, nil
}

func (p *parser) parseSelectList() ([]SelectItem, error) {
	var items []SelectItem
	for {
		item, err := p.parseSelectItem()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if !p.isSymbol(",") {
			break
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (p *parser) parseSelectItem() (SelectItem, error) {
	var item SelectItem
	switch {
	case p.isSymbol("*"):
		item.Star = true
		if err := p.advance(); err != nil {
			return item, err
		}
		return item, nil

	case p.cur.Typ == tIdent && p.peek.Typ == tSymbol && p.peek.Val == "(":
		call, err := p.parseAggCall()
		if err != nil {
			return item, err
		}
		item.Agg = call

	case p.cur.Typ == tIdent:
		item.Column = p.cur.Val
		if err := p.advance(); err != nil {
			return item, err
		}

	default:
		return item, p.errorf(p.cur.Pos, "expected column, aggregate, or *, got %q", p.cur.Val)
	}

	if p.isKeyword("AS") {
		if err := p.advance(); err != nil {
			return item, err
		}
		if p.cur.Typ != tIdent {
			return item, p.errorf(p.cur.Pos, "expected alias after AS, got %q", p.cur.Val)
		}
		item.Alias = p.cur.Val
		if err := p.advance(); err != nil {
			return item, err
		}
	}
	return item, nil
}

func (p *parser) parseAggCall() (*AggCall, error) {
	name := strings.ToUpper(p.cur.Val)
	namePos := p.cur.Pos
	if _, ok := aggregateFuncs[name]; !ok {
		return nil, p.errorf(namePos, "unknown function %q", p.cur.Val)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}

	call := &AggCall{Fn: name}
	if p.isSymbol("*") {
		if name != "COUNT" {
			return nil, p.errorf(p.cur.Pos, "%s does not accept *", name)
		}
		call.Star = true
		if err := p.advance(); err != nil {
			return nil, err
		}
	} else {
		if p.cur.Typ != tIdent {
			return nil, p.errorf(p.cur.Pos, "expected column in %s(...), got %q", name, p.cur.Val)
		}
		call.Column = p.cur.Val
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return call, nil
}

func (p *parser) parseColumnList() ([]string, error) {
	var cols []string
	for {
		if p.cur.Typ != tIdent {
			return nil, p.errorf(p.cur.Pos, "expected column name, got %q", p.cur.Val)
		}
		cols = append(cols, p.cur.Val)
		if err := p.advance(); err != nil {
			return nil, err
		}
		if !p.isSymbol(",") {
			return cols, nil
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
}

func (p *parser) parseOrderList() ([]OrderKey, error) {
	var keys []OrderKey
	for {
		var key OrderKey
		switch {
		case p.cur.Typ == tIdent && p.peek.Typ == tSymbol && p.peek.Val == "(":
			call, err := p.parseAggCall()
			if err != nil {
				return nil, err
			}
			key.Agg = call
		case p.cur.Typ == tIdent:
			key.Column = p.cur.Val
			if err := p.advance(); err != nil {
				return nil, err
			}
		default:
			return nil, p.errorf(p.cur.Pos, "expected sort column, got %q", p.cur.Val)
		}

		if p.isKeyword("ASC") {
			if err := p.advance(); err != nil {
				return nil, err
			}
		} else if p.isKeyword("DESC") {
			key.Desc = true
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		keys = append(keys, key)
		if !p.isSymbol(",") {
			return keys, nil
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
}

// parseOr handles the lowest-precedence operator. Precedence from
// loosest to tightest is OR, AND, NOT, comparison.
func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("OR") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("AND") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.isKeyword("NOT") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: "NOT", Expr: inner}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if p.cur.Typ == tSymbol {
		switch p.cur.Val {
		case "=", "!=", "<", "<=", ">", ">=":
			op := p.cur.Val
			if err := p.advance(); err != nil {
				return nil, err
			}
			right, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			return &Binary{Op: op, Left: left, Right: right}, nil
		}
	}
	return left, nil
}

func (p *parser) parseOperand() (Expr, error) {
	switch {
	case p.isSymbol("("):
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return inner, nil

	case p.cur.Typ == tNumber:
		lit := &Literal{Pos: p.cur.Pos}
		if strings.Contains(p.cur.Val, ".") {
			f, err := strconv.ParseFloat(p.cur.Val, 64)
			if err != nil {
				return nil, p.errorf(p.cur.Pos, "invalid number %q", p.cur.Val)
			}
			lit.Val = f
		} else {
			n, err := strconv.ParseInt(p.cur.Val, 10, 64)
			if err != nil {
				return nil, p.errorf(p.cur.Pos, "invalid number %q", p.cur.Val)
			}
			lit.Val = n
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return lit, nil

	case p.cur.Typ == tString:
		lit := &Literal{Val: p.cur.Val, Pos: p.cur.Pos}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return lit, nil

	case p.isKeyword("TRUE"):
		lit := &Literal{Val: true, Pos: p.cur.Pos}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return lit, nil

	case p.isKeyword("FALSE"):
		lit := &Literal{Val: false, Pos: p.cur.Pos}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return lit, nil

	case p.isKeyword("NULL"):
		lit := &Literal{Val: nil, Pos: p.cur.Pos}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return lit, nil

	case p.cur.Typ == tIdent:
		ref := &ColumnRef{Name: p.cur.Val, Pos: p.cur.Pos}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return ref, nil
	}
	return nil, p.errorf(p.cur.Pos, "expected expression, got %q", p.cur.Val)
}
