// Package template implements the restricted expression language used by
// voucher and closing templates, and the voucher-template trigger path.
// The language permits literals, event-field references, arithmetic,
// round/abs, and if() with comparisons and and/or. Nothing else: no
// free function calls, no attribute access, no I/O.
package template

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/coalton-labs/ledgerd/internal/ledgererr"
)

// Env is the read-only field environment an expression evaluates against.
type Env map[string]decimal.Decimal

// Expr is a parsed expression.
type Expr struct {
	root node
	src  string
}

// Parse compiles src, rejecting anything outside the whitelist.
func Parse(src string) (*Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, src: src}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.atEnd() {
		return nil, parseErr(src, "unexpected token %q", p.peek().text)
	}
	return &Expr{root: root, src: src}, nil
}

// Eval interprets the expression over env. Booleans may only appear
// inside if(); a bare boolean result is an error.
func (e *Expr) Eval(env Env) (decimal.Decimal, error) {
	v, err := e.root.eval(env)
	if err != nil {
		return decimal.Zero, err
	}
	if v.isBool {
		return decimal.Zero, parseErr(e.src, "expression yields a boolean, expected a number")
	}
	return v.num, nil
}

func parseErr(src, format string, args ...any) error {
	return ledgererr.Newf(ledgererr.CodeTemplateInvalid, format, args...).
		WithDetail("expression", src)
}

// value is either a number or a boolean during evaluation.
type value struct {
	num    decimal.Decimal
	b      bool
	isBool bool
}

func numVal(d decimal.Decimal) value { return value{num: d} }
func boolVal(b bool) value           { return value{b: b, isBool: true} }

type node interface {
	eval(env Env) (value, error)
}

type literal struct{ v decimal.Decimal }

func (n literal) eval(Env) (value, error) { return numVal(n.v), nil }

type fieldRef struct {
	name string
	src  string
}

func (n fieldRef) eval(env Env) (value, error) {
	v, ok := env[n.name]
	if !ok {
		return value{}, parseErr(n.src, "unknown field %q", n.name)
	}
	return numVal(v), nil
}

type binary struct {
	op          string
	left, right node
	src         string
}

func (n binary) eval(env Env) (value, error) {
	l, err := n.left.eval(env)
	if err != nil {
		return value{}, err
	}

	// and/or short-circuit over booleans.
	if n.op == "and" || n.op == "or" {
		if !l.isBool {
			return value{}, parseErr(n.src, "%s requires boolean operands", n.op)
		}
		if n.op == "and" && !l.b {
			return boolVal(false), nil
		}
		if n.op == "or" && l.b {
			return boolVal(true), nil
		}
		r, err := n.right.eval(env)
		if err != nil {
			return value{}, err
		}
		if !r.isBool {
			return value{}, parseErr(n.src, "%s requires boolean operands", n.op)
		}
		return boolVal(r.b), nil
	}

	r, err := n.right.eval(env)
	if err != nil {
		return value{}, err
	}
	if l.isBool || r.isBool {
		return value{}, parseErr(n.src, "operator %q requires numeric operands", n.op)
	}

	switch n.op {
	case "+":
		return numVal(l.num.Add(r.num)), nil
	case "-":
		return numVal(l.num.Sub(r.num)), nil
	case "*":
		return numVal(l.num.Mul(r.num)), nil
	case "/":
		if r.num.IsZero() {
			return value{}, parseErr(n.src, "division by zero")
		}
		return numVal(l.num.DivRound(r.num, 10)), nil
	case "=":
		return boolVal(l.num.Equal(r.num)), nil
	case "!=":
		return boolVal(!l.num.Equal(r.num)), nil
	case "<":
		return boolVal(l.num.LessThan(r.num)), nil
	case "<=":
		return boolVal(l.num.LessThanOrEqual(r.num)), nil
	case ">":
		return boolVal(l.num.GreaterThan(r.num)), nil
	case ">=":
		return boolVal(l.num.GreaterThanOrEqual(r.num)), nil
	}
	return value{}, parseErr(n.src, "unknown operator %q", n.op)
}

type negate struct{ inner node }

func (n negate) eval(env Env) (value, error) {
	v, err := n.inner.eval(env)
	if err != nil {
		return value{}, err
	}
	if v.isBool {
		return value{}, parseErr("", "cannot negate a boolean")
	}
	return numVal(v.num.Neg()), nil
}

type call struct {
	name string
	args []node
	src  string
}

func (n call) eval(env Env) (value, error) {
	vals := make([]value, len(n.args))
	for i, a := range n.args {
		v, err := a.eval(env)
		if err != nil {
			return value{}, err
		}
		vals[i] = v
	}
	switch n.name {
	case "round":
		if len(vals) != 2 || vals[0].isBool || vals[1].isBool {
			return value{}, parseErr(n.src, "round(x, n) takes two numbers")
		}
		places := int32(vals[1].num.IntPart())
		return numVal(vals[0].num.Round(places)), nil
	case "abs":
		if len(vals) != 1 || vals[0].isBool {
			return value{}, parseErr(n.src, "abs(x) takes one number")
		}
		return numVal(vals[0].num.Abs()), nil
	case "if":
		if len(vals) != 3 || !vals[0].isBool {
			return value{}, parseErr(n.src, "if(cond, a, b) takes a boolean and two values")
		}
		if vals[0].b {
			return vals[1], nil
		}
		return vals[2], nil
	}
	return value{}, parseErr(n.src, "function %q is not permitted", n.name)
}

// Lexing.

type tokKind int

const (
	tokNumber tokKind = iota
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokKind
	text string
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	runes := []rune(src)
	for i < len(runes) {
		c := runes[i]
		switch {
		case unicode.IsSpace(c):
			i++
		case unicode.IsDigit(c) || c == '.':
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			toks = append(toks, token{tokNumber, string(runes[start:i])})
		case unicode.IsLetter(c) || c == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			toks = append(toks, token{tokIdent, string(runes[start:i])})
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ","})
			i++
		case strings.ContainsRune("+-*/", c):
			toks = append(toks, token{tokOp, string(c)})
			i++
		case c == '=':
			toks = append(toks, token{tokOp, "="})
			i++
		case c == '!' && i+1 < len(runes) && runes[i+1] == '=':
			toks = append(toks, token{tokOp, "!="})
			i += 2
		case c == '<' || c == '>':
			op := string(c)
			i++
			if i < len(runes) && runes[i] == '=' {
				op += "="
				i++
			}
			toks = append(toks, token{tokOp, op})
		default:
			return nil, parseErr(src, "illegal character %q", string(c))
		}
	}
	return toks, nil
}

// Parsing. Precedence: or < and < comparison < additive < multiplicative
// < unary < primary.

type parser struct {
	toks []token
	pos  int
	src  string
}

func (p *parser) atEnd() bool    { return p.pos >= len(p.toks) }
func (p *parser) peek() token    { return p.toks[p.pos] }
func (p *parser) advance() token { t := p.toks[p.pos]; p.pos++; return t }

func (p *parser) matchOp(ops ...string) (string, bool) {
	if p.atEnd() {
		return "", false
	}
	t := p.peek()
	for _, op := range ops {
		if (t.kind == tokOp || t.kind == tokIdent) && t.text == op {
			p.advance()
			return op, true
		}
	}
	return "", false
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.matchOp("or"); !ok {
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = binary{"or", left, right, p.src}
	}
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.matchOp("and"); !ok {
			return left, nil
		}
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = binary{"and", left, right, p.src}
	}
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	op, ok := p.matchOp("=", "!=", "<", "<=", ">", ">=")
	if !ok {
		return left, nil
	}
	right, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	return binary{op, left, right, p.src}, nil
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.matchOp("+", "-")
		if !ok {
			return left, nil
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = binary{op, left, right, p.src}
	}
}

func (p *parser) parseMultiplicative() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.matchOp("*", "/")
		if !ok {
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binary{op, left, right, p.src}
	}
}

func (p *parser) parseUnary() (node, error) {
	if _, ok := p.matchOp("-"); ok {
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return negate{inner}, nil
	}
	return p.parsePrimary()
}

var allowedFunctions = map[string]bool{"round": true, "abs": true, "if": true}

func (p *parser) parsePrimary() (node, error) {
	if p.atEnd() {
		return nil, parseErr(p.src, "unexpected end of expression")
	}
	t := p.advance()
	switch t.kind {
	case tokNumber:
		d, err := decimal.NewFromString(t.text)
		if err != nil {
			return nil, parseErr(p.src, "bad number %q", t.text)
		}
		return literal{d}, nil
	case tokIdent:
		if !p.atEnd() && p.peek().kind == tokLParen {
			if !allowedFunctions[t.text] {
				return nil, parseErr(p.src, "function %q is not permitted", t.text)
			}
			p.advance()
			var args []node
			if !p.atEnd() && p.peek().kind != tokRParen {
				for {
					arg, err := p.parseOr()
					if err != nil {
						return nil, err
					}
					args = append(args, arg)
					if p.atEnd() {
						return nil, parseErr(p.src, "unterminated call to %s", t.text)
					}
					if p.peek().kind == tokComma {
						p.advance()
						continue
					}
					break
				}
			}
			if p.atEnd() || p.advance().kind != tokRParen {
				return nil, parseErr(p.src, "expected ) in call to %s", t.text)
			}
			return call{t.text, args, p.src}, nil
		}
		return fieldRef{t.text, p.src}, nil
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.atEnd() || p.advance().kind != tokRParen {
			return nil, parseErr(p.src, "expected )")
		}
		return inner, nil
	}
	return nil, parseErr(p.src, "unexpected token %q", t.text)
}

// Evaluate parses and evaluates in one step.
func Evaluate(src string, env Env) (decimal.Decimal, error) {
	e, err := Parse(src)
	if err != nil {
		return decimal.Zero, err
	}
	return e.Eval(env)
}
