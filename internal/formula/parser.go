package formula

import (
	"sort"
	"strings"
)

// Expr is a compiled formula. It is immutable and safe for concurrent use.
type Expr struct {
	src  string
	root node
	refs []string
}

// Compile parses a formula into an expression tree. Function arity is
// checked here, so a compiled Expr can only fail at evaluation time on
// unbound identifiers, types or division by zero.
func Compile(src string) (*Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, withFormula(err, src)
	}
	if len(toks) == 1 {
		return nil, &Error{Kind: KindParse, Formula: src, Pos: 0, Msg: "empty formula"}
	}

	p := &parser{toks: toks, refs: make(map[string]bool)}
	root, err := p.parseOr()
	if err != nil {
		return nil, withFormula(err, src)
	}
	if t := p.peek(); t.typ != tokEOF {
		return nil, &Error{Kind: KindParse, Formula: src, Pos: t.pos, Msg: "unexpected " + t.typ.String()}
	}

	refs := make([]string, 0, len(p.refs))
	for name := range p.refs {
		refs = append(refs, name)
	}
	sort.Strings(refs)

	return &Expr{src: src, root: root, refs: refs}, nil
}

// MustCompile is like Compile but panics on error. Intended for tests and
// package-level literals only.
func MustCompile(src string) *Expr {
	e, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return e
}

// Source returns the original formula text.
func (e *Expr) Source() string { return e.src }

// References returns the distinct identifiers the formula reads, sorted.
func (e *Expr) References() []string {
	return append([]string(nil), e.refs...)
}

func withFormula(err error, src string) error {
	if fe, ok := err.(*Error); ok {
		fe.Formula = src
		return fe
	}
	return err
}

type parser struct {
	toks []token
	pos  int
	refs map[string]bool
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.typ != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(typ tokenType) (token, error) {
	t := p.next()
	if t.typ != typ {
		return t, errorf(KindParse, t.pos, "expected %s, found %s", typ, t.typ)
	}
	return t, nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().typ == tokOr {
		op := p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{op: tokOr, left: left, right: right, pos: op.pos}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.peek().typ == tokAnd {
		op := p.next()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{op: tokAnd, left: left, right: right, pos: op.pos}
	}
	return left, nil
}

func isComparison(t tokenType) bool {
	switch t {
	case tokEq, tokNe, tokLt, tokLe, tokGt, tokGe:
		return true
	}
	return false
}

// Comparisons do not chain: "a < b < c" is a parse error.
func (p *parser) parseComparison() (node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if !isComparison(p.peek().typ) {
		return left, nil
	}
	op := p.next()
	right, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); isComparison(t.typ) {
		return nil, errorf(KindParse, t.pos, "comparisons cannot be chained")
	}
	return &compareNode{op: op.typ, left: left, right: right, pos: op.pos}, nil
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for t := p.peek(); t.typ == tokPlus || t.typ == tokMinus; t = p.peek() {
		p.next()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &arithNode{op: t.typ, left: left, right: right, pos: t.pos}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for t := p.peek(); t.typ == tokStar || t.typ == tokSlash; t = p.peek() {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &arithNode{op: t.typ, left: left, right: right, pos: t.pos}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	switch t := p.peek(); t.typ {
	case tokMinus:
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &negateNode{x: x, pos: t.pos}, nil
	case tokPlus:
		p.next()
		return p.parseUnary()
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.typ {
	case tokNumber:
		return &literalNode{v: Number(t.num)}, nil
	case tokString:
		return &literalNode{v: String(t.text)}, nil
	case tokTrue:
		return &literalNode{v: Bool(true)}, nil
	case tokFalse:
		return &literalNode{v: Bool(false)}, nil
	case tokRef:
		p.refs[t.text] = true
		return &refNode{name: t.text, pos: t.pos}, nil
	case tokIdent:
		if p.peek().typ == tokLParen {
			return p.parseCall(t)
		}
		p.refs[t.text] = true
		return &refNode{name: t.text, pos: t.pos}, nil
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return inner, nil
	case tokEOF:
		return nil, errorf(KindParse, t.pos, "unexpected end of formula")
	}
	return nil, errorf(KindParse, t.pos, "unexpected %s", t.typ)
}

func (p *parser) parseCall(name token) (node, error) {
	fnName := strings.ToUpper(name.text)
	if fnName == "IF" {
		return nil, &Error{
			Kind: KindParse,
			Pos:  name.pos,
			Name: name.text,
			Msg:  "IF() is not supported in formulas; express conditions as visibility or eligibility rules",
		}
	}
	fn, ok := functions[fnName]
	if !ok {
		return nil, &Error{Kind: KindParse, Pos: name.pos, Name: name.text, Msg: "unknown function " + name.text}
	}

	p.next() // (
	var args []node
	if p.peek().typ != tokRParen {
		for {
			arg, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().typ != tokComma {
				break
			}
			p.next()
		}
	}
	if _, err := p.expect(tokRParen); err != nil {
		return nil, err
	}

	if len(args) < fn.minArgs || (fn.maxArgs >= 0 && len(args) > fn.maxArgs) {
		return nil, &Error{Kind: KindArity, Pos: name.pos, Name: fnName, Msg: fn.arityMessage(fnName, len(args))}
	}
	return &callNode{name: fnName, fn: fn, args: args, pos: name.pos}, nil
}
