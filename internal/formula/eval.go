package formula

import (
	"fmt"
	"math"
)

// snapEpsilon absorbs binary floating-point noise before rounding, so that
// 0.1*3*10 rounds up to 3 rather than 4.
const snapEpsilon = 1e-9

type node interface {
	eval(s Scope) (Value, error)
}

// Eval evaluates the expression against a scope.
func (e *Expr) Eval(s Scope) (Value, error) {
	v, err := e.root.eval(s)
	if err != nil {
		return Value{}, withFormula(err, e.src)
	}
	if v.Type() == TypeNumber && !finite(v.num) {
		return Value{}, &Error{Kind: KindType, Formula: e.src, Pos: -1, Msg: "non-finite result"}
	}
	return v, nil
}

// EvalNumber evaluates the expression and requires a numeric result.
func (e *Expr) EvalNumber(s Scope) (float64, error) {
	v, err := e.Eval(s)
	if err != nil {
		return 0, err
	}
	n, ok := v.Number()
	if !ok || v.Type() == TypeBool {
		return 0, &Error{Kind: KindType, Formula: e.src, Pos: -1, Msg: fmt.Sprintf("expected a numeric result, got %s", v.Type())}
	}
	return n, nil
}

// EvalBool evaluates the expression and requires a boolean result.
func (e *Expr) EvalBool(s Scope) (bool, error) {
	v, err := e.Eval(s)
	if err != nil {
		return false, err
	}
	b, ok := v.Bool()
	if !ok {
		return false, &Error{Kind: KindType, Formula: e.src, Pos: -1, Msg: fmt.Sprintf("expected a boolean result, got %s", v.Type())}
	}
	return b, nil
}

// Evaluate compiles and evaluates a formula in one step. Callers evaluating
// the same text repeatedly should use a Cache.
func Evaluate(src string, s Scope) (Value, error) {
	e, err := Compile(src)
	if err != nil {
		return Value{}, err
	}
	return e.Eval(s)
}

type literalNode struct {
	v Value
}

func (n *literalNode) eval(Scope) (Value, error) { return n.v, nil }

type refNode struct {
	name string
	pos  int
}

func (n *refNode) eval(s Scope) (Value, error) {
	if s != nil {
		if v, ok := s.Lookup(n.name); ok {
			if v.Type() == TypeNumber && !finite(v.num) {
				return Value{}, &Error{Kind: KindType, Pos: n.pos, Name: n.name, Msg: fmt.Sprintf("variable %q is not a finite number", n.name)}
			}
			return v, nil
		}
	}
	return Value{}, &Error{Kind: KindUnbound, Pos: n.pos, Name: n.name, Msg: fmt.Sprintf("unbound variable %q", n.name)}
}

type negateNode struct {
	x   node
	pos int
}

func (n *negateNode) eval(s Scope) (Value, error) {
	v, err := n.x.eval(s)
	if err != nil {
		return Value{}, err
	}
	f, err := numeric(v, n.pos, "negation")
	if err != nil {
		return Value{}, err
	}
	return Number(-f), nil
}

type arithNode struct {
	op          tokenType
	left, right node
	pos         int
}

func (n *arithNode) eval(s Scope) (Value, error) {
	lv, err := n.left.eval(s)
	if err != nil {
		return Value{}, err
	}
	rv, err := n.right.eval(s)
	if err != nil {
		return Value{}, err
	}
	l, err := numeric(lv, n.pos, n.op.String())
	if err != nil {
		return Value{}, err
	}
	r, err := numeric(rv, n.pos, n.op.String())
	if err != nil {
		return Value{}, err
	}

	var out float64
	switch n.op {
	case tokPlus:
		out = l + r
	case tokMinus:
		out = l - r
	case tokStar:
		out = l * r
	case tokSlash:
		if r == 0 {
			return Value{}, &Error{Kind: KindDivisionByZero, Pos: n.pos, Msg: "division by zero"}
		}
		out = l / r
	}
	if !finite(out) {
		return Value{}, errorf(KindType, n.pos, "non-finite result")
	}
	return Number(out), nil
}

type compareNode struct {
	op          tokenType
	left, right node
	pos         int
}

func (n *compareNode) eval(s Scope) (Value, error) {
	lv, err := n.left.eval(s)
	if err != nil {
		return Value{}, err
	}
	rv, err := n.right.eval(s)
	if err != nil {
		return Value{}, err
	}

	// Booleans only compare for equality with booleans.
	if lv.Type() == TypeBool || rv.Type() == TypeBool {
		lb, lok := lv.Bool()
		rb, rok := rv.Bool()
		if !lok || !rok || (n.op != tokEq && n.op != tokNe) {
			return Value{}, errorf(KindType, n.pos, "cannot compare %s %s %s", lv.Type(), n.op, rv.Type())
		}
		if n.op == tokEq {
			return Bool(lb == rb), nil
		}
		return Bool(lb != rb), nil
	}

	// Numeric when both sides are numeric; strings compare case-sensitively.
	if l, lok := lv.Number(); lok {
		if r, rok := rv.Number(); rok {
			return Bool(compareOrdered(n.op, cmpFloat(l, r))), nil
		}
	}
	ls, lok := lv.Text()
	rs, rok := rv.Text()
	if !lok || !rok {
		return Value{}, errorf(KindType, n.pos, "cannot compare %s %s %s", lv.Type(), n.op, rv.Type())
	}
	return Bool(compareOrdered(n.op, cmpString(ls, rs))), nil
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareOrdered(op tokenType, c int) bool {
	switch op {
	case tokEq:
		return c == 0
	case tokNe:
		return c != 0
	case tokLt:
		return c < 0
	case tokLe:
		return c <= 0
	case tokGt:
		return c > 0
	case tokGe:
		return c >= 0
	}
	return false
}

type logicalNode struct {
	op          tokenType
	left, right node
	pos         int
}

func (n *logicalNode) eval(s Scope) (Value, error) {
	lv, err := n.left.eval(s)
	if err != nil {
		return Value{}, err
	}
	l, ok := lv.Bool()
	if !ok {
		return Value{}, errorf(KindType, n.pos, "%s requires boolean operands, got %s", n.op, lv.Type())
	}
	if n.op == tokAnd && !l {
		return Bool(false), nil
	}
	if n.op == tokOr && l {
		return Bool(true), nil
	}
	rv, err := n.right.eval(s)
	if err != nil {
		return Value{}, err
	}
	r, ok := rv.Bool()
	if !ok {
		return Value{}, errorf(KindType, n.pos, "%s requires boolean operands, got %s", n.op, rv.Type())
	}
	return Bool(r), nil
}

type callNode struct {
	name string
	fn   function
	args []node
	pos  int
}

func (n *callNode) eval(s Scope) (Value, error) {
	args := make([]float64, len(n.args))
	for i, a := range n.args {
		v, err := a.eval(s)
		if err != nil {
			return Value{}, err
		}
		f, err := numeric(v, n.pos, n.name)
		if err != nil {
			return Value{}, err
		}
		args[i] = f
	}
	out, err := n.fn.call(args)
	if err != nil {
		err.Pos = n.pos
		return Value{}, err
	}
	if !finite(out) {
		return Value{}, errorf(KindType, n.pos, "%s: non-finite result", n.name)
	}
	return Number(out), nil
}

func finite(f float64) bool {
	return !math.IsInf(f, 0) && !math.IsNaN(f)
}

func numeric(v Value, pos int, what string) (float64, error) {
	if v.Type() != TypeBool {
		if f, ok := v.Number(); ok {
			return f, nil
		}
	}
	return 0, errorf(KindType, pos, "%s requires numeric operands, got %s %s", what, v.Type(), v)
}

type function struct {
	minArgs int
	maxArgs int // -1 = variadic
	call    func(args []float64) (float64, *Error)
}

func (f function) arityMessage(name string, got int) string {
	switch {
	case f.maxArgs < 0:
		return fmt.Sprintf("%s expects at least %d arguments, got %d", name, f.minArgs, got)
	case f.minArgs == f.maxArgs:
		return fmt.Sprintf("%s expects %d arguments, got %d", name, f.minArgs, got)
	default:
		return fmt.Sprintf("%s expects %d to %d arguments, got %d", name, f.minArgs, f.maxArgs, got)
	}
}

var functions = map[string]function{
	"ROUNDUP":   {minArgs: 1, maxArgs: 2, call: func(a []float64) (float64, *Error) { return roundDigits(a, RoundUp) }},
	"ROUNDDOWN": {minArgs: 1, maxArgs: 2, call: func(a []float64) (float64, *Error) { return roundDigits(a, RoundDown) }},
	"MAX": {minArgs: 2, maxArgs: -1, call: func(a []float64) (float64, *Error) {
		m := a[0]
		for _, x := range a[1:] {
			m = math.Max(m, x)
		}
		return m, nil
	}},
	"MIN": {minArgs: 2, maxArgs: -1, call: func(a []float64) (float64, *Error) {
		m := a[0]
		for _, x := range a[1:] {
			m = math.Min(m, x)
		}
		return m, nil
	}},
}

// roundDigits rounds a[0] to a[1] decimal places (0 when omitted). A digit
// count so negative that the scale underflows to zero is a division by zero.
func roundDigits(a []float64, round func(float64) float64) (float64, *Error) {
	if len(a) == 1 {
		return round(a[0]), nil
	}
	scale := math.Pow(10, math.Trunc(a[1]))
	if scale == 0 {
		return 0, errorf(KindDivisionByZero, -1, "division by zero: %v decimal places", a[1])
	}
	if math.IsInf(scale, 0) {
		return 0, errorf(KindType, -1, "%v decimal places is out of range", a[1])
	}
	return round(a[0]*scale) / scale, nil
}

// Snap removes floating-point noise within 1e-9 of an integer.
func Snap(x float64) float64 {
	if r := math.Round(x); math.Abs(x-r) < snapEpsilon {
		return r
	}
	return x
}

// RoundUp rounds away from zero to the next integer.
func RoundUp(x float64) float64 {
	x = Snap(x)
	if x < 0 {
		return -math.Ceil(-x)
	}
	return math.Ceil(x)
}

// RoundDown rounds toward zero.
func RoundDown(x float64) float64 {
	return math.Trunc(Snap(x))
}
