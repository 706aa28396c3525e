package formula

import (
	"errors"
	"fmt"
)

// ErrorKind classifies formula failures.
type ErrorKind string

const (
	KindParse          ErrorKind = "parse"
	KindUnbound        ErrorKind = "unbound_variable"
	KindArity          ErrorKind = "arity"
	KindDivisionByZero ErrorKind = "division_by_zero"
	KindType           ErrorKind = "type"
)

// Sentinels matched by Error.Is, one per kind.
var (
	ErrParse          = errors.New("formula parse failure")
	ErrUnbound        = errors.New("unbound variable")
	ErrArity          = errors.New("wrong function arity")
	ErrDivisionByZero = errors.New("division by zero")
	ErrType           = errors.New("type mismatch")
)

// Error is a formula failure attributable to one formula text.
type Error struct {
	Kind    ErrorKind
	Formula string
	Pos     int // byte offset into Formula, -1 when unknown
	Name    string
	Msg     string
}

func (e *Error) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("formula %q: %s at offset %d", e.Formula, e.Msg, e.Pos)
	}
	return fmt.Sprintf("formula %q: %s", e.Formula, e.Msg)
}

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	switch e.Kind {
	case KindParse:
		return target == ErrParse
	case KindUnbound:
		return target == ErrUnbound
	case KindArity:
		return target == ErrArity
	case KindDivisionByZero:
		return target == ErrDivisionByZero
	case KindType:
		return target == ErrType
	}
	return false
}

func errorf(kind ErrorKind, pos int, format string, args ...any) *Error {
	return &Error{Kind: kind, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}
