// Package formula compiles and evaluates the bounded arithmetic and comparison
// language used by catalog quantity formulas and labor eligibility
// conditions.
//
// Grammar, lowest precedence first:
//
//	or         = and { "OR" and }
//	and        = comparison { "AND" comparison }
//	comparison = additive [ ("==" | "!=" | "<" | "<=" | ">" | ">=") additive ]
//	additive   = term { ("+" | "-") term }
//	term       = unary { ("*" | "/") unary }
//	unary      = "-" unary | primary
//	primary    = number | string | "TRUE" | "FALSE" | "[" name "]" | name
//	           | function "(" [ or { "," or } ] ")" | "(" or ")"
//
// Functions are ROUNDUP, ROUNDDOWN, MAX and MIN. There is no IF(): whether a
// line applies is decided by visibility and eligibility rules, never inside a
// quantity formula.
//
// Identifiers are resolved through a Scope at evaluation time; a name the
// scope cannot resolve fails with an Error of kind KindUnbound. Division by a
// zero-valued operand fails with KindDivisionByZero.
package formula
