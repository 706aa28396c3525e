package formula

import (
	"strconv"
	"strings"
	"unicode"
)

type tokenType int

const (
	tokEOF tokenType = iota
	tokNumber
	tokString
	tokRef   // [name]
	tokIdent // bare word
	tokLParen
	tokRParen
	tokComma
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokEq
	tokNe
	tokLt
	tokLe
	tokGt
	tokGe
	tokAnd
	tokOr
	tokTrue
	tokFalse
)

var tokenNames = map[tokenType]string{
	tokEOF:    "end of formula",
	tokNumber: "number",
	tokString: "string",
	tokRef:    "identifier",
	tokIdent:  "identifier",
	tokLParen: "'('",
	tokRParen: "')'",
	tokComma:  "','",
	tokPlus:   "'+'",
	tokMinus:  "'-'",
	tokStar:   "'*'",
	tokSlash:  "'/'",
	tokEq:     "'=='",
	tokNe:     "'!='",
	tokLt:     "'<'",
	tokLe:     "'<='",
	tokGt:     "'>'",
	tokGe:     "'>='",
	tokAnd:    "AND",
	tokOr:     "OR",
	tokTrue:   "TRUE",
	tokFalse:  "FALSE",
}

func (t tokenType) String() string {
	if s, ok := tokenNames[t]; ok {
		return s
	}
	return "token"
}

type token struct {
	typ  tokenType
	text string
	num  float64
	pos  int
}

// lex splits a formula into tokens. Identifiers keep their case; keywords are
// matched case-insensitively.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{typ: tokLParen, pos: i})
			i++
		case c == ')':
			toks = append(toks, token{typ: tokRParen, pos: i})
			i++
		case c == ',':
			toks = append(toks, token{typ: tokComma, pos: i})
			i++
		case c == '+':
			toks = append(toks, token{typ: tokPlus, pos: i})
			i++
		case c == '-':
			toks = append(toks, token{typ: tokMinus, pos: i})
			i++
		case c == '*':
			toks = append(toks, token{typ: tokStar, pos: i})
			i++
		case c == '/':
			toks = append(toks, token{typ: tokSlash, pos: i})
			i++
		case c == '=':
			// "=" is accepted as a spreadsheet-style alias for "==".
			toks = append(toks, token{typ: tokEq, pos: i})
			i++
			if i < len(src) && src[i] == '=' {
				i++
			}
		case c == '!':
			if i+1 < len(src) && src[i+1] == '=' {
				toks = append(toks, token{typ: tokNe, pos: i})
				i += 2
			} else {
				return nil, errorf(KindParse, i, "unexpected '!'")
			}
		case c == '<':
			switch {
			case i+1 < len(src) && src[i+1] == '=':
				toks = append(toks, token{typ: tokLe, pos: i})
				i += 2
			case i+1 < len(src) && src[i+1] == '>':
				toks = append(toks, token{typ: tokNe, pos: i})
				i += 2
			default:
				toks = append(toks, token{typ: tokLt, pos: i})
				i++
			}
		case c == '>':
			if i+1 < len(src) && src[i+1] == '=' {
				toks = append(toks, token{typ: tokGe, pos: i})
				i += 2
			} else {
				toks = append(toks, token{typ: tokGt, pos: i})
				i++
			}
		case c == '[':
			end := strings.IndexByte(src[i+1:], ']')
			if end < 0 {
				return nil, errorf(KindParse, i, "unterminated identifier")
			}
			name := strings.TrimSpace(src[i+1 : i+1+end])
			if name == "" {
				return nil, errorf(KindParse, i, "empty identifier")
			}
			toks = append(toks, token{typ: tokRef, text: name, pos: i})
			i += end + 2
		case c == '"' || c == '\'':
			end := strings.IndexByte(src[i+1:], c)
			if end < 0 {
				return nil, errorf(KindParse, i, "unterminated string")
			}
			toks = append(toks, token{typ: tokString, text: src[i+1 : i+1+end], pos: i})
			i += end + 2
		case isDigit(c) || (c == '.' && i+1 < len(src) && isDigit(src[i+1])):
			start := i
			for i < len(src) && (isDigit(src[i]) || src[i] == '.') {
				i++
			}
			if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
				j := i + 1
				if j < len(src) && (src[j] == '+' || src[j] == '-') {
					j++
				}
				if j < len(src) && isDigit(src[j]) {
					for j < len(src) && isDigit(src[j]) {
						j++
					}
					i = j
				}
			}
			text := src[start:i]
			n, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, errorf(KindParse, start, "invalid number %q", text)
			}
			toks = append(toks, token{typ: tokNumber, text: text, num: n, pos: start})
		case isIdentStart(rune(c)):
			start := i
			for i < len(src) && isIdentPart(rune(src[i])) {
				i++
			}
			word := src[start:i]
			switch strings.ToUpper(word) {
			case "AND":
				toks = append(toks, token{typ: tokAnd, pos: start})
			case "OR":
				toks = append(toks, token{typ: tokOr, pos: start})
			case "TRUE":
				toks = append(toks, token{typ: tokTrue, pos: start})
			case "FALSE":
				toks = append(toks, token{typ: tokFalse, pos: start})
			default:
				toks = append(toks, token{typ: tokIdent, text: word, pos: start})
			}
		default:
			return nil, errorf(KindParse, i, "unexpected character %q", c)
		}
	}
	toks = append(toks, token{typ: tokEOF, pos: len(src)})
	return toks, nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || r == '.' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
