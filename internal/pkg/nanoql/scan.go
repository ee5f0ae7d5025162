package nanoql

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokWord
	tokQuoted
	tokOp
	tokLParen
	tokRParen
	tokComma
	tokAnd
	tokOr
	tokNot
	tokIn
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of query"
	}
	return fmt.Sprintf("%q", t.text)
}

// SyntaxError reports where a query stopped making sense.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("nanoql: %s at offset %d", e.Msg, e.Pos)
}

// operators, longest first so "<=" wins over "<".
var operators = []string{"!=", ">=", "<=", ":", "~", ">", "<"}

// scan splits a query into tokens.
func scan(src string) ([]token, error) {
	var out []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			out = append(out, token{tokLParen, "(", i})
			i++
		case c == ')':
			out = append(out, token{tokRParen, ")", i})
			i++
		case c == ',':
			out = append(out, token{tokComma, ",", i})
			i++
		case c == '"':
			s, n, err := quoted(src, i)
			if err != nil {
				return nil, err
			}
			out = append(out, token{tokQuoted, s, i})
			i += n
		default:
			if op := operatorAt(src, i); op != "" {
				out = append(out, token{tokOp, op, i})
				i += len(op)
				continue
			}
			start := i
			for i < len(src) && wordByte(src, i) {
				i++
			}
			if i == start {
				return nil, &SyntaxError{Pos: i, Msg: fmt.Sprintf("unexpected character %q", c)}
			}
			out = append(out, word(src[start:i], start))
		}
	}
	return append(out, token{tokEOF, "", len(src)}), nil
}

func operatorAt(src string, i int) string {
	// "!" followed by a digit opens a compiled-autograd id such as !1_0_0.
	if src[i] == '!' && i+1 < len(src) && src[i+1] != '=' {
		return ""
	}
	for _, op := range operators {
		if strings.HasPrefix(src[i:], op) {
			return op
		}
	}
	return ""
}

func wordByte(src string, i int) bool {
	c := src[i]
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_' || c == '-' || c == '.' || c == '/' || c == '*' || c >= 0x80:
		return true
	case c == '!':
		return i+1 >= len(src) || src[i+1] != '='
	}
	return false
}

func word(text string, pos int) token {
	switch strings.ToLower(text) {
	case "and":
		return token{tokAnd, text, pos}
	case "or":
		return token{tokOr, text, pos}
	case "not":
		return token{tokNot, text, pos}
	case "in":
		return token{tokIn, text, pos}
	}
	return token{tokWord, text, pos}
}

// quoted reads a double-quoted string starting at src[i] and returns its
// unescaped value and the number of bytes consumed.
func quoted(src string, i int) (string, int, error) {
	var b strings.Builder
	j := i + 1
	for j < len(src) {
		switch src[j] {
		case '\\':
			if j+1 < len(src) {
				b.WriteByte(src[j+1])
				j += 2
				continue
			}
			j++
		case '"':
			return b.String(), j + 1 - i, nil
		default:
			b.WriteByte(src[j])
			j++
		}
	}
	return "", 0, &SyntaxError{Pos: i, Msg: "unterminated string"}
}
