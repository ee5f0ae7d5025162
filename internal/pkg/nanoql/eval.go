package nanoql

import (
	"strconv"
	"strings"
)

// Record is what a query is evaluated against.
type Record interface {
	// Field returns a named value and whether the record has it.
	Field(name string) (string, bool)
	// Text returns the values searched by free-text terms.
	Text() []string
}

// Match reports whether r satisfies x. A nil x matches every record.
func Match(x Expr, r Record) bool {
	if x == nil {
		return true
	}
	return x.eval(r)
}

func (a And) eval(r Record) bool {
	for _, x := range a {
		if !x.eval(r) {
			return false
		}
	}
	return true
}

func (o Or) eval(r Record) bool {
	for _, x := range o {
		if x.eval(r) {
			return true
		}
	}
	return false
}

func (n Not) eval(r Record) bool { return !n.X.eval(r) }

func (t Text) eval(r Record) bool {
	needle := strings.ToLower(string(t))
	for _, s := range r.Text() {
		if strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	return false
}

func (c Compare) eval(r Record) bool {
	v, ok := r.Field(strings.ToLower(c.Field))
	switch c.Op {
	case OpNe:
		return !ok || !strings.EqualFold(v, c.Values[0])
	case OpEq:
		if c.Values[0] == "*" {
			return ok
		}
		return ok && strings.EqualFold(v, c.Values[0])
	case OpContains:
		return ok && strings.Contains(strings.ToLower(v), strings.ToLower(c.Values[0]))
	case OpIn:
		if !ok {
			return false
		}
		for _, want := range c.Values {
			if strings.EqualFold(v, want) {
				return true
			}
		}
		return false
	}
	if !ok {
		return false
	}
	return ordered(v, c.Values[0], c.Op)
}

// ordered compares numerically when both sides parse as numbers and
// lexically otherwise.
func ordered(v, want string, op Op) bool {
	var cmp int
	a, errA := strconv.ParseFloat(v, 64)
	b, errB := strconv.ParseFloat(want, 64)
	switch {
	case errA == nil && errB == nil:
		switch {
		case a < b:
			cmp = -1
		case a > b:
			cmp = 1
		}
	default:
		cmp = strings.Compare(v, want)
	}
	switch op {
	case OpGt:
		return cmp > 0
	case OpGe:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLe:
		return cmp <= 0
	}
	return false
}
