// Package nanoql implements the small filter language used to select
// intermediate entries:
//
//	type:graph_dump AND metadata.name~grad
//	rank >= 1 OR NOT compile_id in (0_0_0, 1_0_0)
//	"allreduce"
//
// A bare word or quoted string matches anywhere in an entry's text.
package nanoql

import (
	"fmt"
	"strings"
)

// Op is a field comparison.
type Op string

const (
	OpEq       Op = ":"
	OpNe       Op = "!="
	OpContains Op = "~"
	OpGt       Op = ">"
	OpGe       Op = ">="
	OpLt       Op = "<"
	OpLe       Op = "<="
	OpIn       Op = "in"
)

// Expr is a parsed query.
type Expr interface {
	fmt.Stringer
	eval(r Record) bool
}

// And matches when every term matches.
type And []Expr

// Or matches when any term matches.
type Or []Expr

// Not inverts X.
type Not struct{ X Expr }

// Compare tests one field. Values has one element except for OpIn.
// A Value of "*" with OpEq only requires the field to be present.
type Compare struct {
	Field  string
	Op     Op
	Values []string
}

// Text is a free-text term.
type Text string

func (a And) String() string  { return join(a, " AND ") }
func (o Or) String() string   { return join(o, " OR ") }
func (n Not) String() string  { return "NOT " + group(n.X) }
func (t Text) String() string { return fmt.Sprintf("%q", string(t)) }

func (c Compare) String() string {
	if c.Op == OpIn {
		return c.Field + " in (" + strings.Join(c.Values, ", ") + ")"
	}
	return c.Field + string(c.Op) + c.Values[0]
}

func join(xs []Expr, sep string) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = group(x)
	}
	return strings.Join(parts, sep)
}

// group parenthesizes compound expressions so String round-trips.
func group(x Expr) string {
	switch x.(type) {
	case And, Or:
		return "(" + x.String() + ")"
	}
	return x.String()
}
