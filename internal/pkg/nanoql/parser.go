package nanoql

import "fmt"

type parser struct {
	toks []token
	i    int
}

// Parse compiles a query. The empty query yields a nil Expr, which
// matches everything.
func Parse(src string) (Expr, error) {
	toks, err := scan(src)
	if err != nil {
		return nil, err
	}
	if len(toks) == 1 {
		return nil, nil
	}
	p := &parser{toks: toks}
	x, err := p.or()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf(t, "unexpected %s", t)
	}
	return x, nil
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) or() (Expr, error) {
	x, err := p.and()
	if err != nil {
		return nil, err
	}
	terms := Or{x}
	for p.peek().kind == tokOr {
		p.next()
		y, err := p.and()
		if err != nil {
			return nil, err
		}
		terms = append(terms, y)
	}
	if len(terms) == 1 {
		return x, nil
	}
	return terms, nil
}

// and also accepts juxtaposition: `a b` means `a AND b`.
func (p *parser) and() (Expr, error) {
	x, err := p.unary()
	if err != nil {
		return nil, err
	}
	terms := And{x}
	for {
		switch p.peek().kind {
		case tokAnd:
			p.next()
		case tokWord, tokQuoted, tokNot, tokLParen:
		default:
			if len(terms) == 1 {
				return x, nil
			}
			return terms, nil
		}
		y, err := p.unary()
		if err != nil {
			return nil, err
		}
		terms = append(terms, y)
	}
}

func (p *parser) unary() (Expr, error) {
	if p.peek().kind == tokNot {
		p.next()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return Not{x}, nil
	}
	return p.primary()
}

func (p *parser) primary() (Expr, error) {
	t := p.next()
	switch t.kind {
	case tokLParen:
		x, err := p.or()
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.kind != tokRParen {
			return nil, p.errorf(c, "expected ) but found %s", c)
		}
		return x, nil
	case tokQuoted:
		return Text(t.text), nil
	case tokWord:
		switch p.peek().kind {
		case tokOp:
			op := Op(p.next().text)
			v, err := p.value(t.text, op)
			if err != nil {
				return nil, err
			}
			return Compare{Field: t.text, Op: op, Values: []string{v}}, nil
		case tokIn:
			p.next()
			vs, err := p.list(t.text)
			if err != nil {
				return nil, err
			}
			return Compare{Field: t.text, Op: OpIn, Values: vs}, nil
		}
		return Text(t.text), nil
	}
	return nil, p.errorf(t, "unexpected %s", t)
}

func (p *parser) value(field string, op Op) (string, error) {
	t := p.next()
	if t.kind != tokWord && t.kind != tokQuoted {
		return "", p.errorf(t, "missing value after %s%s", field, op)
	}
	return t.text, nil
}

func (p *parser) list(field string) ([]string, error) {
	if t := p.next(); t.kind != tokLParen {
		return nil, p.errorf(t, "expected ( after %s in", field)
	}
	var vs []string
	for {
		v, err := p.value(field, OpIn)
		if err != nil {
			return nil, err
		}
		vs = append(vs, v)
		switch t := p.next(); t.kind {
		case tokComma:
		case tokRParen:
			return vs, nil
		default:
			return nil, p.errorf(t, "expected , or ) but found %s", t)
		}
	}
}
