package condition

import (
	"fmt"
	"strconv"
)

// Root names an expression may start from. Anything else is rejected when
// the expression is compiled.
const (
	rootDoc     = "doc"
	rootSession = "session"
	rootDB      = "db"
	rootUtils   = "utils"
)

type parser struct {
	toks []token
	pos  int
}

// parse compiles src into an evaluation tree.
func parse(src string) (node, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, p.unexpected(tok)
	}
	return n, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) peekAt(offset int) token {
	if p.pos+offset >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+offset]
}

func (p *parser) next() token {
	tok := p.toks[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) isOp(text string) bool {
	tok := p.peek()
	return tok.kind == tokOp && tok.text == text
}

func (p *parser) isKeyword(word string) bool {
	tok := p.peek()
	return tok.kind == tokIdent && tok.text == word
}

func (p *parser) expectOp(text string) error {
	tok := p.next()
	if tok.kind != tokOp || tok.text != text {
		return fmt.Errorf("offset %d: expected %q, found %s", tok.pos, text, tok)
	}
	return nil
}

func (p *parser) expectIdent() (token, error) {
	tok := p.next()
	if tok.kind != tokIdent {
		return tok, fmt.Errorf("offset %d: expected a name, found %s", tok.pos, tok)
	}
	return tok, nil
}

func (p *parser) unexpected(tok token) error {
	return fmt.Errorf("offset %d: unexpected %s", tok.pos, tok)
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &logicalExpr{op: "or", l: left, r: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("and") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &logicalExpr{op: "and", l: left, r: right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.isKeyword("not") {
		p.next()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &unaryExpr{op: "not", x: x}, nil
	}
	return p.parseComparison()
}

// parseComparison handles chained comparisons: a < b < c holds when both
// a < b and b < c hold.
func (p *parser) parseComparison() (node, error) {
	first, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	cmp := &compareExpr{operands: []node{first}}
	for {
		op, ok := p.comparisonOp()
		if !ok {
			break
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		cmp.ops = append(cmp.ops, op)
		cmp.operands = append(cmp.operands, right)
	}
	if len(cmp.ops) == 0 {
		return first, nil
	}
	return cmp, nil
}

// comparisonOp consumes a comparison operator if one is next.
func (p *parser) comparisonOp() (string, bool) {
	tok := p.peek()
	if tok.kind == tokOp {
		switch tok.text {
		case "==", "!=", "<", "<=", ">", ">=":
			p.next()
			return tok.text, true
		}
		return "", false
	}
	if tok.kind != tokIdent {
		return "", false
	}
	switch tok.text {
	case "in":
		p.next()
		return "in", true
	case "not":
		if nxt := p.peekAt(1); nxt.kind == tokIdent && nxt.text == "in" {
			p.pos += 2
			return "not in", true
		}
	case "is":
		p.next()
		if p.isKeyword("not") {
			p.next()
			return "is not", true
		}
		return "is", true
	}
	return "", false
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.isOp("+") || p.isOp("-") {
		op := p.next().text
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: op, l: left, r: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isOp("*") || p.isOp("/") || p.isOp("%") {
		op := p.next().text
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: op, l: left, r: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.isOp("-") || p.isOp("+") {
		op := p.next().text
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryExpr{op: op, x: x}, nil
	}
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	return p.parsePostfix(x)
}

// parsePostfix parses key access on a value. Method calls on values are not
// part of the grammar.
func (p *parser) parsePostfix(x node) (node, error) {
	for {
		switch {
		case p.isOp("."):
			p.next()
			name, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			if p.isOp("(") {
				return nil, fmt.Errorf("offset %d: calling %q is not allowed", name.pos, name.text)
			}
			x = &indexExpr{x: x, key: &literal{v: name.text}}
		case p.isOp("["):
			p.next()
			key, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if err := p.expectOp("]"); err != nil {
				return nil, err
			}
			x = &indexExpr{x: x, key: key}
		default:
			return x, nil
		}
	}
}

func (p *parser) parsePrimary() (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		return parseNumber(tok)
	case tokString:
		return &literal{v: tok.text}, nil
	case tokIdent:
		return p.parseName(tok)
	case tokOp:
		switch tok.text {
		case "(":
			x, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			return x, p.expectOp(")")
		case "[":
			items, err := p.parseList("]")
			if err != nil {
				return nil, err
			}
			return &listExpr{items: items}, nil
		case "{":
			return p.parseDict()
		}
	}
	return nil, p.unexpected(tok)
}

func parseNumber(tok token) (node, error) {
	if i, err := strconv.ParseInt(tok.text, 10, 64); err == nil {
		return &literal{v: i}, nil
	}
	f, err := strconv.ParseFloat(tok.text, 64)
	if err != nil {
		return nil, fmt.Errorf("offset %d: invalid number %q", tok.pos, tok.text)
	}
	return &literal{v: f}, nil
}

func (p *parser) parseList(closer string) ([]node, error) {
	var items []node
	for !p.isOp(closer) {
		item, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if !p.isOp(",") {
			break
		}
		p.next()
	}
	return items, p.expectOp(closer)
}

func (p *parser) parseDict() (node, error) {
	d := &dictExpr{}
	for !p.isOp("}") {
		k, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expectOp(":"); err != nil {
			return nil, err
		}
		v, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		d.keys = append(d.keys, k)
		d.vals = append(d.vals, v)
		if !p.isOp(",") {
			break
		}
		p.next()
	}
	return d, p.expectOp("}")
}

// parseName resolves a bare identifier: a constant, an allow-listed root, or
// a builtin function.
func (p *parser) parseName(tok token) (node, error) {
	switch tok.text {
	case "True", "true":
		return &literal{v: true}, nil
	case "False", "false":
		return &literal{v: false}, nil
	case "None", "null":
		return &literal{v: nil}, nil
	case rootDoc:
		return p.parseDoc()
	case rootSession:
		if err := p.expectOp("."); err != nil {
			return nil, err
		}
		attr, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if attr.text != "user" {
			return nil, fmt.Errorf("offset %d: session.%s is not allowed", attr.pos, attr.text)
		}
		return sessionUser{}, nil
	case rootDB, rootUtils:
		if err := p.expectOp("."); err != nil {
			return nil, err
		}
		fn, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return p.parseCall(tok.text+"."+fn.text, fn.pos)
	}
	if _, ok := functions[tok.text]; ok {
		return p.parseCall(tok.text, tok.pos)
	}
	return nil, fmt.Errorf("offset %d: name %q is not allowed", tok.pos, tok.text)
}

func (p *parser) parseDoc() (node, error) {
	if err := p.expectOp("."); err != nil {
		return nil, err
	}
	field, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if field.text != "get" || !p.isOp("(") {
		return &docField{field: &literal{v: field.text}}, nil
	}
	p.next()
	args, err := p.parseList(")")
	if err != nil {
		return nil, err
	}
	if len(args) < 1 || len(args) > 2 {
		return nil, fmt.Errorf("offset %d: doc.get takes 1 or 2 arguments, got %d", field.pos, len(args))
	}
	df := &docField{field: args[0]}
	if len(args) == 2 {
		df.def = args[1]
	}
	return df, nil
}

// parseCall parses the argument list of an allow-listed function and binds
// it to the function's parameters.
func (p *parser) parseCall(name string, pos int) (node, error) {
	fn, ok := functions[name]
	if !ok {
		return nil, fmt.Errorf("offset %d: function %q is not allowed", pos, name)
	}
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	c := &callExpr{name: name, fn: fn, args: make(map[string]node)}
	positional := 0
	for !p.isOp(")") {
		if tok := p.peek(); tok.kind == tokIdent && p.peekAt(1).kind == tokOp && p.peekAt(1).text == "=" {
			p.pos += 2
			if !fn.accepts(tok.text) {
				return nil, fmt.Errorf("offset %d: %s got an unexpected keyword argument %q", tok.pos, name, tok.text)
			}
			if _, dup := c.args[tok.text]; dup {
				return nil, fmt.Errorf("offset %d: %s got multiple values for %q", tok.pos, name, tok.text)
			}
			v, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			c.args[tok.text] = v
		} else {
			if positional >= len(fn.params) {
				return nil, fmt.Errorf("offset %d: %s takes at most %d positional arguments", tok.pos, name, len(fn.params))
			}
			param := fn.params[positional]
			if _, dup := c.args[param]; dup {
				return nil, fmt.Errorf("offset %d: %s got multiple values for %q", tok.pos, name, param)
			}
			v, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			c.args[param] = v
			positional++
		}
		if !p.isOp(",") {
			break
		}
		p.next()
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	for _, req := range fn.params[:fn.required] {
		if _, ok := c.args[req]; !ok {
			return nil, fmt.Errorf("offset %d: %s is missing argument %q", pos, name, req)
		}
	}
	return c, nil
}
