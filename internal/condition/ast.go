package condition

import (
	"fmt"
	"maps"
)

type node interface {
	eval(s *state) (any, error)
}

type literal struct{ v any }

func (n *literal) eval(*state) (any, error) { return n.v, nil }

type listExpr struct{ items []node }

func (n *listExpr) eval(s *state) (any, error) {
	out := make([]any, 0, len(n.items))
	for _, item := range n.items {
		v, err := item.eval(s)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

type dictExpr struct{ keys, vals []node }

func (n *dictExpr) eval(s *state) (any, error) {
	out := make(map[string]any, len(n.keys))
	for i := range n.keys {
		k, err := n.keys[i].eval(s)
		if err != nil {
			return nil, err
		}
		ks, ok := k.(string)
		if !ok {
			return nil, fmt.Errorf("dict keys must be strings, got %s", typeName(k))
		}
		v, err := n.vals[i].eval(s)
		if err != nil {
			return nil, err
		}
		out[ks] = v
	}
	return out, nil
}

// docField reads a field of the document under evaluation.
type docField struct {
	field node
	def   node
}

func (n *docField) eval(s *state) (any, error) {
	k, err := n.field.eval(s)
	if err != nil {
		return nil, err
	}
	name, ok := k.(string)
	if !ok {
		return nil, fmt.Errorf("field name must be a string, got %s", typeName(k))
	}
	var v any
	if s.env.Doc != nil {
		v = normalize(s.env.Doc.Get(name))
	}
	if v == nil && n.def != nil {
		return n.def.eval(s)
	}
	return v, nil
}

type sessionUser struct{}

func (sessionUser) eval(s *state) (any, error) { return s.env.User, nil }

// indexExpr reads a key of a mapping or an element of a list.
type indexExpr struct{ x, key node }

func (n *indexExpr) eval(s *state) (any, error) {
	x, err := n.x.eval(s)
	if err != nil {
		return nil, err
	}
	k, err := n.key.eval(s)
	if err != nil {
		return nil, err
	}
	switch c := x.(type) {
	case map[string]any:
		ks, ok := k.(string)
		if !ok {
			return nil, fmt.Errorf("mapping keys must be strings, got %s", typeName(k))
		}
		return normalize(c[ks]), nil
	case []any:
		i, ok := k.(int64)
		if !ok {
			return nil, fmt.Errorf("list indices must be integers, got %s", typeName(k))
		}
		if i < 0 {
			i += int64(len(c))
		}
		if i < 0 || i >= int64(len(c)) {
			return nil, fmt.Errorf("list index out of range")
		}
		return normalize(c[i]), nil
	case nil:
		return nil, fmt.Errorf("cannot read %v of None", k)
	default:
		return nil, fmt.Errorf("cannot read %v of %s", k, typeName(x))
	}
}

type callExpr struct {
	name string
	fn   *function
	args map[string]node
}

func (n *callExpr) eval(s *state) (any, error) {
	args := make(map[string]any, len(n.args))
	for k, a := range n.args {
		v, err := a.eval(s)
		if err != nil {
			return nil, err
		}
		args[k] = v
	}
	v, err := n.fn.call(s, args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", n.name, err)
	}
	return v, nil
}

type unaryExpr struct {
	op string
	x  node
}

func (n *unaryExpr) eval(s *state) (any, error) {
	v, err := n.x.eval(s)
	if err != nil {
		return nil, err
	}
	if n.op == "not" {
		return !truthy(v), nil
	}
	num, ok := v.(int64)
	if ok {
		if n.op == "-" {
			return -num, nil
		}
		return num, nil
	}
	f, ok := v.(float64)
	if !ok {
		return nil, fmt.Errorf("bad operand type for unary %s: %s", n.op, typeName(v))
	}
	if n.op == "-" {
		return -f, nil
	}
	return f, nil
}

type binaryExpr struct {
	op   string
	l, r node
}

func (n *binaryExpr) eval(s *state) (any, error) {
	l, err := n.l.eval(s)
	if err != nil {
		return nil, err
	}
	r, err := n.r.eval(s)
	if err != nil {
		return nil, err
	}
	return arith(n.op, l, r)
}

// logicalExpr short-circuits and yields the deciding operand.
type logicalExpr struct {
	op   string
	l, r node
}

func (n *logicalExpr) eval(s *state) (any, error) {
	l, err := n.l.eval(s)
	if err != nil {
		return nil, err
	}
	if (n.op == "and") != truthy(l) {
		return l, nil
	}
	return n.r.eval(s)
}

type compareExpr struct {
	ops      []string
	operands []node
}

func (n *compareExpr) eval(s *state) (any, error) {
	left, err := n.operands[0].eval(s)
	if err != nil {
		return nil, err
	}
	for i, op := range n.ops {
		right, err := n.operands[i+1].eval(s)
		if err != nil {
			return nil, err
		}
		ok, err := compare(op, left, right)
		if err != nil {
			return nil, err
		}
		if !ok {
			return false, nil
		}
		left = right
	}
	return true, nil
}

// copyMap guards mappings handed to data sources against mutation.
func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}
