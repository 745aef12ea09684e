package store

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/pitabwire/docflow/model"
)

// MatchFilters reports whether doc satisfies every filter. A filter value is
// either a scalar compared for equality or a two-element list
// [operator, operand]. Supported operators: = != > >= < <= in, "not in",
// like, "not like" and is ("set" or "not set").
func MatchFilters(doc *model.Document, filters map[string]any) (bool, error) {
	for field, cond := range filters {
		op, operand, err := splitFilter(cond)
		if err != nil {
			return false, fmt.Errorf("filter %q: %w", field, err)
		}
		ok, err := matchOne(doc.Get(field), op, operand)
		if err != nil {
			return false, fmt.Errorf("filter %q: %w", field, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func splitFilter(cond any) (string, any, error) {
	list, ok := cond.([]any)
	if !ok {
		return "=", cond, nil
	}
	if len(list) != 2 {
		return "", nil, fmt.Errorf("expected [operator, value], got %d elements", len(list))
	}
	op, ok := list[0].(string)
	if !ok {
		return "", nil, fmt.Errorf("operator must be a string")
	}
	return strings.ToLower(strings.TrimSpace(op)), list[1], nil
}

func matchOne(value any, op string, operand any) (bool, error) {
	switch op {
	case "=", "==":
		return valuesEqual(value, operand), nil
	case "!=":
		return !valuesEqual(value, operand), nil
	case "in", "not in":
		list, ok := operand.([]any)
		if !ok {
			return false, fmt.Errorf("%s requires a list", op)
		}
		found := false
		for _, item := range list {
			if valuesEqual(value, item) {
				found = true
				break
			}
		}
		return found == (op == "in"), nil
	case "is":
		switch operand {
		case "set":
			return value != nil && value != "", nil
		case "not set":
			return value == nil || value == "", nil
		}
		return false, fmt.Errorf(`is requires "set" or "not set"`)
	case "like", "not like":
		pattern, ok := operand.(string)
		if !ok {
			return false, fmt.Errorf("%s requires a string pattern", op)
		}
		s, _ := value.(string)
		return likeMatch(s, pattern) == (op == "like"), nil
	case ">", ">=", "<", "<=":
		c, ok := orderValues(value, operand)
		if !ok {
			return false, nil
		}
		switch op {
		case ">":
			return c > 0, nil
		case ">=":
			return c >= 0, nil
		case "<":
			return c < 0, nil
		default:
			return c <= 0, nil
		}
	}
	return false, fmt.Errorf("unsupported operator %q", op)
}

func toNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

func valuesEqual(a, b any) bool {
	if af, ok := toNumber(a); ok {
		bf, ok := toNumber(b)
		return ok && af == bf
	}
	switch x := a.(type) {
	case nil:
		return b == nil
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	}
	return false
}

// orderValues compares numbers numerically and strings lexically. Other
// combinations are unordered.
func orderValues(a, b any) (int, bool) {
	if af, ok := toNumber(a); ok {
		bf, ok := toNumber(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if !aok || !bok {
		return 0, false
	}
	return strings.Compare(as, bs), true
}

// likeMatch implements SQL LIKE with % and _ wildcards, case-insensitively.
func likeMatch(s, pattern string) bool {
	var b strings.Builder
	b.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	return err == nil && re.MatchString(s)
}

// project copies the requested fields of a document into a row. An empty
// field list yields only the name.
func project(doc *model.Document, fields []string) map[string]any {
	if len(fields) == 0 {
		fields = []string{model.FieldName}
	}
	row := make(map[string]any, len(fields))
	for _, f := range fields {
		row[f] = doc.Get(f)
	}
	return row
}
