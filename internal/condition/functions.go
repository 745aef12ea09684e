package condition

import (
	"fmt"
	"slices"
	"strconv"
	"time"
)

// function is an allow-listed callable. Arguments are bound to params by
// position or keyword when the expression is compiled; the first required
// params must be present.
type function struct {
	params   []string
	required int
	call     func(s *state, args map[string]any) (any, error)
}

func (f *function) accepts(name string) bool {
	return slices.Contains(f.params, name)
}

// nowLayout is the textual datetime form returned by utils.now.
const nowLayout = "2006-01-02 15:04:05.000000"

var functions map[string]*function

func init() {
	functions = map[string]*function{
		"db.get_value": {params: []string{"doctype", "filters", "fieldname"}, required: 2, call: dbGetValue},
		"db.get_list":  {params: []string{"doctype", "filters", "fields", "limit"}, required: 1, call: dbGetList},
		"db.count":     {params: []string{"doctype", "filters"}, required: 1, call: dbCount},
		"db.exists":    {params: []string{"doctype", "filters"}, required: 2, call: dbExists},

		"utils.now": {call: func(s *state, _ map[string]any) (any, error) {
			return s.now().Format(nowLayout), nil
		}},
		"utils.nowdate": {call: func(s *state, _ map[string]any) (any, error) {
			return s.now().Format("2006-01-02"), nil
		}},
		"utils.now_datetime": {call: func(s *state, _ map[string]any) (any, error) {
			return s.now(), nil
		}},
		"utils.get_datetime": {params: []string{"datetime"}, call: utilsGetDatetime},
		"utils.getdate":      {params: []string{"date"}, call: utilsGetdate},
		"utils.add_to_date": {
			params:   []string{"date", "years", "months", "weeks", "days", "hours", "minutes", "seconds"},
			required: 1,
			call:     utilsAddToDate,
		},
		"utils.date_diff": {params: []string{"end", "start"}, required: 2, call: utilsDateDiff},

		"len":   {params: []string{"obj"}, required: 1, call: builtinLen},
		"int":   {params: []string{"x"}, required: 1, call: builtinInt},
		"float": {params: []string{"x"}, required: 1, call: builtinFloat},
		"str":   {params: []string{"x"}, required: 1, call: builtinStr},
	}
}

func (s *state) data() (DataSource, error) {
	if s.env.Data == nil {
		return nil, fmt.Errorf("no data source available")
	}
	return s.env.Data, nil
}

func stringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name].(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %s", name, typeName(args[name]))
	}
	return v, nil
}

// filtersArg accepts either a document name or a mapping of field filters.
func filtersArg(args map[string]any) (map[string]any, error) {
	switch f := args["filters"].(type) {
	case nil:
		return nil, nil
	case string:
		return map[string]any{"name": f}, nil
	case map[string]any:
		return copyMap(f), nil
	default:
		return nil, fmt.Errorf("filters must be a name or a dict, got %s", typeName(f))
	}
}

func dbGetValue(s *state, args map[string]any) (any, error) {
	ds, err := s.data()
	if err != nil {
		return nil, err
	}
	doctype, err := stringArg(args, "doctype")
	if err != nil {
		return nil, err
	}
	filters, err := filtersArg(args)
	if err != nil {
		return nil, err
	}
	field := "name"
	if _, ok := args["fieldname"]; ok {
		if field, err = stringArg(args, "fieldname"); err != nil {
			return nil, err
		}
	}
	v, err := ds.GetValue(s.ctx, doctype, filters, field)
	if err != nil {
		return nil, err
	}
	return normalize(v), nil
}

func dbGetList(s *state, args map[string]any) (any, error) {
	ds, err := s.data()
	if err != nil {
		return nil, err
	}
	doctype, err := stringArg(args, "doctype")
	if err != nil {
		return nil, err
	}
	filters, err := filtersArg(args)
	if err != nil {
		return nil, err
	}
	var fields []string
	if raw, ok := args["fields"]; ok && raw != nil {
		list, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("fields must be a list, got %s", typeName(raw))
		}
		for _, f := range list {
			name, ok := f.(string)
			if !ok {
				return nil, fmt.Errorf("field names must be strings, got %s", typeName(f))
			}
			fields = append(fields, name)
		}
	}
	limit := s.maxRows
	if raw, ok := args["limit"]; ok && raw != nil {
		n, ok := raw.(int64)
		if !ok || n < 0 {
			return nil, fmt.Errorf("limit must be a non-negative integer")
		}
		if int(n) < limit {
			limit = int(n)
		}
	}
	rows, err := ds.GetList(s.ctx, doctype, filters, fields, limit)
	if err != nil {
		return nil, err
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return normalize(rows), nil
}

func dbCount(s *state, args map[string]any) (any, error) {
	ds, err := s.data()
	if err != nil {
		return nil, err
	}
	doctype, err := stringArg(args, "doctype")
	if err != nil {
		return nil, err
	}
	filters, err := filtersArg(args)
	if err != nil {
		return nil, err
	}
	n, err := ds.Count(s.ctx, doctype, filters)
	if err != nil {
		return nil, err
	}
	return int64(n), nil
}

func dbExists(s *state, args map[string]any) (any, error) {
	n, err := dbCount(s, args)
	if err != nil {
		return nil, err
	}
	return n.(int64) > 0, nil
}

func utilsGetDatetime(s *state, args map[string]any) (any, error) {
	v, ok := args["datetime"]
	if !ok || v == nil {
		return s.now(), nil
	}
	return toTime(v)
}

func utilsGetdate(s *state, args map[string]any) (any, error) {
	t := s.now()
	if v, ok := args["date"]; ok && v != nil {
		var err error
		if t, err = toTime(v); err != nil {
			return nil, err
		}
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location()), nil
}

func utilsAddToDate(_ *state, args map[string]any) (any, error) {
	t, err := toTime(args["date"])
	if err != nil {
		return nil, err
	}
	part := func(name string) (int, error) {
		v, ok := args[name]
		if !ok || v == nil {
			return 0, nil
		}
		n, ok := v.(int64)
		if !ok {
			return 0, fmt.Errorf("%s must be an integer, got %s", name, typeName(v))
		}
		return int(n), nil
	}
	var units [7]int
	for i, name := range []string{"years", "months", "weeks", "days", "hours", "minutes", "seconds"} {
		if units[i], err = part(name); err != nil {
			return nil, err
		}
	}
	t = t.AddDate(units[0], units[1], units[2]*7+units[3])
	return t.Add(time.Duration(units[4])*time.Hour +
		time.Duration(units[5])*time.Minute +
		time.Duration(units[6])*time.Second), nil
}

func utilsDateDiff(_ *state, args map[string]any) (any, error) {
	end, err := toTime(args["end"])
	if err != nil {
		return nil, err
	}
	start, err := toTime(args["start"])
	if err != nil {
		return nil, err
	}
	day := func(t time.Time) time.Time {
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	return int64(day(end).Sub(day(start)).Hours() / 24), nil
}

func builtinLen(_ *state, args map[string]any) (any, error) {
	switch x := args["obj"].(type) {
	case string:
		return int64(len([]rune(x))), nil
	case []any:
		return int64(len(x)), nil
	case map[string]any:
		return int64(len(x)), nil
	default:
		return nil, fmt.Errorf("object of type %s has no len()", typeName(x))
	}
}

func builtinInt(_ *state, args map[string]any) (any, error) {
	switch x := args["x"].(type) {
	case int64:
		return x, nil
	case float64:
		return int64(x), nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid literal for int(): %q", x)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("int() argument must be a string or a number, not %s", typeName(x))
	}
}

func builtinFloat(_ *state, args map[string]any) (any, error) {
	switch x := args["x"].(type) {
	case int64:
		return float64(x), nil
	case float64:
		return x, nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return nil, fmt.Errorf("could not convert string to float: %q", x)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("float() argument must be a string or a number, not %s", typeName(x))
	}
}

func builtinStr(_ *state, args map[string]any) (any, error) {
	switch x := args["x"].(type) {
	case nil:
		return "None", nil
	case string:
		return x, nil
	case bool:
		if x {
			return "True", nil
		}
		return "False", nil
	case time.Time:
		return x.Format("2006-01-02 15:04:05.999999"), nil
	default:
		return fmt.Sprint(x), nil
	}
}
