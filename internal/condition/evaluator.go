// Package condition evaluates workflow condition expressions in a sandbox.
//
// Expressions use a small, side-effect free grammar: literals, boolean and
// comparison operators, arithmetic, and read access through a fixed set of
// roots (doc, session.user, db.*, utils.* and a few builtins). Anything
// outside the allow-list is rejected when the expression is compiled, so a
// definition author cannot reach the host process.
package condition

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pitabwire/docflow/model"
)

// DefaultMaxListRows bounds db.get_list results when no limit is configured.
const DefaultMaxListRows = 100

// Lookup resolves document fields. *model.Document implements it.
type Lookup interface {
	Get(field string) any
}

// DataSource is the read-only data access exposed to expressions.
type DataSource interface {
	// GetValue returns one field of the first record matching filters, or
	// nil when nothing matches.
	GetValue(ctx context.Context, doctype string, filters map[string]any, field string) (any, error)

	// GetList returns at most limit records matching filters, projected to
	// fields when fields is non-empty.
	GetList(ctx context.Context, doctype string, filters map[string]any, fields []string, limit int) ([]map[string]any, error)

	// Count returns the number of records matching filters.
	Count(ctx context.Context, doctype string, filters map[string]any) (int, error)
}

// Env is the evaluation environment of one expression.
type Env struct {
	Doc  Lookup
	User string
	Data DataSource
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

type state struct {
	ctx     context.Context
	env     *Env
	maxRows int
}

func (s *state) now() time.Time {
	if s.env.Now != nil {
		return s.env.Now()
	}
	return time.Now()
}

// Program is a compiled expression. It is immutable and safe for concurrent
// use.
type Program struct {
	source string
	root   node
}

// Source returns the expression the program was compiled from.
func (p *Program) Source() string { return p.source }

// Evaluator compiles and evaluates condition expressions, caching compiled
// programs by source text.
type Evaluator struct {
	maxListRows int

	mu       sync.RWMutex
	programs map[string]*Program
}

// NewEvaluator creates an Evaluator. maxListRows bounds db.get_list results;
// values <= 0 select DefaultMaxListRows.
func NewEvaluator(maxListRows int) *Evaluator {
	if maxListRows <= 0 {
		maxListRows = DefaultMaxListRows
	}
	return &Evaluator{
		maxListRows: maxListRows,
		programs:    make(map[string]*Program),
	}
}

// Compile parses expr, or returns the cached program. Syntax errors and
// references outside the allow-list are returned as CONDITION_EVALUATION_ERROR.
func (e *Evaluator) Compile(expr string) (*Program, error) {
	e.mu.RLock()
	prog, ok := e.programs[expr]
	e.mu.RUnlock()
	if ok {
		return prog, nil
	}

	root, err := parse(expr)
	if err != nil {
		return nil, model.NewConditionEvaluationError(expr, err)
	}
	prog = &Program{source: expr, root: root}

	e.mu.Lock()
	e.programs[expr] = prog
	e.mu.Unlock()
	return prog, nil
}

// Evaluate reports whether expr holds in env. An empty expression always
// holds. Failures are returned as CONDITION_EVALUATION_ERROR and never
// reported as false.
func (e *Evaluator) Evaluate(ctx context.Context, expr string, env Env) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}
	v, err := e.Value(ctx, expr, env)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

// Value evaluates expr and returns its raw result.
func (e *Evaluator) Value(ctx context.Context, expr string, env Env) (any, error) {
	prog, err := e.Compile(expr)
	if err != nil {
		return nil, err
	}
	s := &state{ctx: ctx, env: &env, maxRows: e.maxListRows}
	v, err := prog.root.eval(s)
	if err != nil {
		return nil, model.NewConditionEvaluationError(expr, err)
	}
	return v, nil
}
