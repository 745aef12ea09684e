// Package bulk applies one workflow action to many documents. Every document
// is handled in its own transaction, so one failure never undoes or blocks
// the others.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pitabwire/docflow/internal/observability"
	"github.com/pitabwire/docflow/internal/store"
	"github.com/pitabwire/docflow/internal/workflow"
	"github.com/pitabwire/docflow/model"
)

// DefaultProgressThreshold is the smallest batch that reports progress.
const DefaultProgressThreshold = 5

// Severity summarizes the outcome of a batch.
type Severity string

// Batch severities.
const (
	SeveritySuccess Severity = "success"
	SeverityMixed   Severity = "mixed"
	SeverityFailed  Severity = "failed"
)

// Item outcomes reported to the Recorder.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// Request names the documents and the action of a bulk run.
type Request struct {
	Doctype      string   `json:"doctype"`
	Names        []string `json:"names"`
	Action       string   `json:"action"`
	TransitionID string   `json:"transition_id,omitempty"`
}

// ItemResult is the outcome for one document.
type ItemResult struct {
	Name      string   `json:"name"`
	Succeeded bool     `json:"succeeded"`
	Code      string   `json:"code,omitempty"`
	Messages  []string `json:"messages,omitempty"`
}

// Report is the outcome of a bulk run, with items in input order.
type Report struct {
	Doctype  string       `json:"doctype"`
	Action   string       `json:"action"`
	Severity Severity     `json:"severity"`
	Items    []ItemResult `json:"items"`
}

// Failed returns the failed items.
func (r Report) Failed() []ItemResult {
	var out []ItemResult
	for _, it := range r.Items {
		if !it.Succeeded {
			out = append(out, it)
		}
	}
	return out
}

func severityOf(items []ItemResult) Severity {
	ok, failed := 0, 0
	for _, it := range items {
		if it.Succeeded {
			ok++
		} else {
			failed++
		}
	}
	switch {
	case failed == 0:
		return SeveritySuccess
	case ok == 0:
		return SeverityFailed
	}
	return SeverityMixed
}

// ProgressSink receives progress of large batches.
type ProgressSink interface {
	Progress(percent float64, title, description string)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(percent float64, title, description string)

// Progress calls f.
func (f ProgressFunc) Progress(percent float64, title, description string) {
	f(percent, title, description)
}

// Applier performs a workflow action inside a transaction.
// *workflow.Engine implements it.
type Applier interface {
	Apply(ctx context.Context, tx store.Tx, rctx *model.RequestContext, doc *model.Document, action string, opts workflow.ApplyOptions) (workflow.Result, error)
}

// Recorder receives bulk metrics.
type Recorder interface {
	RecordBulkBatch(size int)
	RecordBulkItem(outcome string)
}

// Config holds the optional settings of an Executor.
type Config struct {
	// ProgressThreshold is the smallest batch that reports progress.
	// Defaults to DefaultProgressThreshold.
	ProgressThreshold int
	// Concurrency is the number of documents processed at once. Values
	// below 2 process the batch sequentially in input order.
	Concurrency int
	Logger      *zap.Logger
	Recorder    Recorder
}

// Executor runs bulk workflow actions.
type Executor struct {
	tx          store.Transactor
	engine      Applier
	progress    ProgressSink
	threshold   int
	concurrency int
	logger      *zap.Logger
	recorder    Recorder
}

// NewExecutor creates an Executor. progress may be nil.
func NewExecutor(tx store.Transactor, engine Applier, progress ProgressSink, cfg Config) *Executor {
	e := &Executor{
		tx:          tx,
		engine:      engine,
		progress:    progress,
		threshold:   cfg.ProgressThreshold,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
		recorder:    cfg.Recorder,
	}
	if e.threshold <= 0 {
		e.threshold = DefaultProgressThreshold
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Apply performs req.Action on every named document. Item failures are
// reported in the Report, never returned. The returned error is non-nil
// only when ctx ends before the batch completes; the Report then holds the
// items processed so far.
func (e *Executor) Apply(ctx context.Context, rctx *model.RequestContext, req Request) (rep Report, err error) {
	ctx, span := observability.StartSpan(ctx, "bulk.Apply",
		observability.AttrDoctype.String(req.Doctype),
		observability.AttrAction.String(req.Action),
		attribute.Int("docflow.bulk.size", len(req.Names)),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	if e.recorder != nil {
		e.recorder.RecordBulkBatch(len(req.Names))
	}
	var items []ItemResult
	if e.concurrency > 1 && len(req.Names) > 1 {
		items, err = e.parallel(ctx, rctx, req)
	} else {
		items, err = e.sequential(ctx, rctx, req)
	}

	rep = Report{
		Doctype:  req.Doctype,
		Action:   req.Action,
		Severity: severityOf(items),
		Items:    items,
	}
	e.logger.Info("bulk workflow action finished",
		zap.String("doctype", req.Doctype),
		zap.String("action", req.Action),
		zap.Int("requested", len(req.Names)),
		zap.Int("processed", len(items)),
		zap.Int("failed", len(rep.Failed())),
		zap.String("severity", string(rep.Severity)),
	)
	return rep, err
}

func (e *Executor) sequential(ctx context.Context, rctx *model.RequestContext, req Request) ([]ItemResult, error) {
	items := make([]ItemResult, 0, len(req.Names))
	for i, name := range req.Names {
		if err := ctx.Err(); err != nil {
			return items, err
		}
		e.report(len(req.Names), i+1, req.Action, name)
		items = append(items, e.applyOne(ctx, rctx, req, name))
	}
	return items, nil
}

// parallel processes documents concurrently. The same name never runs twice
// at once, and progress counts completions.
func (e *Executor) parallel(ctx context.Context, rctx *model.RequestContext, req Request) ([]ItemResult, error) {
	var (
		mu        sync.Mutex
		results   = make([]ItemResult, len(req.Names))
		done      = make([]bool, len(req.Names))
		completed int
		locks     keyedMutex
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, name := range req.Names {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			unlock := locks.lock(name)
			res := e.applyOne(gctx, rctx, req, name)
			unlock()

			mu.Lock()
			defer mu.Unlock()
			results[i] = res
			done[i] = true
			completed++
			e.report(len(req.Names), completed, req.Action, name)
			return nil
		})
	}
	_ = g.Wait()

	items := make([]ItemResult, 0, len(results))
	for i, res := range results {
		if done[i] {
			items = append(items, res)
		}
	}
	if len(items) < len(req.Names) {
		return items, ctx.Err()
	}
	return items, nil
}

func (e *Executor) report(total, n int, action, name string) {
	if e.progress == nil || total < e.threshold {
		return
	}
	e.progress.Progress(float64(n)*100/float64(total), "Applying: "+action, name)
}

func (e *Executor) applyOne(ctx context.Context, rctx *model.RequestContext, req Request, name string) ItemResult {
	var res workflow.Result
	err := e.tx.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		doc, err := tx.GetDocument(ctx, req.Doctype, name)
		if err != nil {
			return err
		}
		res, err = e.engine.Apply(ctx, tx, rctx, doc, req.Action, workflow.ApplyOptions{TransitionID: req.TransitionID})
		return err
	})
	if err != nil {
		e.record(OutcomeFailed)
		e.logger.Warn("bulk workflow item failed",
			zap.String("doctype", req.Doctype),
			zap.String("name", name),
			zap.String("action", req.Action),
			zap.Error(err),
		)
		return ItemResult{
			Name:     name,
			Code:     model.CodeOf(err),
			Messages: []string{fmt.Sprintf("%s %s: %s", req.Doctype, name, messageOf(err))},
		}
	}
	e.record(OutcomeSucceeded)
	return ItemResult{Name: name, Succeeded: true, Messages: res.Messages}
}

func (e *Executor) record(outcome string) {
	if e.recorder != nil {
		e.recorder.RecordBulkItem(outcome)
	}
}

func messageOf(err error) string {
	var env *model.ErrorEnvelope
	if errors.As(err, &env) {
		return env.Message
	}
	return err.Error()
}

// keyedMutex hands out one mutex per key. Entries live only while some
// caller holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		if m.refs--; m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// size returns the number of tracked keys. For testing.
func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
