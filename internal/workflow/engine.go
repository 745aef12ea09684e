// Package workflow implements the document workflow engine: workflow
// resolution, available transitions, approval rules, the action ledger,
// the transition executor and save-time validation.
package workflow

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pitabwire/docflow/internal/access"
	"github.com/pitabwire/docflow/internal/condition"
	"github.com/pitabwire/docflow/internal/observability"
	"github.com/pitabwire/docflow/internal/store"
	"github.com/pitabwire/docflow/model"
)

// Transition outcomes reported to the Recorder.
const (
	OutcomeAdvanced  = "advanced"
	OutcomeGated     = "gated"
	OutcomeDelegated = "delegated"
	OutcomeFailed    = "failed"
)

// Recorder receives engine metrics.
type Recorder interface {
	RecordTransition(workflow, action, outcome string)
	RecordConditionError(workflow string)
	RecordCacheLookup(namespace string, hit bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordTransition(string, string, string) {}
func (nopRecorder) RecordConditionError(string)             {}
func (nopRecorder) RecordCacheLookup(string, bool)          {}

// Config holds the optional settings of an Engine.
type Config struct {
	// Administrator bypasses the self-approval rule and the action ledger.
	// Defaults to model.DefaultAdministrator.
	Administrator string
	Logger        *zap.Logger
	Recorder      Recorder
}

// Engine executes workflow transitions on documents. It holds no per-call
// state; every operation runs inside the caller's transaction.
type Engine struct {
	resolver      *Resolver
	conditions    *condition.Evaluator
	access        access.Checker
	administrator string
	logger        *zap.Logger
	recorder      Recorder
}

// NewEngine creates a new workflow engine.
func NewEngine(resolver *Resolver, conditions *condition.Evaluator, checker access.Checker, cfg Config) *Engine {
	e := &Engine{
		resolver:      resolver,
		conditions:    conditions,
		access:        checker,
		administrator: cfg.Administrator,
		logger:        cfg.Logger,
		recorder:      cfg.Recorder,
	}
	if e.administrator == "" {
		e.administrator = model.DefaultAdministrator
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.recorder == nil {
		e.recorder = nopRecorder{}
	}
	if e.access == nil {
		e.access = access.AllowAll{}
	}
	return e
}

// Resolver returns the engine's workflow resolver.
func (e *Engine) Resolver() *Resolver {
	return e.resolver
}

// ApplyOptions are the optional inputs of Apply.
type ApplyOptions struct {
	// TransitionID selects a declared transition directly.
	TransitionID string
	// NextUser receives the action on Forward and Add Additional Check.
	NextUser string
	// PossibleActions are offered to the user of a newly opened action.
	PossibleActions []model.ActionOption
	// ActionSource marks pre-check style invocations, which never advance.
	ActionSource model.ActionSource
	// PreviousUser receives a follow-up action after a pre-check.
	PreviousUser string
	Comment      string
}

// Result is the outcome of Apply.
type Result struct {
	// Document is the document after the action. It is a copy; the input
	// document is never modified.
	Document *model.Document `json:"document"`
	// Advanced is true when the workflow state changed.
	Advanced bool `json:"advanced"`
	// Messages are informational notes for the user.
	Messages []string `json:"messages,omitempty"`
}

func (e *Engine) env(tx store.Tx, rctx *model.RequestContext, doc *model.Document) condition.Env {
	return condition.Env{Doc: doc, User: rctx.User(), Data: store.NewDataSource(tx)}
}

func (e *Engine) workflowFor(ctx context.Context, tx store.Tx, rctx *model.RequestContext, doc *model.Document) (*model.WorkflowDefinition, error) {
	wf, err := e.resolver.Resolve(ctx, rctx, store.NewDataSource(tx), doc)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, model.NewWorkflowNotFoundError("No workflow assigned to the current document")
	}
	return wf, nil
}

// Apply performs action on doc for the acting user in rctx.
//
// Forward and Add Additional Check only hand the document to another user.
// Other actions resolve a transition, check self approval, and then either
// record a partial approval (parallel approval still pending, or a
// pre-check) or move the document to the target state through the matching
// lifecycle operation. Nothing is written when an error is returned before
// the lifecycle operation.
func (e *Engine) Apply(ctx context.Context, tx store.Tx, rctx *model.RequestContext, doc *model.Document, action string, opts ApplyOptions) (res Result, err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.Apply",
		append(observability.DocumentAttributes(doc, rctx), observability.AttrAction.String(action))...)
	wfName := ""
	defer func() {
		if err != nil {
			e.recorder.RecordTransition(wfName, action, OutcomeFailed)
		}
		observability.EndSpanWithError(span, err)
	}()

	user := rctx.User()
	if user == "" {
		return Result{}, model.NewUnauthorizedError("an acting user is required")
	}

	wf, err := e.workflowFor(ctx, tx, rctx, doc)
	if err != nil {
		return Result{}, err
	}
	wfName = wf.Name
	span.SetAttributes(observability.AttrWorkflow.String(wf.Name))
	ledger := NewLedger(tx, e.administrator)

	if action == model.ActionForward || action == model.ActionAdditionalCheck {
		return e.delegate(ctx, tx, ledger, wf, doc, action, user, opts)
	}

	s, err := e.resolveStep(ctx, tx, rctx, doc, wf, action, opts.TransitionID)
	if err != nil {
		return Result{}, err
	}
	if !e.approvalAllowed(user, doc, s) {
		return Result{}, model.NewWorkflowPermissionError("Self approval is not allowed")
	}

	// Serializes the open-action count below with the writes that follow.
	if err := tx.LockDocument(ctx, doc.Doctype, doc.Name); err != nil {
		return Result{}, err
	}

	preCheck := opts.ActionSource == model.SourcePreCheck || opts.ActionSource == model.SourceAdditionalCheck
	gated := preCheck
	if !gated && s.mode() == model.MultiUserAll {
		others, err := ledger.CountOtherOpen(ctx, doc, s.source(), user)
		if err != nil {
			return Result{}, err
		}
		gated = others > 0
	}
	if gated {
		return e.gate(ctx, tx, ledger, wf, doc, action, user, preCheck, opts)
	}
	return e.advance(ctx, tx, ledger, wf, doc, s, action, user, opts)
}

func (e *Engine) delegate(ctx context.Context, tx store.Tx, ledger *Ledger, wf *model.WorkflowDefinition, doc *model.Document, action, user string, opts ApplyOptions) (Result, error) {
	if opts.NextUser == "" {
		return Result{}, model.NewBadRequestError(fmt.Sprintf("%s requires a next user", action))
	}
	if err := tx.LockDocument(ctx, doc.Doctype, doc.Name); err != nil {
		return Result{}, err
	}

	source, verb := model.SourceForward, "Forwarded"
	if action == model.ActionAdditionalCheck {
		source, verb = model.SourceAdditionalCheck, "Requested Additional Check"
	}
	if _, err := ledger.Complete(ctx, doc, user); err != nil {
		return Result{}, err
	}
	if err := ledger.Create(ctx, wf, doc, opts.NextUser, opts.PossibleActions, source, user, opts.Comment); err != nil {
		return Result{}, err
	}
	text := fmt.Sprintf("%s by %s to %s", verb, user, opts.NextUser)
	if err := addComment(ctx, tx, doc, user, text); err != nil {
		return Result{}, err
	}

	e.recorder.RecordTransition(wf.Name, action, OutcomeDelegated)
	e.logger.Info("workflow action delegated", append(observability.DocumentFields(doc),
		zap.String("action", action),
		zap.String("user", user),
		zap.String("next_user", opts.NextUser),
	)...)
	return Result{Document: doc.Clone(), Messages: []string{text}}, nil
}

func (e *Engine) gate(ctx context.Context, tx store.Tx, ledger *Ledger, wf *model.WorkflowDefinition, doc *model.Document, action, user string, preCheck bool, opts ApplyOptions) (Result, error) {
	if _, err := ledger.Complete(ctx, doc, user); err != nil {
		return Result{}, err
	}

	kind := "Multi User Parallel Approval"
	if preCheck {
		kind = "Pre-check"
	}
	text := fmt.Sprintf("%s action, %s by %s with comment %s", kind, action, user, opts.Comment)
	if err := addComment(ctx, tx, doc, user, text); err != nil {
		return Result{}, err
	}

	if preCheck && opts.PreviousUser != "" {
		if err := ledger.Create(ctx, wf, doc, opts.PreviousUser, opts.PossibleActions, model.SourceNormal, user, opts.Comment); err != nil {
			return Result{}, err
		}
	}

	e.recorder.RecordTransition(wf.Name, action, OutcomeGated)
	e.logger.Debug("workflow action recorded without advancing", append(observability.DocumentFields(doc),
		zap.String("action", action),
		zap.String("user", user),
		zap.Bool("pre_check", preCheck),
	)...)
	return Result{Document: doc.Clone(), Messages: []string{text}}, nil
}

func (e *Engine) advance(ctx context.Context, tx store.Tx, ledger *Ledger, wf *model.WorkflowDefinition, doc *model.Document, s step, action, user string, opts ApplyOptions) (Result, error) {
	target := s.target(wf)
	if action == model.ActionReject {
		initial := wf.InitialState()
		if initial == nil {
			return Result{}, model.NewWorkflowStateError(fmt.Sprintf("workflow %q has no states", wf.Name))
		}
		target = initial.Name
	}
	next := wf.FindState(target)
	if next == nil {
		return Result{}, model.NewWorkflowTransitionError(fmt.Sprintf("state %q is not defined in workflow %q", target, wf.Name))
	}
	op, err := lifecycleFor(doc.DocStatus, next.DocStatus)
	if err != nil {
		return Result{}, err
	}

	field := stateField(wf)
	from := doc.GetString(field)

	out := doc.Clone()
	out.WorkflowAction = action
	out.WorkflowComment = opts.Comment
	out.Set(field, next.Name)
	if next.UpdateField != "" {
		out.Set(next.UpdateField, next.UpdateValue)
	}

	if err := op.run(ctx, tx, out); err != nil {
		return Result{}, err
	}
	if _, err := ledger.Complete(ctx, out, user); err != nil {
		return Result{}, err
	}
	if err := addComment(ctx, tx, out, user, strings.TrimSpace(next.Name+" "+opts.Comment)); err != nil {
		return Result{}, err
	}

	e.recorder.RecordTransition(wf.Name, action, OutcomeAdvanced)
	e.logger.Info("workflow transition applied", append(observability.DocumentFields(out),
		zap.String("workflow", wf.Name),
		zap.String("transition", s.name()),
		zap.String("action", action),
		zap.String("from", from),
		zap.String("to", next.Name),
		zap.String("lifecycle", string(op)),
		zap.String("user", user),
	)...)
	return Result{Document: out, Advanced: true}, nil
}

func addComment(ctx context.Context, tx store.Tx, doc *model.Document, user, text string) error {
	err := tx.AddComment(ctx, model.Comment{
		Doctype: doc.Doctype,
		DocName: doc.Name,
		Kind:    model.CommentKindWorkflow,
		Text:    text,
		Actor:   user,
	})
	if err != nil {
		return fmt.Errorf("add workflow comment: %w", err)
	}
	return nil
}
