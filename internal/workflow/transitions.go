package workflow

import (
	"context"
	"fmt"

	"github.com/pitabwire/docflow/internal/store"
	"github.com/pitabwire/docflow/model"
)

// step is the transition an Apply call executes: a declared transition or
// the synthesized start. The set of implementations is closed.
type step interface {
	source() string
	target(wf *model.WorkflowDefinition) string
	selfApprovable() bool
	mode() model.MultiUserMode
	name() string
}

type declared struct {
	t model.Transition
}

func (d declared) source() string                          { return d.t.State }
func (d declared) target(*model.WorkflowDefinition) string { return d.t.Next }
func (d declared) selfApprovable() bool                    { return d.t.AllowSelfApproval }
func (d declared) mode() model.MultiUserMode               { return d.t.MultiUserMode }
func (d declared) name() string                            { return d.t.ID }

// synthesizedStart enters the workflow at the target of its first declared
// transition. Anyone may start a workflow, and one actor suffices.
type synthesizedStart struct{}

func (synthesizedStart) source() string { return "" }

func (synthesizedStart) target(wf *model.WorkflowDefinition) string {
	if len(wf.Transitions) == 0 {
		return ""
	}
	return wf.Transitions[0].Next
}

func (synthesizedStart) selfApprovable() bool      { return true }
func (synthesizedStart) mode() model.MultiUserMode { return model.MultiUserAny }
func (synthesizedStart) name() string              { return model.ActionStart }

func stateField(wf *model.WorkflowDefinition) string {
	if wf.StateField == "" {
		return model.DefaultStateField
	}
	return wf.StateField
}

// Transitions returns the transitions available from the document's current
// state whose conditions hold, in definition order. New documents have none.
// wf may be nil, in which case the document's workflow is resolved.
func (e *Engine) Transitions(ctx context.Context, tx store.Tx, rctx *model.RequestContext, doc *model.Document, wf *model.WorkflowDefinition) ([]model.Transition, error) {
	out := []model.Transition{}
	if doc.New {
		return out, nil
	}
	if wf == nil {
		var err error
		if wf, err = e.workflowFor(ctx, tx, rctx, doc); err != nil {
			return nil, err
		}
	}

	ok, err := e.access.HasReadAccess(ctx, doc, rctx)
	if err != nil {
		return nil, fmt.Errorf("check read access: %w", err)
	}
	if !ok {
		return nil, model.NewForbiddenError(fmt.Sprintf("no read access to %s %s", doc.Doctype, doc.Name))
	}

	current := doc.GetString(stateField(wf))
	if current == "" {
		return nil, model.NewWorkflowStateError("Workflow State not set")
	}

	env := e.env(tx, rctx, doc)
	for _, t := range wf.Transitions {
		if t.State != current {
			continue
		}
		ok, err := e.conditions.Evaluate(ctx, t.Condition, env)
		if err != nil {
			e.recorder.RecordConditionError(wf.Name)
			return nil, err
		}
		if ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// resolveStep picks the transition for an action: the explicit transition
// when one is named and available from the current state, the synthesized start for "Start", or else the first
// available transition with a matching action.
func (e *Engine) resolveStep(ctx context.Context, tx store.Tx, rctx *model.RequestContext, doc *model.Document, wf *model.WorkflowDefinition, action, transitionID string) (step, error) {
	if transitionID != "" {
		t := wf.FindTransition(transitionID)
		if t == nil {
			return nil, model.NewWorkflowTransitionError(fmt.Sprintf("transition %q not found in workflow %q", transitionID, wf.Name))
		}
		available, err := e.Transitions(ctx, tx, rctx, doc, wf)
		if err != nil {
			return nil, err
		}
		for _, a := range available {
			if a.ID == t.ID {
				return declared{t: a}, nil
			}
		}
		return nil, model.NewWorkflowTransitionError(fmt.Sprintf("transition %q is not available from state %q", transitionID, doc.GetString(stateField(wf))))
	}
	if action == model.ActionStart {
		return synthesizedStart{}, nil
	}

	available, err := e.Transitions(ctx, tx, rctx, doc, wf)
	if err != nil {
		return nil, err
	}
	for _, t := range available {
		if t.Action == action {
			return declared{t: t}, nil
		}
	}
	return nil, model.NewWorkflowTransitionError("Not a valid Workflow Action")
}
