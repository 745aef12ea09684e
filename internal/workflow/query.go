package workflow

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/pitabwire/docflow/internal/store"
	"github.com/pitabwire/docflow/model"
)

// UserActions lists the open actions on doc at its current state, for user
// when set. Documents without a workflow have none.
func (e *Engine) UserActions(ctx context.Context, tx store.Tx, rctx *model.RequestContext, doc *model.Document, user string) ([]model.ActionRecord, error) {
	wf, err := e.resolver.Resolve(ctx, rctx, store.NewDataSource(tx), doc)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return []model.ActionRecord{}, nil
	}
	return NewLedger(tx, e.administrator).OpenActionsFor(ctx, doc, doc.GetString(stateField(wf)), user)
}

// CommonTransitionActions returns the action options the acting user holds
// on every named document. When the user's open actions on the selection
// do not carry exactly one distinct set of options the result is empty.
func (e *Engine) CommonTransitionActions(ctx context.Context, tx store.Tx, rctx *model.RequestContext, doctype string, names []string) ([]model.ActionOption, error) {
	sets := make(map[string][]model.ActionOption)
	for _, name := range names {
		recs, err := tx.ListActions(ctx, model.ActionFilter{
			Doctype: doctype,
			DocName: name,
			User:    rctx.User(),
			Status:  model.ActionStatusOpen,
		})
		if err != nil {
			return nil, fmt.Errorf("list actions of %s %s: %w", doctype, name, err)
		}
		for _, rec := range recs {
			sets[optionsKey(rec.Actions)] = rec.Actions
		}
	}
	if len(sets) != 1 {
		return []model.ActionOption{}, nil
	}
	for _, opts := range sets {
		return slices.Clone(opts), nil
	}
	return nil, nil
}

func optionsKey(opts []model.ActionOption) string {
	parts := make([]string, len(opts))
	for i, o := range opts {
		parts[i] = o.Action + ":" + o.Transition
	}
	return strings.Join(parts, ";")
}

// CanCancelDocument reports whether documents of doctype may be cancelled
// directly. It is false when the active workflow has a cancelled state that
// a transition leads to, since cancelling must then go through the workflow.
func (e *Engine) CanCancelDocument(ctx context.Context, doctype string) (bool, error) {
	name, err := e.resolver.ResolveByType(ctx, doctype)
	if err != nil || name == "" {
		return true, err
	}
	wf, ok := e.resolver.defs.GetWorkflow(name)
	if !ok {
		return true, nil
	}
	for _, s := range wf.States {
		if s.DocStatus != model.DocStatusCancelled {
			continue
		}
		for _, t := range wf.Transitions {
			if t.Next == s.Name {
				return false, nil
			}
		}
		return true, nil
	}
	return true, nil
}

// FieldStatus returns the field metadata of a workflow state.
func (e *Engine) FieldStatus(_ context.Context, workflow, state string) ([]model.FieldStatus, error) {
	wf, ok := e.resolver.defs.GetWorkflow(workflow)
	if !ok {
		return nil, model.NewWorkflowNotFoundError(fmt.Sprintf("workflow %q not found", workflow))
	}
	if wf.FindState(state) == nil {
		return nil, model.NewWorkflowStateError(fmt.Sprintf("state %q not found in workflow %q", state, workflow))
	}
	return append([]model.FieldStatus{}, e.resolver.defs.FieldStatuses(workflow, state)...), nil
}

// Lifecycle operations performed on a document outside the engine.
const (
	LifecycleSubmit            = "submit"
	LifecycleUpdateAfterSubmit = "update_after_submit"
	LifecycleCancel            = "cancel"
)

// StateForLifecycle aligns the workflow state of doc with a lifecycle
// operation performed outside the engine. A copy is returned. The state is
// kept when it already matches the document's docstatus; otherwise it
// becomes the first state with the docstatus the operation leads to.
func (e *Engine) StateForLifecycle(ctx context.Context, workflow string, doc *model.Document, operation string) (*model.Document, error) {
	var want model.DocStatus
	switch operation {
	case LifecycleSubmit, LifecycleUpdateAfterSubmit:
		want = model.DocStatusSubmitted
	case LifecycleCancel:
		want = model.DocStatusCancelled
	default:
		return nil, model.NewBadRequestError(fmt.Sprintf("unknown lifecycle operation %q", operation))
	}

	wf, ok := e.resolver.defs.GetWorkflow(workflow)
	if !ok {
		return nil, model.NewWorkflowNotFoundError(fmt.Sprintf("workflow %q not found", workflow))
	}
	field, err := e.resolver.StateField(ctx, workflow)
	if err != nil {
		return nil, err
	}
	if field == "" {
		field = model.DefaultStateField
	}

	out := doc.Clone()
	current := out.GetString(field)
	for _, s := range wf.States {
		if s.Name == current && s.DocStatus == out.DocStatus {
			return out, nil
		}
	}
	for _, s := range wf.States {
		if s.DocStatus == want {
			out.Set(field, s.Name)
			return out, nil
		}
	}
	return out, nil
}
