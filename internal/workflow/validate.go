package workflow

import (
	"context"
	"fmt"

	"github.com/pitabwire/docflow/internal/observability"
	"github.com/pitabwire/docflow/internal/store"
	"github.com/pitabwire/docflow/model"
)

// ValidateOnSave checks a state change made outside Apply. doc.Previous must
// hold the persisted snapshot the document was edited from, or be nil when
// there is none. An empty state is set to the initial state on doc itself.
//
// The owner's saves in the initial state, the owner being taken from the
// snapshot when there is one, and a Reject back to the initial
// state are always allowed. Any other state change needs a transition from
// the previous state to the new one that is available on the snapshot.
func (e *Engine) ValidateOnSave(ctx context.Context, tx store.Tx, rctx *model.RequestContext, doc *model.Document) (err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.ValidateOnSave", observability.DocumentAttributes(doc, rctx)...)
	defer func() { observability.EndSpanWithError(span, err) }()

	wf, err := e.resolver.Resolve(ctx, rctx, store.NewDataSource(tx), doc)
	if err != nil || wf == nil {
		return err
	}
	initial := wf.InitialState()
	if initial == nil {
		return model.NewWorkflowStateError(fmt.Sprintf("workflow %q has no states", wf.Name))
	}
	field := stateField(wf)

	previous := ""
	if doc.Previous != nil {
		previous = doc.Previous.GetString(field)
	}
	next := doc.GetString(field)
	if next == "" {
		next = initial.Name
		doc.Set(field, next)
	}
	if previous == "" {
		previous = initial.Name
	}

	owner := doc.Owner
	if doc.Previous != nil {
		owner = doc.Previous.Owner
	}
	if rctx.User() == owner && previous == initial.Name {
		return nil
	}
	if doc.WorkflowAction == model.ActionReject && next == initial.Name {
		return nil
	}
	if wf.FindState(previous) == nil {
		return model.NewWorkflowStateError(fmt.Sprintf("%s is not a valid Workflow State. Please update your Workflow and try again.", previous))
	}
	if previous == next {
		return nil
	}

	denied := model.NewWorkflowPermissionError(fmt.Sprintf("Workflow State transition not allowed from %s to %s", previous, next))
	if doc.Previous == nil {
		return denied
	}
	available, err := e.Transitions(ctx, tx, rctx, doc.Previous, wf)
	if err != nil {
		return err
	}
	for _, t := range available {
		if t.Next == next {
			return nil
		}
	}
	return denied
}

// Save validates and persists an edited document. When the caller did not
// attach the persisted snapshot it is loaded first. A persisted document
// keeps its owner. The saved copy is
// returned.
func (e *Engine) Save(ctx context.Context, tx store.Tx, rctx *model.RequestContext, doc *model.Document) (*model.Document, error) {
	out := doc.Clone()
	if !out.New && out.Previous == nil {
		prev, err := tx.GetDocument(ctx, out.Doctype, out.Name)
		switch {
		case model.IsCode(err, model.ErrNotFound):
		case err != nil:
			return nil, err
		default:
			out.Previous = prev
		}
	}
	if out.Previous != nil {
		switch out.Owner {
		case "":
			out.Owner = out.Previous.Owner
		case out.Previous.Owner:
		default:
			return nil, model.NewForbiddenError(fmt.Sprintf("owner of %s %s cannot be changed", out.Doctype, out.Name))
		}
	}
	if err := e.ValidateOnSave(ctx, tx, rctx, out); err != nil {
		return nil, err
	}
	if err := tx.Save(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}
