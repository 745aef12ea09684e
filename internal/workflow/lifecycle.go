package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pitabwire/docflow/internal/observability"
	"github.com/pitabwire/docflow/internal/store"
	"github.com/pitabwire/docflow/model"
)

type lifecycleOp string

const (
	opSave   lifecycleOp = "save"
	opSubmit lifecycleOp = "submit"
	opCancel lifecycleOp = "cancel"
)

// lifecycleTable lists the only docstatus moves a transition may cause.
var lifecycleTable = map[[2]model.DocStatus]lifecycleOp{
	{model.DocStatusDraft, model.DocStatusDraft}:         opSave,
	{model.DocStatusDraft, model.DocStatusSubmitted}:     opSubmit,
	{model.DocStatusSubmitted, model.DocStatusSubmitted}: opSave,
	{model.DocStatusSubmitted, model.DocStatusCancelled}: opCancel,
}

func lifecycleFor(current, target model.DocStatus) (lifecycleOp, error) {
	op, ok := lifecycleTable[[2]model.DocStatus{current, target}]
	if !ok {
		return "", model.NewIllegalLifecycleTransitionError(current, target)
	}
	return op, nil
}

func (op lifecycleOp) run(ctx context.Context, docs store.Documents, doc *model.Document) error {
	switch op {
	case opSubmit:
		return docs.Submit(ctx, doc)
	case opCancel:
		return docs.Cancel(ctx, doc)
	}
	return docs.Save(ctx, doc)
}

// RunLifecycle performs a submit, cancel or update_after_submit requested
// directly rather than through a workflow action. When the document has a
// workflow its state is first realigned with the resulting docstatus, as
// StateForLifecycle describes. The persisted document is returned.
func (e *Engine) RunLifecycle(ctx context.Context, tx store.Tx, rctx *model.RequestContext, doc *model.Document, operation string) (out *model.Document, err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.RunLifecycle",
		append(observability.DocumentAttributes(doc, rctx), observability.AttrAction.String(operation))...)
	defer func() { observability.EndSpanWithError(span, err) }()

	target := model.DocStatusSubmitted
	switch operation {
	case LifecycleSubmit, LifecycleUpdateAfterSubmit:
	case LifecycleCancel:
		target = model.DocStatusCancelled
	default:
		return nil, model.NewBadRequestError(fmt.Sprintf("unknown lifecycle operation %q", operation))
	}
	op, err := lifecycleFor(doc.DocStatus, target)
	if err != nil {
		return nil, err
	}
	if operation == LifecycleUpdateAfterSubmit && op != opSave {
		return nil, model.NewIllegalLifecycleTransitionError(doc.DocStatus, target)
	}

	wf, err := e.workflowFor(ctx, tx, rctx, doc)
	switch {
	case model.IsCode(err, model.ErrWorkflowNotFound):
		out = doc.Clone()
	case err != nil:
		return nil, err
	default:
		after := doc.Clone()
		after.DocStatus = target
		if out, err = e.StateForLifecycle(ctx, wf.Name, after, operation); err != nil {
			return nil, err
		}
		out.DocStatus = doc.DocStatus
	}

	if err := op.run(ctx, tx, out); err != nil {
		return nil, err
	}
	if wf != nil {
		field := stateField(wf)
		if from, to := doc.GetString(field), out.GetString(field); from != to {
			if err := addComment(ctx, tx, out, rctx.User(), to); err != nil {
				return nil, err
			}
		}
	}

	e.logger.Info("document lifecycle operation applied", append(observability.DocumentFields(out),
		zap.String("operation", operation),
		zap.String("docstatus", out.DocStatus.String()),
		zap.String("user", rctx.User()),
	)...)
	return out, nil
}
