package workflow

import (
	"context"
	"fmt"

	"github.com/pitabwire/docflow/internal/store"
	"github.com/pitabwire/docflow/model"
)

// Ledger tracks the open approval actions of documents. It must be used
// inside the transaction that acts on its decisions.
type Ledger struct {
	actions       store.Actions
	administrator string
}

// NewLedger creates a Ledger over the action records of a transaction.
func NewLedger(actions store.Actions, administrator string) *Ledger {
	if administrator == "" {
		administrator = model.DefaultAdministrator
	}
	return &Ledger{actions: actions, administrator: administrator}
}

func openFilter(doc *model.Document, state string) model.ActionFilter {
	return model.ActionFilter{
		Doctype:       doc.Doctype,
		DocName:       doc.Name,
		State:         state,
		ExcludeStatus: model.ActionStatusCompleted,
	}
}

// CountOtherOpen counts the open actions on doc at state assigned to users
// other than excludingUser.
func (l *Ledger) CountOtherOpen(ctx context.Context, doc *model.Document, state, excludingUser string) (int, error) {
	f := openFilter(doc, state)
	f.ExcludeUser = excludingUser
	n, err := l.actions.CountActions(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("count open actions: %w", err)
	}
	return n, nil
}

// OpenActionsFor lists the open actions on doc at state, restricted to user
// when set. The administrator always gets a single unrestricted action.
func (l *Ledger) OpenActionsFor(ctx context.Context, doc *model.Document, state, user string) ([]model.ActionRecord, error) {
	if user == l.administrator {
		return []model.ActionRecord{{
			Doctype:      doc.Doctype,
			DocName:      doc.Name,
			State:        state,
			User:         l.administrator,
			Status:       model.ActionStatusOpen,
			Source:       model.SourceNormal,
			Unrestricted: true,
		}}, nil
	}
	f := openFilter(doc, state)
	f.User = user
	recs, err := l.actions.ListActions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list open actions: %w", err)
	}
	if recs == nil {
		recs = []model.ActionRecord{}
	}
	return recs, nil
}

// Create opens an action for targetUser on doc at its current state.
func (l *Ledger) Create(ctx context.Context, wf *model.WorkflowDefinition, doc *model.Document, targetUser string, options []model.ActionOption, source model.ActionSource, fromUser, comment string) error {
	if source == "" {
		source = model.SourceNormal
	}
	rec := model.ActionRecord{
		Doctype:      doc.Doctype,
		DocName:      doc.Name,
		State:        doc.GetString(stateField(wf)),
		User:         targetUser,
		Status:       model.ActionStatusOpen,
		Source:       source,
		PreviousUser: fromUser,
		Actions:      options,
		Comment:      comment,
	}
	if err := l.actions.CreateAction(ctx, rec); err != nil {
		return fmt.Errorf("create action for %s: %w", targetUser, err)
	}
	return nil
}

// Complete marks every open action of user on doc completed.
func (l *Ledger) Complete(ctx context.Context, doc *model.Document, user string) (int, error) {
	n, err := l.actions.CompleteActions(ctx, model.ActionFilter{
		Doctype: doc.Doctype,
		DocName: doc.Name,
		User:    user,
	}, user)
	if err != nil {
		return 0, fmt.Errorf("complete actions of %s: %w", user, err)
	}
	return n, nil
}
