package workflow

import (
	"context"
	"testing"

	"github.com/pitabwire/docflow/internal/store"
	"github.com/pitabwire/docflow/model"
)

func (f *fixture) validate(user string, doc *model.Document) error {
	return f.store.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return f.engine.ValidateOnSave(ctx, tx, rctx(user), doc)
	})
}

func withPrevious(doc *model.Document, state string) *model.Document {
	prev := doc.Clone()
	prev.Set("status", state)
	doc.Previous = prev
	return doc
}

func TestValidateOnSave(t *testing.T) {
	tests := []struct {
		name string
		user string
		doc  func() *model.Document
		code string
	}{
		{
			name: "owner edits in initial state",
			user: "alice",
			doc:  func() *model.Document { return withPrevious(purchaseOrder("PO-1", "alice", "Review", 1), "Draft") },
		},
		{
			name: "available transition",
			user: "bob",
			doc:  func() *model.Document { return withPrevious(purchaseOrder("PO-1", "alice", "Approved", 500), "Review") },
		},
		{
			name: "unchanged state",
			user: "bob",
			doc:  func() *model.Document { return withPrevious(purchaseOrder("PO-1", "alice", "Review", 500), "Review") },
		},
		{
			name: "reject back to initial state",
			user: "bob",
			doc: func() *model.Document {
				d := withPrevious(purchaseOrder("PO-1", "alice", "Draft", 500), "Approved")
				d.WorkflowAction = model.ActionReject
				return d
			},
		},
		{
			name: "no transition to target",
			user: "bob",
			doc:  func() *model.Document { return withPrevious(purchaseOrder("PO-1", "alice", "Cancelled", 500), "Review") },
			code: model.ErrWorkflowPermission,
		},
		{
			name: "unknown previous state",
			user: "bob",
			doc:  func() *model.Document { return withPrevious(purchaseOrder("PO-1", "alice", "Review", 500), "Archived") },
			code: model.ErrWorkflowState,
		},
		{
			name: "owner taken from snapshot",
			user: "bob",
			doc: func() *model.Document {
				d := withPrevious(purchaseOrder("PO-1", "alice", "Approved", 500), "Draft")
				d.Owner = "bob"
				return d
			},
			code: model.ErrWorkflowPermission,
		},
		{
			name: "state change without snapshot",
			user: "bob",
			doc:  func() *model.Document { return purchaseOrder("PO-1", "alice", "Review", 500) },
			code: model.ErrWorkflowPermission,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, nil)
			err := f.validate(tt.user, tt.doc())
			if tt.code == "" {
				if err != nil {
					t.Fatalf("ValidateOnSave: %v", err)
				}
				return
			}
			wantCode(t, err, tt.code)
		})
	}
}

func TestValidateOnSave_ConditionOnSnapshot(t *testing.T) {
	wf := poDefinition()
	// Only the conditional transition leads to Approved.
	wf.Transitions = []model.Transition{
		{ID: "po-fast", State: "Review", Action: "Fast Approve", Next: "Approved", Condition: "doc.amount < 100"},
	}
	f := newFixture(t, []model.DefinitionBundle{{Workflows: []model.WorkflowDefinition{wf}}}, nil)

	small := withPrevious(purchaseOrder("PO-1", "alice", "Approved", 50), "Review")
	if err := f.validate("bob", small); err != nil {
		t.Errorf("small amount: %v", err)
	}
	large := withPrevious(purchaseOrder("PO-1", "alice", "Approved", 500), "Review")
	wantCode(t, f.validate("bob", large), model.ErrWorkflowPermission)
}

func TestValidateOnSave_DefaultsEmptyState(t *testing.T) {
	f := newFixture(t, nil, nil)
	doc := purchaseOrder("PO-1", "alice", "", 1)
	doc.New = true
	if err := f.validate("alice", doc); err != nil {
		t.Fatal(err)
	}
	if got := doc.GetString("status"); got != "Draft" {
		t.Errorf("state = %q, want Draft", got)
	}
}

func TestValidateOnSave_NoWorkflow(t *testing.T) {
	f := newFixture(t, nil, nil)
	doc := &model.Document{Doctype: "Memo", Name: "M-1", Fields: map[string]any{"status": "anything"}}
	if err := f.validate("bob", doc); err != nil {
		t.Errorf("documents without a workflow are not validated: %v", err)
	}
}

func TestSave(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.seed(purchaseOrder("PO-1", "alice", "Review", 500))

	save := func(user, state string) error {
		return f.store.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			doc, err := tx.GetDocument(ctx, poType, "PO-1")
			if err != nil {
				return err
			}
			doc.Set("status", state)
			_, err = f.engine.Save(ctx, tx, rctx(user), doc)
			return err
		})
	}

	wantCode(t, save("bob", "Cancelled"), model.ErrWorkflowPermission)
	if got := f.state(t, "PO-1"); got != "Review" {
		t.Fatalf("refused save stored state %q", got)
	}

	if err := save("bob", "Approved"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := f.state(t, "PO-1"); got != "Approved" {
		t.Errorf("state = %q, want Approved", got)
	}
}

func TestSave_KeepsOwner(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.seed(purchaseOrder("PO-1", "alice", "Draft", 500))

	save := func(user, owner, state string) error {
		return f.store.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			doc, err := tx.GetDocument(ctx, poType, "PO-1")
			if err != nil {
				return err
			}
			doc.Owner = owner
			doc.Set("status", state)
			_, err = f.engine.Save(ctx, tx, rctx(user), doc)
			return err
		})
	}

	wantCode(t, save("bob", "bob", "Approved"), model.ErrForbidden)
	if got := f.state(t, "PO-1"); got != "Draft" {
		t.Fatalf("refused save stored state %q", got)
	}

	if err := save("alice", "", "Draft"); err != nil {
		t.Fatalf("Save with empty owner: %v", err)
	}
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		doc, err := tx.GetDocument(ctx, poType, "PO-1")
		if err != nil {
			return err
		}
		if doc.Owner != "alice" {
			t.Errorf("owner = %q, want alice", doc.Owner)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
