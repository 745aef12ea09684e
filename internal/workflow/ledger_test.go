package workflow

import (
	"context"
	"testing"

	"github.com/pitabwire/docflow/internal/store"
	"github.com/pitabwire/docflow/model"
)

func TestLedger(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.openActions(t, "PO-1", "Review", "bob", "carol")
	f.openActions(t, "PO-1", "Draft", "dave")
	f.openActions(t, "PO-2", "Review", "erin")

	wf := poDefinition()
	doc := purchaseOrder("PO-1", "alice", "Review", 1)

	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		l := NewLedger(tx, "")

		n, err := l.CountOtherOpen(ctx, doc, "Review", "bob")
		if err != nil || n != 1 {
			t.Errorf("CountOtherOpen(bob) = %d, %v; want 1", n, err)
		}
		n, _ = l.CountOtherOpen(ctx, doc, "Review", "zed")
		if n != 2 {
			t.Errorf("CountOtherOpen(zed) = %d, want 2", n)
		}

		recs, err := l.OpenActionsFor(ctx, doc, "Review", "carol")
		if err != nil || len(recs) != 1 || recs[0].User != "carol" {
			t.Errorf("OpenActionsFor(carol) = %+v, %v", recs, err)
		}
		recs, _ = l.OpenActionsFor(ctx, doc, "Review", "")
		if len(recs) != 2 {
			t.Errorf("OpenActionsFor(any) = %d records, want 2", len(recs))
		}
		recs, _ = l.OpenActionsFor(ctx, doc, "Review", "nobody")
		if recs == nil || len(recs) != 0 {
			t.Errorf("OpenActionsFor(nobody) = %#v, want empty", recs)
		}

		admin, _ := l.OpenActionsFor(ctx, doc, "Review", model.DefaultAdministrator)
		if len(admin) != 1 || !admin[0].Unrestricted {
			t.Errorf("administrator actions = %+v", admin)
		}

		completed, err := l.Complete(ctx, doc, "bob")
		if err != nil || completed != 1 {
			t.Errorf("Complete(bob) = %d, %v", completed, err)
		}
		n, _ = l.CountOtherOpen(ctx, doc, "Review", "zed")
		if n != 1 {
			t.Errorf("after completing bob, open = %d, want 1", n)
		}

		err = l.Create(ctx, &wf, doc, "frank", []model.ActionOption{{Action: "Approve"}}, "", "carol", "please")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	frank := f.actionsOf("frank")
	if len(frank) != 1 {
		t.Fatalf("frank's actions = %+v", frank)
	}
	rec := frank[0]
	if rec.State != "Review" || rec.Source != model.SourceNormal || rec.PreviousUser != "carol" || rec.Comment != "please" {
		t.Errorf("created record = %+v", rec)
	}
	if bob := f.actionsOf("bob"); bob[0].CompletedBy != "bob" {
		t.Errorf("completed record = %+v", bob[0])
	}
}

func TestLedger_CompleteCoversEveryState(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.openActions(t, "PO-1", "Draft", "bob")
	f.openActions(t, "PO-1", "Review", "bob", "carol")
	doc := purchaseOrder("PO-1", "alice", "Review", 1)

	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		n, err := NewLedger(tx, "").Complete(ctx, doc, "bob")
		if err != nil || n != 2 {
			t.Errorf("Complete(bob) = %d, %v; want 2 across Draft and Review", n, err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, rec := range f.actionsOf("bob") {
		if rec.Status != model.ActionStatusCompleted {
			t.Errorf("bob's %s action still %s", rec.State, rec.Status)
		}
	}
	if carol := f.actionsOf("carol"); len(carol) != 1 || carol[0].Status != model.ActionStatusOpen {
		t.Errorf("carol's actions = %+v", carol)
	}
}
