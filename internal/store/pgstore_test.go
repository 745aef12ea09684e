package store

import (
	"strings"
	"testing"

	"github.com/pitabwire/docflow/model"
)

func TestActionWhere(t *testing.T) {
	where, args := actionWhere(model.ActionFilter{})
	if where != "TRUE" || len(args) != 0 {
		t.Errorf("empty filter = %q %v", where, args)
	}

	where, args = actionWhere(model.ActionFilter{
		Doctype:     "Leave Application",
		DocName:     "LV-1",
		State:       "Review",
		ExcludeUser: "alice",
		Status:      model.ActionStatusOpen,
	})
	want := "doctype = $1 AND doc_name = $2 AND state = $3 AND user_id <> $4 AND status = $5"
	if where != want {
		t.Errorf("where = %q, want %q", where, want)
	}
	if len(args) != 5 || args[3] != "alice" || args[4] != "Open" {
		t.Errorf("args = %v", args)
	}
}

func TestDocumentQuery(t *testing.T) {
	q, args, residual, err := documentQuery("Leave Application", map[string]any{
		"owner":     "alice",
		"days":      []any{">", 2},
		"employee":  "EMP-1",
		"docstatus": 1,
	})
	if err != nil {
		t.Fatalf("documentQuery: %v", err)
	}
	if !strings.Contains(q, "owner = $") || !strings.Contains(q, "fields @> $") {
		t.Errorf("query = %s", q)
	}
	if !strings.HasSuffix(q, "ORDER BY seq") {
		t.Errorf("query should be ordered by creation: %s", q)
	}
	if len(args) != 3 {
		t.Errorf("args = %v", args)
	}
	if args[0] != "Leave Application" {
		t.Errorf("first arg = %v", args[0])
	}
	if _, ok := residual["days"]; !ok {
		t.Error("operator filter should be checked in Go")
	}
	if _, ok := residual["docstatus"]; !ok {
		t.Error("docstatus should be checked in Go")
	}
	if len(residual) != 2 {
		t.Errorf("residual = %v", residual)
	}
}

func TestSchemaEmbedded(t *testing.T) {
	for _, table := range []string{"documents", "workflow_actions", "workflow_comments"} {
		if !strings.Contains(schemaSQL, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("schema missing table %s", table)
		}
	}
}
