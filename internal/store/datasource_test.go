package store

import (
	"context"
	"testing"

	"github.com/pitabwire/docflow/internal/condition"
	"github.com/pitabwire/docflow/model"
)

func seededDataSource(t *testing.T, fn func(ctx context.Context, ds *DataSource)) {
	t.Helper()
	s := NewMemoryStore()
	s.Seed(
		&model.Document{Doctype: "Employee", Name: "EMP-1", Fields: map[string]any{"department": "Sales", "leave_balance": 10}},
		&model.Document{Doctype: "Employee", Name: "EMP-2", Fields: map[string]any{"department": "Sales", "leave_balance": 0}},
		&model.Document{Doctype: "Employee", Name: "EMP-3", Fields: map[string]any{"department": "Ops", "leave_balance": 4}},
	)
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		fn(ctx, NewDataSource(tx))
		return nil
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}
}

func TestDataSource_GetValue(t *testing.T) {
	seededDataSource(t, func(ctx context.Context, ds *DataSource) {
		v, err := ds.GetValue(ctx, "Employee", map[string]any{"name": "EMP-1"}, "department")
		if err != nil || v != "Sales" {
			t.Errorf("by name = %v, %v", v, err)
		}

		v, err = ds.GetValue(ctx, "Employee", map[string]any{"name": "EMP-404"}, "department")
		if err != nil || v != nil {
			t.Errorf("missing = %v, %v; want nil, nil", v, err)
		}

		v, err = ds.GetValue(ctx, "Employee", map[string]any{"department": "Ops"}, "name")
		if err != nil || v != "EMP-3" {
			t.Errorf("by filter = %v, %v", v, err)
		}

		v, err = ds.GetValue(ctx, "Employee", map[string]any{"department": "Legal"}, "name")
		if err != nil || v != nil {
			t.Errorf("no match = %v, %v", v, err)
		}
	})
}

func TestDataSource_GetListAndCount(t *testing.T) {
	seededDataSource(t, func(ctx context.Context, ds *DataSource) {
		rows, err := ds.GetList(ctx, "Employee", map[string]any{"department": "Sales"}, []string{"name", "leave_balance"}, 10)
		if err != nil {
			t.Fatalf("GetList: %v", err)
		}
		if len(rows) != 2 || rows[0]["name"] != "EMP-1" || rows[1]["leave_balance"] != 0 {
			t.Errorf("rows = %v", rows)
		}

		rows, err = ds.GetList(ctx, "Employee", nil, nil, 1)
		if err != nil || len(rows) != 1 {
			t.Errorf("limited rows = %v, %v", rows, err)
		}

		rows, err = ds.GetList(ctx, "Employee", nil, nil, 0)
		if err != nil || len(rows) != 0 {
			t.Errorf("zero limit rows = %v, %v", rows, err)
		}

		n, err := ds.Count(ctx, "Employee", map[string]any{"leave_balance": []any{">", 0}})
		if err != nil || n != 2 {
			t.Errorf("Count = %d, %v", n, err)
		}
	})
}

func TestDataSource_DrivesConditions(t *testing.T) {
	ev := condition.NewEvaluator(0)
	seededDataSource(t, func(ctx context.Context, ds *DataSource) {
		env := condition.Env{
			Doc:  &model.Document{Doctype: "Leave Application", Name: "LV-1", Fields: map[string]any{"employee": "EMP-1", "days": 3}},
			User: "alice",
			Data: ds,
		}
		tests := map[string]bool{
			`db.get_value("Employee", doc.employee, "leave_balance") >= doc.days`: true,
			`db.count("Employee", {"department": "Sales"}) == 2`:                   true,
			`len(db.get_list("Employee", filters={"department": "Ops"})) == 1`:     true,
			`db.get_value("Employee", "EMP-2", "leave_balance") > 0`:               false,
		}
		for expr, want := range tests {
			got, err := ev.Evaluate(ctx, expr, env)
			if err != nil {
				t.Errorf("%s: %v", expr, err)
				continue
			}
			if got != want {
				t.Errorf("%s = %v, want %v", expr, got, want)
			}
		}
	})
}
