package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/docflow/model"
)

//go:embed schema.sql
var schemaSQL string

// PgStore is a PostgreSQL-backed Transactor using pgx/v5. Per-document
// serialization uses transaction-scoped advisory locks.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PgStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks connectivity. It implements observability.HealthChecker.
func (s *PgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WithinTx runs fn in a database transaction.
func (s *PgStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

// pgTx implements Tx over one pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func now() time.Time { return time.Now().UTC() }

func (t *pgTx) LockDocument(ctx context.Context, doctype, name string) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, doctype+"/"+name)
	if err != nil {
		return fmt.Errorf("lock document %s %s: %w", doctype, name, err)
	}
	return nil
}

// --- documents ---

const documentColumns = `doctype, name, owner, docstatus, workflow, fields`

func scanDocument(row pgx.Row) (*model.Document, error) {
	var (
		doc       model.Document
		docStatus int16
		fields    []byte
	)
	if err := row.Scan(&doc.Doctype, &doc.Name, &doc.Owner, &docStatus, &doc.Workflow, &fields); err != nil {
		return nil, err
	}
	doc.DocStatus = model.DocStatus(docStatus)
	if len(fields) > 0 {
		dec := json.NewDecoder(strings.NewReader(string(fields)))
		dec.UseNumber()
		if err := dec.Decode(&doc.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal fields: %w", err)
		}
	}
	return &doc, nil
}

func (t *pgTx) GetDocument(ctx context.Context, doctype, name string) (*model.Document, error) {
	doc, err := scanDocument(t.tx.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE doctype = $1 AND name = $2`,
		doctype, name,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NewNotFoundError(fmt.Sprintf("%s %s not found", doctype, name))
	}
	if err != nil {
		return nil, fmt.Errorf("query document: %w", err)
	}
	return doc, nil
}

// documentQuery pushes equality filters into SQL and returns the filters
// that must still be checked in Go.
func documentQuery(doctype string, filters map[string]any) (string, []any, map[string]any, error) {
	where := []string{"doctype = $1"}
	args := []any{doctype}
	contains := make(map[string]any)
	residual := make(map[string]any)

	for field, cond := range filters {
		if _, isList := cond.([]any); isList {
			residual[field] = cond
			continue
		}
		switch field {
		case model.FieldName, model.FieldOwner, model.FieldWorkflow:
			s, ok := cond.(string)
			if !ok {
				residual[field] = cond
				continue
			}
			args = append(args, s)
			where = append(where, fmt.Sprintf("%s = $%d", field, len(args)))
		case model.FieldDocStatus:
			residual[field] = cond
		default:
			if cond == nil {
				residual[field] = cond
				continue
			}
			contains[field] = cond
		}
	}
	if len(contains) > 0 {
		raw, err := json.Marshal(contains)
		if err != nil {
			return "", nil, nil, fmt.Errorf("marshal filters: %w", err)
		}
		args = append(args, raw)
		where = append(where, fmt.Sprintf("fields @> $%d::jsonb", len(args)))
	}
	q := `SELECT ` + documentColumns + ` FROM documents WHERE ` + strings.Join(where, " AND ") + ` ORDER BY seq`
	return q, args, residual, nil
}

func (t *pgTx) ListDocuments(ctx context.Context, doctype string, filters map[string]any, limit int) ([]*model.Document, error) {
	q, args, residual, err := documentQuery(doctype, filters)
	if err != nil {
		return nil, err
	}
	if len(residual) == 0 && limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := t.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var out []*model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		ok, err := MatchFilters(doc, residual)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, doc)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, rows.Err()
}

func (t *pgTx) CountDocuments(ctx context.Context, doctype string, filters map[string]any) (int, error) {
	docs, err := t.ListDocuments(ctx, doctype, filters, 0)
	return len(docs), err
}

func (t *pgTx) write(ctx context.Context, op lifecycleOp, doc *model.Document) error {
	var existing *model.Document
	if !doc.New {
		persisted, err := scanDocument(t.tx.QueryRow(ctx,
			`SELECT `+documentColumns+` FROM documents WHERE doctype = $1 AND name = $2 FOR UPDATE`,
			doc.Doctype, doc.Name,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			return model.NewNotFoundError(fmt.Sprintf("%s %s not found", doc.Doctype, doc.Name))
		}
		if err != nil {
			return fmt.Errorf("query document: %w", err)
		}
		existing = persisted
	}

	status, err := nextDocStatus(op, existing, doc)
	if err != nil {
		return err
	}

	fields, err := json.Marshal(doc.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	if fields == nil || string(fields) == "null" {
		fields = []byte("{}")
	}

	if doc.New {
		tag, err := t.tx.Exec(ctx, `
			INSERT INTO documents (doctype, name, owner, docstatus, workflow, fields, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			ON CONFLICT (doctype, name) DO NOTHING`,
			doc.Doctype, doc.Name, doc.Owner, int16(status), doc.Workflow, fields, now(),
		)
		if err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return model.NewConflictError(fmt.Sprintf("%s %s already exists", doc.Doctype, doc.Name))
		}
	} else {
		_, err := t.tx.Exec(ctx, `
			UPDATE documents SET owner = $3, docstatus = $4, workflow = $5, fields = $6, updated_at = $7
			WHERE doctype = $1 AND name = $2`,
			doc.Doctype, doc.Name, doc.Owner, int16(status), doc.Workflow, fields, now(),
		)
		if err != nil {
			return fmt.Errorf("update document: %w", err)
		}
	}

	doc.DocStatus = status
	doc.New = false
	return nil
}

func (t *pgTx) Save(ctx context.Context, doc *model.Document) error {
	return t.write(ctx, opSave, doc)
}

func (t *pgTx) Submit(ctx context.Context, doc *model.Document) error {
	return t.write(ctx, opSubmit, doc)
}

func (t *pgTx) Cancel(ctx context.Context, doc *model.Document) error {
	return t.write(ctx, opCancel, doc)
}

// --- comments ---

func (t *pgTx) AddComment(ctx context.Context, c model.Comment) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now()
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO workflow_comments (id, doctype, doc_name, kind, text, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.Doctype, c.DocName, c.Kind, c.Text, c.Actor, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (t *pgTx) Comments(ctx context.Context, doctype, name string) ([]model.Comment, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, doctype, doc_name, kind, text, actor, created_at
		FROM workflow_comments
		WHERE doctype = $1 AND doc_name = $2
		ORDER BY seq`,
		doctype, name,
	)
	if err != nil {
		return nil, fmt.Errorf("query comments: %w", err)
	}
	defer rows.Close()

	var out []model.Comment
	for rows.Next() {
		var c model.Comment
		if err := rows.Scan(&c.ID, &c.Doctype, &c.DocName, &c.Kind, &c.Text, &c.Actor, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- actions ---

// actionWhere renders an ActionFilter as a WHERE clause with positional
// arguments starting at $1.
func actionWhere(f model.ActionFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Doctype != "" {
		add("doctype = $%d", f.Doctype)
	}
	if f.DocName != "" {
		add("doc_name = $%d", f.DocName)
	}
	if f.State != "" {
		add("state = $%d", f.State)
	}
	if f.User != "" {
		add("user_id = $%d", f.User)
	}
	if f.ExcludeUser != "" {
		add("user_id <> $%d", f.ExcludeUser)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.ExcludeStatus != "" {
		add("status <> $%d", string(f.ExcludeStatus))
	}
	if len(where) == 0 {
		return "TRUE", nil
	}
	return strings.Join(where, " AND "), args
}

func (t *pgTx) ListActions(ctx context.Context, f model.ActionFilter) ([]model.ActionRecord, error) {
	where, args := actionWhere(f)
	rows, err := t.tx.Query(ctx, `
		SELECT id, doctype, doc_name, state, user_id, status, source, previous_user,
		       actions, comment, completed_by, created_at, updated_at
		FROM workflow_actions
		WHERE `+where+`
		ORDER BY seq`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var out []model.ActionRecord
	for rows.Next() {
		var (
			rec     model.ActionRecord
			status  string
			source  string
			options []byte
		)
		if err := rows.Scan(
			&rec.ID, &rec.Doctype, &rec.DocName, &rec.State, &rec.User, &status, &source, &rec.PreviousUser,
			&options, &rec.Comment, &rec.CompletedBy, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		rec.Status = model.ActionStatus(status)
		rec.Source = model.ActionSource(source)
		if len(options) > 0 {
			if err := json.Unmarshal(options, &rec.Actions); err != nil {
				return nil, fmt.Errorf("unmarshal action options: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (t *pgTx) CountActions(ctx context.Context, f model.ActionFilter) (int, error) {
	where, args := actionWhere(f)
	var n int
	if err := t.tx.QueryRow(ctx, `SELECT count(*) FROM workflow_actions WHERE `+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count actions: %w", err)
	}
	return n, nil
}

func (t *pgTx) CreateAction(ctx context.Context, rec model.ActionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	ts := now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = ts
	}
	options, err := json.Marshal(rec.Actions)
	if err != nil {
		return fmt.Errorf("marshal action options: %w", err)
	}
	if string(options) == "null" {
		options = []byte("[]")
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO workflow_actions (
			id, doctype, doc_name, state, user_id, status, source, previous_user,
			actions, comment, completed_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID, rec.Doctype, rec.DocName, rec.State, rec.User, string(rec.Status), string(rec.Source), rec.PreviousUser,
		options, rec.Comment, rec.CompletedBy, rec.CreatedAt, ts,
	)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

func (t *pgTx) CompleteActions(ctx context.Context, f model.ActionFilter, completedBy string) (int, error) {
	f.Status = model.ActionStatusOpen
	where, args := actionWhere(f)
	n := len(args)
	args = append(args, string(model.ActionStatusCompleted), completedBy, now())
	tag, err := t.tx.Exec(ctx, fmt.Sprintf(`
		UPDATE workflow_actions SET status = $%d, completed_by = $%d, updated_at = $%d
		WHERE %s`, n+1, n+2, n+3, where),
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("complete actions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
