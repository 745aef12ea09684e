// Package store persists documents, workflow action records and audit
// comments behind a unit-of-work interface, with in-memory and PostgreSQL
// implementations.
package store

import (
	"context"

	"github.com/pitabwire/docflow/model"
)

// Documents is the document store seen by the engine.
type Documents interface {
	// GetDocument loads a document. Returns NOT_FOUND if it does not exist.
	GetDocument(ctx context.Context, doctype, name string) (*model.Document, error)

	// ListDocuments returns up to limit documents of a type matching filters,
	// in creation order. A limit <= 0 means no limit.
	ListDocuments(ctx context.Context, doctype string, filters map[string]any, limit int) ([]*model.Document, error)

	// CountDocuments counts documents of a type matching filters.
	CountDocuments(ctx context.Context, doctype string, filters map[string]any) (int, error)

	// Save inserts a new document or updates an existing one without
	// changing its docstatus.
	Save(ctx context.Context, doc *model.Document) error

	// Submit persists the document and moves it from Draft to Submitted.
	Submit(ctx context.Context, doc *model.Document) error

	// Cancel persists the document and moves it from Submitted to Cancelled.
	Cancel(ctx context.Context, doc *model.Document) error

	// AddComment appends an audit comment.
	AddComment(ctx context.Context, c model.Comment) error

	// Comments returns a document's audit comments, oldest first.
	Comments(ctx context.Context, doctype, name string) ([]model.Comment, error)
}

// Actions is the action ledger's backing store. Records are never deleted.
type Actions interface {
	// ListActions returns records matching the filter, oldest first.
	ListActions(ctx context.Context, f model.ActionFilter) ([]model.ActionRecord, error)

	// CountActions counts records matching the filter.
	CountActions(ctx context.Context, f model.ActionFilter) (int, error)

	// CreateAction appends a record.
	CreateAction(ctx context.Context, rec model.ActionRecord) error

	// CompleteActions marks every open record matching the filter completed
	// by the given user and returns how many changed.
	CompleteActions(ctx context.Context, f model.ActionFilter, completedBy string) (int, error)
}

// Tx is one unit of work. Changes become visible when the surrounding
// WithinTx returns nil and are discarded otherwise.
type Tx interface {
	Documents
	Actions

	// LockDocument blocks until no other transaction holds the lock for the
	// document, then holds it until this transaction ends. Ledger reads that
	// decide a write must happen under this lock.
	LockDocument(ctx context.Context, doctype, name string) error
}

// Transactor runs functions inside a transaction.
type Transactor interface {
	// WithinTx runs fn in a new transaction, committing when fn returns nil
	// and rolling back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
