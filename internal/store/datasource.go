package store

import (
	"context"

	"github.com/pitabwire/docflow/model"
)

// DataSource exposes a Documents store as the read-only data access of
// condition expressions.
type DataSource struct {
	docs Documents
}

// NewDataSource wraps docs.
func NewDataSource(docs Documents) *DataSource {
	return &DataSource{docs: docs}
}

// GetValue returns field of the first document matching filters, or nil.
func (d *DataSource) GetValue(ctx context.Context, doctype string, filters map[string]any, field string) (any, error) {
	if name, ok := filters[model.FieldName].(string); ok && len(filters) == 1 {
		doc, err := d.docs.GetDocument(ctx, doctype, name)
		if model.IsCode(err, model.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return doc.Get(field), nil
	}
	docs, err := d.docs.ListDocuments(ctx, doctype, filters, 1)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0].Get(field), nil
}

// GetList returns projected rows of matching documents.
func (d *DataSource) GetList(ctx context.Context, doctype string, filters map[string]any, fields []string, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		return []map[string]any{}, nil
	}
	docs, err := d.docs.ListDocuments(ctx, doctype, filters, limit)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]any, len(docs))
	for i, doc := range docs {
		rows[i] = project(doc, fields)
	}
	return rows, nil
}

// Count counts matching documents.
func (d *DataSource) Count(ctx context.Context, doctype string, filters map[string]any) (int, error) {
	return d.docs.CountDocuments(ctx, doctype, filters)
}
