package store

import (
	"fmt"

	"github.com/pitabwire/docflow/model"
)

type lifecycleOp int

const (
	opSave lifecycleOp = iota
	opSubmit
	opCancel
)

// nextDocStatus checks a lifecycle operation against the persisted status
// (nil for a new document) and returns the status to store.
func nextDocStatus(op lifecycleOp, persisted *model.Document, doc *model.Document) (model.DocStatus, error) {
	current := model.DocStatusDraft
	if persisted != nil {
		current = persisted.DocStatus
	}
	switch op {
	case opSave:
		if current == model.DocStatusCancelled {
			return 0, model.NewConflictError(fmt.Sprintf("%s %s is cancelled and cannot be saved", doc.Doctype, doc.Name))
		}
		if doc.DocStatus != current {
			return 0, model.NewConflictError(fmt.Sprintf("%s %s: cannot save with docstatus %s over %s", doc.Doctype, doc.Name, doc.DocStatus, current))
		}
		return current, nil
	case opSubmit:
		if current != model.DocStatusDraft {
			return 0, model.NewConflictError(fmt.Sprintf("%s %s: cannot submit a %s document", doc.Doctype, doc.Name, current))
		}
		return model.DocStatusSubmitted, nil
	case opCancel:
		if current != model.DocStatusSubmitted {
			return 0, model.NewConflictError(fmt.Sprintf("%s %s: cannot cancel a %s document", doc.Doctype, doc.Name, current))
		}
		return model.DocStatusCancelled, nil
	}
	return 0, fmt.Errorf("unknown lifecycle operation %d", op)
}
