package workflow

import "github.com/pitabwire/docflow/model"

// HasApprovalAccess reports whether user may execute t on doc. Only the
// owner is ever refused, and only for transitions that forbid self
// approval, unless the owner is the administrator.
func (e *Engine) HasApprovalAccess(user string, doc *model.Document, t model.Transition) bool {
	return e.approvalAllowed(user, doc, declared{t: t})
}

func (e *Engine) approvalAllowed(user string, doc *model.Document, s step) bool {
	return user == e.administrator || s.selfApprovable() || user != doc.Owner
}
