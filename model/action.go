package model

import "time"

// ActionStatus is the status of a workflow action record.
type ActionStatus string

// Action record statuses. Records are never deleted; they are completed.
const (
	ActionStatusOpen      ActionStatus = "Open"
	ActionStatusCompleted ActionStatus = "Completed"
)

// ActionSource records why an action record was created.
type ActionSource string

// Action record sources.
const (
	SourceNormal          ActionSource = "Normal"
	SourcePreCheck        ActionSource = "Pre-Check"
	SourceForward         ActionSource = "Forward"
	SourceAdditionalCheck ActionSource = "Add Additional Check"
)

// ActionOption is one action a user may take from an action record, with
// the transition it resolves to.
type ActionOption struct {
	Action     string `json:"action"`
	Transition string `json:"transition,omitempty"`
}

// ActionRecord is a pending or completed request for a user to act on a
// document in a given state.
type ActionRecord struct {
	ID           string         `json:"id"`
	Doctype      string         `json:"doctype"`
	DocName      string         `json:"doc_name"`
	State        string         `json:"state"`
	User         string         `json:"user"`
	Status       ActionStatus   `json:"status"`
	Source       ActionSource   `json:"source"`
	PreviousUser string         `json:"previous_user,omitempty"`
	Actions      []ActionOption `json:"actions,omitempty"`
	Comment      string         `json:"comment,omitempty"`
	CompletedBy  string         `json:"completed_by,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`

	// Unrestricted marks the implicit record granted to the administrator.
	// It is never persisted.
	Unrestricted bool `json:"-"`
}

// ActionFilter selects action records.
type ActionFilter struct {
	Doctype       string
	DocName       string
	State         string
	User          string
	ExcludeUser   string
	Status        ActionStatus
	ExcludeStatus ActionStatus
}

// Matches reports whether the record satisfies every set criterion.
func (f ActionFilter) Matches(r *ActionRecord) bool {
	switch {
	case f.Doctype != "" && r.Doctype != f.Doctype:
		return false
	case f.DocName != "" && r.DocName != f.DocName:
		return false
	case f.State != "" && r.State != f.State:
		return false
	case f.User != "" && r.User != f.User:
		return false
	case f.ExcludeUser != "" && r.User == f.ExcludeUser:
		return false
	case f.Status != "" && r.Status != f.Status:
		return false
	case f.ExcludeStatus != "" && r.Status == f.ExcludeStatus:
		return false
	}
	return true
}

// CommentKindWorkflow marks audit comments written by the engine.
const CommentKindWorkflow = "Workflow"

// Comment is an audit trail entry attached to a document.
type Comment struct {
	ID        string    `json:"id"`
	Doctype   string    `json:"doctype"`
	DocName   string    `json:"doc_name"`
	Kind      string    `json:"kind"`
	Text      string    `json:"text"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}
