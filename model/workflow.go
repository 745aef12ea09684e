package model

import "fmt"

// DocStatus is the lifecycle status of a document.
type DocStatus int

// Lifecycle statuses.
const (
	DocStatusDraft     DocStatus = 0
	DocStatusSubmitted DocStatus = 1
	DocStatusCancelled DocStatus = 2
)

func (s DocStatus) String() string {
	switch s {
	case DocStatusDraft:
		return "Draft"
	case DocStatusSubmitted:
		return "Submitted"
	case DocStatusCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("DocStatus(%d)", int(s))
	}
}

// MultiUserMode controls whether one approver is enough to advance a
// transition or every assigned approver must act.
type MultiUserMode string

// Multi-user approval modes.
const (
	MultiUserAny MultiUserMode = "Any"
	MultiUserAll MultiUserMode = "All"
)

// Reserved action names.
const (
	ActionStart           = "Start"
	ActionReject          = "Reject"
	ActionForward         = "Forward"
	ActionAdditionalCheck = "Add Additional Check"
)

// WorkflowDefinition is a named state machine bound to a document type.
// The first entry of States is the initial state.
type WorkflowDefinition struct {
	Name           string       `yaml:"name" json:"name" validate:"required"`
	DocumentType   string       `yaml:"document_type" json:"document_type" validate:"required"`
	IsActive       bool         `yaml:"is_active" json:"is_active"`
	StateField     string       `yaml:"state_field" json:"state_field"`
	SendEmailAlert bool         `yaml:"send_email_alert" json:"send_email_alert"`
	States         []State      `yaml:"states" json:"states" validate:"required,min=1,dive"`
	Transitions    []Transition `yaml:"transitions" json:"transitions" validate:"dive"`
}

// InitialState returns the first declared state, or nil for an empty workflow.
func (w *WorkflowDefinition) InitialState() *State {
	if len(w.States) == 0 {
		return nil
	}
	return &w.States[0]
}

// FindState returns the state with the given name, or nil.
func (w *WorkflowDefinition) FindState(name string) *State {
	for i := range w.States {
		if w.States[i].Name == name {
			return &w.States[i]
		}
	}
	return nil
}

// FindTransition returns the transition with the given ID, or nil.
func (w *WorkflowDefinition) FindTransition(id string) *Transition {
	for i := range w.Transitions {
		if w.Transitions[i].ID == id {
			return &w.Transitions[i]
		}
	}
	return nil
}

// State is a named workflow state bound to a lifecycle status.
type State struct {
	Name        string    `yaml:"name" json:"name" validate:"required"`
	DocStatus   DocStatus `yaml:"doc_status" json:"doc_status" validate:"min=0,max=2"`
	UpdateField string    `yaml:"update_field,omitempty" json:"update_field,omitempty"`
	UpdateValue any       `yaml:"update_value,omitempty" json:"update_value,omitempty"`
}

// Transition is a directed edge between two states triggered by an action.
type Transition struct {
	ID                string        `yaml:"id" json:"id"`
	State             string        `yaml:"state" json:"state" validate:"required"`
	Action            string        `yaml:"action" json:"action" validate:"required"`
	Next              string        `yaml:"next_state" json:"next_state" validate:"required"`
	Condition         string        `yaml:"condition,omitempty" json:"condition,omitempty"`
	AllowSelfApproval bool          `yaml:"allow_self_approval" json:"allow_self_approval"`
	MultiUserMode     MultiUserMode `yaml:"multi_user_mode,omitempty" json:"multi_user_mode,omitempty" validate:"omitempty,oneof=Any All"`
}

// RequiresAll reports whether every assigned approver must act.
func (t *Transition) RequiresAll() bool {
	return t.MultiUserMode == MultiUserAll
}

// WorkflowAssignment selects a workflow for new documents of a type.
// Assignments are evaluated in declaration order and the first match wins.
type WorkflowAssignment struct {
	DocumentType string `yaml:"document_type" json:"document_type" validate:"required"`
	Company      string `yaml:"company,omitempty" json:"company,omitempty"`
	Condition    string `yaml:"condition,omitempty" json:"condition,omitempty"`
	Workflow     string `yaml:"workflow" json:"workflow" validate:"required"`
}

// FieldStatus is the presentation metadata of a field while a document sits
// in a given workflow state.
type FieldStatus struct {
	FieldName string `yaml:"field_name" json:"field_name" validate:"required"`
	Required  bool   `yaml:"required" json:"required"`
	ReadOnly  bool   `yaml:"read_only" json:"read_only"`
	Hidden    bool   `yaml:"hidden" json:"hidden"`
}
