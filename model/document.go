// Package model holds the documents, workflow definitions, action records
// and error envelopes shared by every docflow package.
package model

import "maps"

// Standard document fields resolvable through Document.Get.
const (
	FieldName      = "name"
	FieldOwner     = "owner"
	FieldDoctype   = "doctype"
	FieldDocStatus = "docstatus"
	FieldWorkflow  = "workflow"
	FieldCompany   = "company"
)

// Document is a record governed by a workflow. Fields holds the
// doctype-specific attributes, including the workflow state field.
type Document struct {
	Doctype   string         `json:"doctype"`
	Name      string         `json:"name"`
	Owner     string         `json:"owner"`
	DocStatus DocStatus      `json:"docstatus"`
	Workflow  string         `json:"workflow,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`

	// New is true until the document is first persisted.
	New bool `json:"-"`
	// WorkflowAction and WorkflowComment are set by the engine for the
	// duration of a transition so lifecycle hooks can see them.
	WorkflowAction  string `json:"-"`
	WorkflowComment string `json:"-"`
	// Previous is the persisted snapshot an edited document was loaded from.
	Previous *Document `json:"-"`
}

// Get returns a field value. Standard fields take precedence over Fields.
func (d *Document) Get(field string) any {
	switch field {
	case FieldName:
		return d.Name
	case FieldOwner:
		return d.Owner
	case FieldDoctype:
		return d.Doctype
	case FieldDocStatus:
		return int(d.DocStatus)
	case FieldWorkflow:
		if d.Workflow == "" {
			return nil
		}
		return d.Workflow
	}
	if d.Fields == nil {
		return nil
	}
	return d.Fields[field]
}

// GetString returns a field value as a string, or "" when it is unset or
// not a string.
func (d *Document) GetString(field string) string {
	s, _ := d.Get(field).(string)
	return s
}

// Has reports whether the field is set on the document.
func (d *Document) Has(field string) bool {
	return d.Get(field) != nil
}

// Set assigns a doctype-specific field.
func (d *Document) Set(field string, value any) {
	if d.Fields == nil {
		d.Fields = make(map[string]any)
	}
	d.Fields[field] = value
}

// Clone returns a copy of the document. Fields is copied one level deep;
// Previous is shared.
func (d *Document) Clone() *Document {
	c := *d
	c.Fields = maps.Clone(d.Fields)
	return &c
}

// Key identifies the document across doctypes.
func (d *Document) Key() string {
	return d.Doctype + "/" + d.Name
}
