package model

// DefaultStateField is the document field holding the workflow state when a
// workflow does not name one.
const DefaultStateField = "workflow_state"

// DefinitionBundle is the root structure of a definition file. Each file
// declares workflows, the rules assigning them to new documents, and the
// per-state field metadata.
type DefinitionBundle struct {
	Workflows     []WorkflowDefinition `yaml:"workflows"      json:"workflows,omitempty"      validate:"dive"`
	Assignments   []WorkflowAssignment `yaml:"assignments"    json:"assignments,omitempty"    validate:"dive"`
	FieldStatuses []StateFieldStatus   `yaml:"field_statuses" json:"field_statuses,omitempty" validate:"dive"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-" json:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-" json:"-"`
}

// StateFieldStatus lists field metadata for one state of one workflow.
type StateFieldStatus struct {
	Workflow string        `yaml:"workflow" json:"workflow" validate:"required"`
	State    string        `yaml:"state"    json:"state"    validate:"required"`
	Fields   []FieldStatus `yaml:"fields"   json:"fields"   validate:"dive"`
}
