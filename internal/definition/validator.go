package definition

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pitabwire/docflow/internal/condition"
	"github.com/pitabwire/docflow/model"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// structValidate checks the validate tags on the model types.
var structValidate = validator.New(validator.WithRequiredStructEnabled())

// legalDocStatusMoves lists the docstatus pairs a declared transition may
// connect.
var legalDocStatusMoves = map[[2]model.DocStatus]bool{
	{model.DocStatusDraft, model.DocStatusDraft}:         true,
	{model.DocStatusDraft, model.DocStatusSubmitted}:     true,
	{model.DocStatusSubmitted, model.DocStatusSubmitted}: true,
	{model.DocStatusSubmitted, model.DocStatusCancelled}: true,
}

// Validator validates bundles structurally and referentially, and compiles
// every condition expression.
type Validator struct {
	conditions *condition.Evaluator
}

// NewValidator creates a new Validator. conditions may be nil to skip
// expression checks.
func NewValidator(conditions *condition.Evaluator) *Validator {
	return &Validator{conditions: conditions}
}

// Validate checks all bundles together, so references may cross files.
func (v *Validator) Validate(bundles []model.DefinitionBundle) []VError {
	var errs []VError

	workflows := make(map[string]model.WorkflowDefinition)
	activeByType := make(map[string]string)

	for i, b := range bundles {
		prefix := fmt.Sprintf("bundles[%d]", i)
		errs = append(errs, v.validateStruct(prefix, b)...)

		for j, w := range b.Workflows {
			wp := fmt.Sprintf("%s.workflows[%d]", prefix, j)
			if _, dup := workflows[w.Name]; dup && w.Name != "" {
				errs = append(errs, VError{Path: wp + ".name", Code: "DUPLICATE", Message: fmt.Sprintf("workflow %q is defined more than once", w.Name)})
			}
			workflows[w.Name] = w
			if w.IsActive && w.DocumentType != "" {
				if other, ok := activeByType[w.DocumentType]; ok {
					errs = append(errs, VError{
						Path:    wp + ".is_active",
						Code:    "DUPLICATE_ACTIVE",
						Message: fmt.Sprintf("document type %q already has active workflow %q", w.DocumentType, other),
					})
				}
				activeByType[w.DocumentType] = w.Name
			}
			errs = append(errs, v.validateWorkflow(wp, w)...)
		}
	}

	for i, b := range bundles {
		prefix := fmt.Sprintf("bundles[%d]", i)
		for j, a := range b.Assignments {
			ap := fmt.Sprintf("%s.assignments[%d]", prefix, j)
			errs = append(errs, v.validateAssignment(ap, a, workflows)...)
		}
		for j, fs := range b.FieldStatuses {
			fp := fmt.Sprintf("%s.field_statuses[%d]", prefix, j)
			w, ok := workflows[fs.Workflow]
			if !ok {
				errs = append(errs, VError{Path: fp + ".workflow", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("workflow %q not found", fs.Workflow)})
				continue
			}
			if w.FindState(fs.State) == nil {
				errs = append(errs, VError{Path: fp + ".state", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("state %q not found in workflow %q", fs.State, fs.Workflow)})
			}
		}
	}

	return errs
}

// validateStruct converts validator tag failures into VErrors.
func (v *Validator) validateStruct(prefix string, b model.DefinitionBundle) []VError {
	err := structValidate.Struct(b)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []VError{{Path: prefix, Code: "INVALID", Message: err.Error()}}
	}
	out := make([]VError, 0, len(verrs))
	for _, fe := range verrs {
		// Namespace is "DefinitionBundle.Workflows[0].States[1].Name".
		path := fe.Namespace()
		if i := strings.IndexByte(path, '.'); i >= 0 {
			path = path[i+1:]
		}
		code := "INVALID"
		switch fe.Tag() {
		case "required":
			code = "REQUIRED"
		case "oneof":
			code = "INVALID_ENUM"
		case "min", "max":
			code = "OUT_OF_RANGE"
		}
		out = append(out, VError{
			Path:    prefix + "." + path,
			Code:    code,
			Message: fmt.Sprintf("%s failed %q validation", fe.Field(), fe.Tag()),
		})
	}
	return out
}

func (v *Validator) validateWorkflow(prefix string, w model.WorkflowDefinition) []VError {
	var errs []VError

	states := make(map[string]model.State, len(w.States))
	for i, s := range w.States {
		if _, dup := states[s.Name]; dup {
			errs = append(errs, VError{
				Path:    fmt.Sprintf("%s.states[%d].name", prefix, i),
				Code:    "DUPLICATE",
				Message: fmt.Sprintf("state %q is defined more than once", s.Name),
			})
		}
		states[s.Name] = s
	}

	ids := make(map[string]bool)
	for i, t := range w.Transitions {
		tp := fmt.Sprintf("%s.transitions[%d]", prefix, i)
		if t.ID != "" {
			if ids[t.ID] {
				errs = append(errs, VError{Path: tp + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("transition id %q is used more than once", t.ID)})
			}
			ids[t.ID] = true
		}

		from, fromOK := states[t.State]
		if t.State != "" && !fromOK {
			errs = append(errs, VError{Path: tp + ".state", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("state %q not found", t.State)})
		}
		to, toOK := states[t.Next]
		if t.Next != "" && !toOK {
			errs = append(errs, VError{Path: tp + ".next_state", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("state %q not found", t.Next)})
		}
		if fromOK && toOK && !legalDocStatusMoves[[2]model.DocStatus{from.DocStatus, to.DocStatus}] {
			errs = append(errs, VError{
				Path:    tp,
				Code:    "ILLEGAL_DOCSTATUS",
				Message: fmt.Sprintf("cannot move from %s state %q to %s state %q", from.DocStatus, from.Name, to.DocStatus, to.Name),
			})
		}

		errs = append(errs, v.validateCondition(tp+".condition", t.Condition)...)
	}

	return errs
}

func (v *Validator) validateAssignment(prefix string, a model.WorkflowAssignment, workflows map[string]model.WorkflowDefinition) []VError {
	var errs []VError
	w, ok := workflows[a.Workflow]
	switch {
	case a.Workflow == "":
	case !ok:
		errs = append(errs, VError{Path: prefix + ".workflow", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("workflow %q not found", a.Workflow)})
	case w.DocumentType != a.DocumentType:
		errs = append(errs, VError{
			Path:    prefix + ".workflow",
			Code:    "MISMATCH",
			Message: fmt.Sprintf("workflow %q governs %q, not %q", a.Workflow, w.DocumentType, a.DocumentType),
		})
	}
	return append(errs, v.validateCondition(prefix+".condition", a.Condition)...)
}

func (v *Validator) validateCondition(path, expr string) []VError {
	if v.conditions == nil || strings.TrimSpace(expr) == "" {
		return nil
	}
	if _, err := v.conditions.Compile(expr); err != nil {
		return []VError{{Path: path, Code: "INVALID_CONDITION", Message: err.Error()}}
	}
	return nil
}
