package definition

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pitabwire/docflow/model"
)

// snapshot is an immutable view of all loaded bundles.
type snapshot struct {
	workflows     map[string]model.WorkflowDefinition
	active        map[string]string
	assignments   map[string][]model.WorkflowAssignment
	fieldStatuses map[string][]model.FieldStatus
	checksum      string
}

// Registry is a read-optimized, thread-safe store of workflow definitions.
// It uses atomic pointer swap for lock-free concurrent reads.
type Registry struct {
	snap atomic.Pointer[snapshot]

	hookMu sync.Mutex
	hooks  []func()
}

// NewRegistry creates a Registry from the given bundles.
func NewRegistry(bundles []model.DefinitionBundle) *Registry {
	r := &Registry{}
	r.Replace(bundles)
	return r
}

// OnReplace registers fn to run after every Replace. Caches keyed on
// definitions use it to invalidate themselves.
func (r *Registry) OnReplace(fn func()) {
	r.hookMu.Lock()
	r.hooks = append(r.hooks, fn)
	r.hookMu.Unlock()
}

// Replace atomically swaps the registry contents with a new snapshot built
// from the given bundles, then runs the registered hooks. Transitions without
// an ID are given "<workflow>#<index>" and workflows without a state field
// use model.DefaultStateField.
func (r *Registry) Replace(bundles []model.DefinitionBundle) {
	s := &snapshot{
		workflows:     make(map[string]model.WorkflowDefinition),
		active:        make(map[string]string),
		assignments:   make(map[string][]model.WorkflowAssignment),
		fieldStatuses: make(map[string][]model.FieldStatus),
	}

	var checksumParts []string

	for _, b := range bundles {
		checksumParts = append(checksumParts, b.Checksum)

		for _, w := range b.Workflows {
			w = normalizeWorkflow(w)
			s.workflows[w.Name] = w
			if w.IsActive {
				s.active[w.DocumentType] = w.Name
			}
		}
		for _, a := range b.Assignments {
			s.assignments[a.DocumentType] = append(s.assignments[a.DocumentType], a)
		}
		for _, fs := range b.FieldStatuses {
			key := fieldStatusKey(fs.Workflow, fs.State)
			s.fieldStatuses[key] = append(s.fieldStatuses[key], fs.Fields...)
		}
	}

	sort.Strings(checksumParts)
	combined := strings.Join(checksumParts, ":")
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	r.snap.Store(s)

	r.hookMu.Lock()
	hooks := append([]func(){}, r.hooks...)
	r.hookMu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func normalizeWorkflow(w model.WorkflowDefinition) model.WorkflowDefinition {
	if w.StateField == "" {
		w.StateField = model.DefaultStateField
	}
	transitions := make([]model.Transition, len(w.Transitions))
	for i, t := range w.Transitions {
		if t.ID == "" {
			t.ID = fmt.Sprintf("%s#%d", w.Name, i)
		}
		if t.MultiUserMode == "" {
			t.MultiUserMode = model.MultiUserAny
		}
		transitions[i] = t
	}
	w.Transitions = transitions
	return w
}

func fieldStatusKey(workflow, state string) string {
	return workflow + "\x00" + state
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// GetWorkflow returns the workflow definition with the given name. The
// returned value shares its slices with the registry and must not be mutated.
func (r *Registry) GetWorkflow(name string) (model.WorkflowDefinition, bool) {
	w, ok := r.current().workflows[name]
	return w, ok
}

// ActiveWorkflow returns the name of the active workflow for a document type.
func (r *Registry) ActiveWorkflow(doctype string) (string, bool) {
	name, ok := r.current().active[doctype]
	return name, ok
}

// Assignments returns the assignment rules for a document type in
// declaration order.
func (r *Registry) Assignments(doctype string) []model.WorkflowAssignment {
	return r.current().assignments[doctype]
}

// FieldStatuses returns the field metadata of a workflow state.
func (r *Registry) FieldStatuses(workflow, state string) []model.FieldStatus {
	return r.current().fieldStatuses[fieldStatusKey(workflow, state)]
}

// Workflows returns all workflow definitions ordered by name.
func (r *Registry) Workflows() []model.WorkflowDefinition {
	s := r.current()
	out := make([]model.WorkflowDefinition, 0, len(s.workflows))
	for _, w := range s.workflows {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Checksum returns the combined checksum of all loaded bundles.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
