package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pitabwire/docflow/internal/cache"
	"github.com/pitabwire/docflow/internal/condition"
	"github.com/pitabwire/docflow/model"
)

// Cache namespaces used by the Resolver.
//
//	workflow                 doc:"<doctype>"/"<name>" -> definition JSON or ""
//	workflow                 type:"<doctype>"         -> active workflow name or ""
//	workflowField:<workflow> <field>                  -> field value
const (
	NamespaceWorkflow    = "workflow"
	NamespaceFieldPrefix = "workflowField:"
)

const (
	noWorkflow          = ""
	fieldStateField     = "workflow_state_field"
	fieldSendEmailAlert = "send_email_alert"
	fieldDocumentType   = "document_type"
	fieldIsActive       = "is_active"
)

// Definitions is the read side of the definition registry.
type Definitions interface {
	GetWorkflow(name string) (model.WorkflowDefinition, bool)
	ActiveWorkflow(doctype string) (string, bool)
	Assignments(doctype string) []model.WorkflowAssignment
	FieldStatuses(workflow, state string) []model.FieldStatus
}

// Resolver finds the workflow governing a document. Lookups for persisted
// documents and doctypes are memoized in the cache.
type Resolver struct {
	defs       Definitions
	cache      cache.Cache
	conditions *condition.Evaluator
	logger     *zap.Logger
	recorder   Recorder
	group      singleflight.Group

	// mu orders cache writes against Invalidate; generation counts
	// invalidations so loads begun before one are not stored after it.
	mu         sync.RWMutex
	generation uint64
}

// NewResolver creates a Resolver. logger and recorder may be nil.
func NewResolver(defs Definitions, c cache.Cache, conditions *condition.Evaluator, logger *zap.Logger, recorder Recorder) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Resolver{
		defs:       defs,
		cache:      c,
		conditions: conditions,
		logger:     logger,
		recorder:   recorder,
	}
}

// Resolve returns the workflow of doc, or nil when none applies.
//
// New documents of a doctype with assignment rules take the workflow of the
// first rule whose condition holds and whose company is unset or matches
// the document. Other documents use their workflow reference, or the active
// workflow of their doctype when they carry none.
func (r *Resolver) Resolve(ctx context.Context, rctx *model.RequestContext, data condition.DataSource, doc *model.Document) (*model.WorkflowDefinition, error) {
	if doc.New {
		if rules := r.defs.Assignments(doc.Doctype); len(rules) > 0 {
			return r.assign(ctx, rctx, data, doc, rules)
		}
		return r.byReference(ctx, doc)
	}

	key := documentKey(doc)
	raw, err := r.cached(ctx, NamespaceWorkflow, key, func() (string, error) {
		wf, err := r.byReference(ctx, doc)
		if err != nil || wf == nil {
			return noWorkflow, err
		}
		b, err := json.Marshal(wf)
		if err != nil {
			return "", fmt.Errorf("encode workflow %s: %w", wf.Name, err)
		}
		return string(b), nil
	})
	if err != nil || raw == noWorkflow {
		return nil, err
	}
	var wf model.WorkflowDefinition
	if err := json.Unmarshal([]byte(raw), &wf); err != nil {
		return nil, fmt.Errorf("decode cached workflow for %s: %w", key, err)
	}
	return &wf, nil
}

func (r *Resolver) assign(ctx context.Context, rctx *model.RequestContext, data condition.DataSource, doc *model.Document, rules []model.WorkflowAssignment) (*model.WorkflowDefinition, error) {
	env := condition.Env{Doc: doc, User: rctx.User(), Data: data}
	company := doc.GetString(model.FieldCompany)

	for _, rule := range rules {
		if rule.Company != "" && company != "" && rule.Company != company {
			continue
		}
		ok, err := r.conditions.Evaluate(ctx, rule.Condition, env)
		if err != nil {
			r.recorder.RecordConditionError(rule.Workflow)
			return nil, err
		}
		if !ok {
			continue
		}
		wf, found := r.defs.GetWorkflow(rule.Workflow)
		if !found {
			return nil, model.NewWorkflowNotFoundError(fmt.Sprintf("workflow %q assigned to %s not found", rule.Workflow, doc.Doctype))
		}
		return &wf, nil
	}
	return nil, nil
}

func (r *Resolver) byReference(ctx context.Context, doc *model.Document) (*model.WorkflowDefinition, error) {
	name := doc.Workflow
	if name == "" {
		active, err := r.ResolveByType(ctx, doc.Doctype)
		if err != nil || active == "" {
			return nil, err
		}
		name = active
	}
	wf, ok := r.defs.GetWorkflow(name)
	if !ok {
		return nil, nil
	}
	return &wf, nil
}

// ResolveByType returns the name of the active workflow of a doctype, or ""
// when it has none.
func (r *Resolver) ResolveByType(ctx context.Context, doctype string) (string, error) {
	return r.cached(ctx, NamespaceWorkflow, typeKey(doctype), func() (string, error) {
		name, _ := r.defs.ActiveWorkflow(doctype)
		return name, nil
	})
}

// FieldValue returns a workflow-level setting as a string. Supported fields
// are workflow_state_field, send_email_alert, document_type and is_active.
func (r *Resolver) FieldValue(ctx context.Context, workflow, field string) (string, error) {
	return r.cached(ctx, NamespaceFieldPrefix+workflow, field, func() (string, error) {
		wf, ok := r.defs.GetWorkflow(workflow)
		if !ok {
			return "", model.NewWorkflowNotFoundError(fmt.Sprintf("workflow %q not found", workflow))
		}
		switch field {
		case fieldStateField:
			return wf.StateField, nil
		case fieldSendEmailAlert:
			return boolFlag(wf.SendEmailAlert), nil
		case fieldDocumentType:
			return wf.DocumentType, nil
		case fieldIsActive:
			return boolFlag(wf.IsActive), nil
		}
		return "", model.NewBadRequestError(fmt.Sprintf("unknown workflow field %q", field))
	})
}

// StateField returns the name of the document field holding the state.
func (r *Resolver) StateField(ctx context.Context, workflow string) (string, error) {
	return r.FieldValue(ctx, workflow, fieldStateField)
}

// SendEmailAlert reports whether the workflow notifies assigned users.
func (r *Resolver) SendEmailAlert(ctx context.Context, workflow string) (bool, error) {
	v, err := r.FieldValue(ctx, workflow, fieldSendEmailAlert)
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

// Invalidate drops every cached lookup. It runs whenever the definitions
// change.
func (r *Resolver) Invalidate(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation++
	if err := r.cache.Clear(ctx, NamespaceWorkflow); err != nil {
		return fmt.Errorf("invalidate workflow cache: %w", err)
	}
	if err := r.cache.ClearPrefix(ctx, NamespaceFieldPrefix); err != nil {
		return fmt.Errorf("invalidate workflow field cache: %w", err)
	}
	r.logger.Debug("workflow cache invalidated", zap.Uint64("generation", r.generation))
	return nil
}

func (r *Resolver) currentGeneration() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// storeIfCurrent writes ns/key unless an invalidation happened since gen.
func (r *Resolver) storeIfCurrent(ctx context.Context, gen uint64, ns, key, v string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.generation != gen {
		return
	}
	if err := r.cache.Set(ctx, ns, key, v); err != nil {
		r.logger.Warn("workflow cache write failed", zap.String("namespace", ns), zap.String("key", key), zap.Error(err))
	}
}

// cached returns the cached value of ns/key, computing and storing it on a
// miss. Concurrent misses share one computation. Cache failures degrade to
// an uncached lookup.
func (r *Resolver) cached(ctx context.Context, ns, key string, load func() (string, error)) (string, error) {
	gen := r.currentGeneration()
	v, ok, err := r.cache.Get(ctx, ns, key)
	if err != nil {
		r.logger.Warn("workflow cache read failed", zap.String("namespace", ns), zap.String("key", key), zap.Error(err))
	}
	label := ns
	if strings.HasPrefix(ns, NamespaceFieldPrefix) {
		label = strings.TrimSuffix(NamespaceFieldPrefix, ":")
	}
	r.recorder.RecordCacheLookup(label, ok)
	if ok {
		return v, nil
	}

	flight := strconv.FormatUint(gen, 10) + "\x00" + ns + "\x00" + key
	res, err, _ := r.group.Do(flight, func() (any, error) {
		v, err := load()
		if err != nil {
			return "", err
		}
		r.storeIfCurrent(ctx, gen, ns, key, v)
		return v, nil
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

func documentKey(doc *model.Document) string {
	return "doc:" + strconv.Quote(doc.Doctype) + "/" + strconv.Quote(doc.Name)
}

func typeKey(doctype string) string {
	return "type:" + strconv.Quote(doctype)
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
