package transport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/docflow/internal/bulk"
	"github.com/pitabwire/docflow/internal/config"
	"github.com/pitabwire/docflow/internal/observability"
	"github.com/pitabwire/docflow/internal/store"
	"github.com/pitabwire/docflow/internal/workflow"
	"github.com/pitabwire/docflow/model"
)

// WorkflowEngine is the engine surface served over HTTP.
// *workflow.Engine implements it.
type WorkflowEngine interface {
	Transitions(ctx context.Context, tx store.Tx, rctx *model.RequestContext, doc *model.Document, wf *model.WorkflowDefinition) ([]model.Transition, error)
	UserActions(ctx context.Context, tx store.Tx, rctx *model.RequestContext, doc *model.Document, user string) ([]model.ActionRecord, error)
	Apply(ctx context.Context, tx store.Tx, rctx *model.RequestContext, doc *model.Document, action string, opts workflow.ApplyOptions) (workflow.Result, error)
	Save(ctx context.Context, tx store.Tx, rctx *model.RequestContext, doc *model.Document) (*model.Document, error)
	RunLifecycle(ctx context.Context, tx store.Tx, rctx *model.RequestContext, doc *model.Document, operation string) (*model.Document, error)
	CommonTransitionActions(ctx context.Context, tx store.Tx, rctx *model.RequestContext, doctype string, names []string) ([]model.ActionOption, error)
	CanCancelDocument(ctx context.Context, doctype string) (bool, error)
	FieldStatus(ctx context.Context, workflow, state string) ([]model.FieldStatus, error)
}

// BulkRunner applies one action to many documents.
// *bulk.Executor implements it.
type BulkRunner interface {
	Apply(ctx context.Context, rctx *model.RequestContext, req bulk.Request) (bulk.Report, error)
}

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Authenticate func(http.Handler) http.Handler
	Store        store.Transactor
	Engine       WorkflowEngine
	Bulk         BulkRunner
	Metrics      *observability.Metrics
	Gatherer     prometheus.Gatherer
	Readiness    observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	cfg := deps.Config

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(deps.Logger))
	r.Use(observability.TracingMiddleware)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}
	r.Use(CORS(cfg.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	if cfg.Observability.Metrics.Enabled && deps.Gatherer != nil {
		r.Method(http.MethodGet, cfg.Observability.Metrics.Path, observability.Handler(deps.Gatherer))
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContextMiddleware(cfg.Identity.ClaimPaths))
		r.Use(HandlerTimeout(cfg.Server.HandlerTimeout))
		r.Use(RequestLogging(deps.Logger))

		r.Get("/api/documents/{doctype}/{name}/transitions", handleTransitions(deps))
		r.Get("/api/documents/{doctype}/{name}/actions", handleUserActions(deps))
		r.Post("/api/documents/{doctype}/{name}/apply", handleApply(deps))
		r.Put("/api/documents/{doctype}/{name}", handleSave(deps))
		r.Post("/api/documents/{doctype}/{name}/lifecycle", handleLifecycle(deps))

		r.Post("/api/doctypes/{doctype}/bulk", handleBulk(deps))
		r.Post("/api/doctypes/{doctype}/common-actions", handleCommonActions(deps))
		r.Get("/api/doctypes/{doctype}/can-cancel", handleCanCancel(deps))

		r.Get("/api/workflows/{workflow}/states/{state}/fields", handleFieldStatus(deps))
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteNotFound(w, "Route not found")
	})

	return r
}
