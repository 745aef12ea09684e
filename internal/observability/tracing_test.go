package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/pitabwire/docflow/internal/config"
	"github.com/pitabwire/docflow/model"
)

// setupTestTracer installs an always-sampling provider that exports to memory.
func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter
}

func spanAttrMap(s tracetest.SpanStub) map[string]string {
	m := make(map[string]string)
	for _, a := range s.Attributes {
		m[string(a.Key)] = a.Value.Emit()
	}
	return m
}

func onlySpan(t *testing.T, exporter *tracetest.InMemoryExporter) tracetest.SpanStub {
	t.Helper()
	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	return spans[0]
}

func TestInitTracing(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		shutdown, err := InitTracing(context.Background(), config.TracingConfig{}, "docflow", "test")
		if err != nil {
			t.Fatalf("InitTracing() error = %v", err)
		}
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("shutdown() error = %v", err)
		}
	})

	t.Run("stdout", func(t *testing.T) {
		cfg := config.TracingConfig{Enabled: true, Exporter: "stdout", SamplingRate: 1}
		shutdown, err := InitTracing(context.Background(), cfg, "docflow", "test")
		if err != nil {
			t.Fatalf("InitTracing() error = %v", err)
		}
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("shutdown() error = %v", err)
		}
	})

	t.Run("unsupported exporter", func(t *testing.T) {
		cfg := config.TracingConfig{Enabled: true, Exporter: "zipkin"}
		if _, err := InitTracing(context.Background(), cfg, "docflow", "test"); err == nil {
			t.Fatal("expected error for unsupported exporter")
		}
	})
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{0, "TraceIDRatioBased{0.1}"},
		{0.5, "TraceIDRatioBased{0.5}"},
		{1, "AlwaysOnSampler"},
		{3, "AlwaysOnSampler"},
	}
	for _, tt := range tests {
		desc := newSampler(config.TracingConfig{SamplingRate: tt.rate}).Description()
		if !strings.HasPrefix(desc, "ParentBased{") || !strings.Contains(desc, tt.want) {
			t.Errorf("newSampler(%v) = %s, want parent-based %s", tt.rate, desc, tt.want)
		}
	}
}

func TestStartSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx, span := StartSpan(context.Background(), "workflow.Apply",
		AttrDoctype.String("Purchase Order"),
		AttrDocName.String("PO-0001"),
		AttrAction.String("Approve"),
	)
	if trace.SpanFromContext(ctx) != span {
		t.Error("context does not carry the new span")
	}
	span.SetAttributes(AttrWorkflow.String("PO Approval"))
	span.End()

	attrs := spanAttrMap(onlySpan(t, exporter))
	want := map[string]string{
		"docflow.doctype":  "Purchase Order",
		"docflow.doc_name": "PO-0001",
		"docflow.action":   "Approve",
		"docflow.workflow": "PO Approval",
	}
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("%s = %q, want %q", k, attrs[k], v)
		}
	}
}

func TestStartSpan_nested(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx, parent := StartSpan(context.Background(), "bulk.Apply")
	_, child := StartSpan(ctx, "workflow.Apply")
	child.End()
	parent.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if spans[0].SpanContext.TraceID() != spans[1].SpanContext.TraceID() {
		t.Error("spans do not share a trace")
	}
	if spans[0].Parent.SpanID() != spans[1].SpanContext.SpanID() {
		t.Error("child is not parented to bulk.Apply")
	}
}

func TestEndSpanWithError(t *testing.T) {
	t.Run("error", func(t *testing.T) {
		exporter := setupTestTracer(t)
		_, span := StartSpan(context.Background(), "workflow.Apply")
		EndSpanWithError(span, errors.New("Not a valid Workflow Action"))

		s := onlySpan(t, exporter)
		if s.Status.Code != codes.Error || s.Status.Description != "Not a valid Workflow Action" {
			t.Errorf("status = %+v", s.Status)
		}
		if len(s.Events) == 0 {
			t.Error("error was not recorded as an event")
		}
	})

	t.Run("nil", func(t *testing.T) {
		exporter := setupTestTracer(t)
		_, span := StartSpan(context.Background(), "workflow.Apply")
		EndSpanWithError(span, nil)

		if s := onlySpan(t, exporter); s.Status.Code == codes.Error {
			t.Error("status is Error for a nil error")
		}
	})
}

func TestTraceAndSpanIDFromContext(t *testing.T) {
	if TraceIDFromContext(context.Background()) != "" || SpanIDFromContext(context.Background()) != "" {
		t.Error("ids present without a span")
	}

	setupTestTracer(t)
	ctx, span := StartSpan(context.Background(), "ids")
	defer span.End()

	if got := TraceIDFromContext(ctx); got != span.SpanContext().TraceID().String() {
		t.Errorf("TraceIDFromContext = %q", got)
	}
	if got := SpanIDFromContext(ctx); got != span.SpanContext().SpanID().String() {
		t.Errorf("SpanIDFromContext = %q", got)
	}
}

func TestTracingMiddleware_namesSpanAfterRoute(t *testing.T) {
	exporter := setupTestTracer(t)

	r := chi.NewRouter()
	r.Use(TracingMiddleware)
	r.Get("/documents/{doctype}/{name}/transitions", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents/Invoice/INV-1/transitions", nil))

	s := onlySpan(t, exporter)
	if s.Name != "GET /documents/{doctype}/{name}/transitions" {
		t.Errorf("span name = %q", s.Name)
	}
	if s.SpanKind != trace.SpanKindServer {
		t.Errorf("span kind = %v, want server", s.SpanKind)
	}
	attrs := spanAttrMap(s)
	if attrs["http.request.method"] != "GET" || attrs["url.path"] != "/documents/Invoice/INV-1/transitions" {
		t.Errorf("attributes = %v", attrs)
	}
	if attrs["http.response.status_code"] != "200" {
		t.Errorf("status attribute = %q", attrs["http.response.status_code"])
	}
	if rec.Header().Get("Traceparent") == "" {
		t.Error("response is missing Traceparent")
	}
}

func TestTracingMiddleware_serverErrorMarksSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	h := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/bulk", nil))

	s := onlySpan(t, exporter)
	if s.Name != "POST /bulk" {
		t.Errorf("span name = %q, want raw path without a router", s.Name)
	}
	if s.Status.Code != codes.Error {
		t.Errorf("status = %v, want Error", s.Status.Code)
	}
}

func TestTracingMiddleware_continuesInboundTrace(t *testing.T) {
	exporter := setupTestTracer(t)
	const (
		traceID = "0af7651916cd43dd8448eb211c80319c"
		spanID  = "b7ad6b7169203331"
	)

	h := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Traceparent", "00-"+traceID+"-"+spanID+"-01")
	h.ServeHTTP(httptest.NewRecorder(), req)

	s := onlySpan(t, exporter)
	if s.SpanContext.TraceID().String() != traceID {
		t.Errorf("trace id = %s, want %s", s.SpanContext.TraceID(), traceID)
	}
	if s.Parent.SpanID().String() != spanID {
		t.Errorf("parent span id = %s, want %s", s.Parent.SpanID(), spanID)
	}
}

func TestDocumentAttributes(t *testing.T) {
	doc := &model.Document{Doctype: "Purchase Order", Name: "PO-1", Workflow: "PO Approval"}

	got := make(map[string]string)
	for _, a := range DocumentAttributes(doc, &model.RequestContext{SubjectID: "bob", TenantID: "t-1"}) {
		got[string(a.Key)] = a.Value.Emit()
	}
	want := map[string]string{
		"docflow.doctype":    "Purchase Order",
		"docflow.doc_name":   "PO-1",
		"docflow.workflow":   "PO Approval",
		"docflow.subject_id": "bob",
		"docflow.tenant_id":  "t-1",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}

	if n := len(DocumentAttributes(&model.Document{Doctype: "Memo", Name: "M-1"}, nil)); n != 2 {
		t.Errorf("attributes without workflow or user = %d, want 2", n)
	}
}

func TestEndSpanWithError_code(t *testing.T) {
	exporter := setupTestTracer(t)
	_, span := StartSpan(context.Background(), "workflow.Apply")
	EndSpanWithError(span, model.NewWorkflowTransitionError("Not a valid Workflow Action"))

	if code := spanAttrMap(onlySpan(t, exporter))["docflow.error_code"]; code != model.ErrWorkflowTransition {
		t.Errorf("error code attribute = %q", code)
	}
}
