package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pitabwire/docflow/internal/config"
	"github.com/pitabwire/docflow/internal/observability"
	"github.com/pitabwire/docflow/model"
)

// testDeps wires a router with no engine; enough for routing and the
// public endpoints.
func testDeps() Dependencies {
	cfg := config.Defaults()
	cfg.Server.CORS.AllowedOrigins = []string{"https://app.example.com"}
	cfg.Server.HandlerTimeout = 5 * time.Second
	reg := prometheus.NewRegistry()
	return Dependencies{
		Config:    cfg,
		Metrics:   observability.InitMetrics(reg),
		Gatherer:  reg,
		Readiness: observability.ReadinessChecks{DefinitionsLoaded: func() bool { return true }},
	}
}

func rejectAuth(http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, model.NewUnauthorizedError("rejected"))
	})
}

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestRouter_health(t *testing.T) {
	w := serve(NewRouter(testDeps()), http.MethodGet, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil || body.Status != "ok" {
		t.Errorf("body = %+v (%v), want status ok", body, err)
	}
	if w.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("security headers missing on /health")
	}
	if w.Header().Get("X-Correlation-Id") == "" {
		t.Error("correlation id missing on /health")
	}
}

func TestRouter_readyFollowsDefinitions(t *testing.T) {
	var loaded bool
	deps := testDeps()
	deps.Readiness.DefinitionsLoaded = func() bool { return loaded }
	r := NewRouter(deps)

	if w := serve(r, http.MethodGet, "/ready"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("before load: status = %d, want 503", w.Code)
	}
	loaded = true
	if w := serve(r, http.MethodGet, "/ready"); w.Code != http.StatusOK {
		t.Errorf("after load: status = %d, want 200", w.Code)
	}
}

func TestRouter_metrics(t *testing.T) {
	t.Run("scrape counts requests by route", func(t *testing.T) {
		r := NewRouter(testDeps())
		serve(r, http.MethodGet, "/health")

		w := serve(r, http.MethodGet, "/metrics")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		want := `docflow_http_requests_total{method="GET",path_pattern="/health",status_code="200"} 1`
		if !strings.Contains(w.Body.String(), want) {
			t.Errorf("missing %s in scrape:\n%s", want, w.Body.String())
		}
	})

	t.Run("disabled", func(t *testing.T) {
		deps := testDeps()
		deps.Config.Observability.Metrics.Enabled = false
		if w := serve(NewRouter(deps), http.MethodGet, "/metrics"); w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})
}

func TestRouter_authBoundary(t *testing.T) {
	deps := testDeps()
	deps.Authenticate = rejectAuth
	r := NewRouter(deps)

	cases := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/ready", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/api/documents/Purchase%20Order/PO-1/transitions", http.StatusUnauthorized},
		{http.MethodGet, "/api/documents/Purchase%20Order/PO-1/actions", http.StatusUnauthorized},
		{http.MethodPost, "/api/documents/Purchase%20Order/PO-1/apply", http.StatusUnauthorized},
		{http.MethodPut, "/api/documents/Purchase%20Order/PO-1", http.StatusUnauthorized},
		{http.MethodPost, "/api/documents/Purchase%20Order/PO-1/lifecycle", http.StatusUnauthorized},
		{http.MethodPost, "/api/doctypes/Purchase%20Order/bulk", http.StatusUnauthorized},
		{http.MethodPost, "/api/doctypes/Purchase%20Order/common-actions", http.StatusUnauthorized},
		{http.MethodGet, "/api/doctypes/Purchase%20Order/can-cancel", http.StatusUnauthorized},
		{http.MethodGet, "/api/workflows/PO%20Approval/states/Review/fields", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			if w := serve(r, tc.method, tc.path); w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}

func TestRouter_unknownRoute(t *testing.T) {
	w := serve(NewRouter(testDeps()), http.MethodGet, "/api/nowhere")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	var resp struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	_ = json.NewDecoder(w.Body).Decode(&resp)
	if resp.Error.Code != model.ErrNotFound {
		t.Errorf("code = %q, want NOT_FOUND", resp.Error.Code)
	}
}
