package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestResponseRecorder(t *testing.T) {
	t.Run("implicit status", func(t *testing.T) {
		rec := NewResponseRecorder(httptest.NewRecorder())
		_, _ = rec.Write([]byte("body"))
		rec.WriteHeader(http.StatusInternalServerError)

		if rec.Status != http.StatusOK || rec.Bytes != 4 {
			t.Errorf("status = %d, bytes = %d; want 200, 4", rec.Status, rec.Bytes)
		}
	})

	t.Run("first status wins", func(t *testing.T) {
		rec := NewResponseRecorder(httptest.NewRecorder())
		rec.WriteHeader(http.StatusForbidden)
		rec.WriteHeader(http.StatusOK)

		if rec.Status != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rec.Status)
		}
	})
}

func TestRoutePattern(t *testing.T) {
	var got string
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req)
			got = RoutePattern(req)
		})
	})
	r.Route("/api/documents/{doctype}/{name}", func(r chi.Router) {
		r.Get("/transitions", func(http.ResponseWriter, *http.Request) {})
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/documents/PO/PO-1/transitions", nil))
	if got != "/api/documents/{doctype}/{name}/transitions" {
		t.Errorf("pattern = %q", got)
	}

	if p := RoutePattern(httptest.NewRequest(http.MethodGet, "/health", nil)); p != "/health" {
		t.Errorf("unrouted pattern = %q, want /health", p)
	}
}
