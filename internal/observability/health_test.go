package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHandleHealth(t *testing.T) {
	origVersion, origCommit := Version, Commit
	Version, Commit = "1.4.0", "9f2c1e7"
	t.Cleanup(func() { Version, Commit = origVersion, origCommit })

	rec := httptest.NewRecorder()
	HandleHealth().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp != (HealthResponse{Status: "ok", Version: "1.4.0", Commit: "9f2c1e7"}) {
		t.Errorf("response = %+v", resp)
	}
}

func ready(t *testing.T, checks ReadinessChecks) (int, ReadinessResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	HandleReady(checks).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	var resp ReadinessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, resp
}

func loaded() bool { return true }

func healthy(context.Context) error { return nil }

func TestHandleReady(t *testing.T) {
	down := CheckFunc(func(context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name       string
		checks     ReadinessChecks
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "definitions only",
			checks:     ReadinessChecks{DefinitionsLoaded: loaded},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"definitions": "ok"},
		},
		{
			name: "all dependencies healthy",
			checks: ReadinessChecks{
				DefinitionsLoaded: loaded,
				Store:             CheckFunc(healthy),
				Cache:             CheckFunc(healthy),
			},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"definitions": "ok", "store": "ok", "cache": "ok"},
		},
		{
			name:       "no definitions",
			checks:     ReadinessChecks{DefinitionsLoaded: func() bool { return false }},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"definitions": "error"},
		},
		{
			name:       "nil definitions func",
			checks:     ReadinessChecks{},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"definitions": "error"},
		},
		{
			name:       "store down",
			checks:     ReadinessChecks{DefinitionsLoaded: loaded, Store: down, Cache: CheckFunc(healthy)},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"definitions": "ok", "store": "error", "cache": "ok"},
		},
		{
			name:       "cache down",
			checks:     ReadinessChecks{DefinitionsLoaded: loaded, Cache: down},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"definitions": "ok", "cache": "error"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := ready(t, tt.checks)
			if code != tt.wantStatus {
				t.Errorf("status code = %d, want %d", code, tt.wantStatus)
			}
			wantOverall := "ready"
			if tt.wantStatus != http.StatusOK {
				wantOverall = "not_ready"
			}
			if resp.Status != wantOverall {
				t.Errorf("status = %q, want %q", resp.Status, wantOverall)
			}
			if len(resp.Checks) != len(tt.wantChecks) {
				t.Errorf("checks = %+v, want %v", resp.Checks, tt.wantChecks)
			}
			for name, want := range tt.wantChecks {
				got := resp.Checks[name]
				if got.Status != want {
					t.Errorf("%s = %q, want %q", name, got.Status, want)
				}
				if want == "error" && got.Error == "" {
					t.Errorf("%s has no error message", name)
				}
			}
		})
	}
}

func TestHandleReady_checkTimesOut(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the check timeout")
	}
	slow := CheckFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	code, resp := ready(t, ReadinessChecks{DefinitionsLoaded: loaded, Store: slow})
	if elapsed := time.Since(start); elapsed > checkTimeout+time.Second {
		t.Errorf("readiness took %v", elapsed)
	}
	if code != http.StatusServiceUnavailable || resp.Checks["store"].Error != context.DeadlineExceeded.Error() {
		t.Errorf("code = %d, store = %+v", code, resp.Checks["store"])
	}
}
