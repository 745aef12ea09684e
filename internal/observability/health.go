package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// HealthResponse is the JSON response for the liveness endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ReadinessResponse is the JSON response for the readiness endpoint.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the result of a single readiness check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker can verify its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CheckFunc adapts a function to HealthChecker.
type CheckFunc func(ctx context.Context) error

// HealthCheck calls f.
func (f CheckFunc) HealthCheck(ctx context.Context) error {
	return f(ctx)
}

// ReadinessChecks holds the dependency checkers for the readiness endpoint.
type ReadinessChecks struct {
	// DefinitionsLoaded always runs.
	DefinitionsLoaded func() bool

	// Optional checks run only when non-nil.
	Store HealthChecker
	Cache HealthChecker
}

const checkTimeout = 2 * time.Second

// HandleHealth reports liveness and the running build.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(HealthResponse{Status: "ok", Version: Version, Commit: Commit})
	}
}

// HandleReady reports whether workflow definitions are loaded and the
// configured store and cache respond. Checks run concurrently, each under
// its own timeout; any failure yields 503.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		named := checks.named()
		results := make([]CheckResult, len(named))

		var g errgroup.Group
		for i, c := range named {
			g.Go(func() error {
				results[i] = runCheck(r.Context(), c.checker)
				return nil
			})
		}
		_ = g.Wait()

		resp := ReadinessResponse{Status: "ready", Checks: make(map[string]CheckResult, len(named))}
		code := http.StatusOK
		for i, c := range named {
			resp.Checks[c.name] = results[i]
			if results[i].Status != "ok" {
				resp.Status, code = "not_ready", http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

var errNoDefinitions = errors.New("no workflow definitions loaded")

type namedCheck struct {
	name    string
	checker HealthChecker
}

func (c ReadinessChecks) named() []namedCheck {
	out := []namedCheck{{"definitions", CheckFunc(func(context.Context) error {
		if c.DefinitionsLoaded == nil || !c.DefinitionsLoaded() {
			return errNoDefinitions
		}
		return nil
	})}}
	if c.Store != nil {
		out = append(out, namedCheck{"store", c.Store})
	}
	if c.Cache != nil {
		out = append(out, namedCheck{"cache", c.Cache})
	}
	return out
}

func runCheck(parent context.Context, checker HealthChecker) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := checker.HealthCheck(ctx)
	res := CheckResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status, res.Error = "error", err.Error()
	}
	return res
}
