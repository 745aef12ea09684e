package model

import (
	"context"
	"errors"
)

// DefaultAdministrator is the user that bypasses the self-approval rule and
// per-user action assignment when no other administrator is configured.
const DefaultAdministrator = "Administrator"

// RequestContext identifies who is acting on a document. The HTTP layer
// builds one per request from verified token claims; library callers
// construct it directly.
type RequestContext struct {
	SubjectID string
	Email     string
	TenantID  string
	Roles     []string
	Claims    map[string]any

	CorrelationID string
	TraceID       string
	SpanID        string
}

var errNoSubject = errors.New("request context has no subject")

// Validate reports an error when no acting user is known.
func (rc *RequestContext) Validate() error {
	if rc.User() == "" {
		return errNoSubject
	}
	return nil
}

// User is the acting user name used for ownership, self-approval and the
// action ledger. It is "" for a nil context.
func (rc *RequestContext) User() string {
	if rc == nil {
		return ""
	}
	return rc.SubjectID
}

type requestContextKey struct{}

// WithRequestContext returns a copy of ctx carrying rctx.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rctx)
}

// RequestContextFrom returns the RequestContext in ctx, or nil.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rctx
}

// MustRequestContext is RequestContextFrom for handlers mounted behind the
// identity middleware. It panics when the context carries none.
func MustRequestContext(ctx context.Context) *RequestContext {
	if rctx := RequestContextFrom(ctx); rctx != nil {
		return rctx
	}
	panic("model: no RequestContext in context")
}
