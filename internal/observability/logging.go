package observability

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/docflow/internal/config"
	"github.com/pitabwire/docflow/model"
)

type loggerKey struct{}

// Redacted replaces sensitive values in debug output.
const Redacted = "[REDACTED]"

// NewLogger builds the process logger: JSON on stdout, tagged with the
// service build. Unknown levels fall back to info.
//
// Levels: error for infrastructure failures and 5xx responses; warn for
// rejected requests, degraded caches and failed bulk items; info for
// applied transitions, definition reloads and bulk summaries; debug for
// cache traffic and gated actions.
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if parsed, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		level = parsed
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.MillisDurationEncoder

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig = enc
	zcfg.Sampling = nil
	zcfg.InitialFields = map[string]any{
		"service": "docflow",
		"version": Version,
	}
	return zcfg.Build()
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger stored in ctx, or fallback.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// RequestLogger returns the context logger tagged with the caller's identity.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)
	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return logger
	}
	return logger.With(identityFields(rctx)...)
}

func identityFields(rctx *model.RequestContext) []zap.Field {
	fields := []zap.Field{
		zap.String("tenant_id", rctx.TenantID),
		zap.String("subject_id", rctx.SubjectID),
		zap.String("correlation_id", rctx.CorrelationID),
	}
	if rctx.TraceID != "" {
		fields = append(fields, zap.String("trace_id", rctx.TraceID))
	}
	return fields
}

// DocumentFields identifies doc in a log entry.
func DocumentFields(doc *model.Document) []zap.Field {
	return []zap.Field{
		zap.String("doctype", doc.Doctype),
		zap.String("name", doc.Name),
	}
}

// sensitiveFields are redacted from document bodies at any depth.
var sensitiveFields = map[string]struct{}{
	"password":       {},
	"secret":         {},
	"token":          {},
	"api_key":        {},
	"authorization":  {},
	"iban":           {},
	"bank_account":   {},
	"account_number": {},
	"tax_id":         {},
	"ssn":            {},
	"salary":         {},
	"credit_card":    {},
}

// RedactBody returns a copy of body with sensitive keys masked. extra names
// further keys for this call. Nested maps and lists are walked.
func RedactBody(body map[string]any, extra []string) map[string]any {
	if body == nil {
		return nil
	}
	r := redactor(extra)
	return r.object(body)
}

type redactor []string

func (r redactor) sensitive(key string) bool {
	if _, ok := sensitiveFields[key]; ok {
		return true
	}
	for _, k := range r {
		if k == key {
			return true
		}
	}
	return false
}

func (r redactor) object(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if r.sensitive(k) {
			out[k] = Redacted
			continue
		}
		out[k] = r.value(v)
	}
	return out
}

func (r redactor) value(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return r.object(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = r.value(e)
		}
		return out
	default:
		return v
	}
}
