package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/docflow/internal/config"
	"github.com/pitabwire/docflow/model"
)

// bufferLogger writes JSON entries to buf at debug level.
func bufferLogger(buf *bytes.Buffer) *zap.Logger {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		LevelKey:    "level",
		MessageKey:  "msg",
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	})
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(buf), zapcore.DebugLevel))
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log entry %q: %v", buf.String(), err)
	}
	return entry
}

func TestNewLogger_levels(t *testing.T) {
	tests := []struct {
		level    string
		enabled  zapcore.Level
		disabled zapcore.Level
	}{
		{"debug", zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{"info", zapcore.InfoLevel, zapcore.DebugLevel},
		{"warn", zapcore.WarnLevel, zapcore.InfoLevel},
		{"error", zapcore.ErrorLevel, zapcore.WarnLevel},
		{"chatty", zapcore.InfoLevel, zapcore.DebugLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := NewLogger(config.ObservabilityConfig{LogLevel: tt.level})
			if err != nil {
				t.Fatalf("NewLogger(%q) error = %v", tt.level, err)
			}
			defer func() { _ = logger.Sync() }()

			if !logger.Core().Enabled(tt.enabled) {
				t.Errorf("%s should be enabled", tt.enabled)
			}
			if logger.Core().Enabled(tt.disabled) {
				t.Errorf("%s should be disabled", tt.disabled)
			}
		})
	}
}

func TestLoggerFrom(t *testing.T) {
	fallback := zap.NewNop()
	if got := LoggerFrom(context.Background(), fallback); got != fallback {
		t.Error("LoggerFrom without a stored logger should return the fallback")
	}

	stored := zap.NewExample()
	ctx := WithLogger(context.Background(), stored)
	if got := LoggerFrom(ctx, fallback); got != stored {
		t.Error("LoggerFrom should return the stored logger")
	}
}

func TestRequestLogger(t *testing.T) {
	t.Run("adds request identity", func(t *testing.T) {
		var buf bytes.Buffer
		ctx := model.WithRequestContext(context.Background(), &model.RequestContext{
			SubjectID:     "bob",
			TenantID:      "acme",
			CorrelationID: "corr-1",
			TraceID:       "4bf92f3577b34da6a3ce929d0e0e4736",
		})

		RequestLogger(ctx, bufferLogger(&buf)).Info("workflow action applied")

		entry := decodeEntry(t, &buf)
		want := map[string]string{
			"subject_id":     "bob",
			"tenant_id":      "acme",
			"correlation_id": "corr-1",
			"trace_id":       "4bf92f3577b34da6a3ce929d0e0e4736",
			"msg":            "workflow action applied",
		}
		for k, v := range want {
			if entry[k] != v {
				t.Errorf("%s = %v, want %q", k, entry[k], v)
			}
		}
	})

	t.Run("omits empty trace id", func(t *testing.T) {
		var buf bytes.Buffer
		ctx := model.WithRequestContext(context.Background(), &model.RequestContext{SubjectID: "bob"})

		RequestLogger(ctx, bufferLogger(&buf)).Info("saved")

		if _, ok := decodeEntry(t, &buf)["trace_id"]; ok {
			t.Error("trace_id present for a request without one")
		}
	})

	t.Run("without request context", func(t *testing.T) {
		var buf bytes.Buffer
		RequestLogger(context.Background(), bufferLogger(&buf)).Info("startup")

		entry := decodeEntry(t, &buf)
		if _, ok := entry["subject_id"]; ok {
			t.Error("subject_id present without a request context")
		}
		if entry["msg"] != "startup" {
			t.Errorf("msg = %v", entry["msg"])
		}
	})
}

func TestDocumentFields(t *testing.T) {
	var buf bytes.Buffer
	doc := &model.Document{Doctype: "Purchase Order", Name: "PO-0001", Workflow: "PO Approval"}

	bufferLogger(&buf).Info("workflow transition applied", DocumentFields(doc)...)

	entry := decodeEntry(t, &buf)
	if entry["doctype"] != "Purchase Order" || entry["name"] != "PO-0001" {
		t.Errorf("entry = %v", entry)
	}
}

func TestRedactBody(t *testing.T) {
	body := map[string]any{
		"amount":   1200,
		"password": "hunter2",
		"supplier": map[string]any{
			"name":    "Globex",
			"api_key": "k-123",
			"iban":    "DE89370400440532013000",
		},
		"payees": []any{
			map[string]any{"name": "Initech", "bank_account": "12-3456"},
			"cash",
		},
		"cost_centre": "CC-7",
	}

	got := RedactBody(body, []string{"cost_centre"})

	if got["amount"] != 1200 {
		t.Errorf("amount = %v, want untouched", got["amount"])
	}
	if got["password"] != Redacted || got["cost_centre"] != Redacted {
		t.Errorf("password = %v, cost_centre = %v", got["password"], got["cost_centre"])
	}
	supplier := got["supplier"].(map[string]any)
	if supplier["name"] != "Globex" || supplier["api_key"] != Redacted || supplier["iban"] != Redacted {
		t.Errorf("supplier = %v", supplier)
	}
	payees := got["payees"].([]any)
	payee := payees[0].(map[string]any)
	if payee["name"] != "Initech" || payee["bank_account"] != Redacted || payees[1] != "cash" {
		t.Errorf("payees = %v", payees)
	}
	if body["password"] != "hunter2" {
		t.Error("RedactBody modified its input")
	}
	if body["payees"].([]any)[0].(map[string]any)["bank_account"] != "12-3456" {
		t.Error("RedactBody modified a nested list element")
	}
	if RedactBody(nil, nil) != nil {
		t.Error("RedactBody(nil) should be nil")
	}
}
