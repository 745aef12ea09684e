// Package transport contains the HTTP router, middleware chain, and request
// handlers of the workflow API.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/pitabwire/docflow/internal/observability"
	"github.com/pitabwire/docflow/model"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:                 http.StatusBadRequest,
	model.ErrUnauthorized:               http.StatusUnauthorized,
	model.ErrForbidden:                  http.StatusForbidden,
	model.ErrNotFound:                   http.StatusNotFound,
	model.ErrConflict:                   http.StatusConflict,
	model.ErrValidationError:            http.StatusUnprocessableEntity,
	model.ErrInternalError:              http.StatusInternalServerError,
	model.ErrWorkflowNotFound:           http.StatusNotFound,
	model.ErrWorkflowState:              http.StatusUnprocessableEntity,
	model.ErrWorkflowTransition:         http.StatusUnprocessableEntity,
	model.ErrWorkflowPermission:         http.StatusForbidden,
	model.ErrConditionEvaluation:        http.StatusUnprocessableEntity,
	model.ErrIllegalLifecycleTransition: http.StatusInternalServerError,
}

// StatusFor returns the HTTP status for err. Errors without an envelope
// map to 500.
func StatusFor(err error) int {
	if status, ok := statusForCode[model.CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

type errorResponse struct {
	Error *model.ErrorEnvelope `json:"error"`
}

// WriteError writes the first ErrorEnvelope in err's chain as a JSON
// response with the matching HTTP status code. Errors without an envelope
// are rendered as a generic 500 so internal details never leak.
func WriteError(w http.ResponseWriter, err error) {
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) {
		ee = model.NewInternalError()
	}
	WriteJSON(w, StatusFor(ee), errorResponse{Error: ee})
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewNotFoundError(msg))
}

// decodeJSON reads a bounded JSON body into v. Unknown fields are rejected.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return model.NewBadRequestError(fmt.Sprintf("Invalid request body: %v", err))
	}
	return nil
}

// writeFailure renders err for the current request. Errors without an
// envelope are logged since their detail is withheld from the client.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) {
		observability.LoggerFrom(r.Context(), zap.NewNop()).Error("request failed", zap.Error(err))
		ee = model.NewInternalError()
	}
	out := *ee
	if rctx := model.RequestContextFrom(r.Context()); rctx != nil {
		out.TraceID = rctx.TraceID
	}
	WriteError(w, &out)
}

// requestValidate reports fields by their JSON names.
var requestValidate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

// validateRequest checks the validate tags of a decoded request body.
func validateRequest(v any) error {
	err := requestValidate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return model.NewBadRequestError(err.Error())
	}
	details := make([]model.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		code := "INVALID"
		if fe.Tag() == "required" || fe.Tag() == "min" {
			code = "REQUIRED"
		}
		details = append(details, model.FieldError{
			Field:   jsonFieldPath(fe.Namespace()),
			Code:    code,
			Message: fmt.Sprintf("%s failed %q validation", fe.Field(), fe.Tag()),
		})
	}
	return model.NewValidationError(details)
}

// jsonFieldPath drops the struct name from a validator namespace.
func jsonFieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
