package transport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/docflow/internal/observability"
	"github.com/pitabwire/docflow/internal/store"
	"github.com/pitabwire/docflow/internal/workflow"
	"github.com/pitabwire/docflow/model"
)

type transitionsResponse struct {
	Transitions []model.Transition `json:"transitions"`
}

type actionsResponse struct {
	Actions []model.ActionRecord `json:"actions"`
}

type applyRequest struct {
	Action          string               `json:"action" validate:"required"`
	TransitionID    string               `json:"transition_id,omitempty"`
	NextUser        string               `json:"next_user,omitempty"`
	Comment         string               `json:"comment,omitempty"`
	ActionSource    model.ActionSource   `json:"action_source,omitempty" validate:"omitempty,oneof=Normal Pre-Check Forward 'Add Additional Check'"`
	PreviousUser    string               `json:"previous_user,omitempty"`
	PossibleActions []model.ActionOption `json:"possible_actions,omitempty" validate:"dive"`
}

type saveRequest struct {
	Owner    string         `json:"owner,omitempty"`
	Workflow string         `json:"workflow,omitempty"`
	Fields   map[string]any `json:"fields" validate:"required"`
	// DocStatus defaults to the persisted status.
	DocStatus *model.DocStatus `json:"docstatus,omitempty" validate:"omitempty,min=0,max=2"`
}

type lifecycleRequest struct {
	Operation string `json:"operation" validate:"required,oneof=submit cancel update_after_submit"`
}

// documentFunc runs with the addressed document loaded inside a transaction.
type documentFunc func(ctx context.Context, tx store.Tx, rctx *model.RequestContext, doc *model.Document) error

// withDocument loads {doctype}/{name} and calls fn in one transaction.
func withDocument(r *http.Request, tx store.Transactor, fn documentFunc) error {
	rctx := model.MustRequestContext(r.Context())
	doctype, name := chi.URLParam(r, "doctype"), chi.URLParam(r, "name")
	return tx.WithinTx(r.Context(), func(ctx context.Context, tx store.Tx) error {
		doc, err := tx.GetDocument(ctx, doctype, name)
		if err != nil {
			return err
		}
		return fn(ctx, tx, rctx, doc)
	})
}

func handleTransitions(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var out []model.Transition
		err := withDocument(r, deps.Store, func(ctx context.Context, tx store.Tx, rctx *model.RequestContext, doc *model.Document) (err error) {
			out, err = deps.Engine.Transitions(ctx, tx, rctx, doc, nil)
			return err
		})
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, transitionsResponse{Transitions: out})
	}
}

// handleUserActions lists open actions at the document's current state,
// narrowed to ?user= when given.
func handleUserActions(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := r.URL.Query().Get("user")
		var out []model.ActionRecord
		err := withDocument(r, deps.Store, func(ctx context.Context, tx store.Tx, rctx *model.RequestContext, doc *model.Document) (err error) {
			out, err = deps.Engine.UserActions(ctx, tx, rctx, doc, user)
			return err
		})
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, actionsResponse{Actions: out})
	}
}

func handleApply(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req applyRequest
		if err := decodeJSON(r, &req); err != nil {
			writeFailure(w, r, err)
			return
		}
		if err := validateRequest(req); err != nil {
			writeFailure(w, r, err)
			return
		}

		opts := workflow.ApplyOptions{
			TransitionID:    req.TransitionID,
			NextUser:        req.NextUser,
			PossibleActions: req.PossibleActions,
			ActionSource:    req.ActionSource,
			PreviousUser:    req.PreviousUser,
			Comment:         req.Comment,
		}
		var res workflow.Result
		err := withDocument(r, deps.Store, func(ctx context.Context, tx store.Tx, rctx *model.RequestContext, doc *model.Document) (err error) {
			res, err = deps.Engine.Apply(ctx, tx, rctx, doc, req.Action, opts)
			return err
		})
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

// handleSave validates and stores an edited document. A document that does
// not exist yet is created with the caller as owner unless one is given.
func handleSave(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req saveRequest
		if err := decodeJSON(r, &req); err != nil {
			writeFailure(w, r, err)
			return
		}
		if err := validateRequest(req); err != nil {
			writeFailure(w, r, err)
			return
		}

		ctx := r.Context()
		rctx := model.MustRequestContext(ctx)
		doc := &model.Document{
			Doctype:  chi.URLParam(r, "doctype"),
			Name:     chi.URLParam(r, "name"),
			Owner:    req.Owner,
			Workflow: req.Workflow,
			Fields:   req.Fields,
		}
		logger := observability.LoggerFrom(ctx, zap.NewNop())
		if ce := logger.Check(zap.DebugLevel, "saving document"); ce != nil {
			ce.Write(append(observability.DocumentFields(doc),
				zap.Any("fields", observability.RedactBody(req.Fields, nil)))...)
		}
		var saved *model.Document
		err := deps.Store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			prev, err := tx.GetDocument(ctx, doc.Doctype, doc.Name)
			switch {
			case model.IsCode(err, model.ErrNotFound):
				doc.New = true
				if doc.Owner == "" {
					doc.Owner = rctx.User()
				}
			case err != nil:
				return err
			default:
				doc.Previous = prev
				doc.DocStatus = prev.DocStatus
				if doc.Owner == "" {
					doc.Owner = prev.Owner
				}
			}
			if req.DocStatus != nil {
				doc.DocStatus = *req.DocStatus
			}
			saved, err = deps.Engine.Save(ctx, tx, rctx, doc)
			return err
		})
		if err != nil {
			writeFailure(w, r, err)
			return
		}

		status := http.StatusOK
		if doc.New {
			status = http.StatusCreated
		}
		WriteJSON(w, status, saved)
	}
}

// handleLifecycle submits or cancels a document outside a workflow action,
// realigning its workflow state with the new docstatus.
func handleLifecycle(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req lifecycleRequest
		if err := decodeJSON(r, &req); err != nil {
			writeFailure(w, r, err)
			return
		}
		if err := validateRequest(req); err != nil {
			writeFailure(w, r, err)
			return
		}

		var out *model.Document
		err := withDocument(r, deps.Store, func(ctx context.Context, tx store.Tx, rctx *model.RequestContext, doc *model.Document) (err error) {
			out, err = deps.Engine.RunLifecycle(ctx, tx, rctx, doc, req.Operation)
			return err
		})
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, out)
	}
}
