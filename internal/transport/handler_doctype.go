package transport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/docflow/internal/bulk"
	"github.com/pitabwire/docflow/internal/store"
	"github.com/pitabwire/docflow/model"
)

type bulkRequest struct {
	Names        []string `json:"names" validate:"dive,required"`
	Action       string   `json:"action" validate:"required"`
	TransitionID string   `json:"transition_id,omitempty"`
}

type commonActionsRequest struct {
	Names []string `json:"names" validate:"min=1,dive,required"`
}

type commonActionsResponse struct {
	Actions []model.ActionOption `json:"actions"`
}

type canCancelResponse struct {
	Doctype   string `json:"doctype"`
	CanCancel bool   `json:"can_cancel"`
}

// handleBulk applies one action to the named documents. Item failures are
// part of the 200 report. When the request deadline ends the batch early,
// the partial report is returned with 504.
func handleBulk(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bulkRequest
		if err := decodeJSON(r, &req); err != nil {
			writeFailure(w, r, err)
			return
		}
		if err := validateRequest(req); err != nil {
			writeFailure(w, r, err)
			return
		}

		rep, err := deps.Bulk.Apply(r.Context(), model.MustRequestContext(r.Context()), bulk.Request{
			Doctype:      chi.URLParam(r, "doctype"),
			Names:        req.Names,
			Action:       req.Action,
			TransitionID: req.TransitionID,
		})
		if err != nil {
			WriteJSON(w, http.StatusGatewayTimeout, rep)
			return
		}
		WriteJSON(w, http.StatusOK, rep)
	}
}

func handleCommonActions(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req commonActionsRequest
		if err := decodeJSON(r, &req); err != nil {
			writeFailure(w, r, err)
			return
		}
		if err := validateRequest(req); err != nil {
			writeFailure(w, r, err)
			return
		}

		rctx := model.MustRequestContext(r.Context())
		doctype := chi.URLParam(r, "doctype")
		var out []model.ActionOption
		err := deps.Store.WithinTx(r.Context(), func(ctx context.Context, tx store.Tx) (err error) {
			out, err = deps.Engine.CommonTransitionActions(ctx, tx, rctx, doctype, req.Names)
			return err
		})
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, commonActionsResponse{Actions: out})
	}
}

func handleCanCancel(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctype := chi.URLParam(r, "doctype")
		ok, err := deps.Engine.CanCancelDocument(r.Context(), doctype)
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, canCancelResponse{Doctype: doctype, CanCancel: ok})
	}
}
