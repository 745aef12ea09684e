package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/docflow/model"
)

type fieldStatusResponse struct {
	Workflow string              `json:"workflow"`
	State    string              `json:"state"`
	Fields   []model.FieldStatus `json:"fields"`
}

func handleFieldStatus(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wf, state := chi.URLParam(r, "workflow"), chi.URLParam(r, "state")
		fields, err := deps.Engine.FieldStatus(r.Context(), wf, state)
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, fieldStatusResponse{Workflow: wf, State: state, Fields: fields})
	}
}
